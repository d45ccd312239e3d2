package engine

import (
	"context"
	"log/slog"
)

type slugResult struct {
	positionID string
	slug       string
}

// enrichSlug busca el slug en segundo plano. Un fallo o un timeout no toca el
// estado de la posición; el resultado se aplica al inicio del próximo ciclo.
func (e *Engine) enrichSlug(positionID, marketID string) {
	if e.deps.Slugs == nil || e.slugWait[positionID] {
		return
	}
	e.slugWait[positionID] = true

	parent := e.bg
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Warn("slug enrichment panicked", "market", marketID, "panic", r)
			}
		}()

		ctx, cancel := context.WithTimeout(parent, e.cfg.RequestTimeout)
		defer cancel()

		slug, err := e.deps.Slugs.FetchSlug(ctx, marketID)
		if err != nil || slug == "" {
			slog.Debug("slug enrichment failed", "market", marketID, "err", err)
			slug = ""
		}
		select {
		case e.slugs <- slugResult{positionID: positionID, slug: slug}:
		default:
			slog.Debug("slug result dropped", "market", marketID)
		}
	}()
}

// applyEnrichments drains finished slug lookups into the portfolio.
func (e *Engine) applyEnrichments() {
	for {
		select {
		case r := <-e.slugs:
			delete(e.slugWait, r.positionID)
			if r.slug == "" {
				continue
			}
			if i, ok := e.portfolio.ActivePosition(r.positionID); ok {
				e.portfolio.Active[i].Slug = r.slug
				continue
			}
			for i := range e.portfolio.Closed {
				if e.portfolio.Closed[i].ID == r.positionID {
					e.portfolio.Closed[i].Slug = r.slug
					break
				}
			}
		default:
			return
		}
	}
}
