package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/alejandrodnm/polysignal/internal/domain"
)

type errorResponse struct {
	Error string `json:"error"`
}

// SignalView is one scored market as served by /signals/top.
type SignalView struct {
	MarketID     string          `json:"market_id"`
	Question     string          `json:"question"`
	Slug         string          `json:"slug,omitempty"`
	Category     domain.Category `json:"category"`
	Score        int             `json:"score"`
	Reasons      []string        `json:"reasons"`
	YesPrice     float64         `json:"yes_price"`
	NoPrice      float64         `json:"no_price"`
	Volume24h    float64         `json:"volume_24h"`
	Liquidity    float64         `json:"liquidity"`
	EndDate      time.Time       `json:"end_date"`
	DaysToExpiry *float64        `json:"days_to_expiry,omitempty"` // nil when the end date is unknown
}

// Event is a websocket message.
type Event struct {
	Type      string    `json:"type"`
	Partition string    `json:"partition,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"partitions": s.order,
	})
}

func (s *Server) handleListPortfolios(w http.ResponseWriter, _ *http.Request) {
	out := make([]domain.Snapshot, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.partitions[name].Snapshot())
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	p, ok := s.partition(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, p.Snapshot())
}

// handleReset fuerza el reset de una partición. Es la única operación de escritura.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	p, ok := s.partition(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), resetTimeout)
	defer cancel()
	if err := p.Reset(ctx); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusServiceUnavailable
		}
		s.logger.Warn("reset failed", "partition", p.Name(), "err", err)
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}

	s.logger.Info("partition reset via api", "partition", p.Name(), "remote", r.RemoteAddr)
	snap := p.Snapshot()
	s.hub.Broadcast(Event{Type: "reset", Partition: p.Name(), Timestamp: time.Now().UTC(), Data: snap})
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleTopSignals(w http.ResponseWriter, r *http.Request) {
	if s.signals == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "signals not configured"})
		return
	}

	limit := defaultSignalLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxSignalLimit)
	}

	markets, err := s.signals(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
		return
	}

	now := time.Now()
	out := make([]SignalView, 0, len(markets))
	for _, m := range markets {
		if len(out) >= limit {
			break
		}
		v := SignalView{
			MarketID:     m.ID,
			Question:     m.Question,
			Slug:         m.Slug,
			Category:     m.Category,
			Score:        m.Score,
			Reasons:      m.ScoreReasons,
			YesPrice:     m.OutcomePrices[0],
			NoPrice:      m.OutcomePrices[1],
			Volume24h:    m.Volume24h,
			Liquidity:    m.Liquidity,
			EndDate:      m.EndDate,
		}
		if !m.EndDate.IsZero() {
			days := m.DaysToExpiry(now)
			v.DaysToExpiry = &days
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAlerts(w http.ResponseWriter, _ *http.Request) {
	resp := struct {
		Whales    []domain.Alert `json:"whales"`
		Arbitrage []domain.Alert `json:"arbitrage"`
	}{Whales: []domain.Alert{}, Arbitrage: []domain.Alert{}}

	if s.alerts != nil {
		whales, arbs := s.alerts.Alerts()
		if whales != nil {
			resp.Whales = whales
		}
		if arbs != nil {
			resp.Arbitrage = arbs
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWarnings(w http.ResponseWriter, _ *http.Request) {
	out := []domain.SpreadWarning{}
	if s.warnings != nil {
		if ws := s.warnings.Warnings(); ws != nil {
			out = ws
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) partition(w http.ResponseWriter, r *http.Request) (Partition, bool) {
	name := chi.URLParam(r, "name")
	p, ok := s.partitions[name]
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown partition " + strconv.Quote(name)})
		return nil, false
	}
	return p, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
