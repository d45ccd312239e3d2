package polymarket

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/alejandrodnm/polysignal/internal/domain"
)

// mapGammaMarkets convierte los DTOs de Gamma a domain.Market.
// Los mercados que no son binarios se descartan.
func mapGammaMarkets(raw []gammaMarket) []domain.Market {
	markets := make([]domain.Market, 0, len(raw))
	for _, r := range raw {
		m, ok := mapGammaMarket(r)
		if !ok {
			continue
		}
		markets = append(markets, m)
	}
	return markets
}

// mapGammaMarket normaliza un gammaMarket a domain.Market. Devuelve false si
// el mercado no tiene exactamente dos outcomes.
func mapGammaMarket(r gammaMarket) (domain.Market, bool) {
	if len(r.Outcomes) > 0 && len(r.Outcomes) != 2 {
		return domain.Market{}, false
	}

	m := domain.Market{
		ID:              r.ID,
		Question:        r.Question,
		Slug:            r.Slug,
		LastTradePrice:  float64(r.LastTradePrice),
		Volume24h:       float64(r.Volume24h),
		Liquidity:       float64(r.LiquidityNum),
		EndDate:         parseDate(r.EndDate, r.EndDateISO),
		Closed:          r.Closed,
		AcceptingOrders: r.Active && !r.Closed,
	}
	if m.ID == "" {
		m.ID = r.ConditionID
	}
	if m.Liquidity == 0 {
		m.Liquidity = float64(r.Liquidity)
	}
	if r.AcceptingOrders != nil {
		m.AcceptingOrders = *r.AcceptingOrders
	}

	for i := 0; i < 2 && i < len(r.OutcomePrices); i++ {
		m.OutcomePrices[i] = domain.ParsePrice(r.OutcomePrices[i])
	}
	for i := 0; i < 2 && i < len(r.ClobTokenIDs); i++ {
		m.TokenIDs[i] = r.ClobTokenIDs[i]
	}

	if r.Category != "" {
		m.Tags = append(m.Tags, r.Category)
	}
	for _, t := range r.Tags {
		if t.Label != "" {
			m.Tags = append(m.Tags, t.Label)
		} else if t.Slug != "" {
			m.Tags = append(m.Tags, strings.ReplaceAll(t.Slug, "-", " "))
		}
	}
	return m, true
}

// mapResolution extrae el estado de resolución de un gammaMarket. Un mercado
// cerrado sin dos precios finales parseables no es una resolución: devuelve
// ErrPriceUnavailable para que nadie lo liquide a precio cero.
func mapResolution(r gammaMarket) (domain.Resolution, error) {
	m, ok := mapGammaMarket(r)
	res := domain.Resolution{
		MarketID:        m.ID,
		Closed:          r.Closed,
		AcceptingOrders: m.AcceptingOrders,
	}
	if !r.Closed {
		res.FinalPrices = m.OutcomePrices
		return res, nil
	}
	if !ok || len(r.OutcomePrices) != 2 {
		return res, fmt.Errorf("closed market %s: %d final prices: %w", m.ID, len(r.OutcomePrices), domain.ErrPriceUnavailable)
	}
	for i, raw := range r.OutcomePrices {
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil || v < 0 || v > 1 {
			return res, fmt.Errorf("closed market %s: final price %q: %w", m.ID, raw, domain.ErrPriceUnavailable)
		}
		res.FinalPrices[i] = v
	}
	if !res.HasFinalPrices() {
		return res, fmt.Errorf("closed market %s: zero final prices: %w", m.ID, domain.ErrPriceUnavailable)
	}
	return res, nil
}

// parseDate prueba endDate y endDateIso con los formatos que usa Polymarket.
func parseDate(values ...string) time.Time {
	for _, v := range values {
		if v == "" {
			continue
		}
		// Polymarket usa varios formatos; intentamos los más comunes
		for _, layout := range []string{
			time.RFC3339,
			"2006-01-02T15:04:05.000Z",
			"2006-01-02T15:04:05Z",
			"2006-01-02 15:04:05-07",
			"2006-01-02",
		} {
			if t, err := time.Parse(layout, v); err == nil {
				return t.UTC()
			}
		}
	}
	return time.Time{}
}

// mapOrderBook convierte la respuesta de /book a domain.OrderBook.
func mapOrderBook(r bookResponse) domain.OrderBook {
	return domain.OrderBook{
		TokenID: r.AssetID,
		Bids:    mapBookEntries(r.Bids, false),
		Asks:    mapBookEntries(r.Asks, true),
	}
}

// mapBookEntries convierte entries raw a domain.BookEntry y los ordena.
// ascending=true → menor a mayor (asks), ascending=false → mayor a menor (bids).
func mapBookEntries(raw []bookEntryRaw, ascending bool) []domain.BookEntry {
	entries := make([]domain.BookEntry, 0, len(raw))
	for _, r := range raw {
		price, _ := strconv.ParseFloat(r.Price, 64)
		size, _ := strconv.ParseFloat(r.Size, 64)
		if price <= 0 || size <= 0 {
			continue
		}
		entries = append(entries, domain.BookEntry{Price: price, Size: size})
	}

	sort.Slice(entries, func(i, j int) bool {
		if ascending {
			return entries[i].Price < entries[j].Price
		}
		return entries[i].Price > entries[j].Price
	})

	return entries
}
