package domain

import (
	"strconv"
	"time"
)

// OrderBook representa el libro de órdenes de un token.
type OrderBook struct {
	TokenID string
	Bids    []BookEntry // ordenados mayor a menor precio
	Asks    []BookEntry // ordenados menor a mayor precio
}

// BookEntry es un nivel de precio en el orderbook.
type BookEntry struct {
	Price float64
	Size  float64
}

// BestBid devuelve el mejor precio de compra (mayor bid).
// Devuelve 0 si el book está vacío.
func (ob OrderBook) BestBid() float64 {
	if len(ob.Bids) == 0 {
		return 0
	}
	return ob.Bids[0].Price
}

// BestAsk devuelve el mejor precio de venta (menor ask).
// Devuelve 0 si el book está vacío.
func (ob OrderBook) BestAsk() float64 {
	if len(ob.Asks) == 0 {
		return 0
	}
	return ob.Asks[0].Price
}

// Quote builds the execution quote for buying this token: the best ask,
// with the book's bid/ask for spread evaluation.
func (ob OrderBook) Quote() BookQuote {
	return BookQuote{
		Bid:   ob.BestBid(),
		Ask:   ob.BestAsk(),
		Price: ob.BestAsk(),
	}
}

// BookQuote is the order-book-backed execution price for one side.
type BookQuote struct {
	Bid   float64
	Ask   float64
	Price float64
}

// SpreadPct returns (ask - bid) / mid in percent. A one-sided or empty book
// yields +100, i.e. never acceptable.
func (q BookQuote) SpreadPct() float64 {
	if q.Bid <= 0 || q.Ask <= 0 || q.Ask < q.Bid {
		return 100
	}
	mid := (q.Bid + q.Ask) / 2
	return (q.Ask - q.Bid) / mid * 100
}

// PriceSource identifies which fallback tier produced a quote.
type PriceSource string

const (
	SourceBook      PriceSource = "BOOK"
	SourceOutcome   PriceSource = "OUTCOME"
	SourceLastTrade PriceSource = "LAST_TRADE"
)

// Quote is a resolved probability-price for (market, side).
type Quote struct {
	MarketID  string
	Side      Side
	Price     float64
	Source    PriceSource
	SpreadPct float64
	FetchedAt time.Time
}

// MarketPrices is the simple price source: published outcome prices and the
// last trade price. Zero values mean "absent".
type MarketPrices struct {
	OutcomePrices  [2]float64
	LastTradePrice float64
}

// ParsePrice convierte un string de precio a float64.
// Usado en el mapping de la API.
func ParsePrice(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

// SpreadWarning records a market whose book was too wide to trade on.
type SpreadWarning struct {
	MarketID  string    `json:"market_id"`
	Side      Side      `json:"side"`
	SpreadPct float64   `json:"spread_pct"`
	At        time.Time `json:"at"`
}
