package polymarket

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// DTOs raw de la API de Polymarket. Solo se usan dentro de este paquete.
// La conversión a domain entities se hace en mapping.go.

// --- CLOB API ---

// bookResponse es la respuesta de GET /book?token_id=...
type bookResponse struct {
	Market  string         `json:"market"`
	AssetID string         `json:"asset_id"`
	Bids    []bookEntryRaw `json:"bids"`
	Asks    []bookEntryRaw `json:"asks"`
}

// bookEntryRaw es un nivel de precio raw de la API (strings para mayor precisión).
type bookEntryRaw struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// --- Gamma API ---

// gammaMarket es un mercado de Gamma (/markets y /markets/{id}).
// Gamma devuelve algunos campos numéricos como strings JSON (a veces vacíos),
// usamos flexFloat, y algunos arrays como strings con JSON dentro, usamos flexStrings.
type gammaMarket struct {
	ID              string      `json:"id"`
	ConditionID     string      `json:"conditionId"`
	Question        string      `json:"question"`
	Slug            string      `json:"slug"`
	Category        string      `json:"category"`
	EndDate         string      `json:"endDate"`
	EndDateISO      string      `json:"endDateIso"`
	Outcomes        flexStrings `json:"outcomes"`
	OutcomePrices   flexStrings `json:"outcomePrices"`
	ClobTokenIDs    flexStrings `json:"clobTokenIds"`
	LastTradePrice  flexFloat   `json:"lastTradePrice"`
	Volume24h       flexFloat   `json:"volume24hr"`
	Liquidity       flexFloat   `json:"liquidity"`
	LiquidityNum    flexFloat   `json:"liquidityNum"`
	Active          bool        `json:"active"`
	Closed          bool        `json:"closed"`
	AcceptingOrders *bool       `json:"acceptingOrders"`
	Tags            []gammaTag  `json:"tags"`
}

// gammaTag es una etiqueta de Gamma.
type gammaTag struct {
	Label string `json:"label"`
	Slug  string `json:"slug"`
}

// flexStrings acepta tanto un array JSON como un string que contiene un array
// JSON ("[\"0.4\", \"0.6\"]"). Los elementos numéricos se guardan con su texto.
type flexStrings []string

func (f *flexStrings) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = nil
		return nil
	}

	if data[0] == '"' {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return err
		}
		inner = strings.TrimSpace(inner)
		if inner == "" {
			*f = nil
			return nil
		}
		data = []byte(inner)
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		var s string
		if err := json.Unmarshal(r, &s); err == nil {
			out = append(out, s)
			continue
		}
		out = append(out, string(bytes.TrimSpace(r)))
	}
	*f = out
	return nil
}

// flexFloat acepta un número JSON, un string numérico, "" o null.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}
	text := string(data)
	if data[0] == '"' {
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		text = strings.TrimSpace(text)
		if text == "" {
			*f = 0
			return nil
		}
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return fmt.Errorf("flexFloat %q: %w", text, err)
	}
	*f = flexFloat(v)
	return nil
}
