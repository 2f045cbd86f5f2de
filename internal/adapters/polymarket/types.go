package polymarket

import "encoding/json"

// DTOs raw de la API de Polymarket. Solo se usan dentro de este paquete.
// La conversión a domain entities se hace en el gateway.

// --- Gamma API ---

// gammaMarketsResponse es la respuesta de GET /markets de Gamma.
type gammaMarketsResponse []gammaMarket

// gammaMarket es la metadata de un mercado direccional.
// Gamma devuelve algunos campos numéricos como strings JSON.
type gammaMarket struct {
	ConditionID string      `json:"conditionId"`
	Question    string      `json:"question"`
	Slug        string      `json:"slug"`
	EndDateISO  string      `json:"endDateIso"`
	Outcomes     string     `json:"outcomes"`     // JSON array serializado como string
	ClobTokenIDs string     `json:"clobTokenIds"` // idem, paralelo a outcomes
	Volume24h   json.Number `json:"volume24hr"`
	Active      bool        `json:"active"`
	Closed      bool        `json:"closed"`
}

// --- CLOB API ---

// clobMarketResponse es la respuesta de GET /markets/{condition_id}.
type clobMarketResponse struct {
	ConditionID string      `json:"condition_id"`
	Question    string      `json:"question"`
	Tokens      []clobToken `json:"tokens"`
	Active      bool        `json:"active"`
	Closed      bool        `json:"closed"`
	NegRisk     bool        `json:"neg_risk"`
	EndDateISO  string      `json:"end_date_iso"`
}

// clobToken representa un token (Up/Down) en el CLOB.
type clobToken struct {
	TokenID string  `json:"token_id"`
	Outcome string  `json:"outcome"`
	Price   float64 `json:"price"`
	Winner  bool    `json:"winner"`
}

// clobPriceResponse es la respuesta de GET /price.
type clobPriceResponse struct {
	Price string `json:"price"`
}

// --- Data API ---

// dataPosition es una posición del usuario en GET /positions.
type dataPosition struct {
	ConditionID  string  `json:"conditionId"`
	Asset        string  `json:"asset"`
	Size         float64 `json:"size"`
	AvgPrice     float64 `json:"avgPrice"`
	InitialValue float64 `json:"initialValue"`
	CurrentValue float64 `json:"currentValue"`
	CashPnL      float64 `json:"cashPnl"`
	PercentPnL   float64 `json:"percentPnl"`
	Redeemable   bool    `json:"redeemable"`
}
