package domain

import "time"

// Market es un mercado direccional operable en Polymarket.
type Market struct {
	ConditionID string
	Question    string
	Slug        string
	Asset       string
	UpTokenID   string // token YES
	DownTokenID string // token NO
	EndDate     time.Time
	Active      bool
}

// TokenID devuelve el token correspondiente a la dirección.
func (m Market) TokenID(d Direction) string {
	if d == DirectionUp {
		return m.UpTokenID
	}
	return m.DownTokenID
}

// OrderFill es el resultado de ejecutar una orden de mercado.
type OrderFill struct {
	Success      bool
	OrderID      string
	SharesFilled float64
	AvgPrice     float64
	TotalCost    float64
	Reason       string // solo si !Success
}

// Resolution es el estado de resolución de un mercado.
type Resolution struct {
	Resolved    bool
	Outcome     Direction // dirección ganadora, solo si Resolved
	ConditionID string
	TokenIDs    []string
}

// PositionPnL es el P&L realizado de una posición.
type PositionPnL struct {
	PnL        float64
	PnLPercent float64
}

// Candle es una vela OHLCV para el contexto técnico del signal.
type Candle struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// TradeProposal es la salida del signal source: qué operar y hacia dónde.
type TradeProposal struct {
	Asset        string
	Direction    Direction
	Reasoning    string
	CurrentPrice float64
}
