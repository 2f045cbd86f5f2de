package domain

import (
	"math"
	"time"
)

// Direction es la dirección de un trade o voto: UP (YES) o DOWN (NO).
type Direction string

const (
	DirectionUp   Direction = "UP"
	DirectionDown Direction = "DOWN"
)

// Opposite devuelve la dirección contraria.
func (d Direction) Opposite() Direction {
	if d == DirectionUp {
		return DirectionDown
	}
	return DirectionUp
}

// TradeStatus es el ciclo de vida de un trade: voting → executed → resolved.
// El abort no es un estado — un trade abortado se borra junto con sus votos.
type TradeStatus string

const (
	TradeStatusVoting   TradeStatus = "voting"
	TradeStatusExecuted TradeStatus = "executed"
	TradeStatusResolved TradeStatus = "resolved"
)

// CanTransition valida las transiciones permitidas del ciclo de vida.
func (s TradeStatus) CanTransition(to TradeStatus) bool {
	switch s {
	case TradeStatusVoting:
		return to == TradeStatusExecuted
	case TradeStatusExecuted:
		return to == TradeStatusResolved
	default:
		return false
	}
}

// Active indica si el trade bloquea la creación de uno nuevo.
func (s TradeStatus) Active() bool {
	return s == TradeStatusVoting || s == TradeStatusExecuted
}

// Trade es una ronda de trading: propuesta, votación, ejecución y resolución.
type Trade struct {
	ID                 int64
	SettlementID       *int64 // asignado cuando el settlement lo reclama
	Asset              string
	MarketID           string // condition ID del mercado en Polymarket
	MessageRef         string // ID del mensaje de propuesta en el canal
	OrderID            string // ID de la orden en el exchange
	Direction          Direction
	PnL                *float64 // nil hasta resolución
	ResolutionDeadline time.Time
	VotingEndsAt       time.Time
	Status             TradeStatus
	CreatedAt          time.Time
	ExecutedAt         *time.Time
	ResolvedAt         *time.Time
}

// VoteCounts es el recuento de votos snapshotted de un trade.
type VoteCounts struct {
	Up   int
	Down int
}

// Total devuelve el número total de votos.
func (v VoteCounts) Total() int { return v.Up + v.Down }

// Conviction es la fuerza del margen de votos, normalizada a [0,1].
// UP:12 DOWN:8 → |12-8|/20 = 0.2.
func (v VoteCounts) Conviction() float64 {
	total := v.Total()
	if total == 0 {
		return 0
	}
	return math.Abs(float64(v.Up-v.Down)) / float64(total)
}

// Majority devuelve la dirección mayoritaria y si hubo empate.
func (v VoteCounts) Majority() (Direction, bool) {
	switch {
	case v.Up > v.Down:
		return DirectionUp, false
	case v.Down > v.Up:
		return DirectionDown, false
	default:
		return "", true
	}
}

// PositionSize calcula el tamaño de la posición en USD: interpolación lineal
// entre minFrac y maxFrac del pool, escalada por conviction, con suelo de $1.
// Devuelve 0 si el pool no puede cubrir el mínimo.
func PositionSize(poolBalance, minFrac, maxFrac, conviction float64) float64 {
	if poolBalance <= 0 {
		return 0
	}
	frac := minFrac + (maxFrac-minFrac)*conviction
	size := poolBalance * frac
	if size < 1.0 {
		if poolBalance < 1.0 {
			return 0
		}
		size = 1.0
	}
	return size
}
