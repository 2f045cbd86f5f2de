package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SettlementStatus es el ciclo de vida de un reparto de beneficios.
type SettlementStatus string

const (
	SettlementStatusPending      SettlementStatus = "pending"
	SettlementStatusDistributing SettlementStatus = "distributing"
	SettlementStatusCompleted    SettlementStatus = "completed"
	SettlementStatusFailed       SettlementStatus = "failed"
)

// Incomplete indica si el settlement bloquea nuevos trades y settlements.
func (s SettlementStatus) Incomplete() bool {
	return s == SettlementStatusPending || s == SettlementStatusDistributing
}

// Settlement es un evento de reparto: reclama un lote de trades resueltos
// y reparte su beneficio entre los top-3 predictores.
type Settlement struct {
	ID          int64
	Status      SettlementStatus
	TriggeredAt time.Time
	Error       string
}

// PayoutStatus es el estado de una transferencia individual.
type PayoutStatus string

const (
	PayoutStatusPending PayoutStatus = "pending"
	PayoutStatusSent    PayoutStatus = "sent"
	PayoutStatusFailed  PayoutStatus = "failed"
)

// Payout es la parte de un usuario en un settlement. El importe se fija en
// la creación y no se recalcula nunca; todo lo demás es maquinaria de retry.
type Payout struct {
	ID           int64
	UserID       string
	SettlementID int64
	AmountCents  int64 // fijado en la creación, inmutable
	Rank         int   // 1–3
	Status       PayoutStatus
	TxHash       string
	TxRequest    *TxRequest // request serializado — permite reenviar sin re-derivar nonce/gas
	RetryCount   int
	LastRetryAt  *time.Time
	Error        string
}

// PayoutTotalCents convierte el beneficio repartible a céntimos:
// floor(profit × share × 100). Usa decimal para evitar el drift binario
// de float64 en la frontera del céntimo.
func PayoutTotalCents(profit, share float64) int64 {
	return decimal.NewFromFloat(profit).
		Mul(decimal.NewFromFloat(share)).
		Shift(2).
		Floor().
		IntPart()
}

// SplitCents reparte totalCents entre n ganadores (1–3) según los pesos
// configurados. Cada tier recibe floor(total × peso / sumaPesosActivos);
// el resto del redondeo (positivo o negativo) va íntegro al primer puesto
// para que la suma cuadre al céntimo.
func SplitCents(totalCents int64, weights [3]float64, winners int) []int64 {
	if winners <= 0 || totalCents <= 0 {
		return nil
	}
	if winners > 3 {
		winners = 3
	}

	var sum float64
	for i := 0; i < winners; i++ {
		sum += weights[i]
	}
	if sum <= 0 {
		return nil
	}

	total := decimal.NewFromInt(totalCents)
	amounts := make([]int64, winners)
	var assigned int64
	for i := 0; i < winners; i++ {
		amounts[i] = total.
			Mul(decimal.NewFromFloat(weights[i])).
			Div(decimal.NewFromFloat(sum)).
			Floor().
			IntPart()
		assigned += amounts[i]
	}

	amounts[0] += totalCents - assigned
	return amounts
}
