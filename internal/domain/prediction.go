package domain

import "time"

// Prediction es el voto direccional de un usuario sobre un trade.
// Única por (user, trade). Mientras la votación está abierta es provisional
// (SnapshotAt nil); al cierre se congela con un timestamp compartido.
// Solo las predicciones snapshotted cuentan para scoring y payouts.
type Prediction struct {
	ID         int64
	UserID     string
	TradeID    int64
	Direction  Direction
	Correct    *bool      // nil hasta resolución
	SnapshotAt *time.Time // nil = voto vivo, aún no congelado
	CreatedAt  time.Time
}

// Snapshotted indica si la predicción fue congelada al cierre de votación.
func (p Prediction) Snapshotted() bool { return p.SnapshotAt != nil }
