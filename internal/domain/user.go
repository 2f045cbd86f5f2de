package domain

import "time"

const (
	// ReputationStart es el peso inicial de un usuario nuevo.
	ReputationStart = 0.1
	// ReputationStep es el incremento por predicción resuelta.
	ReputationStep = 0.05
)

// User es un miembro de la comunidad identificado por su ID de Discord.
// Se crea en la primera interacción y nunca se borra.
type User struct {
	ID         string // Discord user ID — opaco y estable
	Name       string // último display name visto
	Wallet     string // dirección de payout; vacía hasta /register
	Reputation float64
	Streak     int
	BestStreak int
	CreatedAt  time.Time
}

// HasWallet indica si el usuario registró una wallet de payout.
func (u User) HasWallet() bool { return u.Wallet != "" }

// AdvanceReputation devuelve la reputación tras una predicción resuelta,
// avanzando hacia el cap sin superarlo nunca. Nunca decrece.
func AdvanceReputation(current, cap float64) float64 {
	next := current + ReputationStep
	if next > cap {
		return cap
	}
	return next
}

// ApplyStreak devuelve (streak, bestStreak) tras una predicción resuelta.
// Un acierto incrementa la racha; un fallo la resetea a cero.
func ApplyStreak(streak, best int, correct bool) (int, int) {
	if !correct {
		return 0, best
	}
	streak++
	if streak > best {
		best = streak
	}
	return streak, best
}
