package domain

import "errors"

// Errores centinela de los invariantes check-then-act. La capa de storage
// los devuelve desde dentro de la transacción; los engines los comparan
// con errors.Is.
var (
	// ErrTradeActive: ya existe un trade en voting o executed.
	ErrTradeActive = errors.New("a trade is already active")

	// ErrSettlementIncomplete: hay un settlement sin completar.
	ErrSettlementIncomplete = errors.New("a settlement is still in progress")

	// ErrEmergencyStopped: el freno de emergencia está activo.
	ErrEmergencyStopped = errors.New("emergency stop is active")

	// ErrWalletTaken: la wallet ya está registrada por otro usuario.
	ErrWalletTaken = errors.New("wallet already registered to another user")

	// ErrSettlementNotDue: las condiciones de disparo del settlement no se
	// cumplen con datos vivos dentro de la transacción.
	ErrSettlementNotDue = errors.New("settlement conditions not met")

	// ErrNotFound: la fila pedida no existe.
	ErrNotFound = errors.New("not found")
)
