package ports

import (
	"context"

	"github.com/alejandrodnm/polycouncil/internal/domain"
)

// Notifier publica los eventos del ciclo de vida en el canal de la
// comunidad. Fire-and-forget: un fallo de notificación se loggea y nunca
// revierte una transición de estado ya committeada.
type Notifier interface {
	// AnnounceProposal publica la propuesta y devuelve la referencia del
	// mensaje donde se recogerán los votos.
	AnnounceProposal(ctx context.Context, trade domain.Trade, proposal domain.TradeProposal) (string, error)

	// AnnounceAbort comunica que el trade fue abortado y por qué.
	AnnounceAbort(ctx context.Context, trade domain.Trade, reason string)

	// AnnounceExecution comunica el fill: precio, tamaño y conviction.
	AnnounceExecution(ctx context.Context, trade domain.Trade, fill domain.OrderFill, conviction float64)

	// AnnounceResolution publica el resultado con un mini-leaderboard.
	AnnounceResolution(ctx context.Context, trade domain.Trade, pnl float64, top []domain.PredictorStats)

	// AnnounceSettlement publica el reparto creado.
	AnnounceSettlement(ctx context.Context, s domain.Settlement, payouts []domain.Payout)

	// AnnouncePayoutFailure publica el detalle de cada payout fallido y
	// pide intervención manual. Es el único camino donde el sistema exige
	// un humano.
	AnnouncePayoutFailure(ctx context.Context, s domain.Settlement, failed []domain.Payout)

	// AnnounceStaleResolution avisa de un trade ejecutado cuya resolución
	// lleva demasiado tiempo pendiente. Aviso, no emergency stop.
	AnnounceStaleResolution(ctx context.Context, trade domain.Trade, hoursStuck float64)
}
