package ports

import (
	"context"

	"github.com/alejandrodnm/polycouncil/internal/domain"
)

// MarketGateway encuentra mercados operables y ejecuta órdenes en el
// exchange. Las llamadas largas usan timeouts acotados: un "todavía no"
// se difiere al siguiente tick, nunca se bloquea en el sitio.
type MarketGateway interface {
	// FindTradeableMarkets devuelve los mercados direccionales activos
	// para los assets soportados.
	FindTradeableMarkets(ctx context.Context) ([]domain.Market, error)

	// GetMarket devuelve el mercado activo para un asset, o nil si no hay.
	GetMarket(ctx context.Context, asset string) (*domain.Market, error)

	// ExecuteOrder coloca una orden de mercado por usdSize dólares.
	// Un fallo de ejecución se devuelve como OrderFill{Success:false}.
	ExecuteOrder(ctx context.Context, market domain.Market, dir domain.Direction, usdSize float64) (domain.OrderFill, error)

	// GetResolution consulta si el mercado ya resolvió y hacia dónde.
	GetResolution(ctx context.Context, marketID string) (domain.Resolution, error)

	// GetPositionPnL devuelve el P&L realizado de la posición.
	GetPositionPnL(ctx context.Context, conditionID string) (domain.PositionPnL, error)

	// RedeemWinnings canjea los tokens ganadores por colateral on-chain.
	// Es el paso irreversible de la resolución: si falla, el trade queda
	// en executed y se reintenta en un tick posterior.
	RedeemWinnings(ctx context.Context, conditionID string, tokenIDs []string) error

	// GetPoolBalance devuelve el balance USDC disponible del pool.
	GetPoolBalance(ctx context.Context) (float64, error)
}
