package ports

import (
	"context"

	"github.com/alejandrodnm/polycouncil/internal/domain"
)

// SignalSource propone un trade direccional a partir del estado de los
// mercados y los datos técnicos recientes. Caja negra — un fallo se
// propaga como abort-and-announce, nunca se reintenta en el mismo tick.
type SignalSource interface {
	ProposeTrade(ctx context.Context, markets map[string]domain.Market, candles map[string][]domain.Candle) (domain.TradeProposal, error)
}

// CandleProvider obtiene velas recientes para el contexto técnico.
type CandleProvider interface {
	RecentCandles(ctx context.Context, asset string, limit int) ([]domain.Candle, error)
}
