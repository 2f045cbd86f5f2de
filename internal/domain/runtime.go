package domain

import "time"

// RuntimeState es la memoria de scheduling del proceso, persistida en una
// única fila para que un restart no repita ni pierda triggers programados.
type RuntimeState struct {
	EmergencyStopped   bool
	LastDailyTradeDate string     // "2006-01-02" en la timezone configurada
	NextHourlyTradeAt  *time.Time // timestamp absoluto del próximo trade aleatorio
	LastWeeklyPayout   string     // "2006-01-02" del último settlement semanal
}
