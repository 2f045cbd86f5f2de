package domain

// PredictorStats agrega la precisión de un usuario sobre un conjunto de
// trades. Es la fila del leaderboard y del ranking de ganadores: el orden
// canónico es aciertos desc, reputación desc, votos desc, ID asc (desempate
// determinista).
type PredictorStats struct {
	UserID       string
	Name         string
	Wallet       string
	Reputation   float64
	CorrectVotes int
	TotalVotes   int
	Streak       int
	BestStreak   int
}

// Accuracy devuelve la fracción de aciertos, 0 si no hay votos.
func (p PredictorStats) Accuracy() float64 {
	if p.TotalVotes == 0 {
		return 0
	}
	return float64(p.CorrectVotes) / float64(p.TotalVotes)
}

// PoolStatus es el estado del pool para el comando de consulta.
type PoolStatus struct {
	Balance         float64
	UnsettledProfit float64
	ResolvedTrades  int
	SettledTrades   int
}
