package discord

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alejandrodnm/polycouncil/internal/domain"
)

func TestRenderLeaderboard(t *testing.T) {
	out := renderLeaderboard([]domain.PredictorStats{
		{Name: "alice", CorrectVotes: 8, TotalVotes: 10, Streak: 3, Reputation: 0.45},
		{Name: "un-nombre-de-usuario-larguisimo-imposible", CorrectVotes: 5, TotalVotes: 10, Streak: 0, Reputation: 0.30},
	})

	assert.Contains(t, out, "alice")
	assert.Contains(t, out, "8/10")
	assert.Contains(t, out, "80%")
	// Los nombres largos se truncan para que la tabla quepa en Discord
	assert.NotContains(t, out, "imposible")
	assert.Contains(t, out, "...")
}

func TestRenderHistory(t *testing.T) {
	pnl := 12.5
	out := renderHistory([]domain.Trade{
		{ID: 7, Asset: "BTC", Direction: domain.DirectionUp, Status: domain.TradeStatusResolved,
			PnL: &pnl, CreatedAt: time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)},
		{ID: 8, Asset: "ETH", Direction: domain.DirectionDown, Status: domain.TradeStatusExecuted,
			CreatedAt: time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)},
	})

	assert.Contains(t, out, "BTC")
	assert.Contains(t, out, "$+12.50")
	// Sin P&L todavía se muestra un guión
	assert.Contains(t, out, "—")
}

func TestCodeBlock(t *testing.T) {
	out := codeBlock("hello")
	assert.True(t, strings.HasPrefix(out, "```"))
	assert.True(t, strings.HasSuffix(out, "```"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 20))
	assert.Equal(t, "exactly-twenty-chars", truncate("exactly-twenty-chars", 20))
	assert.Equal(t, "un-nombre-de-usua...", truncate("un-nombre-de-usuario-largo", 20))
}
