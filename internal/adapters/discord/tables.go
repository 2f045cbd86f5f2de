package discord

// tables.go — renderizado tabular para los comandos de consulta.

import (
	"fmt"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/polycouncil/internal/domain"
)

// renderLeaderboard formatea el ranking global como tabla de texto.
func renderLeaderboard(rows []domain.PredictorStats) string {
	var buf strings.Builder
	table := tablewriter.NewWriter(&buf)
	table.Header("#", "Member", "Correct", "Acc", "Streak", "Rep")

	for i, r := range rows {
		table.Append(
			fmt.Sprintf("%d", i+1),
			truncate(r.Name, 20),
			fmt.Sprintf("%d/%d", r.CorrectVotes, r.TotalVotes),
			fmt.Sprintf("%.0f%%", r.Accuracy()*100),
			fmt.Sprintf("%d", r.Streak),
			fmt.Sprintf("%.2f", r.Reputation),
		)
	}

	table.Render()
	return buf.String()
}

// renderHistory formatea los últimos trades como tabla de texto.
func renderHistory(trades []domain.Trade) string {
	var buf strings.Builder
	table := tablewriter.NewWriter(&buf)
	table.Header("#", "Asset", "Dir", "Status", "PnL", "Date")

	for _, t := range trades {
		pnl := "—"
		if t.PnL != nil {
			pnl = fmt.Sprintf("$%+.2f", *t.PnL)
		}
		table.Append(
			fmt.Sprintf("%d", t.ID),
			t.Asset,
			string(t.Direction),
			string(t.Status),
			pnl,
			t.CreatedAt.Format("Jan 02"),
		)
	}

	table.Render()
	return buf.String()
}

func codeBlock(s string) string {
	return "```\n" + s + "```"
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
