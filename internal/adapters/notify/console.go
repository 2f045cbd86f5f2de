package notify

// console.go — ports.Notifier que escribe a stdout.
//
// Se usa en modo headless (sin token de Discord) para probar el ciclo
// completo sin tocar el canal. AnnounceProposal devuelve un ref sintético
// para que el ciclo de votación pueda continuar.

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/polycouncil/internal/domain"
)

// Console implementa ports.Notifier.
type Console struct {
	out io.Writer
}

// NewConsole crea un notificador que escribe al writer dado.
func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

func (c *Console) AnnounceProposal(ctx context.Context, trade domain.Trade, proposal domain.TradeProposal) (string, error) {
	fmt.Fprintf(c.out, "\n=== TRADE ROUND #%d — %s ===\n", trade.ID, trade.Asset)
	fmt.Fprintf(c.out, "Proposal: %s — %s\n", proposal.Direction, proposal.Reasoning)
	fmt.Fprintf(c.out, "Voting closes: %s\n", trade.VotingEndsAt.Format("15:04:05"))
	return "console-" + uuid.NewString(), nil
}

func (c *Console) AnnounceAbort(ctx context.Context, trade domain.Trade, reason string) {
	fmt.Fprintf(c.out, "ABORT trade #%d (%s): %s\n", trade.ID, trade.Asset, reason)
}

func (c *Console) AnnounceExecution(ctx context.Context, trade domain.Trade, fill domain.OrderFill, conviction float64) {
	fmt.Fprintf(c.out, "EXECUTED trade #%d: %s %s — %.1f shares @ $%.3f ($%.2f), conviction %.0f%%\n",
		trade.ID, trade.Asset, trade.Direction,
		fill.SharesFilled, fill.AvgPrice, fill.TotalCost, conviction*100)
}

func (c *Console) AnnounceResolution(ctx context.Context, trade domain.Trade, pnl float64, top []domain.PredictorStats) {
	verdict := "WIN"
	if pnl < 0 {
		verdict = "LOSS"
	}
	fmt.Fprintf(c.out, "RESOLVED trade #%d: %s — P&L $%+.2f\n", trade.ID, verdict, pnl)

	if len(top) == 0 {
		return
	}
	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Member", "Correct", "Streak")
	for i, p := range top {
		table.Append(
			fmt.Sprintf("%d", i+1),
			p.Name,
			fmt.Sprintf("%d/%d", p.CorrectVotes, p.TotalVotes),
			fmt.Sprintf("%d", p.Streak),
		)
	}
	table.Render()
}

func (c *Console) AnnounceSettlement(ctx context.Context, s domain.Settlement, payouts []domain.Payout) {
	fmt.Fprintf(c.out, "\n=== SETTLEMENT #%d ===\n", s.ID)
	table := tablewriter.NewWriter(c.out)
	table.Header("Rank", "User", "Amount")
	for _, p := range payouts {
		table.Append(
			fmt.Sprintf("%d", p.Rank),
			p.UserID,
			fmt.Sprintf("$%.2f", float64(p.AmountCents)/100),
		)
	}
	table.Render()
}

func (c *Console) AnnouncePayoutFailure(ctx context.Context, s domain.Settlement, failed []domain.Payout) {
	fmt.Fprintf(c.out, "\n*** SETTLEMENT #%d FAILED — EMERGENCY STOP ***\n", s.ID)
	if s.Error != "" {
		fmt.Fprintf(c.out, "Reason: %s\n", s.Error)
	}
	for _, p := range failed {
		fmt.Fprintf(c.out, "  user=%s amount=$%.2f retries=%d err=%s\n",
			p.UserID, float64(p.AmountCents)/100, p.RetryCount, p.Error)
	}
	fmt.Fprintln(c.out, strings.Repeat("*", 40))
}

func (c *Console) AnnounceStaleResolution(ctx context.Context, trade domain.Trade, hoursStuck float64) {
	fmt.Fprintf(c.out, "WARN trade #%d (%s): resolution pending for %.0fh\n", trade.ID, trade.Asset, hoursStuck)
}
