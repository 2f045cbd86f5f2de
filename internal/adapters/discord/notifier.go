package discord

// notifier.go — ports.Notifier sobre el canal de la comunidad.
//
// Todo menos AnnounceProposal es fire-and-forget: un fallo del canal se
// loggea y jamás revierte una transición ya committeada al store.

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/alejandrodnm/polycouncil/internal/domain"
)

type notifier struct {
	session   *discordgo.Session
	channelID string
}

// AnnounceProposal publica la propuesta, siembra las reacciones de voto y
// devuelve el ID del mensaje. Es el único announce cuyo fallo importa: sin
// mensaje no hay votación, y el caller aborta el trade.
func (n *notifier) AnnounceProposal(ctx context.Context, trade domain.Trade, proposal domain.TradeProposal) (string, error) {
	content := fmt.Sprintf(
		"📊 **Trade round #%d — %s**\nThe analyst proposes **%s** — %s\n\nVote with %s or %s. Voting closes <t:%d:R>.",
		trade.ID, trade.Asset, proposal.Direction, proposal.Reasoning,
		emojiUp, emojiDown, trade.VotingEndsAt.Unix(),
	)

	msg, err := n.session.ChannelMessageSend(n.channelID, content)
	if err != nil {
		return "", fmt.Errorf("discord.AnnounceProposal: %w", err)
	}

	// Sembrar las reacciones para que votar sea un solo click
	for _, emoji := range []string{emojiUp, emojiDown} {
		if err := n.session.MessageReactionAdd(n.channelID, msg.ID, emoji); err != nil {
			slog.Warn("discord: seed reaction failed", "emoji", emoji, "err", err)
		}
	}
	return msg.ID, nil
}

// AnnounceAbort comunica que la ronda quedó en nada y por qué.
func (n *notifier) AnnounceAbort(ctx context.Context, trade domain.Trade, reason string) {
	n.send(fmt.Sprintf("🚫 Trade round #%d (%s) aborted: %s", trade.ID, trade.Asset, reason))
}

// AnnounceExecution comunica el fill con tamaño y conviction.
func (n *notifier) AnnounceExecution(ctx context.Context, trade domain.Trade, fill domain.OrderFill, conviction float64) {
	n.send(fmt.Sprintf(
		"✅ **Trade #%d executed** — %s **%s**\nBought %.1f shares at $%.3f avg ($%.2f total). Community conviction: %.0f%%.\nResolution due <t:%d:R>.",
		trade.ID, trade.Asset, trade.Direction,
		fill.SharesFilled, fill.AvgPrice, fill.TotalCost, conviction*100,
		trade.ResolutionDeadline.Unix(),
	))
}

// AnnounceResolution publica el resultado con un mini-leaderboard.
func (n *notifier) AnnounceResolution(ctx context.Context, trade domain.Trade, pnl float64, top []domain.PredictorStats) {
	emoji := "🟢"
	verdict := "WIN"
	if pnl < 0 {
		emoji = "🔴"
		verdict = "LOSS"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s **Trade #%d resolved — %s**: %s went **%s**, P&L $%+.2f\n",
		emoji, trade.ID, verdict, trade.Asset, trade.Direction, pnl)

	if len(top) > 0 {
		b.WriteString("\nTop predictors:\n")
		medals := []string{"🥇", "🥈", "🥉"}
		for i, p := range top {
			if i >= len(medals) {
				break
			}
			fmt.Fprintf(&b, "%s %s — %d/%d correct, streak %d\n",
				medals[i], p.Name, p.CorrectVotes, p.TotalVotes, p.Streak)
		}
	}
	n.send(b.String())
}

// AnnounceSettlement publica el reparto recién creado.
func (n *notifier) AnnounceSettlement(ctx context.Context, s domain.Settlement, payouts []domain.Payout) {
	var b strings.Builder
	fmt.Fprintf(&b, "💰 **Weekly settlement #%d** — paying out to the top predictors:\n", s.ID)
	for _, p := range payouts {
		fmt.Fprintf(&b, "%d. <@%s> — $%.2f USDC\n", p.Rank, p.UserID, float64(p.AmountCents)/100)
	}
	b.WriteString("Transfers are on their way to your registered wallets.")
	n.send(b.String())
}

// AnnouncePayoutFailure pide intervención manual. Es el único camino en el
// que el sistema exige un humano.
func (n *notifier) AnnouncePayoutFailure(ctx context.Context, s domain.Settlement, failed []domain.Payout) {
	var b strings.Builder
	fmt.Fprintf(&b, "🛑 **Settlement #%d FAILED — emergency stop engaged.**\n", s.ID)
	if s.Error != "" {
		fmt.Fprintf(&b, "Reason: %s\n", s.Error)
	}
	for _, p := range failed {
		fmt.Fprintf(&b, "- <@%s>: $%.2f, %d attempts, last error: %s\n",
			p.UserID, float64(p.AmountCents)/100, p.RetryCount, p.Error)
	}
	b.WriteString("\nAn admin must investigate and run /resume once the payouts are settled manually.")
	n.send(b.String())
}

// AnnounceStaleResolution avisa de una resolución atascada. Aviso, no stop.
func (n *notifier) AnnounceStaleResolution(ctx context.Context, trade domain.Trade, hoursStuck float64) {
	n.send(fmt.Sprintf(
		"⚠️ Trade #%d (%s) has been awaiting market resolution for %.0f hours. Still polling — no action needed yet.",
		trade.ID, trade.Asset, hoursStuck,
	))
}

func (n *notifier) send(content string) {
	if _, err := n.session.ChannelMessageSend(n.channelID, content); err != nil {
		slog.Warn("discord: announce failed", "err", err)
	}
}
