package discord

// commands.go — slash commands: el interfaz de consulta y control.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alejandrodnm/polycouncil/internal/domain"
)

// commands devuelve las definiciones registradas en el guild.
func commands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        "propose",
			Description: "Start a community trade round now",
		},
		{
			Name:        "register",
			Description: "Register your Polygon wallet for payouts",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "wallet",
					Description: "Your Polygon address (0x...)",
					Required:    true,
				},
			},
		},
		{
			Name:        "stats",
			Description: "Your prediction record",
		},
		{
			Name:        "leaderboard",
			Description: "Top predictors of all time",
		},
		{
			Name:        "history",
			Description: "Recent trades and their outcomes",
		},
		{
			Name:        "pool",
			Description: "Pool balance and unsettled profit",
		},
		{
			Name:        "stop",
			Description: "Engage the emergency stop (admins only)",
		},
		{
			Name:        "resume",
			Description: "Release the emergency stop (admins only)",
		},
	}
}

// onInteraction despacha los slash commands.
func (b *Bot) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}

	ctx := context.Background()
	name := i.ApplicationCommandData().Name

	switch name {
	case "propose":
		b.handlePropose(ctx, i)
	case "register":
		b.handleRegister(ctx, i)
	case "stats":
		b.handleStats(ctx, i)
	case "leaderboard":
		b.handleLeaderboard(ctx, i)
	case "history":
		b.handleHistory(ctx, i)
	case "pool":
		b.handlePool(ctx, i)
	case "stop":
		b.handleEmergencyStop(ctx, i, true)
	case "resume":
		b.handleEmergencyStop(ctx, i, false)
	}
}

// handlePropose arranca una ronda bajo demanda. La creación llama a
// mercado, velas e inferencia, así que respondemos en diferido.
func (b *Bot) handlePropose(ctx context.Context, i *discordgo.InteractionCreate) {
	adm, err := b.lifecycle.CanStartTrade(ctx, true)
	if err != nil {
		b.respondEphemeral(i, "Something went wrong checking the pool state.")
		slog.Warn("discord: /propose admission failed", "err", err)
		return
	}
	if !adm.Allowed {
		b.respondEphemeral(i, adm.Reason)
		return
	}

	if err := b.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	}); err != nil {
		slog.Warn("discord: defer failed", "err", err)
		return
	}

	content := "Trade round started — watch the channel for the proposal."
	if err := b.lifecycle.StartTrade(ctx, "user:"+interactionUserID(i)); err != nil {
		content = "Could not start a trade round: " + userFacing(err)
	}
	b.followUp(i, content)
}

// handleRegister guarda la wallet de payout del usuario.
func (b *Bot) handleRegister(ctx context.Context, i *discordgo.InteractionCreate) {
	wallet := strings.TrimSpace(i.ApplicationCommandData().Options[0].StringValue())
	userID := interactionUserID(i)

	if !common.IsHexAddress(wallet) {
		b.respondEphemeral(i, "That doesn't look like a Polygon address. Expected `0x` followed by 40 hex characters.")
		return
	}

	if _, err := b.store.UpsertUser(ctx, userID, interactionUserName(i)); err != nil {
		slog.Warn("discord: /register upsert failed", "user", userID, "err", err)
		b.respondEphemeral(i, "Something went wrong, try again.")
		return
	}

	err := b.store.RegisterWallet(ctx, userID, wallet)
	switch {
	case errors.Is(err, domain.ErrWalletTaken):
		b.respondEphemeral(i, "That wallet is already registered to another member.")
	case err != nil:
		slog.Warn("discord: /register failed", "user", userID, "err", err)
		b.respondEphemeral(i, "Something went wrong, try again.")
	default:
		b.respondEphemeral(i, fmt.Sprintf("Wallet `%s` registered. Your votes now count toward payouts.", wallet))
	}
}

// handleStats muestra el historial del usuario.
func (b *Bot) handleStats(ctx context.Context, i *discordgo.InteractionCreate) {
	userID := interactionUserID(i)

	user, err := b.store.GetUser(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		b.respondEphemeral(i, "No record yet — vote on a trade to get started.")
		return
	}
	if err != nil {
		slog.Warn("discord: /stats failed", "user", userID, "err", err)
		b.respondEphemeral(i, "Something went wrong, try again.")
		return
	}

	wallet := "not registered — use /register"
	if user.HasWallet() {
		wallet = "`" + user.Wallet + "`"
	}
	b.respondEphemeral(i, fmt.Sprintf(
		"**%s**\nReputation: %.2f\nStreak: %d (best %d)\nWallet: %s",
		user.Name, user.Reputation, user.Streak, user.BestStreak, wallet))
}

// handleLeaderboard publica el top-10 global.
func (b *Bot) handleLeaderboard(ctx context.Context, i *discordgo.InteractionCreate) {
	rows, err := b.store.Leaderboard(ctx, 10)
	if err != nil {
		slog.Warn("discord: /leaderboard failed", "err", err)
		b.respondEphemeral(i, "Something went wrong, try again.")
		return
	}
	if len(rows) == 0 {
		b.respond(i, "No resolved trades yet — the leaderboard is empty.")
		return
	}
	b.respond(i, "**Leaderboard**\n"+codeBlock(renderLeaderboard(rows)))
}

// handleHistory publica los últimos trades.
func (b *Bot) handleHistory(ctx context.Context, i *discordgo.InteractionCreate) {
	trades, err := b.store.TradeHistory(ctx, 10)
	if err != nil {
		slog.Warn("discord: /history failed", "err", err)
		b.respondEphemeral(i, "Something went wrong, try again.")
		return
	}
	if len(trades) == 0 {
		b.respond(i, "No trades yet.")
		return
	}
	b.respond(i, "**Recent trades**\n"+codeBlock(renderHistory(trades)))
}

// handlePool publica el balance y el profit pendiente de repartir.
func (b *Bot) handlePool(ctx context.Context, i *discordgo.InteractionCreate) {
	balance, err := b.gateway.GetPoolBalance(ctx)
	if err != nil {
		slog.Warn("discord: /pool balance failed", "err", err)
		b.respondEphemeral(i, "Could not read the pool balance right now.")
		return
	}
	profit, resolved, err := b.store.UnsettledProfit(ctx)
	if err != nil {
		slog.Warn("discord: /pool profit failed", "err", err)
		b.respondEphemeral(i, "Something went wrong, try again.")
		return
	}

	b.respond(i, fmt.Sprintf(
		"**Pool**\nBalance: $%.2f USDC\nUnsettled profit: $%.2f across %d resolved trades",
		balance, profit, resolved))
}

// handleEmergencyStop acciona el fail-safe. Solo administradores.
func (b *Bot) handleEmergencyStop(ctx context.Context, i *discordgo.InteractionCreate, stop bool) {
	if !isAdmin(i) {
		b.respondEphemeral(i, "Admins only.")
		return
	}

	if err := b.lifecycle.SetEmergencyStop(ctx, stop); err != nil {
		slog.Error("discord: emergency stop toggle failed", "stop", stop, "err", err)
		b.respondEphemeral(i, "Could not persist the change — check the logs.")
		return
	}

	if stop {
		b.respond(i, "🛑 **Emergency stop engaged.** No new trades or payouts until an admin runs /resume.")
	} else {
		b.respond(i, "✅ Emergency stop released. Trading resumes on the next scheduled trigger.")
	}
}

func isAdmin(i *discordgo.InteractionCreate) bool {
	return i.Member != nil && i.Member.Permissions&discordgo.PermissionAdministrator != 0
}

func interactionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

func interactionUserName(i *discordgo.InteractionCreate) string {
	if i.Member != nil {
		return displayName(i.Member)
	}
	if i.User != nil {
		return i.User.Username
	}
	return ""
}

// userFacing limpia un error interno para mostrarlo en el canal.
func userFacing(err error) string {
	switch {
	case errors.Is(err, domain.ErrTradeActive):
		return "a trade is already in progress."
	case errors.Is(err, domain.ErrSettlementIncomplete):
		return "a settlement is still distributing."
	case errors.Is(err, domain.ErrEmergencyStopped):
		return "the emergency stop is active."
	default:
		return "an internal error, check the logs."
	}
}

func (b *Bot) respond(i *discordgo.InteractionCreate, content string) {
	err := b.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: content},
	})
	if err != nil {
		slog.Warn("discord: respond failed", "err", err)
	}
}

func (b *Bot) respondEphemeral(i *discordgo.InteractionCreate, content string) {
	err := b.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		slog.Warn("discord: respond failed", "err", err)
	}
}

func (b *Bot) followUp(i *discordgo.InteractionCreate, content string) {
	_, err := b.session.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
		Content: content,
		Flags:   discordgo.MessageFlagsEphemeral,
	})
	if err != nil {
		slog.Warn("discord: followup failed", "err", err)
	}
}
