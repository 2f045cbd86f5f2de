package discord

// bot.go — Discord surface of the trading pool.
//
// One Bot owns the gateway session, the slash commands and the
// reaction-to-vote bridge. Votes arrive as ⬆️/⬇️ reactions on the
// proposal message; everything else is slash commands. The bot never
// mutates trading state directly — every event funnels through the
// lifecycle engine.

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/alejandrodnm/polycouncil/internal/application/lifecycle"
	"github.com/alejandrodnm/polycouncil/internal/domain"
	"github.com/alejandrodnm/polycouncil/internal/ports"
)

const (
	emojiUp   = "⬆️"
	emojiDown = "⬇️"
)

// Config configura el canal y el gating del bot.
type Config struct {
	GuildID      string
	ChannelID    string
	HolderRoleID string // vacío = sin gating por rol
}

// Bot wires the Discord session to the lifecycle engine and the store.
type Bot struct {
	session   *discordgo.Session
	cfg       Config
	lifecycle *lifecycle.Engine
	store     ports.Store
	gateway   ports.MarketGateway
}

// New creates the bot. The lifecycle engine is attached with Bind before
// Open: the engine needs the bot's notifier and holder gate, so the two
// are constructed in that order.
func New(token string, cfg Config, store ports.Store, gateway ports.MarketGateway) (*Bot, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord.New: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageReactions

	b := &Bot{
		session: session,
		cfg:     cfg,
		store:   store,
		gateway: gateway,
	}

	session.AddHandler(b.onInteraction)
	session.AddHandler(b.onReactionAdd)

	return b, nil
}

// Bind attaches the lifecycle engine. Must be called before Open.
func (b *Bot) Bind(lc *lifecycle.Engine) {
	b.lifecycle = lc
}

// Open connects the gateway and registers the slash commands.
func (b *Bot) Open() error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("discord.Open: %w", err)
	}

	appID := b.session.State.User.ID
	if _, err := b.session.ApplicationCommandBulkOverwrite(appID, b.cfg.GuildID, commands()); err != nil {
		b.session.Close()
		return fmt.Errorf("discord.Open: register commands: %w", err)
	}

	slog.Info("discord: connected", "user", b.session.State.User.Username, "guild", b.cfg.GuildID)
	return nil
}

// Close disconnects the gateway.
func (b *Bot) Close() error {
	return b.session.Close()
}

// Notifier devuelve el ports.Notifier respaldado por este bot.
func (b *Bot) Notifier() ports.Notifier {
	return &notifier{session: b.session, channelID: b.cfg.ChannelID}
}

// HasHolderRole implementa ports.HolderGate: con el rol sin configurar,
// todo el mundo pasa.
func (b *Bot) HasHolderRole(ctx context.Context, userID string) (bool, error) {
	if b.cfg.HolderRoleID == "" {
		return true, nil
	}

	member, err := b.session.GuildMember(b.cfg.GuildID, userID)
	if err != nil {
		return false, fmt.Errorf("discord.HasHolderRole: %w", err)
	}
	for _, role := range member.Roles {
		if role == b.cfg.HolderRoleID {
			return true, nil
		}
	}
	return false, nil
}

// onReactionAdd convierte una reacción ⬆️/⬇️ sobre el mensaje de la
// propuesta en un voto. Los votos no elegibles se descartan en silencio
// dentro del engine.
func (b *Bot) onReactionAdd(s *discordgo.Session, r *discordgo.MessageReactionAdd) {
	if r.Member == nil || r.Member.User == nil || r.Member.User.Bot {
		return
	}
	if r.ChannelID != b.cfg.ChannelID {
		return
	}

	var dir domain.Direction
	switch r.Emoji.Name {
	case emojiUp:
		dir = domain.DirectionUp
	case emojiDown:
		dir = domain.DirectionDown
	default:
		return
	}

	ctx := context.Background()

	trade, err := b.store.ActiveTrade(ctx)
	if err != nil {
		slog.Warn("discord: active trade lookup failed", "err", err)
		return
	}
	if trade == nil || trade.MessageRef != r.MessageID {
		return
	}

	name := displayName(r.Member)
	if err := b.lifecycle.RecordVote(ctx, trade.ID, r.UserID, name, dir); err != nil {
		slog.Warn("discord: record vote failed", "trade", trade.ID, "user", r.UserID, "err", err)
	}
}

// displayName prefiere el nick del servidor sobre el username global.
func displayName(m *discordgo.Member) string {
	if m.Nick != "" {
		return m.Nick
	}
	if m.User.GlobalName != "" {
		return m.User.GlobalName
	}
	return m.User.Username
}
