package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alejandrodnm/polycouncil/config"
	"github.com/alejandrodnm/polycouncil/internal/adapters/binance"
	"github.com/alejandrodnm/polycouncil/internal/adapters/discord"
	"github.com/alejandrodnm/polycouncil/internal/adapters/notify"
	"github.com/alejandrodnm/polycouncil/internal/adapters/onchain"
	"github.com/alejandrodnm/polycouncil/internal/adapters/polymarket"
	signaladapter "github.com/alejandrodnm/polycouncil/internal/adapters/signal"
	"github.com/alejandrodnm/polycouncil/internal/adapters/storage"
	"github.com/alejandrodnm/polycouncil/internal/application/lifecycle"
	"github.com/alejandrodnm/polycouncil/internal/application/scheduler"
	"github.com/alejandrodnm/polycouncil/internal/application/settlement"
	"github.com/alejandrodnm/polycouncil/internal/ports"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	headless := flag.Bool("headless", false, "run without Discord, announcements to stdout")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	loc, err := cfg.Location()
	if err != nil {
		slog.Error("invalid timezone", "err", err, "tz", cfg.Schedule.Timezone)
		os.Exit(1)
	}

	slog.Info("polycouncil starting",
		"config", *configPath,
		"tick", cfg.TickInterval(),
		"assets", cfg.Trading.Assets,
		"headless", *headless,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := storage.NewSQLiteStore(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	chain, err := onchain.NewClient(ctx, cfg.Chain.RPCURL, cfg.Chain.PrivateKey, cfg.Chain.ChainID)
	if err != nil {
		slog.Error("failed to connect to chain", "err", err)
		os.Exit(1)
	}
	payer := onchain.NewPayer(chain, cfg.Chain.USDCAddress)
	redeemer := onchain.NewRedeemer(chain, cfg.Chain.USDCAddress)

	auth, err := polymarket.NewAuthClient(cfg.API.CLOBBase, cfg.API.GammaBase, cfg.API.DataBase, cfg.Chain.PrivateKey)
	if err != nil {
		slog.Error("failed to create polymarket client", "err", err)
		os.Exit(1)
	}

	// Polymarket nombra los mercados direccionales en hora ET,
	// independientemente de la timezone del scheduler.
	et, err := time.LoadLocation("America/New_York")
	if err != nil {
		slog.Error("failed to load ET timezone", "err", err)
		os.Exit(1)
	}
	gateway := polymarket.NewGateway(auth, chain.RPC(), redeemer, cfg.Trading.Assets, cfg.Chain.USDCAddress, et)

	candles := binance.NewClient(cfg.API.BinanceBase)
	sig := signaladapter.New(cfg.Signal.APIKey, cfg.Signal.Model)

	var (
		notifier ports.Notifier
		holders  ports.HolderGate
		bot      *discord.Bot
	)
	if *headless {
		notifier = notify.NewConsole(os.Stdout)
		holders = openGate{}
	} else {
		bot, err = discord.New(cfg.Discord.Token, discord.Config{
			GuildID:      cfg.Discord.GuildID,
			ChannelID:    cfg.Discord.ChannelID,
			HolderRoleID: cfg.Discord.HolderRoleID,
		}, store, gateway)
		if err != nil {
			slog.Error("failed to create discord bot", "err", err)
			os.Exit(1)
		}
		notifier = bot.Notifier()
		holders = bot
	}

	lc := lifecycle.New(store, gateway, sig, candles, notifier, holders, lifecycle.Config{
		Assets:               cfg.Trading.Assets,
		VotingWindow:         cfg.VotingWindow(),
		MinVotes:             cfg.Trading.MinVotes,
		MinSizeFrac:          cfg.Trading.MinSizeFrac,
		MaxSizeFrac:          cfg.Trading.MaxSizeFrac,
		MinGap:               cfg.MinGap(),
		Blackout:             cfg.Blackout(),
		DailyHour:            cfg.Schedule.DailyHour,
		DailyMinute:          cfg.Schedule.DailyMinute,
		Location:             loc,
		ResolutionDeadline:   time.Duration(cfg.Trading.ResolutionHours) * time.Hour,
		ResolutionStaleAfter: time.Duration(cfg.Trading.ResolutionStaleHours) * time.Hour,
		ReputationCap:        cfg.Trading.ReputationCap,
		CandleLimit:          cfg.Signal.CandleLimit,
	}, nil)

	st := settlement.New(store, payer, notifier, settlement.Config{
		PayoutShare:    cfg.Payout.Share,
		MinPayoutCents: int64(cfg.Payout.MinPayoutUSD * 100),
		Weights:        cfg.Payout.Weights,
		MaxRetries:     cfg.Payout.MaxRetries,
		Backoff:        cfg.BackoffFor,
	})

	if bot != nil {
		bot.Bind(lc)
		if err := bot.Open(); err != nil {
			slog.Error("failed to connect to discord", "err", err)
			os.Exit(1)
		}
		defer bot.Close()
	}

	sched := scheduler.New(store, lc, st, scheduler.Config{
		TickInterval:      cfg.TickInterval(),
		Location:          loc,
		DailyHour:         cfg.Schedule.DailyHour,
		DailyMinute:       cfg.Schedule.DailyMinute,
		TradingHoursStart: cfg.Schedule.TradingHoursStart,
		TradingHoursEnd:   cfg.Schedule.TradingHoursEnd,
		HourlyVariance:    time.Duration(cfg.Schedule.HourlyVarianceMins) * time.Minute,
		WeeklyPayoutDay:   time.Weekday(cfg.Schedule.WeeklyPayoutDay),
		WeeklyPayoutHour:  cfg.Schedule.WeeklyPayoutHour,
	}, nil)

	sched.Run(ctx)
	slog.Info("polycouncil stopped cleanly")
}

// openGate deja pasar a todo el mundo en modo headless.
type openGate struct{}

func (openGate) HasHolderRole(ctx context.Context, userID string) (bool, error) {
	return true, nil
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
