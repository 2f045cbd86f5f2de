package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del bot.
type Config struct {
	Trading  TradingConfig  `yaml:"trading"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Payout   PayoutConfig   `yaml:"payout"`
	Discord  DiscordConfig  `yaml:"discord"`
	Chain    ChainConfig    `yaml:"chain"`
	Signal   SignalConfig   `yaml:"signal"`
	API      APIConfig      `yaml:"api"`
	Storage  StorageConfig  `yaml:"storage"`
	Log      LogConfig      `yaml:"log"`
}

// TradingConfig controla el ciclo de vida de los trades.
type TradingConfig struct {
	Assets               []string `yaml:"assets"`                 // p.ej. ["BTC", "ETH", "SOL"]
	VotingWindowMinutes  int      `yaml:"voting_window_minutes"`  // duración de la votación
	MinVotes             int      `yaml:"min_votes"`              // quorum; menos votos → abort
	MinSizeFrac          float64  `yaml:"min_size_frac"`          // fracción del pool con conviction 0
	MaxSizeFrac          float64  `yaml:"max_size_frac"`          // fracción del pool con conviction 1
	MinGapMinutes        int      `yaml:"min_gap_minutes"`        // gap mínimo tras el último resolved
	BlackoutMinutes      int      `yaml:"blackout_minutes"`       // ventana pre-daily sin /propose
	ResolutionHours      int      `yaml:"resolution_hours"`       // deadline de resolución tras ejecutar
	ResolutionStaleHours int      `yaml:"resolution_stale_hours"` // aviso de resolución atascada
	ReputationCap        float64  `yaml:"reputation_cap"`
}

// ScheduleConfig controla los triggers del scheduler.
type ScheduleConfig struct {
	TickSeconds        int    `yaml:"tick_seconds"`
	Timezone           string `yaml:"timezone"`             // p.ej. "America/New_York"
	DailyHour          int    `yaml:"daily_hour"`           // hora local del trade diario
	DailyMinute        int    `yaml:"daily_minute"`
	TradingHoursStart  int    `yaml:"trading_hours_start"`  // ventana del trade horario
	TradingHoursEnd    int    `yaml:"trading_hours_end"`
	HourlyVarianceMins int    `yaml:"hourly_variance_mins"` // offset aleatorio máximo
	WeeklyPayoutDay    int    `yaml:"weekly_payout_day"`    // 0=domingo ... 6=sábado
	WeeklyPayoutHour   int    `yaml:"weekly_payout_hour"`
}

// PayoutConfig controla el reparto de beneficios.
type PayoutConfig struct {
	Share         float64    `yaml:"share"`          // fracción del profit que se reparte
	MinPayoutUSD  float64    `yaml:"min_payout_usd"` // reparto mínimo para disparar
	Weights       [3]float64 `yaml:"weights"`        // ratio 1º/2º/3º
	MaxRetries    int        `yaml:"max_retries"`
	BackoffLadder []int      `yaml:"backoff_ladder"` // minutos por retry count
}

// DiscordConfig configura el canal y el gating de votos.
type DiscordConfig struct {
	Token        string `yaml:"-"` // solo por env: DISCORD_TOKEN
	GuildID      string `yaml:"guild_id"`
	ChannelID    string `yaml:"channel_id"`
	HolderRoleID string `yaml:"holder_role_id"` // vacío = sin gating por rol
}

// ChainConfig configura la conexión a Polygon para payouts y redención.
type ChainConfig struct {
	RPCURL      string `yaml:"-"` // solo por env: POLYGON_RPC_URL
	PrivateKey  string `yaml:"-"` // solo por env: WALLET_PRIVATE_KEY
	ChainID     int64  `yaml:"chain_id"` // pineado; 0 = consultar al RPC
	USDCAddress string `yaml:"usdc_address"`
}

// SignalConfig configura la llamada de inferencia.
type SignalConfig struct {
	APIKey      string `yaml:"-"` // solo por env: ANTHROPIC_API_KEY
	Model       string `yaml:"model"`
	CandleLimit int    `yaml:"candle_limit"`
}

// APIConfig contiene los base URLs de las APIs externas.
type APIConfig struct {
	CLOBBase    string `yaml:"clob_base"`
	GammaBase   string `yaml:"gamma_base"`
	DataBase    string `yaml:"data_base"`
	BinanceBase string `yaml:"binance_base"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si
// existe. Los secretos vienen siempre de variables de entorno.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

// TickInterval devuelve el intervalo del scheduler como time.Duration.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Schedule.TickSeconds) * time.Second
}

// VotingWindow devuelve la duración de la ventana de votación.
func (c *Config) VotingWindow() time.Duration {
	return time.Duration(c.Trading.VotingWindowMinutes) * time.Minute
}

// MinGap devuelve el gap mínimo entre trades.
func (c *Config) MinGap() time.Duration {
	return time.Duration(c.Trading.MinGapMinutes) * time.Minute
}

// Blackout devuelve la ventana de blackout previa al trade diario.
func (c *Config) Blackout() time.Duration {
	return time.Duration(c.Trading.BlackoutMinutes) * time.Minute
}

// BackoffFor devuelve la espera antes del retry con el contador dado.
// Más allá de la escalera, repite el último escalón.
func (c *Config) BackoffFor(retryCount int) time.Duration {
	ladder := c.Payout.BackoffLadder
	if len(ladder) == 0 {
		return time.Minute
	}
	if retryCount >= len(ladder) {
		retryCount = len(ladder) - 1
	}
	if retryCount < 0 {
		retryCount = 0
	}
	return time.Duration(ladder[retryCount]) * time.Minute
}

// Location devuelve la timezone configurada del scheduler.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Schedule.Timezone)
}

// applyEnvOverrides inyecta secretos y overrides desde el entorno.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DISCORD_TOKEN"); v != "" {
		cfg.Discord.Token = v
	}
	if v := os.Getenv("POLYGON_RPC_URL"); v != "" {
		cfg.Chain.RPCURL = v
	}
	if v := os.Getenv("WALLET_PRIVATE_KEY"); v != "" {
		cfg.Chain.PrivateKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Signal.APIKey = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if len(cfg.Trading.Assets) == 0 {
		cfg.Trading.Assets = []string{"BTC", "ETH", "SOL", "XRP"}
	}
	if cfg.Trading.VotingWindowMinutes <= 0 {
		cfg.Trading.VotingWindowMinutes = 10
	}
	if cfg.Trading.MinVotes <= 0 {
		cfg.Trading.MinVotes = 5
	}
	if cfg.Trading.MinSizeFrac <= 0 {
		cfg.Trading.MinSizeFrac = 0.05
	}
	if cfg.Trading.MaxSizeFrac <= 0 {
		cfg.Trading.MaxSizeFrac = 0.10
	}
	if cfg.Trading.MinGapMinutes <= 0 {
		cfg.Trading.MinGapMinutes = 30
	}
	if cfg.Trading.BlackoutMinutes <= 0 {
		cfg.Trading.BlackoutMinutes = 60
	}
	if cfg.Trading.ResolutionHours <= 0 {
		cfg.Trading.ResolutionHours = 1
	}
	if cfg.Trading.ResolutionStaleHours <= 0 {
		cfg.Trading.ResolutionStaleHours = 6
	}
	if cfg.Trading.ReputationCap <= 0 {
		cfg.Trading.ReputationCap = 2.0
	}
	if cfg.Schedule.TickSeconds <= 0 {
		cfg.Schedule.TickSeconds = 5
	}
	if cfg.Schedule.Timezone == "" {
		cfg.Schedule.Timezone = "America/New_York"
	}
	if cfg.Schedule.DailyHour == 0 {
		cfg.Schedule.DailyHour = 10
	}
	if cfg.Schedule.TradingHoursStart == 0 {
		cfg.Schedule.TradingHoursStart = 9
	}
	if cfg.Schedule.TradingHoursEnd == 0 {
		cfg.Schedule.TradingHoursEnd = 22
	}
	if cfg.Schedule.HourlyVarianceMins <= 0 {
		cfg.Schedule.HourlyVarianceMins = 20
	}
	if cfg.Schedule.WeeklyPayoutHour == 0 {
		cfg.Schedule.WeeklyPayoutHour = 18
	}
	if cfg.Payout.Share <= 0 {
		cfg.Payout.Share = 0.5
	}
	if cfg.Payout.MinPayoutUSD <= 0 {
		cfg.Payout.MinPayoutUSD = 5
	}
	if cfg.Payout.Weights == [3]float64{} {
		cfg.Payout.Weights = [3]float64{0.5, 0.3, 0.2}
	}
	if cfg.Payout.MaxRetries <= 0 {
		cfg.Payout.MaxRetries = 5
	}
	if len(cfg.Payout.BackoffLadder) == 0 {
		cfg.Payout.BackoffLadder = []int{1, 2, 4, 8, 16}
	}
	if cfg.Chain.USDCAddress == "" {
		// USDC.e en Polygon
		cfg.Chain.USDCAddress = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"
	}
	if cfg.Signal.Model == "" {
		cfg.Signal.Model = "claude-sonnet-4-5"
	}
	if cfg.Signal.CandleLimit <= 0 {
		cfg.Signal.CandleLimit = 24
	}
	if cfg.API.CLOBBase == "" {
		cfg.API.CLOBBase = "https://clob.polymarket.com"
	}
	if cfg.API.GammaBase == "" {
		cfg.API.GammaBase = "https://gamma-api.polymarket.com"
	}
	if cfg.API.DataBase == "" {
		cfg.API.DataBase = "https://data-api.polymarket.com"
	}
	if cfg.API.BinanceBase == "" {
		cfg.API.BinanceBase = "https://api.binance.com"
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "polycouncil.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

// validate comprueba las relaciones entre valores que no admiten default.
func validate(cfg *Config) error {
	if cfg.Trading.MaxSizeFrac < cfg.Trading.MinSizeFrac {
		return fmt.Errorf("max_size_frac %.3f < min_size_frac %.3f",
			cfg.Trading.MaxSizeFrac, cfg.Trading.MinSizeFrac)
	}
	if cfg.Payout.Share > 1 {
		return fmt.Errorf("payout share %.2f > 1", cfg.Payout.Share)
	}
	if cfg.Schedule.TradingHoursEnd <= cfg.Schedule.TradingHoursStart {
		return fmt.Errorf("trading hours window empty: %d–%d",
			cfg.Schedule.TradingHoursStart, cfg.Schedule.TradingHoursEnd)
	}
	if d := cfg.Schedule.WeeklyPayoutDay; d < 0 || d > 6 {
		return fmt.Errorf("weekly_payout_day %d out of range 0–6", d)
	}
	if _, err := time.LoadLocation(cfg.Schedule.Timezone); err != nil {
		return fmt.Errorf("timezone %q: %w", cfg.Schedule.Timezone, err)
	}
	return nil
}
