package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del bot.
type Config struct {
	Engine    EngineConfig    `yaml:"engine"` // partición standard
	Turbo     EngineConfig    `yaml:"turbo"`  // partición turbo
	Risk      RiskConfig      `yaml:"risk"`
	Pricing   PricingConfig   `yaml:"pricing"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Crisis    CrisisConfig    `yaml:"crisis"`
	API       APIConfig       `yaml:"api"`
	Storage   StorageConfig   `yaml:"storage"`
	Redis     RedisConfig     `yaml:"redis"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
}

// EngineConfig controla una partición del ciclo de vida de trades.
type EngineConfig struct {
	Enabled              *bool    `yaml:"enabled"` // nil = enabled
	StartingCapital      float64  `yaml:"starting_capital"`
	IntervalSeconds      int      `yaml:"interval_seconds"`
	ErrorCooldownSeconds int      `yaml:"error_cooldown_seconds"`
	MinScore             *int     `yaml:"min_score"` // 0 es válido: abre sin filtro de score
	MaxPositions         int      `yaml:"max_positions"`
	MaxOpensPerCycle     int      `yaml:"max_opens_per_cycle"`
	TakeProfit           float64  `yaml:"take_profit"` // 0.25 = +25%
	StopLoss             float64  `yaml:"stop_loss"`   // 0.15 = −15%
	WinThreshold         float64  `yaml:"win_threshold"`
	ClosedRetention      int      `yaml:"closed_retention"`
	HistorySize          int      `yaml:"history_size"`
	Decision             Decision `yaml:"decision"`
}

// Decision son los umbrales de la escalera de entrada.
type Decision struct {
	MinTick        float64 `yaml:"min_tick"`
	CrisisMaxPrice float64 `yaml:"crisis_max_price"`
	LongShotMax    float64 `yaml:"long_shot_max"`
	BandMin        float64 `yaml:"band_min"`
	BandMax        float64 `yaml:"band_max"`
	MomentumVolume float64 `yaml:"momentum_volume"`
}

// RiskConfig controla el sizing y los costes simulados.
type RiskConfig struct {
	MaxFraction  float64  `yaml:"max_fraction"`   // fracción del capital por trade
	MinTradeSize float64  `yaml:"min_trade_size"` // USDC
	HardCap      float64  `yaml:"hard_cap"`       // USDC
	FeeBps       *int     `yaml:"fee_bps"`        // 0 es válido
	MaxSlippage  *float64 `yaml:"max_slippage"`   // 0 es válido
}

// PricingConfig controla el resolver de precios.
type PricingConfig struct {
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
	MaxSpreadPct    float64 `yaml:"max_spread_pct"`
}

// QueryConfig es una query de discovery contra Gamma.
type QueryConfig struct {
	Name  string `yaml:"name"`
	Tag   string `yaml:"tag"`
	Order string `yaml:"order"`
	Limit int    `yaml:"limit"`
}

// DiscoveryConfig controla la cache de mercados y los detectores.
type DiscoveryConfig struct {
	CacheTTLSeconds int           `yaml:"cache_ttl_seconds"`
	MinLiquidity    float64       `yaml:"min_liquidity"`
	MaxDays         float64       `yaml:"max_days"`
	Queries         []QueryConfig `yaml:"queries"` // vacío = queries por defecto
	WhaleMinVolume  float64       `yaml:"whale_min_volume"`
	WhaleMinRatio   float64       `yaml:"whale_min_ratio"`
	ArbMinSum       float64       `yaml:"arb_min_sum"`
	ArbMaxSum       float64       `yaml:"arb_max_sum"`
	MaxAlerts       int           `yaml:"max_alerts"`
}

// CrisisConfig controla el feed de crisis. Sin URL la señal es siempre unknown.
type CrisisConfig struct {
	URL         string `yaml:"url"`
	PollSeconds int    `yaml:"poll_seconds"`
	TTLSeconds  int    `yaml:"ttl_seconds"`
}

// APIConfig contiene los base URLs de las APIs.
type APIConfig struct {
	CLOBBase              string `yaml:"clob_base"`
	GammaBase             string `yaml:"gamma_base"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	StateDir   string `yaml:"state_dir"`   // documentos JSON por partición
	JournalDSN string `yaml:"journal_dsn"` // SQLite; "off" lo desactiva
}

// RedisConfig activa la cache de precios compartida si URL no está vacío.
type RedisConfig struct {
	URL    string `yaml:"url"`
	Prefix string `yaml:"prefix"`
}

// ServerConfig controla la API HTTP.
type ServerConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	StreamSeconds  int      `yaml:"stream_seconds"`
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Las variables de entorno sobreescriben los valores del YAML.
// Un path vacío o inexistente deja solo defaults + entorno.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

// Interval devuelve el intervalo del ciclo como time.Duration.
func (e EngineConfig) Interval() time.Duration {
	return time.Duration(e.IntervalSeconds) * time.Second
}

// ErrorCooldown devuelve la espera tras un ciclo fallido.
func (e EngineConfig) ErrorCooldown() time.Duration {
	return time.Duration(e.ErrorCooldownSeconds) * time.Second
}

// IsEnabled reports whether the partition should run.
func (e EngineConfig) IsEnabled() bool {
	return e.Enabled == nil || *e.Enabled
}

// RequestTimeout devuelve el timeout por llamada upstream.
func (a APIConfig) RequestTimeout() time.Duration {
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("POLYSIGNAL_STATE_DIR"); v != "" {
		cfg.Storage.StateDir = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("CRISIS_URL"); v != "" {
		cfg.Crisis.URL = v
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.Server.Addr = v
		cfg.Server.Enabled = true
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	engineDefaults(&cfg.Engine, EngineConfig{
		StartingCapital:  1000,
		IntervalSeconds:  60,
		MaxPositions:     10,
		MaxOpensPerCycle: 3,
		TakeProfit:       0.25,
		StopLoss:         0.15,
	}, 40)
	// turbo: ciclo corto, salidas más cercanas, capital propio
	engineDefaults(&cfg.Turbo, EngineConfig{
		StartingCapital:  500,
		IntervalSeconds:  15,
		MaxPositions:     5,
		MaxOpensPerCycle: 2,
		TakeProfit:       0.10,
		StopLoss:         0.07,
	}, 50)

	if cfg.Risk.MaxFraction <= 0 || cfg.Risk.MaxFraction > 1 {
		cfg.Risk.MaxFraction = 0.05
	}
	if cfg.Risk.MinTradeSize <= 0 {
		cfg.Risk.MinTradeSize = 5
	}
	if cfg.Risk.HardCap <= 0 {
		cfg.Risk.HardCap = 100
	}
	if cfg.Risk.FeeBps == nil {
		bps := 100
		cfg.Risk.FeeBps = &bps
	}
	if cfg.Risk.MaxSlippage == nil {
		slip := 0.005
		cfg.Risk.MaxSlippage = &slip
	}

	if cfg.Pricing.CacheTTLSeconds <= 0 {
		cfg.Pricing.CacheTTLSeconds = 30
	}
	if cfg.Pricing.MaxSpreadPct <= 0 {
		cfg.Pricing.MaxSpreadPct = 10
	}

	if cfg.Discovery.CacheTTLSeconds <= 0 {
		cfg.Discovery.CacheTTLSeconds = 30
	}
	if cfg.Discovery.MinLiquidity <= 0 {
		cfg.Discovery.MinLiquidity = 1000
	}
	if cfg.Discovery.MaxDays <= 0 {
		cfg.Discovery.MaxDays = 30
	}
	if cfg.Discovery.MaxAlerts <= 0 {
		cfg.Discovery.MaxAlerts = 50
	}

	if cfg.Crisis.PollSeconds <= 0 {
		cfg.Crisis.PollSeconds = 60
	}
	if cfg.Crisis.TTLSeconds <= 0 {
		cfg.Crisis.TTLSeconds = 300
	}

	if cfg.API.CLOBBase == "" {
		cfg.API.CLOBBase = "https://clob.polymarket.com"
	}
	if cfg.API.GammaBase == "" {
		cfg.API.GammaBase = "https://gamma-api.polymarket.com"
	}
	if cfg.API.RequestTimeoutSeconds <= 0 {
		cfg.API.RequestTimeoutSeconds = 10
	}

	if cfg.Storage.StateDir == "" {
		cfg.Storage.StateDir = "state"
	}
	if cfg.Storage.JournalDSN == "" {
		cfg.Storage.JournalDSN = filepath.Join(cfg.Storage.StateDir, "journal.db")
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.StreamSeconds <= 0 {
		cfg.Server.StreamSeconds = 5
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

func engineDefaults(e *EngineConfig, d EngineConfig, minScore int) {
	if e.StartingCapital <= 0 {
		e.StartingCapital = d.StartingCapital
	}
	if e.IntervalSeconds <= 0 {
		e.IntervalSeconds = d.IntervalSeconds
	}
	if e.ErrorCooldownSeconds <= 0 {
		e.ErrorCooldownSeconds = 300
	}
	if e.MinScore == nil {
		e.MinScore = &minScore
	}
	if e.MaxPositions <= 0 {
		e.MaxPositions = d.MaxPositions
	}
	if e.MaxOpensPerCycle <= 0 {
		e.MaxOpensPerCycle = d.MaxOpensPerCycle
	}
	if e.TakeProfit <= 0 {
		e.TakeProfit = d.TakeProfit
	}
	if e.StopLoss <= 0 {
		e.StopLoss = d.StopLoss
	}
	if e.WinThreshold <= 0 {
		e.WinThreshold = 0.99
	}
}

func (c *Config) validate() error {
	for name, e := range map[string]EngineConfig{"engine": c.Engine, "turbo": c.Turbo} {
		if *e.MinScore < 0 || *e.MinScore > 100 {
			return fmt.Errorf("%s.min_score %d out of [0,100]", name, *e.MinScore)
		}
		if e.StopLoss >= 1 {
			return fmt.Errorf("%s.stop_loss %.2f must be < 1", name, e.StopLoss)
		}
		if e.WinThreshold > 1 {
			return fmt.Errorf("%s.win_threshold %.2f must be <= 1", name, e.WinThreshold)
		}
	}
	if *c.Risk.FeeBps < 0 || *c.Risk.FeeBps >= 10_000 {
		return fmt.Errorf("risk.fee_bps %d out of [0,10000)", *c.Risk.FeeBps)
	}
	if *c.Risk.MaxSlippage < 0 || *c.Risk.MaxSlippage >= 1 {
		return fmt.Errorf("risk.max_slippage %.4f out of [0,1)", *c.Risk.MaxSlippage)
	}
	if c.Risk.MinTradeSize > c.Risk.HardCap {
		return fmt.Errorf("risk.min_trade_size %.2f above hard_cap %.2f", c.Risk.MinTradeSize, c.Risk.HardCap)
	}
	if c.Discovery.ArbMinSum > 0 && c.Discovery.ArbMaxSum > 0 && c.Discovery.ArbMinSum >= c.Discovery.ArbMaxSum {
		return errors.New("discovery.arb_min_sum must be below arb_max_sum")
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format %q must be text or json", c.Log.Format)
	}
	return nil
}
