// Package config loads server settings from .env, COINMERGE_* environment
// variables and an optional YAML file of game and payout tuning.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/coinmerge/coinmerge/internal/coins"
	"github.com/coinmerge/coinmerge/internal/gamelog"
	"github.com/coinmerge/coinmerge/internal/gameloop"
	"github.com/coinmerge/coinmerge/internal/period"
	"github.com/coinmerge/coinmerge/internal/physics"
	"github.com/coinmerge/coinmerge/internal/prizepool"
)

// Config is the full server configuration.
type Config struct {
	Addr           string
	RequestTimeout time.Duration

	DBDriver string // sqlite or postgres
	DBDSN    string

	AuthURL string // identity provider endpoint; empty requires AuthDev
	AuthDev bool   // accept "dev:<fid>" tokens

	AdminKey   string
	RelayURL   string
	RelayToken string

	SecretsService  string
	SecretsProfile  string
	SecretsFallback string

	RateLimit float64 // requests per second per client on write endpoints
	RateBurst int

	Game Game
}

// Game holds the tunable game and payout rules, normally read from YAML.
type Game struct {
	DropWeights        []float64     `yaml:"drop_weights"`
	PracticeDailyLimit int           `yaml:"practice_daily_limit"`
	StrictReplay       bool          `yaml:"strict_replay"`
	PayoutShares       []float64     `yaml:"payout_shares"`
	Period             PeriodConfig  `yaml:"period"`
	Field              FieldConfig   `yaml:"field"`
	Overlay            coins.Overlay `yaml:"overlay"`
}

// PeriodConfig sets when tournament weeks roll over (UTC).
type PeriodConfig struct {
	Weekday string `yaml:"weekday"`
	Hour    int    `yaml:"hour"`
}

// FieldConfig sizes the play field.
type FieldConfig struct {
	Width      float64 `yaml:"width"`
	Height     float64 `yaml:"height"`
	DangerLine float64 `yaml:"danger_line"`
}

// Default returns a configuration that runs locally with no setup.
func Default() Config {
	return Config{
		Addr:           ":8080",
		RequestTimeout: 30 * time.Second,
		DBDriver:       "sqlite",
		DBDSN:          "coinmerge.db",
		SecretsService: "coinmerge",
		SecretsProfile: "default",
		RateLimit:      2,
		RateBurst:      10,
		Game: Game{
			DropWeights:        append([]float64(nil), gameloop.DefaultWeights...),
			PracticeDailyLimit: 10,
			PayoutShares:       []float64{50, 30, 20},
			Period:             PeriodConfig{Weekday: "monday"},
			Field: FieldConfig{
				Width:      physics.DefaultWidth,
				Height:     physics.DefaultHeight,
				DangerLine: physics.DefaultDangerLine,
			},
		},
	}
}

// Load reads ./.env when present, then the environment, then the YAML file
// named by COINMERGE_CONFIG.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from an environment lookup function.
func FromEnv(getenv func(string) string) (Config, error) {
	cfg := Default()
	e := envReader{getenv: getenv}

	if path := getenv("COINMERGE_CONFIG"); path != "" {
		game, err := LoadGame(path, cfg.Game)
		if err != nil {
			return Config{}, err
		}
		cfg.Game = game
	}

	e.str("COINMERGE_ADDR", &cfg.Addr)
	e.duration("COINMERGE_REQUEST_TIMEOUT", &cfg.RequestTimeout)
	e.str("COINMERGE_DB_DRIVER", &cfg.DBDriver)
	e.str("COINMERGE_DB_DSN", &cfg.DBDSN)
	e.str("COINMERGE_AUTH_URL", &cfg.AuthURL)
	e.boolean("COINMERGE_AUTH_DEV", &cfg.AuthDev)
	e.str("COINMERGE_ADMIN_KEY", &cfg.AdminKey)
	e.str("COINMERGE_RELAY_URL", &cfg.RelayURL)
	e.str("COINMERGE_RELAY_TOKEN", &cfg.RelayToken)
	e.str("COINMERGE_SECRETS_SERVICE", &cfg.SecretsService)
	e.str("COINMERGE_SECRETS_PROFILE", &cfg.SecretsProfile)
	e.str("COINMERGE_SECRETS_FALLBACK", &cfg.SecretsFallback)
	e.float("COINMERGE_RATE_LIMIT", &cfg.RateLimit)
	e.integer("COINMERGE_RATE_BURST", &cfg.RateBurst)
	e.integer("COINMERGE_PRACTICE_DAILY_LIMIT", &cfg.Game.PracticeDailyLimit)
	e.boolean("COINMERGE_STRICT_REPLAY", &cfg.Game.StrictReplay)
	if e.err != nil {
		return Config{}, e.err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadGame reads game rules from a YAML file on top of base. Keys missing
// from the file keep their base values.
func LoadGame(path string, base Game) (Game, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Game{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	game := base
	if err := yaml.Unmarshal(raw, &game); err != nil {
		return Game{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return game, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown db driver %q", c.DBDriver)
	}
	if c.AuthURL == "" && !c.AuthDev {
		return fmt.Errorf("config: COINMERGE_AUTH_URL is required unless COINMERGE_AUTH_DEV is set")
	}
	if c.RateLimit <= 0 || c.RateBurst <= 0 {
		return fmt.Errorf("config: rate limit and burst must be positive")
	}
	if c.Game.PracticeDailyLimit <= 0 {
		return fmt.Errorf("config: practice_daily_limit must be positive")
	}
	if len(c.Game.DropWeights) > gamelog.MaxDropLevel {
		return fmt.Errorf("config: drop_weights: at most %d levels can be dropped", gamelog.MaxDropLevel)
	}
	if _, err := gameloop.NewRoller(c.Game.DropWeights, nil); err != nil {
		return fmt.Errorf("config: drop_weights: %w", err)
	}
	if _, err := c.Schedule(); err != nil {
		return err
	}
	if err := prizepool.ValidateShares(c.Shares()); err != nil {
		return fmt.Errorf("config: payout_shares: %w", err)
	}
	return c.Game.Overlay.Validate()
}

// Schedule returns the tournament period schedule.
func (c Config) Schedule() (period.Schedule, error) {
	wd, err := parseWeekday(c.Game.Period.Weekday)
	if err != nil {
		return period.Schedule{}, err
	}
	s := period.Schedule{Weekday: wd, Hour: c.Game.Period.Hour}
	if err := s.Validate(); err != nil {
		return period.Schedule{}, fmt.Errorf("config: %w", err)
	}
	return s, nil
}

// Shares returns the payout percentages as decimals.
func (c Config) Shares() []decimal.Decimal {
	out := make([]decimal.Decimal, len(c.Game.PayoutShares))
	for i, s := range c.Game.PayoutShares {
		out[i] = decimal.NewFromFloat(s)
	}
	return out
}

// FieldConfig returns the physics configuration of the play field.
func (c Config) FieldConfig() physics.Config {
	return physics.Config{
		Width:      c.Game.Field.Width,
		Height:     c.Game.Field.Height,
		DangerLine: c.Game.Field.DangerLine,
	}
}

func parseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return time.Monday, nil
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || s == name[:3] {
			return d, nil
		}
	}
	return 0, fmt.Errorf("config: unknown weekday %q", s)
}

// envReader applies set variables and keeps the first parse error.
type envReader struct {
	getenv func(string) string
	err    error
}

func (e *envReader) str(key string, dst *string) {
	if v := e.getenv(key); v != "" {
		*dst = v
	}
}

func (e *envReader) parse(key string, fn func(string) error) {
	v := e.getenv(key)
	if v == "" || e.err != nil {
		return
	}
	if err := fn(v); err != nil {
		e.err = fmt.Errorf("config: %s: %w", key, err)
	}
}

func (e *envReader) integer(key string, dst *int) {
	e.parse(key, func(v string) error {
		n, err := strconv.Atoi(v)
		*dst = n
		return err
	})
}

func (e *envReader) float(key string, dst *float64) {
	e.parse(key, func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		*dst = f
		return err
	})
}

func (e *envReader) boolean(key string, dst *bool) {
	e.parse(key, func(v string) error {
		b, err := strconv.ParseBool(v)
		*dst = b
		return err
	})
}

func (e *envReader) duration(key string, dst *time.Duration) {
	e.parse(key, func(v string) error {
		d, err := time.ParseDuration(v)
		*dst = d
		return err
	})
}
