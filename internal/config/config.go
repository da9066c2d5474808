// Package config loads the exchange's startup configuration from a YAML
// file via viper, the way the teacher's lineage cousin (the market-making
// bot's internal/config package) loads its own bot config: mapstructure
// tags on plain structs, optional environment overrides, and a Validate
// pass before the value is trusted (spec §6 "Configuration").
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"fenrir/internal/common"
	"fenrir/internal/constraint"
	"fenrir/internal/phase"
)

// Config is the top-level configuration, mapping directly onto spec §6's
// recognized options.
type Config struct {
	PhaseCheckIntervalSec float64                   `mapstructure:"phase_check_interval"`
	OrderQueueTimeoutSec  int                       `mapstructure:"order_queue_timeout"`
	ResponseCoordinator   ResponseCoordinatorConfig `mapstructure:"response_coordinator"`
	MarketPhases          MarketPhasesConfig        `mapstructure:"market_phases"`
	Roles                 map[string][]ConstraintConfig `mapstructure:"roles"`
	Instruments           []InstrumentConfig        `mapstructure:"instruments"`
	Logging               LoggingConfig             `mapstructure:"logging"`
	HTTPAddr              string                    `mapstructure:"http_addr"`
}

type ResponseCoordinatorConfig struct {
	DefaultTimeoutSeconds  int `mapstructure:"default_timeout_seconds"`
	MaxPendingRequests     int `mapstructure:"max_pending_requests"`
	CleanupIntervalSeconds int `mapstructure:"cleanup_interval_seconds"`
}

type MarketPhasesConfig struct {
	Timezone string                 `mapstructure:"timezone"`
	Schedule []ScheduleWindowConfig `mapstructure:"schedule"`
}

// ScheduleWindowConfig is one (weekday, start, end) -> phase mapping.
// Start/End are "HH:MM" wall-clock offsets in MarketPhases.Timezone.
type ScheduleWindowConfig struct {
	Weekday string `mapstructure:"weekday"`
	Start   string `mapstructure:"start"`
	End     string `mapstructure:"end"`
	Phase   string `mapstructure:"phase"`
}

// ConstraintConfig is one entry of a role's ordered constraint list
// (spec §6 "per-role constraints (list of {type, parameters, error_code,
// error_message})").
type ConstraintConfig struct {
	Type         string         `mapstructure:"type"`
	Parameters   map[string]any `mapstructure:"parameters"`
	ErrorCode    string         `mapstructure:"error_code"`
	ErrorMessage string         `mapstructure:"error_message"`
}

type InstrumentConfig struct {
	Symbol     string  `mapstructure:"symbol"`
	Strike     float64 `mapstructure:"strike"`
	OptionType string  `mapstructure:"option_type"`
	Underlying string  `mapstructure:"underlying"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file at path, with FENRIR_-prefixed
// environment variables overriding any key (e.g. FENRIR_HTTP_ADDR).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("FENRIR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("phase_check_interval", 0.1)
	v.SetDefault("order_queue_timeout", 5)
	v.SetDefault("response_coordinator.default_timeout_seconds", 5)
	v.SetDefault("response_coordinator.max_pending_requests", 1000)
	v.SetDefault("response_coordinator.cleanup_interval_seconds", 30)
	v.SetDefault("market_phases.timezone", "UTC")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if addr := os.Getenv("FENRIR_HTTP_ADDR"); addr != "" {
		cfg.HTTPAddr = addr
	}

	return &cfg, nil
}

// PhaseCheckInterval is PhaseCheckIntervalSec as a time.Duration.
func (c *Config) PhaseCheckInterval() time.Duration {
	return time.Duration(c.PhaseCheckIntervalSec * float64(time.Second))
}

// RequestTimeout is the response coordinator's per-request deadline as a
// time.Duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.ResponseCoordinator.DefaultTimeoutSeconds) * time.Second
}

// CleanupInterval is how often main should sweep the correlator table for
// abandoned requests.
func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.ResponseCoordinator.CleanupIntervalSeconds) * time.Second
}

// Validate checks required fields and value ranges before the config is
// used to build runtime components.
func (c *Config) Validate() error {
	if c.PhaseCheckIntervalSec <= 0 {
		return fmt.Errorf("phase_check_interval must be > 0")
	}
	if c.ResponseCoordinator.MaxPendingRequests <= 0 {
		return fmt.Errorf("response_coordinator.max_pending_requests must be > 0")
	}
	if len(c.Instruments) == 0 {
		return fmt.Errorf("instruments list must not be empty")
	}
	if _, err := time.LoadLocation(c.MarketPhases.Timezone); err != nil {
		return fmt.Errorf("market_phases.timezone: %w", err)
	}
	return nil
}

// BuildInstruments constructs the instrument registry from config.
func (c *Config) BuildInstruments() (*common.InstrumentRegistry, error) {
	reg := common.NewInstrumentRegistry()
	for _, ic := range c.Instruments {
		optType, err := common.ParseOptionType(ic.OptionType)
		if err != nil {
			return nil, fmt.Errorf("instrument %s: %w", ic.Symbol, err)
		}
		reg.Register(common.Instrument{
			Symbol:           ic.Symbol,
			Strike:           decimal.NewFromFloat(ic.Strike),
			OptionType:       optType,
			UnderlyingSymbol: ic.Underlying,
		})
	}
	return reg, nil
}

// BuildSchedule constructs the phase manager's schedule from config. Each
// window takes the canonical flag set of its named phase; a window carries
// no flags of its own (spec §6, §9).
func (c *Config) BuildSchedule() (phase.Schedule, error) {
	loc, err := time.LoadLocation(c.MarketPhases.Timezone)
	if err != nil {
		return phase.Schedule{}, err
	}
	defaults := phase.DefaultPhaseStates()

	var windows []phase.DaySchedule
	for _, w := range c.MarketPhases.Schedule {
		weekday, err := parseWeekday(w.Weekday)
		if err != nil {
			return phase.Schedule{}, err
		}
		start, err := parseClock(w.Start)
		if err != nil {
			return phase.Schedule{}, err
		}
		end, err := parseClock(w.End)
		if err != nil {
			return phase.Schedule{}, err
		}
		name, err := parsePhaseName(w.Phase)
		if err != nil {
			return phase.Schedule{}, err
		}
		windows = append(windows, phase.DaySchedule{
			Weekday: weekday,
			Start:   start,
			End:     end,
			Phase:   defaults[name],
		})
	}

	return phase.Schedule{Timezone: loc, Windows: windows}, nil
}

// BuildConstraints constructs each role's immutable constraint chain from
// config (spec §4.2, §9: "built at config load and immutable thereafter").
func (c *Config) BuildConstraints() (map[common.Role]constraint.Chain, error) {
	out := make(map[common.Role]constraint.Chain, len(c.Roles))
	for roleName, entries := range c.Roles {
		role, ok := common.ParseRole(roleName)
		if !ok {
			return nil, fmt.Errorf("unknown role %q", roleName)
		}
		chain := make(constraint.Chain, 0, len(entries))
		for _, entry := range entries {
			c, err := buildConstraint(entry)
			if err != nil {
				return nil, fmt.Errorf("role %s: %w", roleName, err)
			}
			chain = append(chain, c)
		}
		out[role] = chain
	}
	return out, nil
}

func parseWeekday(s string) (time.Weekday, error) {
	switch strings.ToLower(s) {
	case "sunday":
		return time.Sunday, nil
	case "monday":
		return time.Monday, nil
	case "tuesday":
		return time.Tuesday, nil
	case "wednesday":
		return time.Wednesday, nil
	case "thursday":
		return time.Thursday, nil
	case "friday":
		return time.Friday, nil
	case "saturday":
		return time.Saturday, nil
	default:
		return 0, fmt.Errorf("unknown weekday %q", s)
	}
}

func parseClock(s string) (time.Duration, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid time-of-day %q: %w", s, err)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, nil
}

func parsePhaseName(s string) (common.PhaseName, error) {
	switch strings.ToLower(s) {
	case "closed":
		return common.Closed, nil
	case "pre_open":
		return common.PreOpen, nil
	case "opening_auction":
		return common.OpeningAuction, nil
	case "continuous":
		return common.Continuous, nil
	default:
		return 0, fmt.Errorf("unknown phase %q", s)
	}
}
