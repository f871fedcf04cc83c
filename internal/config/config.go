// Package config reads the run parameters from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"

	"github.com/talgya/mini-economy/internal/bank"
)

// Prefix is prepended to every variable name.
const Prefix = "ECON_"

// ErrInvalid is returned by Validate.
var ErrInvalid = errors.New("invalid config")

// Config holds every parameter of a run. Defaults reproduce the reference
// economy: one household of 500, 20 firms and 4 banks.
type Config struct {
	Seed int64 `env:"SEED"` // 0 draws a fresh seed

	NumDays     uint64  `env:"NUM_DAYS" envDefault:"5001"`
	Population  float64 `env:"POPULATION" envDefault:"500"`
	PeopleMoney float64 `env:"PEOPLE_MONEY" envDefault:"100"`
	NumFirms    int     `env:"NUM_FIRMS" envDefault:"20"`
	NumBanks    int     `env:"NUM_BANKS" envDefault:"4"`

	FirmMoney       float64 `env:"FIRM_MONEY" envDefault:"200"`
	L               float64 `env:"L" envDefault:"0.5"`
	BufferDays      float64 `env:"BUFFER_DAYS" envDefault:"10"`
	PhiUpper        float64 `env:"PHI_UPPER" envDefault:"12"`
	PhiLower        float64 `env:"PHI_LOWER" envDefault:"2"`
	Excess          float64 `env:"EXCESS" envDefault:"2"`
	WageIncrement   float64 `env:"WAGE_INCREMENT" envDefault:"0.1"`
	PriceIncrement  float64 `env:"PRICE_INCREMENT" envDefault:"0.1"`
	WorkerIncrement float64 `env:"WORKER_INCREMENT" envDefault:"0.1"`
	Productivity    float64 `env:"PRODUCTIVITY" envDefault:"1"`
	WageAcceptance  float64 `env:"WAGE_ACCEPTANCE" envDefault:"1"`
	NoteShare       float64 `env:"NOTE_SHARE" envDefault:"0.1"`

	ShockAmplitude float64 `env:"SHOCK_AMPLITUDE" envDefault:"0.05"`
	ShockFrequency float64 `env:"SHOCK_FREQUENCY" envDefault:"0.05"`

	CashReserves    float64 `env:"CASH_RESERVES" envDefault:"20000"`
	RateLow         float64 `env:"RATE_LOW" envDefault:"0.01"`
	RateHigh        float64 `env:"RATE_HIGH" envDefault:"0.05"`
	ReserveLow      float64 `env:"RESERVE_LOW" envDefault:"3"`
	ReserveHigh     float64 `env:"RESERVE_HIGH" envDefault:"8"`
	ReserveCeiling  float64 `env:"RESERVE_CEILING" envDefault:"10"`
	NoteWeight      float64 `env:"NOTE_WEIGHT" envDefault:"10"`
	ReservePolicy   string  `env:"RESERVE_POLICY" envDefault:"note_backed"`
	ShortfallPolicy string  `env:"SHORTFALL_POLICY" envDefault:"drop"`

	StorePath string  `env:"STORE_PATH" envDefault:"data/econsim.db"` // empty disables the store
	APIPort   int     `env:"API_PORT" envDefault:"0"`                 // 0 disables the API
	AdminKey  string  `env:"ADMIN_KEY"`
	Speed     float64 `env:"SPEED" envDefault:"0"` // rounds per second, 0 runs flat out
	LogLevel  string  `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads the process environment.
func Load() (Config, error) {
	return LoadFrom(envMap(os.Environ()))
}

// LoadFrom reads the given variables instead of the process environment.
func LoadFrom(vars map[string]string) (Config, error) {
	var c Config
	if err := env.ParseWithOptions(&c, env.Options{Prefix: Prefix, Environment: vars}); err != nil {
		return c, fmt.Errorf("parse env: %w", err)
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

func envMap(kv []string) map[string]string {
	m := make(map[string]string, len(kv))
	for _, s := range kv {
		k, v, ok := strings.Cut(s, "=")
		if ok {
			m[k] = v
		}
	}
	return m
}

// Validate rejects parameter sets the model cannot run.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
		}
	}
	check(c.NumBanks > 0, "NUM_BANKS %d must be positive", c.NumBanks)
	check(c.NumFirms > 0, "NUM_FIRMS %d must be positive", c.NumFirms)
	check(c.Population > 0, "POPULATION %g must be positive", c.Population)
	check(c.L > 0 && c.L < 1, "L %g must lie in (0, 1)", c.L)
	check(c.PeopleMoney >= 0 && c.FirmMoney >= 0 && c.CashReserves >= 0, "money must not be negative")
	check(c.RateLow > 0 && c.RateLow <= c.RateHigh, "rate range [%g, %g] is empty", c.RateLow, c.RateHigh)
	check(c.ReserveLow < c.ReserveHigh && c.ReserveHigh <= c.ReserveCeiling,
		"reserve band %g < %g <= %g does not hold", c.ReserveLow, c.ReserveHigh, c.ReserveCeiling)
	check(c.NoteShare >= 0 && c.NoteShare <= 1, "NOTE_SHARE %g must lie in [0, 1]", c.NoteShare)
	check(c.ShockAmplitude >= 0 && c.ShockAmplitude < 1, "SHOCK_AMPLITUDE %g must lie in [0, 1)", c.ShockAmplitude)
	check(c.Speed >= 0, "SPEED %g must not be negative", c.Speed)
	if _, err := bank.ParseReservePolicy(c.ReservePolicy, c.NoteWeight); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrInvalid, err))
	}
	if _, err := bank.ParseShortfallPolicy(c.ShortfallPolicy); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrInvalid, err))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrInvalid, err))
	}
	return errors.Join(errs...)
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL %q: %w", c.LogLevel, err)
	}
	return lvl, nil
}

// BankParams builds the bank parameters. Validate must have passed.
func (c Config) BankParams() bank.Params {
	reserve, _ := bank.ParseReservePolicy(c.ReservePolicy, c.NoteWeight)
	shortfall, _ := bank.ParseShortfallPolicy(c.ShortfallPolicy)
	return bank.Params{
		CashReserves: decimal.NewFromFloat(c.CashReserves),
		RateLow:      c.RateLow,
		RateHigh:     c.RateHigh,
		Controller:   bank.Controller{Low: c.ReserveLow, High: c.ReserveHigh, Ceiling: c.ReserveCeiling},
		Reserve:      reserve,
		Shortfall:    shortfall,
	}
}
