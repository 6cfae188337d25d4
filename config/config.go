// Package config loads slotleds settings from a TOML file, the environment
// and command line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"slotleds/gpio"
	"slotleds/slot"
)

var ErrValidation = errors.New("invalid configuration")

const (
	DefaultPath   = "/etc/slotleds/slotleds.toml"
	DefaultListen = "127.0.0.1:1225"

	envPrefix = "SLOTLEDS_"
)

// Flags holds command line values; empty fields were not given.
type Flags struct {
	ConfigPath string
	Driver     string
	Listen     string
	LogLevel   string
}

type tomlSlot struct {
	Name       string `toml:"name"`
	IntervalMS int    `toml:"interval_ms"`
	Enable     int    `toml:"enable"`
	Fault      int    `toml:"fault"`
	Button     int    `toml:"button"`
	Red        int    `toml:"red"`
	Green      int    `toml:"green"`
	Blue       int    `toml:"blue"`
}

type tomlTiming struct {
	PollMS  int `toml:"poll_ms"`
	StepMS  int `toml:"step_ms"`
	ResetMS int `toml:"reset_ms"`
}

type tomlPolarity struct {
	LEDActiveLow    *bool `toml:"led_active_low"`
	ButtonActiveLow *bool `toml:"button_active_low"`
	FaultActiveLow  *bool `toml:"fault_active_low"`
}

type tomlConfig struct {
	Driver          string       `toml:"driver"`
	Listen          string       `toml:"listen"`
	LogLevel        string       `toml:"log_level"`
	SysfsRoot       string       `toml:"sysfs_root"`
	ExportTimeoutMS int          `toml:"export_timeout_ms"`
	LinesPerChip    int          `toml:"lines_per_chip"`
	Timing          tomlTiming   `toml:"timing"`
	Polarity        tomlPolarity `toml:"polarity"`
	Slots           []tomlSlot   `toml:"slot"`
}

func defaults() tomlConfig {
	t := slot.DefaultTiming()
	return tomlConfig{
		Driver:          "sysfs",
		Listen:          DefaultListen,
		LogLevel:        "info",
		SysfsRoot:       gpio.DefaultSysfsRoot,
		ExportTimeoutMS: int(gpio.DefaultExportTimeout.Milliseconds()),
		LinesPerChip:    gpio.DefaultLinesPerChip,
		Timing: tomlTiming{
			PollMS:  int(t.Poll.Milliseconds()),
			StepMS:  int(t.Step.Milliseconds()),
			ResetMS: int(t.Reset.Milliseconds()),
		},
	}
}

type Config struct {
	fs       afero.Fs
	flags    Flags
	getenv   func(string) string
	path     string
	fromFile bool

	toml tomlConfig
}

// Load reads the configuration from the OS filesystem and environment.
func Load(flags Flags) (*Config, error) {
	return New(afero.NewOsFs(), flags, os.Getenv)
}

// New builds a Config. A missing file at the default path yields the
// built-in ODROID-M1 setup; a missing file given explicitly is an error.
func New(fsys afero.Fs, flags Flags, getenv func(string) string) (*Config, error) {
	c := &Config{
		fs:     fsys,
		flags:  flags,
		getenv: getenv,
		path:   flags.ConfigPath,
		toml:   defaults(),
	}
	if c.path == "" {
		c.path = DefaultPath
	}

	data, err := afero.ReadFile(fsys, c.path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &c.toml); err != nil {
			return nil, fmt.Errorf("parse %s: %w", c.path, err)
		}
		c.fromFile = true
	case errors.Is(err, fs.ErrNotExist) && flags.ConfigPath == "":
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	c.override(&c.toml.Driver, "DRIVER", flags.Driver)
	c.override(&c.toml.Listen, "LISTEN", flags.Listen)
	c.override(&c.toml.LogLevel, "LOG_LEVEL", flags.LogLevel)

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) override(field *string, env, flag string) {
	if v := c.getenv(envPrefix + env); v != "" {
		*field = v
	}
	if flag != "" {
		*field = flag
	}
}

// Reload reads the same sources again.
func (c *Config) Reload() (*Config, error) {
	return New(c.fs, c.flags, c.getenv)
}

func (c *Config) validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...))
	}

	if !slices.Contains(gpio.Drivers(), c.toml.Driver) {
		fail("driver %q is not one of %v", c.toml.Driver, gpio.Drivers())
	}
	if _, err := zerolog.ParseLevel(c.toml.LogLevel); err != nil {
		fail("log_level %q: %s", c.toml.LogLevel, err)
	}
	if c.toml.ExportTimeoutMS <= 0 {
		fail("export_timeout_ms must be positive")
	}
	if c.toml.LinesPerChip <= 0 {
		fail("lines_per_chip must be positive")
	}

	t := c.toml.Timing
	if t.PollMS <= 0 || t.StepMS <= 0 || t.ResetMS <= 0 {
		fail("timing values must be positive (poll_ms=%d step_ms=%d reset_ms=%d)", t.PollMS, t.StepMS, t.ResetMS)
	}

	names := map[string]bool{}
	owners := map[int]string{}
	claim := func(slotName, role string, n int, optional bool) {
		if n < 0 {
			fail("slot %q %s pin %d is negative", slotName, role, n)
			return
		}
		if optional && n == 0 {
			return
		}
		key := fmt.Sprintf("slot %q %s", slotName, role)
		if prev, used := owners[n]; used {
			fail("gpio %d used by both %s and %s", n, prev, key)
			return
		}
		owners[n] = key
	}

	for _, s := range c.Slots() {
		switch {
		case s.Name == "":
			fail("slot name must not be empty")
		case names[s.Name]:
			fail("slot %q defined twice", s.Name)
		}
		names[s.Name] = true

		if s.Interval < 0 {
			fail("slot %q interval_ms must not be negative", s.Name)
		}
		claim(s.Name, "enable", s.Pins.Enable, true)
		claim(s.Name, "fault", s.Pins.Fault, true)
		claim(s.Name, "button", s.Pins.Button, false)
		claim(s.Name, "red", s.Pins.Red, false)
		claim(s.Name, "green", s.Pins.Green, false)
		claim(s.Name, "blue", s.Pins.Blue, false)
	}

	return errors.Join(errs...)
}

func (c *Config) Path() string { return c.path }

// FromFile reports whether a config file was read.
func (c *Config) FromFile() bool { return c.fromFile }

func (c *Config) Driver() string { return c.toml.Driver }

// Listen is the API address; empty disables the API.
func (c *Config) Listen() string { return c.toml.Listen }

func (c *Config) LogLevel() zerolog.Level {
	l, err := zerolog.ParseLevel(c.toml.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return l
}

func (c *Config) GPIOOptions() gpio.Options {
	return gpio.Options{
		Fs:            c.fs,
		SysfsRoot:     c.toml.SysfsRoot,
		ExportTimeout: ms(c.toml.ExportTimeoutMS),
		LinesPerChip:  c.toml.LinesPerChip,
	}
}

func (c *Config) Timing() slot.Timing {
	return slot.Timing{
		Poll:  ms(c.toml.Timing.PollMS),
		Step:  ms(c.toml.Timing.StepMS),
		Reset: ms(c.toml.Timing.ResetMS),
	}
}

func (c *Config) Polarity() slot.Polarity {
	p := slot.DefaultPolarity()
	if v := c.toml.Polarity.LEDActiveLow; v != nil {
		p.LEDActiveLow = *v
	}
	if v := c.toml.Polarity.ButtonActiveLow; v != nil {
		p.ButtonActiveLow = *v
	}
	if v := c.toml.Polarity.FaultActiveLow; v != nil {
		p.FaultActiveLow = *v
	}
	return p
}

// Slots returns the configured slot table, or the ODROID-M1 table when the
// file defines none.
func (c *Config) Slots() []slot.Config {
	if len(c.toml.Slots) == 0 {
		return slot.ODROIDM1()
	}

	out := make([]slot.Config, 0, len(c.toml.Slots))
	for _, s := range c.toml.Slots {
		out = append(out, slot.Config{
			Name: s.Name,
			Pins: slot.Pins{
				Enable: s.Enable,
				Fault:  s.Fault,
				Button: s.Button,
				Red:    s.Red,
				Green:  s.Green,
				Blue:   s.Blue,
			},
			Interval: ms(s.IntervalMS),
		})
	}
	return out
}

func (c *Config) dir() string {
	return filepath.Dir(filepath.Clean(c.path))
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}
