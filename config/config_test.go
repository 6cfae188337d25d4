package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slotleds/config"
	"slotleds/slot"
)

func newTestConfig(t *testing.T, flags config.Flags, env map[string]string, toml string) (*config.Config, error) {
	fs := afero.NewMemMapFs()
	if flags.ConfigPath == "" {
		flags.ConfigPath = "/slotleds.toml"
	}
	require.NoError(t, afero.WriteFile(fs, flags.ConfigPath, []byte(toml), 0644))

	return config.New(fs, flags, func(s string) string { return env[s] })
}

func TestDefaults(t *testing.T) {
	c, err := config.New(afero.NewMemMapFs(), config.Flags{}, func(string) string { return "" })
	require.NoError(t, err)

	assert.False(t, c.FromFile())
	assert.Equal(t, config.DefaultPath, c.Path())
	assert.Equal(t, "sysfs", c.Driver())
	assert.Equal(t, config.DefaultListen, c.Listen())
	assert.Equal(t, zerolog.InfoLevel, c.LogLevel())
	assert.Equal(t, slot.DefaultTiming(), c.Timing())
	assert.Equal(t, slot.DefaultPolarity(), c.Polarity())
	assert.Equal(t, slot.ODROIDM1(), c.Slots())

	opts := c.GPIOOptions()
	assert.Equal(t, "/sys/class/gpio", opts.SysfsRoot)
	assert.Equal(t, time.Second, opts.ExportTimeout)
	assert.Equal(t, 32, opts.LinesPerChip)
}

func TestExplicitMissingFile(t *testing.T) {
	_, err := config.New(afero.NewMemMapFs(), config.Flags{ConfigPath: "/nope.toml"}, func(string) string { return "" })
	assert.ErrorContains(t, err, "read config")
}

func TestFile(t *testing.T) {
	c, err := newTestConfig(t, config.Flags{}, nil, `
driver = "simulated"
listen = ""
log_level = "debug"
export_timeout_ms = 250

[timing]
poll_ms = 50

[polarity]
led_active_low = false

[[slot]]
name = "usb"
interval_ms = 300
button = 5
red = 6
green = 7
blue = 8
`)
	require.NoError(t, err)

	assert.True(t, c.FromFile())
	assert.Equal(t, "simulated", c.Driver())
	assert.Empty(t, c.Listen())
	assert.Equal(t, zerolog.DebugLevel, c.LogLevel())
	assert.Equal(t, 250*time.Millisecond, c.GPIOOptions().ExportTimeout)

	assert.Equal(t, slot.Timing{
		Poll:  50 * time.Millisecond,
		Step:  100 * time.Millisecond,
		Reset: time.Second,
	}, c.Timing())

	p := c.Polarity()
	assert.False(t, p.LEDActiveLow)
	assert.True(t, p.ButtonActiveLow)
	assert.True(t, p.FaultActiveLow)

	assert.Equal(t, []slot.Config{{
		Name:     "usb",
		Pins:     slot.Pins{Button: 5, Red: 6, Green: 7, Blue: 8},
		Interval: 300 * time.Millisecond,
	}}, c.Slots())
}

func TestOverrides(t *testing.T) {
	toml := `
driver = "sysfs"
listen = ":8000"
log_level = "warn"
`
	t.Run("Env", func(t *testing.T) {
		c, err := newTestConfig(t, config.Flags{}, map[string]string{
			"SLOTLEDS_DRIVER":    "simulated",
			"SLOTLEDS_LISTEN":    ":9000",
			"SLOTLEDS_LOG_LEVEL": "error",
		}, toml)
		require.NoError(t, err)

		assert.Equal(t, "simulated", c.Driver())
		assert.Equal(t, ":9000", c.Listen())
		assert.Equal(t, zerolog.ErrorLevel, c.LogLevel())
	})

	t.Run("FlagsBeatEnv", func(t *testing.T) {
		c, err := newTestConfig(t, config.Flags{
			Driver:   "simulated",
			Listen:   ":9100",
			LogLevel: "trace",
		}, map[string]string{
			"SLOTLEDS_DRIVER": "sysfs",
			"SLOTLEDS_LISTEN": ":9000",
		}, toml)
		require.NoError(t, err)

		assert.Equal(t, "simulated", c.Driver())
		assert.Equal(t, ":9100", c.Listen())
		assert.Equal(t, zerolog.TraceLevel, c.LogLevel())
	})
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		toml string
		want string
	}{
		{
			name: "UnknownDriver",
			toml: `driver = "bogus"`,
			want: `driver "bogus"`,
		},
		{
			name: "BadLogLevel",
			toml: `log_level = "loud"`,
			want: `log_level "loud"`,
		},
		{
			name: "ZeroPoll",
			toml: "[timing]\npoll_ms = 0",
			want: "timing values must be positive",
		},
		{
			name: "NegativeInterval",
			toml: `
[[slot]]
name = "a"
interval_ms = -1
button = 1
red = 2
green = 3
blue = 4
`,
			want: `slot "a" interval_ms must not be negative`,
		},
		{
			name: "DuplicateName",
			toml: `
[[slot]]
name = "a"
button = 1
red = 2
green = 3
blue = 4

[[slot]]
name = "a"
button = 5
red = 6
green = 7
blue = 8
`,
			want: `slot "a" defined twice`,
		},
		{
			name: "SharedPin",
			toml: `
[[slot]]
name = "a"
button = 1
red = 2
green = 3
blue = 4

[[slot]]
name = "b"
button = 5
red = 6
green = 7
blue = 2
`,
			want: `gpio 2 used by both slot "a" red and slot "b" blue`,
		},
		{
			name: "MissingName",
			toml: `
[[slot]]
button = 1
red = 2
green = 3
blue = 4
`,
			want: "slot name must not be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestConfig(t, config.Flags{}, nil, tt.toml)
			require.ErrorIs(t, err, config.ErrValidation)
			assert.ErrorContains(t, err, tt.want)
		})
	}

	t.Run("ParseError", func(t *testing.T) {
		_, err := newTestConfig(t, config.Flags{}, nil, `driver = `)
		require.Error(t, err)
		assert.NotErrorIs(t, err, config.ErrValidation)
		assert.ErrorContains(t, err, "parse /slotleds.toml")
	})
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "slotleds.toml")
	require.NoError(t, os.WriteFile(path, []byte("[[slot]]\nname = \"a\"\ninterval_ms = 100\nbutton = 1\nred = 2\ngreen = 3\nblue = 4\n"), 0644))

	c, err := config.New(afero.NewOsFs(), config.Flags{ConfigPath: path}, func(string) string { return "" })
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	changes := make(chan *config.Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- c.Watch(ctx, func(next *config.Config) { changes <- next })
	}()

	// Give the watcher time to register before touching the file.
	time.Sleep(100 * time.Millisecond)

	// A broken file is skipped.
	require.NoError(t, os.WriteFile(path, []byte("driver = "), 0644))
	time.Sleep(500 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("[[slot]]\nname = \"a\"\ninterval_ms = 700\nbutton = 1\nred = 2\ngreen = 3\nblue = 4\n"), 0644))

	select {
	case next := <-changes:
		require.Len(t, next.Slots(), 1)
		assert.Equal(t, 700*time.Millisecond, next.Slots()[0].Interval)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after the file changed")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
