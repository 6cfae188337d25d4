// Command slotleds blinks the status LEDs of the eMMC and SD writer slots on
// an ODROID-M1 and lets the slot buttons change the blink rate.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"slotleds/config"
	"slotleds/gpio"
	"slotleds/pubsub"
	"slotleds/server"
	"slotleds/slot"
)

// Populated by ldflags
var (
	version            string
	buildUnixTimestamp string
	commitHash         string
)

func buildInfo() server.BuildInfo {
	ts, _ := strconv.ParseInt(buildUnixTimestamp, 10, 64)
	return server.BuildInfo{
		Version:   version,
		BuildTime: time.Unix(ts, 0).UTC(),
		Commit:    commitHash,
	}
}

func newRootCmd() *cobra.Command {
	var (
		flags   config.Flags
		noColor bool
	)

	root := &cobra.Command{
		Use:           "slotleds",
		Short:         "Drive the media slot status LEDs",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			InitializeLogger(noColor)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, flags)
		},
	}

	f := root.PersistentFlags()
	f.StringVarP(&flags.ConfigPath, "config", "c", "", fmt.Sprintf("config file (default %s)", config.DefaultPath))
	f.BoolVar(&noColor, "no-color", false, "disable colored log output")
	root.Flags().StringVar(&flags.Driver, "driver", "", fmt.Sprintf("gpio driver, one of %v", gpio.Drivers()))
	root.Flags().StringVar(&flags.Listen, "listen", "", "API listen address, empty config value disables the API")
	root.Flags().StringVar(&flags.LogLevel, "log-level", "", "trace, debug, info, warn or error")

	root.AddCommand(newVersionCmd(), newSystemdCmd(&flags))
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			info := buildInfo()
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "slotleds version:", info.Version)
			fmt.Fprintln(out, "Built on:", info.BuildTime.Format(time.RFC3339))
			fmt.Fprintln(out, "Commit hash:", info.Commit)
		},
	}
}

func newSystemdCmd(flags *config.Flags) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "systemd",
		Short: "Print a systemd service file for this binary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := os.Executable()
			if err != nil {
				return err
			}
			return writeServiceFile(cmd.OutOrStdout(), serviceParams{
				BinaryPath: path,
				ConfigPath: flags.ConfigPath,
				User:       user,
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "root", "user the service runs as")
	return cmd
}

func run(ctx context.Context, flags config.Flags) error {
	info := buildInfo()
	log.Info().
		Str("version", info.Version).
		Str("build_timestamp", info.BuildTime.Format(time.RFC3339)).
		Str("commit_hash", info.Commit).
		Msg("Initializing slotleds")

	cfg, err := config.Load(flags)
	if err != nil {
		log.Err(err).Msg("Config initialization failed")
		return err
	}
	zerolog.SetGlobalLevel(cfg.LogLevel())
	log.Debug().Str("path", cfg.Path()).Bool("from_file", cfg.FromFile()).Msg("Config loaded")

	driver, err := gpio.New(cfg.Driver(), cfg.GPIOOptions())
	if err != nil {
		log.Err(err).Str("driver", cfg.Driver()).Msg("GPIO initialization failed")
		return err
	}

	events := pubsub.New[slot.Event]()
	board, err := slot.NewBoard(driver, cfg.Slots(), cfg.Timing(), cfg.Polarity(), slot.Options{
		Publish: events.Publish,
	})
	if err != nil {
		log.Err(err).Str("driver", cfg.Driver()).Msg("GPIO initialization failed")
		return errors.Join(err, driver.Close())
	}

	defer func() {
		sdNotify(daemon.SdNotifyStopping)
		if err := board.Close(); err != nil {
			log.Err(err).Msg("Failed to turn slots off")
		}
		if err := driver.Close(); err != nil {
			log.Err(err).Msg("Failed to release GPIO lines")
		}
		log.Info().Msg("Stopped")
	}()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return board.Run(ctx) })
	g.Go(func() error { return runWatchdog(ctx, board.Alive) })

	if addr := cfg.Listen(); addr != "" {
		history := server.NewHistory(server.DefaultHistorySize)
		srv := server.New(board, events, history, server.Options{
			Build:  info,
			Driver: driver.Name(),
		})
		g.Go(func() error { return history.Run(ctx, events) })
		g.Go(func() error {
			// The LEDs keep running without the API.
			if err := srv.Run(ctx, addr); err != nil {
				log.Err(err).Msg("API server failed")
			}
			return nil
		})
	} else {
		log.Info().Msg("API disabled")
	}

	if cfg.FromFile() {
		g.Go(func() error {
			err := cfg.Watch(ctx, func(next *config.Config) {
				zerolog.SetGlobalLevel(next.LogLevel())
				if err := board.ApplyConfig(next.Slots()); err != nil {
					log.Err(err).Msg("Could not apply reloaded config")
				}
			})
			if err != nil {
				log.Warn().Err(err).Msg("Config changes will not be picked up")
			}
			return nil
		})
	}

	sdNotify(daemon.SdNotifyReady)
	log.Info().Int("slots", len(board.Slots())).Str("driver", driver.Name()).Msg("Running")

	return g.Wait()
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Runtime failures are logged where they happen; this catches flag errors.
		fmt.Fprintln(os.Stderr, "slotleds:", err)
		os.Exit(1)
	}
}
