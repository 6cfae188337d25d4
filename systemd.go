package main

import (
	"context"
	_ "embed"
	"io"
	"text/template"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog/log"
)

//go:embed slotleds.service
var serviceEmbed string

type serviceParams struct {
	BinaryPath string
	ConfigPath string
	User       string
}

func writeServiceFile(w io.Writer, params serviceParams) error {
	tmpl, err := template.New("slotleds.service").Parse(serviceEmbed)
	if err != nil {
		return err
	}
	return tmpl.Execute(w, params)
}

// sdNotify is a no-op outside systemd.
func sdNotify(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Warn().Err(err).Str("state", state).Msg("sd_notify failed")
		return
	}
	if sent {
		log.Debug().Str("state", state).Msg("Notified systemd")
	}
}

// runWatchdog pings systemd at half the configured watchdog interval until
// ctx is done. Pings are withheld while healthy reports false. It returns at
// once when the watchdog is off.
func runWatchdog(ctx context.Context, healthy func(maxAge time.Duration) bool) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		log.Warn().Err(err).Msg("Could not read systemd watchdog settings")
		return nil
	}
	if interval <= 0 {
		return nil
	}
	log.Debug().Dur("interval", interval).Msg("systemd watchdog enabled")

	every := interval / 2
	watchdogLoop(ctx, every, func() bool { return healthy(every) }, func() {
		if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
			log.Warn().Err(err).Msg("Watchdog ping failed")
		}
	})
	return nil
}

func watchdogLoop(ctx context.Context, every time.Duration, healthy func() bool, ping func()) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !healthy() {
				log.Warn().Msg("Slot loops stalled, withholding watchdog ping")
				continue
			}
			ping()
		}
	}
}
