// Package metrics exposes slot activity to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "slotleds"

var (
	ledToggles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "led_toggles_total",
		Help:      "Number of times a slot LED triad was toggled",
	}, []string{"slot"})

	ledLit = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "led_lit",
		Help:      "Whether the slot LED triad is currently lit",
	}, []string{"slot"})

	buttonPresses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "button_presses_total",
		Help:      "Button presses applied to a slot, by source",
	}, []string{"slot", "source"})

	blinkInterval = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "blink_interval_seconds",
		Help:      "Current blink interval of a slot",
	}, []string{"slot"})

	gpioErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "gpio_errors_total",
		Help:      "GPIO read/write failures inside the slot loops",
	}, []string{"slot", "op"})
)

// RecordToggle counts one LED toggle and records the new state.
func RecordToggle(slot string, lit bool) {
	ledToggles.WithLabelValues(slot).Inc()
	SetLit(slot, lit)
}

func SetLit(slot string, lit bool) {
	v := 0.0
	if lit {
		v = 1
	}
	ledLit.WithLabelValues(slot).Set(v)
}

func RecordPress(slot, source string) {
	buttonPresses.WithLabelValues(slot, source).Inc()
}

func SetInterval(slot string, d time.Duration) {
	blinkInterval.WithLabelValues(slot).Set(d.Seconds())
}

func RecordGPIOError(slot, op string) {
	gpioErrors.WithLabelValues(slot, op).Inc()
}

// Handler serves every promauto-registered metric.
func Handler() http.Handler {
	return promhttp.Handler()
}
