package slot

import "time"

type EventKind string

const (
	EventToggle   EventKind = "toggle"
	EventInterval EventKind = "interval"
	EventPress    EventKind = "press"
	EventPower    EventKind = "power"
)

// Source says what caused an interval change.
type Source string

const (
	SourceButton Source = "button"
	SourceAPI    Source = "api"
	SourceConfig Source = "config"
)

type Event struct {
	Slot       string    `json:"slot"`
	Kind       EventKind `json:"kind"`
	Lit        bool      `json:"lit"`
	IntervalMS int64     `json:"interval_ms"`
	Power      bool      `json:"power"`
	Source     Source    `json:"source,omitempty"`
	Time       time.Time `json:"time"`
}

type Status struct {
	Name       string    `json:"name"`
	IntervalMS int64     `json:"interval_ms"`
	Lit        bool      `json:"lit"`
	Power      *bool     `json:"power,omitempty"`
	Fault      *bool     `json:"fault,omitempty"`
	Presses    uint64    `json:"presses"`
	LastToggle time.Time `json:"last_toggle"`
}
