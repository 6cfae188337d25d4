package slot

import "time"

const (
	EMMC = "emmc"
	SD   = "sd"
)

// ODROID-M1 40-pin header assignments. Comments give the header pin.
const (
	m1Enable5V = 120 // H40_12
	m1NFlag    = 118 // H40_16

	m1LedR0 = 119 // H40_18
	m1LedG0 = 121 // H40_22
	m1LedB0 = 106 // H40_15

	m1LedR1 = 122 // H40_26
	m1LedG1 = 123 // H40_32
	m1LedB1 = 13  // H40_33

	m1Button1 = 125 // H40_35
	m1Button2 = 124 // H40_36
)

// Pins holds global GPIO line numbers. Enable and Fault are 0 when the
// slot has no reader power switch.
type Pins struct {
	Enable int
	Fault  int
	Button int
	Red    int
	Green  int
	Blue   int
}

func (p Pins) HasEnable() bool { return p.Enable != 0 }
func (p Pins) HasFault() bool  { return p.Fault != 0 }

type Config struct {
	Name     string
	Pins     Pins
	Interval time.Duration
}

type Timing struct {
	// Poll is the wait between the blink and button stages.
	Poll time.Duration
	// Step is subtracted from the interval on every press.
	Step time.Duration
	// Reset is the interval a press restores once the interval hit zero.
	Reset time.Duration
}

func DefaultTiming() Timing {
	return Timing{
		Poll:  100 * time.Millisecond,
		Step:  100 * time.Millisecond,
		Reset: 1000 * time.Millisecond,
	}
}

type Polarity struct {
	LEDActiveLow    bool
	ButtonActiveLow bool
	FaultActiveLow  bool
}

func DefaultPolarity() Polarity {
	return Polarity{
		LEDActiveLow:    true,
		ButtonActiveLow: true,
		FaultActiveLow:  true,
	}
}

// ODROIDM1 returns the writer fixture's eMMC and SD slots.
func ODROIDM1() []Config {
	return []Config{
		{
			Name: EMMC,
			Pins: Pins{
				Enable: m1Enable5V,
				Fault:  m1NFlag,
				Button: m1Button1,
				Red:    m1LedR0,
				Green:  m1LedG0,
				Blue:   m1LedB0,
			},
			Interval: 1000 * time.Millisecond,
		},
		{
			Name: SD,
			Pins: Pins{
				Button: m1Button2,
				Red:    m1LedR1,
				Green:  m1LedG1,
				Blue:   m1LedB1,
			},
			Interval: 500 * time.Millisecond,
		},
	}
}
