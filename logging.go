package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	colorRed     = 31
	colorGreen   = 32
	colorYellow  = 33
	colorMagenta = 35

	colorBold = 1
)

func colorize(s interface{}, c int, disabled bool) string {
	if disabled {
		return fmt.Sprintf("%s", s)
	}
	return fmt.Sprintf("\x1b[%dm%v\x1b[0m", c, s)
}

// lockedWriter serializes writes so concurrent slot loops don't interleave
// their lines.
type lockedWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (lw lockedWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.w.Write(p)
}

func formatLevel(noColor bool) zerolog.Formatter {
	return func(i interface{}) string {
		var l string
		if ll, ok := i.(string); ok {
			switch ll {
			case zerolog.LevelTraceValue:
				l = colorize("TRACE", colorMagenta, noColor)
			case zerolog.LevelDebugValue:
				l = colorize("DEBUG", colorYellow, noColor)
			case zerolog.LevelInfoValue:
				l = colorize("INFO ", colorGreen, noColor)
			case zerolog.LevelWarnValue:
				l = colorize("WARN ", colorRed, noColor)
			case zerolog.LevelErrorValue, zerolog.LevelFatalValue, zerolog.LevelPanicValue:
				l = colorize(colorize(strings.ToUpper(ll), colorRed, noColor), colorBold, noColor)
			default:
				l = colorize(ll, colorBold, noColor)
			}
		} else if i == nil {
			l = colorize("???  ", colorBold, noColor)
		} else {
			l = strings.ToUpper(fmt.Sprintf("%-5s", i))[0:5]
		}

		return fmt.Sprintf("| %s |", l)
	}
}

// InitializeLogger points the global logger at stdout.
func InitializeLogger(noColor bool) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	var out io.Writer = os.Stdout
	if !noColor {
		out = colorable.NewColorable(os.Stdout)
	}

	output := zerolog.ConsoleWriter{
		Out:         lockedWriter{mu: &sync.Mutex{}, w: out},
		TimeFormat:  time.RFC3339,
		NoColor:     noColor,
		FormatLevel: formatLevel(noColor),
	}
	log.Logger = log.Output(output)
}
