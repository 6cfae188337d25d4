package gpio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// Ref: https://www.kernel.org/doc/Documentation/gpio/sysfs.txt

const exportPollInterval = 10 * time.Millisecond

func init() {
	register("sysfs", func(o Options) (Driver, error) {
		return NewSysfs(o.Fs, o.SysfsRoot, o.ExportTimeout, o.logger("sysfs")), nil
	})
}

type Sysfs struct {
	fs      afero.Fs
	root    string
	timeout time.Duration
	log     zerolog.Logger

	set   lineSet
	mu    sync.Mutex
	lines []*sysfsLine
}

// NewSysfs drives lines through the sysfs class directory at root.
func NewSysfs(fs afero.Fs, root string, exportTimeout time.Duration, logger zerolog.Logger) *Sysfs {
	return &Sysfs{
		fs:      fs,
		root:    root,
		timeout: exportTimeout,
		log:     logger,
	}
}

func (s *Sysfs) Name() string { return "sysfs" }

func (s *Sysfs) Open(n int, dir Direction, high bool) (Line, error) {
	if err := s.set.claim(n); err != nil {
		return nil, err
	}

	exported, err := s.export(n)
	if err != nil {
		s.set.release(n)
		return nil, fmt.Errorf("export gpio %d: %w", n, err)
	}

	line := &sysfsLine{s: s, n: n, dir: dir, exported: exported}
	if err := line.setDirection(high); err != nil {
		if exported {
			s.unexport(n)
		}
		s.set.release(n)
		return nil, fmt.Errorf("gpio %d direction %s: %w", n, dir, err)
	}

	s.mu.Lock()
	s.lines = append(s.lines, line)
	s.mu.Unlock()

	s.log.Debug().Int("gpio", n).Str("direction", dir.String()).Bool("exported", exported).Msg("Line opened")
	return line, nil
}

// Close unexports the lines this driver exported. Lines that were already
// exported when opened are left alone.
func (s *Sysfs) Close() error {
	if !s.set.close() {
		return nil
	}

	s.mu.Lock()
	lines := s.lines
	s.lines = nil
	s.mu.Unlock()

	var errs []error
	for _, line := range lines {
		line.closed.Store(true)
		if line.exported {
			if err := s.unexport(line.n); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (s *Sysfs) linePath(n int) string {
	return filepath.Join(s.root, "gpio"+strconv.Itoa(n))
}

// export reports whether this call exported the line.
func (s *Sysfs) export(n int) (bool, error) {
	path := s.linePath(n)
	if ok, _ := afero.DirExists(s.fs, path); ok {
		return false, nil
	}

	if err := s.writeFile(filepath.Join(s.root, "export"), strconv.Itoa(n)); err != nil {
		return false, err
	}

	deadline := time.Now().Add(s.timeout)
	for {
		if ok, _ := afero.DirExists(s.fs, path); ok {
			return true, nil
		}
		if !time.Now().Before(deadline) {
			s.unexport(n)
			return false, fmt.Errorf("%s did not appear within %s", path, s.timeout)
		}
		time.Sleep(exportPollInterval)
	}
}

func (s *Sysfs) unexport(n int) error {
	err := s.writeFile(filepath.Join(s.root, "unexport"), strconv.Itoa(n))
	if err != nil {
		s.log.Warn().Err(err).Int("gpio", n).Msg("Unexport failed")
		return fmt.Errorf("unexport gpio %d: %w", n, err)
	}
	return nil
}

// writeFile writes to an existing attribute; sysfs files are never created.
func (s *Sysfs) writeFile(path, value string) error {
	f, err := s.fs.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(value); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

type sysfsLine struct {
	s        *Sysfs
	n        int
	dir      Direction
	exported bool
	closed   atomic.Bool
}

func (l *sysfsLine) Number() int { return l.n }

func (l *sysfsLine) attr(name string) string {
	return filepath.Join(l.s.linePath(l.n), name)
}

func (l *sysfsLine) setDirection(high bool) error {
	value := "in"
	if l.dir == Out {
		// "low"/"high" set the direction and level in one write
		value = "low"
		if high {
			value = "high"
		}
	}
	return l.s.writeFile(l.attr("direction"), value)
}

func (l *sysfsLine) Read() (bool, error) {
	if l.closed.Load() {
		return false, ErrClosed
	}

	b, err := afero.ReadFile(l.s.fs, l.attr("value"))
	if err != nil {
		return false, fmt.Errorf("read gpio %d: %w", l.n, err)
	}

	switch v := strings.TrimSpace(string(b)); v {
	case "0":
		return false, nil
	case "1":
		return true, nil
	default:
		return false, fmt.Errorf("read gpio %d: unexpected value %q", l.n, v)
	}
}

func (l *sysfsLine) Write(high bool) error {
	if l.closed.Load() {
		return ErrClosed
	}
	if l.dir != Out {
		return fmt.Errorf("write gpio %d: %w", l.n, ErrNotOutput)
	}

	value := "0"
	if high {
		value = "1"
	}
	if err := l.s.writeFile(l.attr("value"), value); err != nil {
		return fmt.Errorf("write gpio %d: %w", l.n, err)
	}
	return nil
}
