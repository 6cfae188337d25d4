package server_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"slotleds/gpio"
	"slotleds/pubsub"
	"slotleds/server"
	"slotleds/slot"
)

type fixture struct {
	board   *slot.Board
	events  *pubsub.Pubsub[slot.Event]
	history *server.History
	server  *server.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zerolog.Nop()

	d := gpio.NewSimulated(logger)
	t.Cleanup(func() { d.Close() })

	events := pubsub.New[slot.Event]()
	board, err := slot.NewBoard(d, slot.ODROIDM1(), slot.DefaultTiming(), slot.DefaultPolarity(), slot.Options{
		Clock:   clock.NewMock(),
		Publish: events.Publish,
		Logger:  &logger,
	})
	require.NoError(t, err)

	history := server.NewHistory(16)
	srv := server.New(board, events, history, server.Options{
		Build:  server.BuildInfo{Version: "1.2.3", Commit: "abc123"},
		Driver: "simulated",
		Logger: &logger,
	})
	return &fixture{board: board, events: events, history: history, server: srv}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestStatus(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	body := decode[struct {
		Version string        `json:"version"`
		Commit  string        `json:"commit"`
		Driver  string        `json:"driver"`
		Slots   []slot.Status `json:"slots"`
	}](t, rec)
	assert.Equal(t, "1.2.3", body.Version)
	assert.Equal(t, "abc123", body.Commit)
	assert.Equal(t, "simulated", body.Driver)
	require.Len(t, body.Slots, 2)
	assert.Equal(t, slot.EMMC, body.Slots[0].Name)
	assert.Equal(t, slot.SD, body.Slots[1].Name)
}

func TestSlots(t *testing.T) {
	f := newFixture(t)

	t.Run("List", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/slots", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, decode[[]slot.Status](t, rec), 2)
	})

	t.Run("One", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/slots/sd", "")
		require.Equal(t, http.StatusOK, rec.Code)
		st := decode[slot.Status](t, rec)
		assert.Equal(t, slot.SD, st.Name)
		assert.EqualValues(t, 500, st.IntervalMS)
		assert.Nil(t, st.Power)
	})

	t.Run("UnknownSlot", func(t *testing.T) {
		for _, tt := range []struct{ method, path, body string }{
			{http.MethodGet, "/api/slots/usb", ""},
			{http.MethodPost, "/api/slots/usb/press", ""},
			{http.MethodPut, "/api/slots/usb/interval", `{"interval_ms": 100}`},
			{http.MethodPut, "/api/slots/usb/power", `{"on": true}`},
		} {
			rec := f.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, http.StatusNotFound, rec.Code, "%s %s", tt.method, tt.path)
		}
	})
}

func TestControls(t *testing.T) {
	f := newFixture(t)

	t.Run("Press", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/slots/emmc/press", "")
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("Interval", func(t *testing.T) {
		rec := f.do(t, http.MethodPut, "/api/slots/emmc/interval", `{"interval_ms": 250}`)
		require.Equal(t, http.StatusNoContent, rec.Code)

		st, err := f.board.Status(slot.EMMC)
		require.NoError(t, err)
		assert.EqualValues(t, 250, st.IntervalMS)
	})

	t.Run("BadInterval", func(t *testing.T) {
		tests := []struct {
			name string
			body string
		}{
			{"Negative", `{"interval_ms": -5}`},
			{"Missing", `{}`},
			{"NotJSON", `fast please`},
			{"TooLarge", `{"interval_ms": 18500000000000}`},
		}
		before, err := f.board.Status(slot.EMMC)
		require.NoError(t, err)

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				rec := f.do(t, http.MethodPut, "/api/slots/emmc/interval", tt.body)
				assert.Equal(t, http.StatusBadRequest, rec.Code)

				st, err := f.board.Status(slot.EMMC)
				require.NoError(t, err)
				assert.Equal(t, before.IntervalMS, st.IntervalMS)
			})
		}
	})

	t.Run("Power", func(t *testing.T) {
		rec := f.do(t, http.MethodPut, "/api/slots/emmc/power", `{"on": true}`)
		require.Equal(t, http.StatusNoContent, rec.Code)

		st, err := f.board.Status(slot.EMMC)
		require.NoError(t, err)
		require.NotNil(t, st.Power)
		assert.True(t, *st.Power)
	})

	t.Run("PowerNotWired", func(t *testing.T) {
		rec := f.do(t, http.MethodPut, "/api/slots/sd/power", `{"on": true}`)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestEvents(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go f.history.Run(ctx, f.events)
	require.Eventually(t, func() bool { return f.events.Len() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, f.board.SetInterval(slot.SD, 200*time.Millisecond))
	require.NoError(t, f.board.SetInterval(slot.SD, 300*time.Millisecond))
	require.Eventually(t, func() bool { return len(f.history.Events()) == 2 }, time.Second, 5*time.Millisecond)

	rec := f.do(t, http.MethodGet, "/api/events", "")
	require.Equal(t, http.StatusOK, rec.Code)

	events := decode[[]slot.Event](t, rec)
	require.Len(t, events, 2)
	assert.Equal(t, slot.EventInterval, events[0].Kind)
	assert.EqualValues(t, 200, events[0].IntervalMS)
	assert.EqualValues(t, 300, events[1].IntervalMS)
	assert.Equal(t, slot.SourceAPI, events[1].Source)
}

func TestMetrics(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "slotleds_blink_interval_seconds")
}

func TestWebsocket(t *testing.T) {
	f := newFixture(t)

	ts := httptest.NewServer(f.server.Handler())
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/api/ws", nil)
	require.NoError(t, err)
	defer c.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool { return f.events.Len() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, f.board.SetInterval(slot.EMMC, 400*time.Millisecond))

	typ, data, err := c.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, websocket.MessageText, typ)

	var ev slot.Event
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, slot.EMMC, ev.Slot)
	assert.Equal(t, slot.EventInterval, ev.Kind)
	assert.EqualValues(t, 400, ev.IntervalMS)

	c.Close(websocket.StatusNormalClosure, "")
	require.Eventually(t, func() bool { return f.events.Len() == 0 }, time.Second, 5*time.Millisecond)
}

// waitForReady polls endpoint until it answers 200 or the timeout passes.
func waitForReady(ctx context.Context, timeout time.Duration, endpoint string) error {
	client := http.Client{Timeout: time.Second}
	deadline := time.Now().Add(timeout)
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}

		if resp, err := client.Do(req); err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("timeout reached while waiting for endpoint")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(25 * time.Millisecond):
		}
	}
}

func TestServe(t *testing.T) {
	f := newFixture(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	done := make(chan error, 1)
	go func() { done <- f.server.Serve(ctx, ln) }()

	require.NoError(t, waitForReady(ctx, 2*time.Second, "http://"+ln.Addr().String()+"/api/status"))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(6 * time.Second):
		t.Fatal("server did not shut down")
	}
}
