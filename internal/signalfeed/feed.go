// Package signalfeed ingests ranking snapshots from the screener websocket.
// The feed owns the connection: it reconnects with capped backoff and
// delivers parsed snapshots on a channel, evicting stale ones when the
// consumer lags.
package signalfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lsquant/twapbot/internal/metrics"
	"github.com/lsquant/twapbot/internal/types"
)

// Config holds ranking feed configuration.
type Config struct {
	URL               string
	ReconnectDelay    time.Duration // initial backoff, doubles per failure
	MaxReconnectDelay time.Duration
	ReadTimeout       time.Duration // connection considered dead without a message
	Buffer            int           // snapshot channel depth
}

// DefaultConfig returns feed defaults.
func DefaultConfig() Config {
	return Config{
		ReconnectDelay:    time.Second,
		MaxReconnectDelay: 30 * time.Second,
		ReadTimeout:       90 * time.Second,
		Buffer:            4,
	}
}

// Validate checks the configuration for correctness.
func (c Config) Validate() error {
	var errs []string

	if c.URL == "" {
		errs = append(errs, "feed url is required")
	}
	if c.ReconnectDelay <= 0 {
		errs = append(errs, "reconnect delay must be positive")
	}
	if c.MaxReconnectDelay < c.ReconnectDelay {
		errs = append(errs, "max reconnect delay must be at least the initial delay")
	}
	if c.Buffer < 1 {
		errs = append(errs, "buffer must be at least 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", types.ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return nil
}

// rankingMessage is the wire format of one screener refresh.
type rankingMessage struct {
	Type          string   `json:"type"`
	TopLongs      []string `json:"top_longs"`
	TopShorts     []string `json:"top_shorts"`
	MonitorLongs  []string `json:"monitor_longs"`
	MonitorShorts []string `json:"monitor_shorts"`
	Timestamp     int64    `json:"timestamp"` // unix milliseconds
}

// Feed maintains the websocket subscription to the screener.
type Feed struct {
	cfg    Config
	logger *slog.Logger
	rec    *metrics.Recorder

	// OnStateChange, when set before Run, is invoked once per connect
	// and once per disconnect.
	OnStateChange func(connected bool)

	out       chan types.RankingSnapshot
	connected bool
}

// New creates a ranking feed.
func New(cfg Config, logger *slog.Logger, rec *metrics.Recorder) (*Feed, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if rec == nil {
		rec = metrics.NewRecorder()
	}

	return &Feed{
		cfg:    cfg,
		logger: logger.With("component", "signalfeed"),
		rec:    rec,
		out:    make(chan types.RankingSnapshot, cfg.Buffer),
	}, nil
}

// Snapshots returns the channel of parsed ranking snapshots. The channel
// is closed when Run returns.
func (f *Feed) Snapshots() <-chan types.RankingSnapshot {
	return f.out
}

// Run connects, reads until failure and reconnects with capped backoff
// until the context is cancelled.
func (f *Feed) Run(ctx context.Context) error {
	defer close(f.out)

	delay := f.cfg.ReconnectDelay
	for {
		start := time.Now()
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// A connection that lived for a while earns a fresh backoff.
		if time.Since(start) > f.cfg.MaxReconnectDelay {
			delay = f.cfg.ReconnectDelay
		}

		f.logger.Warn("feed connection lost", "err", err, "retry_in", delay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > f.cfg.MaxReconnectDelay {
			delay = f.cfg.MaxReconnectDelay
		}
	}
}

func (f *Feed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", f.cfg.URL, err)
	}
	defer conn.Close()

	f.setConnected(true)
	defer f.setConnected(false)

	// Unblock the read loop when the context is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		if f.cfg.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout))
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		snap, err := parseSnapshot(data)
		if err != nil {
			f.logger.Warn("ranking message dropped", "err", err)
			continue
		}

		f.emit(snap)
	}
}

// emit delivers a snapshot, evicting the oldest buffered one when the
// consumer lags. Rankings are state, not events; the latest wins.
func (f *Feed) emit(snap types.RankingSnapshot) {
	select {
	case f.out <- snap:
		return
	default:
	}

	select {
	case <-f.out:
		f.logger.Debug("stale ranking snapshot evicted")
	default:
	}

	select {
	case f.out <- snap:
	default:
	}
}

func (f *Feed) setConnected(connected bool) {
	if f.connected == connected {
		return
	}
	f.connected = connected
	f.rec.RecordFeedStatus(connected)
	if connected {
		f.logger.Info("feed connected", "url", f.cfg.URL)
	}
	if f.OnStateChange != nil {
		f.OnStateChange(connected)
	}
}

// parseSnapshot decodes one wire message into a ranking snapshot.
func parseSnapshot(data []byte) (types.RankingSnapshot, error) {
	var msg rankingMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return types.RankingSnapshot{}, fmt.Errorf("decode ranking message: %w", err)
	}
	if msg.Type != "" && msg.Type != "ranking" {
		return types.RankingSnapshot{}, fmt.Errorf("unexpected message type %q", msg.Type)
	}
	if len(msg.TopLongs) == 0 && len(msg.TopShorts) == 0 {
		return types.RankingSnapshot{}, fmt.Errorf("empty ranking message")
	}

	ts := time.Now()
	if msg.Timestamp > 0 {
		ts = time.UnixMilli(msg.Timestamp)
	}

	return types.RankingSnapshot{
		TopLongs:      msg.TopLongs,
		TopShorts:     msg.TopShorts,
		MonitorLongs:  msg.MonitorLongs,
		MonitorShorts: msg.MonitorShorts,
		Timestamp:     ts,
	}, nil
}
