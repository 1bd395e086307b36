package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tokenswap/native/tokenswap"
	"tokenswap/observability"
	"tokenswap/services/tokenswapd/storage"
)

const (
	maxClockSkew  = 5 * time.Second
	pruneInterval = time.Hour
)

// Source resolves the latest observations for a set of feeds.
type Source interface {
	Name() string
	Fetch(ctx context.Context, feeds []tokenswap.FeedID) ([]tokenswap.PriceRecord, error)
}

// Feed is a polled feed and its metrics label.
type Feed struct {
	ID    tokenswap.FeedID
	Label string
}

// Manager polls a source on an interval, feeding accepted observations into
// the engine's price cache and the audit store.
type Manager struct {
	logger    *slog.Logger
	storage   *storage.Storage
	source    Source
	cache     *tokenswap.ManualOracle
	feeds     []Feed
	interval  time.Duration
	timeout   time.Duration
	retention time.Duration
	now       func() time.Time
	metrics   *observability.TokenSwapMetrics

	mu        sync.Mutex
	lastPrune time.Time
	once      sync.Once
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger installs a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithTimeout bounds each poll.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

// WithRetention prunes stored samples older than d. Zero keeps everything.
func WithRetention(d time.Duration) Option {
	return func(m *Manager) { m.retention = d }
}

// New constructs a manager instance.
func New(store *storage.Storage, source Source, cache *tokenswap.ManualOracle, feeds []Feed, interval time.Duration, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("storage required")
	}
	if source == nil {
		return nil, fmt.Errorf("source required")
	}
	if cache == nil {
		return nil, fmt.Errorf("price cache required")
	}
	if len(feeds) == 0 {
		return nil, fmt.Errorf("at least one feed required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}
	mgr := &Manager{
		logger:   slog.Default(),
		storage:  store,
		source:   source,
		cache:    cache,
		feeds:    append([]Feed{}, feeds...),
		interval: interval,
		timeout:  interval,
		now:      time.Now,
		metrics:  observability.TokenSwap(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(mgr)
		}
	}
	return mgr, nil
}

// Run blocks, polling the source until the context is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	if m == nil {
		return fmt.Errorf("manager not configured")
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	m.once.Do(func() {
		m.logger.Info("oracle manager started",
			slog.String("component", "oracle"),
			slog.String("source", m.source.Name()),
			slog.Int("feeds", len(m.feeds)))
	})
	for {
		if err := m.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.logger.Warn("oracle tick failed", slog.String("component", "oracle"), slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick performs one poll. Observations with a non-positive price or a publish
// time ahead of the local clock are dropped; the remainder update the cache.
func (m *Manager) Tick(ctx context.Context) error {
	if m == nil {
		return fmt.Errorf("manager not configured")
	}
	pollCtx := ctx
	if m.timeout > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}
	ids := make([]tokenswap.FeedID, 0, len(m.feeds))
	labels := make(map[tokenswap.FeedID]string, len(m.feeds))
	for _, feed := range m.feeds {
		ids = append(ids, feed.ID)
		labels[feed.ID] = feed.Label
	}

	records, err := m.source.Fetch(pollCtx, ids)
	if err != nil {
		m.metrics.RecordOracleError(m.source.Name())
		return fmt.Errorf("fetch %s: %w", m.source.Name(), err)
	}
	now := m.now()
	seen := make(map[tokenswap.FeedID]struct{}, len(records))
	var errs []error
	for _, record := range records {
		label, ok := labels[record.Feed]
		if !ok {
			continue
		}
		if err := record.Validate(); err != nil {
			m.logger.Warn("oracle returned invalid price",
				slog.String("component", "oracle"), slog.String("feed", label),
				slog.Int64("price", record.Price), slog.Int("exponent", int(record.Exponent)))
			continue
		}
		if record.PublishTime.After(now.Add(maxClockSkew)) {
			m.logger.Warn("oracle produced future timestamp",
				slog.String("component", "oracle"), slog.String("feed", label), slog.Time("publish_time", record.PublishTime))
			continue
		}
		seen[record.Feed] = struct{}{}
		m.cache.Set(record)
		m.metrics.RecordOracleAge(label, now.Sub(record.PublishTime))
		if err := m.storage.RecordSample(ctx, m.source.Name(), record, now); err != nil {
			errs = append(errs, err)
		}
	}
	for _, feed := range m.feeds {
		if _, ok := seen[feed.ID]; !ok {
			m.logger.Warn("oracle feed missing from poll", slog.String("component", "oracle"), slog.String("feed", feed.Label))
		}
	}
	m.prune(ctx, now)
	return errors.Join(errs...)
}

func (m *Manager) prune(ctx context.Context, now time.Time) {
	if m.retention <= 0 {
		return
	}
	m.mu.Lock()
	due := now.Sub(m.lastPrune) >= pruneInterval
	if due {
		m.lastPrune = now
	}
	m.mu.Unlock()
	if !due {
		return
	}
	removed, err := m.storage.PruneSamples(ctx, now.Add(-m.retention))
	if err != nil {
		m.logger.Warn("prune oracle samples", slog.String("component", "oracle"), slog.Any("error", err))
		return
	}
	if removed > 0 {
		m.logger.Debug("pruned oracle samples", slog.String("component", "oracle"), slog.Int64("removed", removed))
	}
}
