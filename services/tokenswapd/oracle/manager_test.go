package oracle

import (
	"context"
	"errors"
	"testing"
	"time"

	"tokenswap/native/tokenswap"
	"tokenswap/services/tokenswapd/storage"
)

type fakeSource struct {
	records []tokenswap.PriceRecord
	err     error
	calls   int
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Fetch(ctx context.Context, feeds []tokenswap.FeedID) ([]tokenswap.PriceRecord, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.records, nil
}

func openStore(t *testing.T) *storage.Storage {
	t.Helper()
	store, err := storage.Open("file:" + t.Name() + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testFeeds() []Feed {
	return []Feed{
		{ID: tokenswap.DefaultNativeFeed, Label: "native"},
		{ID: tokenswap.DefaultAssetAFeed, Label: "asset_a"},
	}
}

func TestManagerTickUpdatesCacheAndStore(t *testing.T) {
	store := openStore(t)
	cache := tokenswap.NewManualOracle()
	now := time.Unix(1_700_000_100, 0)
	src := &fakeSource{records: []tokenswap.PriceRecord{
		{Feed: tokenswap.DefaultNativeFeed, Price: 15_000_000_000, Exponent: -8, PublishTime: now.Add(-10 * time.Second)},
		{Feed: tokenswap.DefaultAssetAFeed, Price: 0, Exponent: -8, PublishTime: now},
		{Feed: tokenswap.DefaultAssetBFeed, Price: 100_000_000, Exponent: -8, PublishTime: now},
	}}
	mgr, err := New(store, src, cache, testFeeds(), time.Second, WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := mgr.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	got, err := cache.LatestPrice(context.Background(), tokenswap.DefaultNativeFeed)
	if err != nil {
		t.Fatalf("cache lookup: %v", err)
	}
	if got.Price != 15_000_000_000 {
		t.Fatalf("unexpected cached price %d", got.Price)
	}
	if _, err := cache.LatestPrice(context.Background(), tokenswap.DefaultAssetAFeed); !errors.Is(err, tokenswap.ErrFeedNotFound) {
		t.Fatalf("zero price should not be cached, got %v", err)
	}
	if _, err := cache.LatestPrice(context.Background(), tokenswap.DefaultAssetBFeed); !errors.Is(err, tokenswap.ErrFeedNotFound) {
		t.Fatalf("unrequested feed should not be cached, got %v", err)
	}
	sample, err := store.LatestSample(context.Background(), tokenswap.DefaultNativeFeed)
	if err != nil {
		t.Fatalf("latest sample: %v", err)
	}
	if sample.Source != "fake" || sample.Display != "150" {
		t.Fatalf("unexpected sample %+v", sample)
	}
}

func TestManagerTickDropsFutureTimestamps(t *testing.T) {
	store := openStore(t)
	cache := tokenswap.NewManualOracle()
	now := time.Unix(1_700_000_100, 0)
	src := &fakeSource{records: []tokenswap.PriceRecord{
		{Feed: tokenswap.DefaultNativeFeed, Price: 1, Exponent: 0, PublishTime: now.Add(time.Minute)},
	}}
	mgr, err := New(store, src, cache, testFeeds(), time.Second, WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := mgr.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if _, err := cache.LatestPrice(context.Background(), tokenswap.DefaultNativeFeed); err == nil {
		t.Fatalf("future observation should be dropped")
	}
}

func TestManagerTickDropsOutOfRangeExponents(t *testing.T) {
	store := openStore(t)
	cache := tokenswap.NewManualOracle()
	now := time.Unix(1_700_000_100, 0)
	src := &fakeSource{records: []tokenswap.PriceRecord{
		{Feed: tokenswap.DefaultNativeFeed, Price: 15_000_000_000, Exponent: 2_000_000_000, PublishTime: now},
		{Feed: tokenswap.DefaultAssetAFeed, Price: 100_000_000, Exponent: -8, PublishTime: now},
	}}
	mgr, err := New(store, src, cache, testFeeds(), time.Second, WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := mgr.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if _, err := cache.LatestPrice(context.Background(), tokenswap.DefaultNativeFeed); err == nil {
		t.Fatalf("observation with out of range exponent should be dropped")
	}
	if _, err := cache.LatestPrice(context.Background(), tokenswap.DefaultAssetAFeed); err != nil {
		t.Fatalf("valid observation should be cached: %v", err)
	}
}

func TestManagerTickReportsSourceErrors(t *testing.T) {
	store := openStore(t)
	src := &fakeSource{err: errors.New("boom")}
	mgr, err := New(store, src, tokenswap.NewManualOracle(), testFeeds(), time.Second)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := mgr.Tick(context.Background()); err == nil {
		t.Fatalf("expected source error")
	}
}

func TestManagerRunStopsOnCancel(t *testing.T) {
	store := openStore(t)
	now := time.Unix(1_700_000_100, 0)
	src := &fakeSource{records: []tokenswap.PriceRecord{
		{Feed: tokenswap.DefaultNativeFeed, Price: 1, Exponent: 0, PublishTime: now},
	}}
	mgr, err := New(store, src, tokenswap.NewManualOracle(), testFeeds(), time.Hour, WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mgr.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("unexpected run error %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not stop")
	}
}

func TestNewValidatesArguments(t *testing.T) {
	store := openStore(t)
	if _, err := New(nil, &fakeSource{}, tokenswap.NewManualOracle(), testFeeds(), time.Second); err == nil {
		t.Fatalf("expected missing storage error")
	}
	if _, err := New(store, &fakeSource{}, tokenswap.NewManualOracle(), nil, time.Second); err == nil {
		t.Fatalf("expected missing feeds error")
	}
	if _, err := New(store, &fakeSource{}, tokenswap.NewManualOracle(), testFeeds(), 0); err == nil {
		t.Fatalf("expected interval error")
	}
}
