package tokenswap

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

// FeedID identifies an oracle price feed.
type FeedID = ethcommon.Hash

// Default Pyth feed identifiers for the production deployment.
var (
	DefaultNativeFeed = ethcommon.HexToHash("0xef0d8b6fda2ceba41da15d4095d1da392a0d2f8ed0c6c7bc0f4cfac8c280b56d")
	DefaultAssetAFeed = ethcommon.HexToHash("0xeaa020c61cc479712813461ce153894a96a6c00b21ed0cfc2798d1f9a9e9c94a")
	DefaultAssetBFeed = ethcommon.HexToHash("0x2b89b9dc8fdf9f34709a5b106b472f0f39bb6ca9ce04b0fd7f2e971688e2e53b")
)

// PriceRecord is a single oracle observation: the real price is
// Price * 10^Exponent.
type PriceRecord struct {
	Feed        FeedID
	Price       int64
	Exponent    int32
	PublishTime time.Time
}

// MaxPriceExponent bounds the magnitude of an oracle exponent. Records beyond
// it are rejected with ErrInvalidPrice before any scaling is computed.
const MaxPriceExponent = 18

// Validate rejects non-positive prices and out of range exponents.
func (p PriceRecord) Validate() error {
	if p.Price <= 0 {
		return fmt.Errorf("%w: feed %s reported %d", ErrInvalidPrice, p.Feed.Hex(), p.Price)
	}
	if p.Exponent > MaxPriceExponent || p.Exponent < -MaxPriceExponent {
		return fmt.Errorf("%w: feed %s exponent %d out of range", ErrInvalidPrice, p.Feed.Hex(), p.Exponent)
	}
	return nil
}

// Rat returns the exact real-valued price.
func (p PriceRecord) Rat() *big.Rat {
	value := new(big.Rat).SetInt64(p.Price)
	if p.Exponent == 0 {
		return value
	}
	exp := p.Exponent
	if exp < 0 {
		exp = -exp
	}
	scale := new(big.Rat).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil))
	if p.Exponent < 0 {
		return value.Quo(value, scale)
	}
	return value.Mul(value, scale)
}

// Oracle provides the latest observation for a feed.
type Oracle interface {
	LatestPrice(ctx context.Context, feed FeedID) (PriceRecord, error)
}

// Feeds maps each payment leg to its oracle feed.
type Feeds struct {
	Native FeedID
	AssetA FeedID
	AssetB FeedID
}

// DefaultFeeds returns the production feed identifiers.
func DefaultFeeds() Feeds {
	return Feeds{Native: DefaultNativeFeed, AssetA: DefaultAssetAFeed, AssetB: DefaultAssetBFeed}
}

// ResolveStable returns the role and feed for a stable payment asset. Any
// asset other than the two recorded in state is rejected.
func (f Feeds) ResolveStable(state *TreasuryState, asset string) (AssetRole, FeedID, error) {
	normalized := normaliseSymbol(asset)
	switch {
	case state == nil:
		return 0, FeedID{}, ErrStateNotInitialised
	case normalized != "" && normalized == normaliseSymbol(state.AssetA):
		return RoleAssetA, f.AssetA, nil
	case normalized != "" && normalized == normaliseSymbol(state.AssetB):
		return RoleAssetB, f.AssetB, nil
	}
	return 0, FeedID{}, fmt.Errorf("%w: %q", ErrInvalidAsset, strings.TrimSpace(asset))
}

// PriceNoOlderThan fetches the latest record for feed and rejects it when it
// was published more than maxAge before now.
func PriceNoOlderThan(ctx context.Context, oracle Oracle, feed FeedID, maxAge time.Duration, now time.Time) (PriceRecord, error) {
	if oracle == nil {
		return PriceRecord{}, fmt.Errorf("tokenswap: oracle not configured")
	}
	record, err := oracle.LatestPrice(ctx, feed)
	if err != nil {
		return PriceRecord{}, err
	}
	if record.PublishTime.IsZero() {
		return PriceRecord{}, fmt.Errorf("%w: feed %s has no publish time", ErrStalePrice, feed.Hex())
	}
	age := now.Sub(record.PublishTime)
	if age > maxAge {
		return PriceRecord{}, fmt.Errorf("%w: feed %s is %s old, limit %s", ErrStalePrice, feed.Hex(), age.Truncate(time.Second), maxAge)
	}
	if err := record.Validate(); err != nil {
		return PriceRecord{}, err
	}
	return record, nil
}

// ManualOracle is an in-memory oracle. The daemon feeds it from its poller and
// tests populate it directly.
type ManualOracle struct {
	mu      sync.RWMutex
	records map[FeedID]PriceRecord
	reads   int
}

// NewManualOracle constructs an empty oracle.
func NewManualOracle() *ManualOracle {
	return &ManualOracle{records: make(map[FeedID]PriceRecord)}
}

// Set stores the record for its feed. Older observations never replace newer ones.
func (o *ManualOracle) Set(record PriceRecord) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if current, ok := o.records[record.Feed]; ok && current.PublishTime.After(record.PublishTime) {
		return
	}
	o.records[record.Feed] = record
}

// LatestPrice implements Oracle.
func (o *ManualOracle) LatestPrice(ctx context.Context, feed FeedID) (PriceRecord, error) {
	if err := ctx.Err(); err != nil {
		return PriceRecord{}, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reads++
	record, ok := o.records[feed]
	if !ok {
		return PriceRecord{}, fmt.Errorf("%w: %s", ErrFeedNotFound, feed.Hex())
	}
	return record, nil
}

// Reads reports how many LatestPrice calls were served.
func (o *ManualOracle) Reads() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.reads
}
