package storage

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	_ "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tokenswap/crypto"
	"tokenswap/native/tokenswap"
)

// Storage wraps the tokenswapd audit store.
type Storage struct {
	db *sql.DB
}

var (
	// ErrPathRequired is returned when the backing store path is missing.
	ErrPathRequired = errors.New("tokenswapd storage path must be configured")
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")
)

// Open initialises the backing store using a sqlite-compatible DSN.
func Open(dsn string) (*Storage, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Storage{db: db}, nil
}

// Close releases database resources.
func (s *Storage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Sample is a persisted oracle observation.
type Sample struct {
	Feed        string
	Source      string
	Price       int64
	Exponent    int32
	Display     string
	PublishTime time.Time
	RecordedAt  time.Time
}

// RecordSample persists a raw oracle observation.
func (s *Storage) RecordSample(ctx context.Context, source string, record tokenswap.PriceRecord, recorded time.Time) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO oracle_samples(feed, source, price, exponent, display, publish_time, recorded_at)
        VALUES(?, ?, ?, ?, ?, ?, ?)
    `, record.Feed.Hex(), strings.ToLower(strings.TrimSpace(source)), record.Price, record.Exponent,
		FormatPrice(record), record.PublishTime.UTC().Unix(), recorded.UTC())
	if err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}
	return nil
}

// LatestSample returns the most recently published observation for feed.
func (s *Storage) LatestSample(ctx context.Context, feed tokenswap.FeedID) (Sample, error) {
	result := Sample{}
	if s == nil {
		return result, fmt.Errorf("storage not configured")
	}
	row := s.db.QueryRowContext(ctx, `
        SELECT feed, source, price, exponent, display, publish_time, recorded_at
        FROM oracle_samples
        WHERE feed = ?
        ORDER BY publish_time DESC, id DESC
        LIMIT 1
    `, feed.Hex())
	var publish int64
	if err := row.Scan(&result.Feed, &result.Source, &result.Price, &result.Exponent, &result.Display, &publish, &result.RecordedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return result, ErrNotFound
		}
		return result, fmt.Errorf("query sample: %w", err)
	}
	result.PublishTime = time.Unix(publish, 0).UTC()
	return result, nil
}

// PruneSamples removes observations recorded before cutoff.
func (s *Storage) PruneSamples(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil {
		return 0, fmt.Errorf("storage not configured")
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM oracle_samples WHERE recorded_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune samples: %w", err)
	}
	return res.RowsAffected()
}

// ReceiptRecord is the audit copy of a settled purchase.
type ReceiptRecord struct {
	ID            string    `json:"id"`
	CallID        string    `json:"callId"`
	Buyer         string    `json:"buyer"`
	PaymentAsset  string    `json:"paymentAsset"`
	PaidAmount    string    `json:"paidAmount"`
	OutputAsset   string    `json:"outputAsset"`
	OutputAmount  string    `json:"outputAmount"`
	OutputDisplay string    `json:"outputDisplay"`
	Feed          string    `json:"feed"`
	Price         string    `json:"price"`
	PublishTime   int64     `json:"publishTime"`
	CreatedAt     time.Time `json:"createdAt"`
}

// NewReceiptRecord converts an engine receipt into its audit form with a
// fresh identifier.
func NewReceiptRecord(receipt *tokenswap.Receipt, outputDecimals uint8, now time.Time) (ReceiptRecord, error) {
	if receipt == nil || receipt.PaidAmount == nil || receipt.OutputAmount == nil {
		return ReceiptRecord{}, fmt.Errorf("receipt incomplete")
	}
	return ReceiptRecord{
		ID:            uuid.NewString(),
		CallID:        "0x" + hex.EncodeToString(receipt.CallID[:]),
		Buyer:         crypto.NewAddress(crypto.AccountPrefix, receipt.Buyer[:]).String(),
		PaymentAsset:  receipt.PaymentAsset,
		PaidAmount:    receipt.PaidAmount.String(),
		OutputAsset:   receipt.OutputAsset,
		OutputAmount:  receipt.OutputAmount.String(),
		OutputDisplay: FormatUnits(receipt.OutputAmount, outputDecimals),
		Feed:          receipt.Price.Feed.Hex(),
		Price:         FormatPrice(receipt.Price),
		PublishTime:   receipt.Price.PublishTime.UTC().Unix(),
		CreatedAt:     now.UTC(),
	}, nil
}

// InsertReceipt persists a purchase receipt.
func (s *Storage) InsertReceipt(ctx context.Context, rec ReceiptRecord) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	if _, err := uuid.Parse(rec.ID); err != nil {
		return fmt.Errorf("receipt id: %w", err)
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO purchase_receipts(id, call_id, buyer, payment_asset, paid_amount, output_asset,
            output_amount, output_display, feed, price, publish_time, created_at)
        VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `, rec.ID, rec.CallID, rec.Buyer, rec.PaymentAsset, rec.PaidAmount, rec.OutputAsset,
		rec.OutputAmount, rec.OutputDisplay, rec.Feed, rec.Price, rec.PublishTime, rec.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert receipt: %w", err)
	}
	return nil
}

// GetReceipt looks a receipt up by its identifier or by the hex call ID.
func (s *Storage) GetReceipt(ctx context.Context, id string) (ReceiptRecord, error) {
	if s == nil {
		return ReceiptRecord{}, fmt.Errorf("storage not configured")
	}
	key := strings.ToLower(strings.TrimSpace(id))
	column := "id"
	if strings.HasPrefix(key, "0x") {
		column = "call_id"
	}
	row := s.db.QueryRowContext(ctx, `
        SELECT id, call_id, buyer, payment_asset, paid_amount, output_asset,
            output_amount, output_display, feed, price, publish_time, created_at
        FROM purchase_receipts
        WHERE `+column+` = ?
    `, key)
	var rec ReceiptRecord
	err := row.Scan(&rec.ID, &rec.CallID, &rec.Buyer, &rec.PaymentAsset, &rec.PaidAmount, &rec.OutputAsset,
		&rec.OutputAmount, &rec.OutputDisplay, &rec.Feed, &rec.Price, &rec.PublishTime, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, fmt.Errorf("query receipt: %w", err)
	}
	return rec, nil
}

// ReceiptsByBuyer lists a buyer's receipts, newest first.
func (s *Storage) ReceiptsByBuyer(ctx context.Context, buyer string, limit int) ([]ReceiptRecord, error) {
	if s == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, call_id, buyer, payment_asset, paid_amount, output_asset,
            output_amount, output_display, feed, price, publish_time, created_at
        FROM purchase_receipts
        WHERE buyer = ?
        ORDER BY created_at DESC
        LIMIT ?
    `, strings.TrimSpace(buyer), limit)
	if err != nil {
		return nil, fmt.Errorf("query receipts: %w", err)
	}
	defer rows.Close()
	out := make([]ReceiptRecord, 0)
	for rows.Next() {
		var rec ReceiptRecord
		if err := rows.Scan(&rec.ID, &rec.CallID, &rec.Buyer, &rec.PaymentAsset, &rec.PaidAmount, &rec.OutputAsset,
			&rec.OutputAmount, &rec.OutputDisplay, &rec.Feed, &rec.Price, &rec.PublishTime, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan receipt: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate receipts: %w", err)
	}
	return out, nil
}

// FormatUnits renders base units as a decimal string with the given scale.
func FormatUnits(amount *big.Int, decimals uint8) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -int32(decimals)).String()
}

// FormatPrice renders an oracle observation as a decimal string.
func FormatPrice(record tokenswap.PriceRecord) string {
	return decimal.New(record.Price, record.Exponent).String()
}

const schema = `
CREATE TABLE IF NOT EXISTS oracle_samples (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    feed TEXT NOT NULL,
    source TEXT NOT NULL,
    price INTEGER NOT NULL,
    exponent INTEGER NOT NULL,
    display TEXT NOT NULL,
    publish_time INTEGER NOT NULL,
    recorded_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_oracle_samples_feed_ts ON oracle_samples(feed, publish_time);

CREATE TABLE IF NOT EXISTS purchase_receipts (
    id TEXT PRIMARY KEY,
    call_id TEXT NOT NULL UNIQUE,
    buyer TEXT NOT NULL,
    payment_asset TEXT NOT NULL,
    paid_amount TEXT NOT NULL,
    output_asset TEXT NOT NULL,
    output_amount TEXT NOT NULL,
    output_display TEXT NOT NULL,
    feed TEXT NOT NULL,
    price TEXT NOT NULL,
    publish_time INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_purchase_receipts_buyer ON purchase_receipts(buyer, created_at);
`
