package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/go-resty/resty/v2"

	"tokenswap/native/tokenswap"
)

const hermesLatestPath = "/v2/updates/price/latest"

// HermesOptions tunes the Hermes HTTP client.
type HermesOptions struct {
	Timeout    time.Duration
	RetryCount int
	UserAgent  string
}

// Hermes fetches signed Pyth price updates from a Hermes endpoint and returns
// the parsed observations.
type Hermes struct {
	name   string
	client *resty.Client
}

// NewHermes builds a client rooted at endpoint.
func NewHermes(endpoint string, opts HermesOptions) *Hermes {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "tokenswapd"
	}
	client := resty.New().
		SetBaseURL(endpoint).
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.RetryCount).
		SetRetryWaitTime(250*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", opts.UserAgent)
	return &Hermes{name: "hermes", client: client}
}

// Name identifies the source in logs and samples.
func (h *Hermes) Name() string { return h.name }

type hermesPrice struct {
	Price       string `json:"price"`
	Conf        string `json:"conf"`
	Expo        int32  `json:"expo"`
	PublishTime int64  `json:"publish_time"`
}

type hermesParsed struct {
	ID    string      `json:"id"`
	Price hermesPrice `json:"price"`
}

type hermesResponse struct {
	Parsed []hermesParsed `json:"parsed"`
}

// Fetch returns the latest observation for every requested feed that Hermes
// reported. Feeds missing from the response are omitted.
func (h *Hermes) Fetch(ctx context.Context, feeds []tokenswap.FeedID) ([]tokenswap.PriceRecord, error) {
	if len(feeds) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(feeds))
	for _, feed := range feeds {
		ids = append(ids, feed.Hex())
	}
	resp, err := h.client.R().
		SetContext(ctx).
		SetQueryParamsFromValues(map[string][]string{
			"ids[]":  ids,
			"parsed": {"true"},
		}).
		Get(hermesLatestPath)
	if err != nil {
		return nil, fmt.Errorf("hermes: request: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("hermes: status %d: %s", resp.StatusCode(), strings.TrimSpace(string(resp.Body())))
	}
	var payload hermesResponse
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return nil, fmt.Errorf("hermes: decode: %w", err)
	}

	wanted := make(map[tokenswap.FeedID]struct{}, len(feeds))
	for _, feed := range feeds {
		wanted[feed] = struct{}{}
	}
	records := make([]tokenswap.PriceRecord, 0, len(payload.Parsed))
	for _, entry := range payload.Parsed {
		record, err := entry.record()
		if err != nil {
			return nil, err
		}
		if _, ok := wanted[record.Feed]; !ok {
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

func (p hermesParsed) record() (tokenswap.PriceRecord, error) {
	raw := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(p.ID)), "0x")
	if len(raw) != 64 {
		return tokenswap.PriceRecord{}, fmt.Errorf("hermes: malformed feed id %q", p.ID)
	}
	price, err := strconv.ParseInt(strings.TrimSpace(p.Price.Price), 10, 64)
	if err != nil {
		return tokenswap.PriceRecord{}, fmt.Errorf("hermes: feed %s price %q: %w", raw, p.Price.Price, err)
	}
	return tokenswap.PriceRecord{
		Feed:        ethcommon.HexToHash("0x" + raw),
		Price:       price,
		Exponent:    p.Price.Expo,
		PublishTime: time.Unix(p.Price.PublishTime, 0).UTC(),
	}, nil
}
