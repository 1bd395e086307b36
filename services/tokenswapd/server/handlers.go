package server

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"tokenswap/core"
	"tokenswap/core/types"
	"tokenswap/crypto"
	"tokenswap/native/tokenswap"
	"tokenswap/services/tokenswapd/storage"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

func writeCallError(w http.ResponseWriter, err error) {
	code := core.ErrorCode(err)
	writeError(w, statusFor(code), code, err.Error())
}

// statusFor maps an error code to its HTTP status.
func statusFor(code string) int {
	switch code {
	case "unauthorized":
		return http.StatusForbidden
	case "bad_signature":
		return http.StatusUnauthorized
	case "nonce_mismatch", "state_exists":
		return http.StatusConflict
	case "wrong_program", "unknown_method", "invalid_amount", "invalid_asset", "unknown_token", "invalid_admin":
		return http.StatusBadRequest
	case "stale_price", "feed_not_found", "invalid_price",
		"minimum_not_met", "maximum_exceeded", "insufficient_treasury_liquidity",
		"transfer_failed", "state_not_initialised", "custody_not_controlled":
		return http.StatusUnprocessableEntity
	case "cancelled":
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func accountString(addr [20]byte) string {
	return crypto.NewAddress(crypto.AccountPrefix, addr[:]).String()
}

func programString(addr [20]byte) string {
	return crypto.NewAddress(crypto.ProgramPrefix, addr[:]).String()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type stateView struct {
	Admin  string `json:"admin"`
	AssetA string `json:"assetA"`
	AssetB string `json:"assetB"`
	Output string `json:"output"`
}

func newStateView(st *tokenswap.TreasuryState) *stateView {
	if st == nil {
		return nil
	}
	return &stateView{Admin: accountString(st.Admin), AssetA: st.AssetA, AssetB: st.AssetB, Output: st.Output}
}

type custodyView struct {
	Derived bool   `json:"derived"`
	Native  string `json:"native"`
	Output  string `json:"output"`
	AssetA  string `json:"assetA"`
	AssetB  string `json:"assetB"`
}

func newCustodyView(c *tokenswap.Custody) *custodyView {
	if c == nil {
		return nil
	}
	return &custodyView{
		Derived: c.Derived(),
		Native:  accountString(c.Address(tokenswap.RoleNative)),
		Output:  accountString(c.Address(tokenswap.RoleOutput)),
		AssetA:  accountString(c.Address(tokenswap.RoleAssetA)),
		AssetB:  accountString(c.Address(tokenswap.RoleAssetB)),
	}
}

type legView struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type callResponse struct {
	CallID    string                 `json:"callId"`
	Caller    string                 `json:"caller"`
	Method    types.CallMethod       `json:"method"`
	Nonce     uint64                 `json:"nonce"`
	State     *stateView             `json:"state,omitempty"`
	Custody   *custodyView           `json:"custody,omitempty"`
	Receipt   *storage.ReceiptRecord `json:"receipt,omitempty"`
	Withdrawn []legView              `json:"withdrawn,omitempty"`
	Events    []*types.Event         `json:"events"`
}

func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "read body")
		return
	}
	if len(body) > maxCallBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "invalid_request", "call too large")
		return
	}
	var call types.Call
	if err := json.Unmarshal(body, &call); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "decode call: "+err.Error())
		return
	}

	res, err := s.backend.Apply(r.Context(), &call)
	if err != nil {
		writeCallError(w, err)
		return
	}

	resp := callResponse{
		CallID:  "0x" + hex.EncodeToString(res.CallID[:]),
		Caller:  accountString(res.Caller),
		Method:  res.Method,
		Nonce:   res.Nonce,
		State:   newStateView(res.State),
		Custody: newCustodyView(res.Custody),
		Events:  res.Events,
	}
	for _, leg := range res.Legs {
		resp.Withdrawn = append(resp.Withdrawn, legView{Asset: leg.Asset, Amount: leg.Amount.String()})
	}
	if res.Receipt != nil {
		resp.Receipt = s.persistReceipt(r, res.Receipt)
	}
	if resp.Events == nil {
		resp.Events = []*types.Event{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// persistReceipt records the audit copy of a committed purchase. The purchase
// is already final, so store failures are logged and not surfaced.
func (s *Server) persistReceipt(r *http.Request, receipt *tokenswap.Receipt) *storage.ReceiptRecord {
	var decimals uint8
	if meta, err := s.backend.Token(receipt.OutputAsset); err == nil {
		decimals = meta.Decimals
	}
	rec, err := storage.NewReceiptRecord(receipt, decimals, s.now())
	if err != nil {
		s.logger.Error("build receipt", slog.Any("error", err))
		return nil
	}
	if err := s.storage.InsertReceipt(r.Context(), rec); err != nil {
		s.logger.Error("persist receipt", slog.String("receipt", rec.ID), slog.Any("error", err))
	}
	return &rec
}

type quoteResponse struct {
	PaymentAsset    string `json:"paymentAsset"`
	PaidAmount      string `json:"paidAmount"`
	OutputAsset     string `json:"outputAsset"`
	OutputAmount    string `json:"outputAmount"`
	OutputDisplay   string `json:"outputDisplay"`
	Feed            string `json:"feed"`
	Price           string `json:"price"`
	PublishTime     int64  `json:"publishTime"`
	TreasuryBalance string `json:"treasuryBalance"`
	Executable      bool   `json:"executable"`
	Violation       string `json:"violation,omitempty"`
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	asset := strings.TrimSpace(r.URL.Query().Get("asset"))
	if asset == "" {
		asset = s.backend.Engine().NativeAsset()
	}
	amount, ok := new(big.Int).SetString(strings.TrimSpace(r.URL.Query().Get("amount")), 10)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_amount", "amount must be an integer in base units")
		return
	}
	quote, err := s.backend.Quote(r.Context(), asset, amount)
	if err != nil {
		writeCallError(w, err)
		return
	}
	resp := quoteResponse{
		PaymentAsset:    quote.PaymentAsset,
		PaidAmount:      quote.PaidAmount.String(),
		OutputAsset:     quote.OutputAsset,
		OutputAmount:    quote.OutputAmount.String(),
		OutputDisplay:   storage.FormatUnits(quote.OutputAmount, quote.OutputDecimals),
		Feed:            quote.Price.Feed.Hex(),
		Price:           storage.FormatPrice(quote.Price),
		PublishTime:     quote.Price.PublishTime.Unix(),
		TreasuryBalance: quote.TreasuryBalance.String(),
		Executable:      quote.Violation == nil,
	}
	if quote.Violation != nil {
		resp.Violation = core.ErrorCode(quote.Violation)
	}
	writeJSON(w, http.StatusOK, resp)
}

type policyView struct {
	OutputUnitPriceUSD string  `json:"outputUnitPriceUsd"`
	MinPurchase        uint64  `json:"minPurchase"`
	MaxPurchase        uint64  `json:"maxPurchase"`
	NativeMaxAge       float64 `json:"nativeMaxAgeSeconds"`
	StableMaxAge       float64 `json:"stableMaxAgeSeconds"`
}

type treasuryResponse struct {
	Program   string `json:"program"`
	Authority string `json:"authority"`
	// StateRecord equals Authority unless the treasury signs with a held key.
	StateRecord string       `json:"stateRecord"`
	NativeAsset string       `json:"nativeAsset"`
	Initialized bool         `json:"initialized"`
	State       *stateView   `json:"state,omitempty"`
	Custody     *custodyView `json:"custody"`
	Policy      policyView   `json:"policy"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	engine := s.backend.Engine()
	program := s.backend.Program()
	custody := engine.Custody()
	policy := engine.Policy()
	resp := treasuryResponse{
		Program:     programString(program),
		Authority:   accountString(engine.Authority()),
		StateRecord: accountString(tokenswap.StateAddress(program)),
		NativeAsset: engine.NativeAsset(),
		Custody:     newCustodyView(&custody),
		Policy: policyView{
			OutputUnitPriceUSD: tokenswap.OutputUnitPriceUSD,
			MinPurchase:        policy.MinPurchase,
			MaxPurchase:        policy.MaxPurchase,
			NativeMaxAge:       policy.NativeMaxAge.Seconds(),
			StableMaxAge:       policy.StableMaxAge.Seconds(),
		},
	}
	st, err := s.backend.TreasuryState()
	switch {
	case err == nil:
		resp.Initialized = true
		resp.State = newStateView(st)
	case errors.Is(err, tokenswap.ErrStateNotInitialised):
	default:
		writeCallError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type accountResponse struct {
	Address  string                  `json:"address"`
	Nonce    uint64                  `json:"nonce"`
	Owner    string                  `json:"owner,omitempty"`
	Balances []legView               `json:"balances"`
	Receipts []storage.ReceiptRecord `json:"receipts,omitempty"`
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := crypto.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_address", err.Error())
		return
	}
	acct, balances, err := s.backend.Account(addr)
	if err != nil {
		writeCallError(w, err)
		return
	}
	resp := accountResponse{Address: accountString(addr), Nonce: acct.Nonce, Balances: []legView{}}
	if acct.Owner != ([20]byte{}) {
		resp.Owner = accountString(acct.Owner)
	}
	for _, bal := range balances {
		resp.Balances = append(resp.Balances, legView{Asset: bal.Asset, Amount: bal.Amount.String()})
	}
	if r.URL.Query().Get("receipts") == "true" {
		receipts, err := s.storage.ReceiptsByBuyer(r.Context(), resp.Address, 100)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal", "load receipts")
			return
		}
		resp.Receipts = receipts
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReceipt(w http.ResponseWriter, r *http.Request) {
	rec, err := s.storage.GetReceipt(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "receipt not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "load receipt")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
