package tokenswap

import (
	"context"
	"fmt"
	"math/big"

	"tokenswap/core/events"
	"tokenswap/core/types"
)

// Config wires an Engine to its signer, custody layout and oracle.
type Config struct {
	NativeAsset string
	Signer      TreasurySigner
	Custody     Custody
	Oracle      Oracle
	Feeds       Feeds
	Policy      Policy
}

// Engine settles purchases of the output asset against treasury custody and
// runs the administrative operations. It keeps no state of its own; every
// operation reads and writes through the State it is handed.
type Engine struct {
	native  string
	signer  TreasurySigner
	custody Custody
	oracle  Oracle
	feeds   Feeds
	policy  Policy
	emitter events.Emitter
}

// NewEngine validates cfg and constructs an engine.
func NewEngine(cfg Config) (*Engine, error) {
	native := normaliseSymbol(cfg.NativeAsset)
	if native == "" {
		return nil, fmt.Errorf("tokenswap: native asset required")
	}
	if cfg.Signer == nil {
		return nil, fmt.Errorf("tokenswap: treasury signer required")
	}
	if cfg.Oracle == nil {
		return nil, fmt.Errorf("tokenswap: oracle required")
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}
	zero := [20]byte{}
	for _, role := range []AssetRole{RoleNative, RoleOutput, RoleAssetA, RoleAssetB} {
		if cfg.Custody.Address(role) == zero {
			return nil, fmt.Errorf("tokenswap: %s custody address required", role)
		}
	}
	return &Engine{
		native:  native,
		signer:  cfg.Signer,
		custody: cfg.Custody,
		oracle:  cfg.Oracle,
		feeds:   cfg.Feeds,
		policy:  cfg.Policy,
		emitter: events.NoopEmitter{},
	}, nil
}

// SetEmitter configures the event emitter used by the engine.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

// Custody returns the configured custody layout.
func (e *Engine) Custody() Custody { return e.custody }

// Authority returns the treasury signer's authority address.
func (e *Engine) Authority() [20]byte { return e.signer.Authority() }

// NativeAsset returns the symbol of the native currency.
func (e *Engine) NativeAsset() string { return e.native }

// Policy returns the active trade policy.
func (e *Engine) Policy() Policy { return e.policy }

// LoadState returns the treasury record.
func (e *Engine) LoadState(st State) (*TreasuryState, error) {
	record := new(TreasuryState)
	ok, err := st.KVGet(stateKey, record)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrStateNotInitialised
	}
	return record, nil
}

func (e *Engine) requireAdmin(st State, caller [20]byte) (*TreasuryState, error) {
	record, err := e.LoadState(st)
	if err != nil {
		return nil, err
	}
	if record.Admin != caller {
		return nil, ErrUnauthorized
	}
	return record, nil
}

// atomic runs fn inside a snapshot and reverts every write on failure.
func atomic(st State, fn func() error) error {
	snap := st.Snapshot()
	if err := fn(); err != nil {
		st.RevertToSnapshot(snap)
		return err
	}
	return nil
}

func (e *Engine) assetFor(record *TreasuryState, role AssetRole) string {
	switch role {
	case RoleNative:
		return e.native
	case RoleOutput:
		return normaliseSymbol(record.Output)
	case RoleAssetA:
		return normaliseSymbol(record.AssetA)
	case RoleAssetB:
		return normaliseSymbol(record.AssetB)
	}
	return ""
}

func (e *Engine) transferIn(st State, asset string, from, to [20]byte, amount *big.Int) error {
	instr := types.TransferInstruction{Asset: asset, From: from, To: to, Amount: amount, CallID: st.CallID()}
	if err := st.Transfer(instr, types.CallerAuthorization()); err != nil {
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	return nil
}

func (e *Engine) transferOut(st State, asset string, from, to [20]byte, amount *big.Int) error {
	instr := types.TransferInstruction{Asset: asset, From: from, To: to, Amount: amount, CallID: st.CallID()}
	auth, err := e.signer.Authorize(instr)
	if err != nil {
		return fmt.Errorf("%w: authorize: %w", ErrTransferFailed, err)
	}
	if err := st.Transfer(instr, auth); err != nil {
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	return nil
}

// InitializeState creates the treasury record with caller as administrator.
func (e *Engine) InitializeState(ctx context.Context, st State, caller [20]byte, assetA, assetB, output string) (*TreasuryState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	exists, err := st.KVGet(stateKey, nil)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrStateExists
	}
	record := &TreasuryState{
		Admin:  caller,
		AssetA: normaliseSymbol(assetA),
		AssetB: normaliseSymbol(assetB),
		Output: normaliseSymbol(output),
	}
	if err := e.validateAssets(st, record); err != nil {
		return nil, err
	}
	if err := st.KVPut(stateKey, record); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.StateInitialized{Admin: record.Admin, AssetA: record.AssetA, AssetB: record.AssetB, Output: record.Output})
	return record.Clone(), nil
}

func (e *Engine) validateAssets(st State, record *TreasuryState) error {
	seen := map[string]struct{}{e.native: {}}
	for _, symbol := range []string{record.Output, record.AssetA, record.AssetB} {
		if symbol == "" {
			return fmt.Errorf("%w: asset symbol required", ErrInvalidAsset)
		}
		if _, dup := seen[symbol]; dup {
			return fmt.Errorf("%w: %s used for more than one leg", ErrInvalidAsset, symbol)
		}
		seen[symbol] = struct{}{}
	}
	for symbol := range seen {
		if _, err := st.Token(symbol); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidAsset, err)
		}
	}
	return nil
}

// InitializeCustody binds derived custody accounts to the treasury authority,
// or verifies that external custody is already controlled by it.
func (e *Engine) InitializeCustody(ctx context.Context, st State, caller [20]byte) (Custody, error) {
	if err := ctx.Err(); err != nil {
		return Custody{}, err
	}
	if _, err := e.requireAdmin(st, caller); err != nil {
		return Custody{}, err
	}
	authority := e.signer.Authority()
	err := atomic(st, func() error {
		for _, role := range []AssetRole{RoleNative, RoleOutput, RoleAssetA, RoleAssetB} {
			addr := e.custody.Address(role)
			if e.custody.Derived() {
				bound, err := st.BindProgramAccount([][]byte{custodySeed(role)}, authority)
				if err != nil {
					return fmt.Errorf("%w: %s: %w", ErrCustodyNotControlled, role, err)
				}
				if bound != addr {
					return fmt.Errorf("%w: %s custody derives to a different account", ErrCustodyNotControlled, role)
				}
				continue
			}
			acct, err := st.Account(addr)
			if err != nil {
				return err
			}
			if acct.Controller(addr) != authority {
				return fmt.Errorf("%w: %s", ErrCustodyNotControlled, role)
			}
		}
		return nil
	})
	if err != nil {
		return Custody{}, err
	}
	e.emitter.Emit(events.CustodyInitialized{
		Authority: authority,
		Native:    e.custody.Native,
		Output:    e.custody.Output,
		AssetA:    e.custody.AssetA,
		AssetB:    e.custody.AssetB,
	})
	return e.custody, nil
}

// Deposit moves amount of the output asset from the administrator into
// output custody.
func (e *Engine) Deposit(ctx context.Context, st State, caller [20]byte, amount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	record, err := e.requireAdmin(st, caller)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	output := e.assetFor(record, RoleOutput)
	err = atomic(st, func() error {
		return e.transferIn(st, output, caller, e.custody.Output, amount)
	})
	if err != nil {
		return err
	}
	e.emitter.Emit(events.Deposited{Admin: caller, Asset: output, Amount: new(big.Int).Set(amount)})
	return nil
}

// Withdraw sweeps the full balance of every custody account to the
// administrator. Zero-balance legs are skipped.
func (e *Engine) Withdraw(ctx context.Context, st State, caller [20]byte) ([]WithdrawLeg, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	record, err := e.requireAdmin(st, caller)
	if err != nil {
		return nil, err
	}
	legs := make([]WithdrawLeg, 0, 4)
	err = atomic(st, func() error {
		for _, role := range []AssetRole{RoleNative, RoleOutput, RoleAssetA, RoleAssetB} {
			asset := e.assetFor(record, role)
			source := e.custody.Address(role)
			balance, err := st.Balance(source, asset)
			if err != nil {
				return err
			}
			if balance.Sign() == 0 {
				continue
			}
			if err := e.transferOut(st, asset, source, caller, balance); err != nil {
				return err
			}
			legs = append(legs, WithdrawLeg{Asset: asset, Amount: balance})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, leg := range legs {
		e.emitter.Emit(events.Withdrawn{Admin: caller, Asset: leg.Asset, Amount: new(big.Int).Set(leg.Amount)})
	}
	return legs, nil
}

// UpdateAdmin hands administration to newAdmin.
func (e *Engine) UpdateAdmin(ctx context.Context, st State, caller, newAdmin [20]byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	record, err := e.requireAdmin(st, caller)
	if err != nil {
		return err
	}
	if newAdmin == ([20]byte{}) {
		return ErrInvalidAdmin
	}
	previous := record.Admin
	record.Admin = newAdmin
	if err := st.KVPut(stateKey, record); err != nil {
		return err
	}
	e.emitter.Emit(events.AdminUpdated{Previous: previous, Next: newAdmin})
	return nil
}

type purchase struct {
	record       *TreasuryState
	paymentRole  AssetRole
	paymentAsset string
	price        PriceRecord
	quantity     *big.Int
	decimals     uint8
	balance      *big.Int
}

func (e *Engine) price(ctx context.Context, st State, asset string, amount *big.Int) (*purchase, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	record, err := e.LoadState(st)
	if err != nil {
		return nil, err
	}
	p := &purchase{record: record}
	normalized := normaliseSymbol(asset)
	if normalized == "" || normalized == e.native {
		p.paymentRole = RoleNative
		p.price, err = PriceNoOlderThan(ctx, e.oracle, e.feeds.Native, e.policy.NativeMaxAge, st.Now())
		if err != nil {
			return nil, err
		}
	} else {
		var feed FeedID
		p.paymentRole, feed, err = e.feeds.ResolveStable(record, normalized)
		if err != nil {
			return nil, err
		}
		// The stable price is checked for freshness only; stable legs
		// are valued at one USD per whole unit.
		p.price, err = PriceNoOlderThan(ctx, e.oracle, feed, e.policy.StableMaxAge, st.Now())
		if err != nil {
			return nil, err
		}
	}
	p.paymentAsset = e.assetFor(record, p.paymentRole)

	output := e.assetFor(record, RoleOutput)
	meta, err := st.Token(output)
	if err != nil {
		return nil, err
	}
	p.decimals = meta.Decimals
	if p.paymentRole == RoleNative {
		p.quantity, err = QuoteNative(e.policy, p.price, amount, p.decimals)
	} else {
		p.quantity, err = QuoteStable(e.policy, amount, p.decimals)
	}
	if err != nil {
		return nil, err
	}
	p.balance, err = st.Balance(e.custody.Output, output)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (e *Engine) settle(ctx context.Context, st State, caller [20]byte, asset string, amount *big.Int) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := e.price(ctx, st, asset, amount)
	if err != nil {
		return nil, err
	}
	if err := e.policy.CheckPurchase(p.quantity, p.balance, p.decimals); err != nil {
		return nil, err
	}
	output := e.assetFor(p.record, RoleOutput)
	err = atomic(st, func() error {
		if err := e.transferIn(st, p.paymentAsset, caller, e.custody.Address(p.paymentRole), amount); err != nil {
			return err
		}
		return e.transferOut(st, output, e.custody.Output, caller, p.quantity)
	})
	if err != nil {
		return nil, err
	}
	receipt := &Receipt{
		CallID:       st.CallID(),
		Buyer:        caller,
		PaymentAsset: p.paymentAsset,
		PaidAmount:   new(big.Int).Set(amount),
		OutputAsset:  output,
		OutputAmount: new(big.Int).Set(p.quantity),
		Price:        p.price,
	}
	e.emitter.Emit(events.Purchased{
		Buyer:        caller,
		PaymentAsset: receipt.PaymentAsset,
		PaidAmount:   receipt.PaidAmount,
		OutputAsset:  output,
		OutputAmount: receipt.OutputAmount,
		Price:        p.price.Price,
		Exponent:     p.price.Exponent,
		PublishTime:  p.price.PublishTime.Unix(),
	})
	return receipt, nil
}

// BuyWithNative sells the output asset for amount native base units.
func (e *Engine) BuyWithNative(ctx context.Context, st State, caller [20]byte, amount *big.Int) (*Receipt, error) {
	return e.settle(ctx, st, caller, e.native, amount)
}

// BuyWithAsset sells the output asset for amount base units of one of the two
// approved stable assets.
func (e *Engine) BuyWithAsset(ctx context.Context, st State, caller [20]byte, asset string, amount *big.Int) (*Receipt, error) {
	normalized := normaliseSymbol(asset)
	if normalized == e.native {
		return nil, fmt.Errorf("%w: %s is the native currency", ErrInvalidAsset, normalized)
	}
	if normalized == "" {
		return nil, fmt.Errorf("%w: asset required", ErrInvalidAsset)
	}
	return e.settle(ctx, st, caller, normalized, amount)
}

// Quote prices a purchase without moving funds. Trade-guard failures are
// reported in Quote.Violation rather than as an error.
func (e *Engine) Quote(ctx context.Context, st State, asset string, amount *big.Int) (*Quote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := e.price(ctx, st, asset, amount)
	if err != nil {
		return nil, err
	}
	return &Quote{
		PaymentAsset:    p.paymentAsset,
		PaidAmount:      new(big.Int).Set(amount),
		OutputAsset:     e.assetFor(p.record, RoleOutput),
		OutputAmount:    p.quantity,
		OutputDecimals:  p.decimals,
		Price:           p.price,
		TreasuryBalance: p.balance,
		Violation:       e.policy.CheckPurchase(p.quantity, p.balance, p.decimals),
	}, nil
}
