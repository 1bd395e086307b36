package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"tokenswap/core/events"
	"tokenswap/core/state"
	"tokenswap/core/types"
	"tokenswap/native/tokenswap"
	"tokenswap/observability"
)

var (
	// ErrWrongProgram is returned for calls addressed to another deployment.
	ErrWrongProgram = errors.New("core: call addressed to another program")
	// ErrUnknownMethod is returned for unsupported call methods.
	ErrUnknownMethod = errors.New("core: unknown call method")
	// ErrBadSignature is returned when the call signer cannot be recovered.
	ErrBadSignature = errors.New("core: invalid call signature")
	// ErrNonceMismatch is returned when the call nonce is not the signer's next nonce.
	ErrNonceMismatch = errors.New("core: nonce mismatch")
)

// Result captures the outcome of a committed call.
type Result struct {
	CallID  [32]byte
	Caller  [20]byte
	Method  types.CallMethod
	Nonce   uint64
	State   *tokenswap.TreasuryState
	Custody *tokenswap.Custody
	Receipt *tokenswap.Receipt
	Legs    []tokenswap.WithdrawLeg
	Events  []*types.Event
}

// Executor applies signed calls to the substrate one at a time. Each call
// commits as a whole or leaves no trace.
type Executor struct {
	mu      sync.Mutex
	manager *state.Manager
	engine  *tokenswap.Engine
	program [20]byte
	events  *events.Buffer
	logger  *slog.Logger
	nowFn   func() time.Time
}

// NewExecutor binds engine to manager under the given program identity. The
// executor takes ownership of the engine's event emitter.
func NewExecutor(manager *state.Manager, engine *tokenswap.Engine, program [20]byte, logger *slog.Logger) (*Executor, error) {
	if manager == nil {
		return nil, fmt.Errorf("core: state manager required")
	}
	if engine == nil {
		return nil, fmt.Errorf("core: engine required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	buffer := new(events.Buffer)
	engine.SetEmitter(buffer)
	return &Executor{
		manager: manager,
		engine:  engine,
		program: program,
		events:  buffer,
		logger:  logger.With(slog.String("component", "executor")),
		nowFn:   time.Now,
	}, nil
}

// SetNowFunc overrides the clock used for call timestamps. Intended for tests.
func (x *Executor) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	x.mu.Lock()
	x.nowFn = now
	x.mu.Unlock()
}

// Program returns the executing program identity.
func (x *Executor) Program() [20]byte { return x.program }

// Engine returns the wrapped exchange engine.
func (x *Executor) Engine() *tokenswap.Engine { return x.engine }

// Apply verifies and executes call.
func (x *Executor) Apply(ctx context.Context, call *types.Call) (*Result, error) {
	started := time.Now()
	method := "invalid"
	if call != nil {
		method = string(call.Method)
	}
	res, err := x.apply(ctx, call)
	observability.TokenSwap().ObserveCall(method, ErrorCode(err), time.Since(started))
	if err != nil {
		x.logger.Warn("call rejected",
			slog.String("method", method),
			slog.String("code", ErrorCode(err)),
			slog.String("error", err.Error()))
		return nil, err
	}
	if res.Receipt != nil {
		observability.TokenSwap().RecordPurchase(res.Receipt.PaymentAsset, res.Receipt.OutputAmount)
	}
	x.logger.Info("call committed",
		slog.String("method", method),
		slog.String("caller", fmt.Sprintf("%x", res.Caller)),
		slog.Uint64("nonce", res.Nonce))
	return res, nil
}

func (x *Executor) apply(ctx context.Context, call *types.Call) (*Result, error) {
	if call == nil {
		return nil, fmt.Errorf("core: nil call")
	}
	if call.Program != x.program {
		return nil, ErrWrongProgram
	}
	if !call.Method.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, call.Method)
	}
	if call.Amount != nil && call.Amount.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s", tokenswap.ErrInvalidAmount, call.Amount)
	}
	caller, err := call.From()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadSignature, err)
	}
	callID, err := call.ID()
	if err != nil {
		return nil, err
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	acct, err := x.manager.Account(caller)
	if err != nil {
		return nil, err
	}
	if call.Nonce != acct.Nonce {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrNonceMismatch, acct.Nonce, call.Nonce)
	}

	session := x.manager.NewSession(x.program, caller, callID, x.nowFn())
	res := &Result{CallID: callID, Caller: caller, Method: call.Method, Nonce: call.Nonce}
	if err := x.dispatch(ctx, session, call, res); err != nil {
		x.manager.Discard()
		x.events.Drain()
		return nil, err
	}
	acct.Nonce++
	if err := x.manager.PutAccount(caller, acct); err != nil {
		x.manager.Discard()
		x.events.Drain()
		return nil, err
	}
	if err := x.manager.Commit(); err != nil {
		x.manager.Discard()
		x.events.Drain()
		return nil, err
	}
	res.Events = x.events.Drain()
	for _, evt := range res.Events {
		observability.Events().RecordCommitted(evt.Type)
	}
	return res, nil
}

func (x *Executor) dispatch(ctx context.Context, session *state.Session, call *types.Call, res *Result) error {
	caller := session.Signer()
	amount := call.Amount
	if amount == nil {
		amount = new(big.Int)
	}
	var err error
	switch call.Method {
	case types.MethodInitializeState:
		res.State, err = x.engine.InitializeState(ctx, session, caller, call.AssetA, call.AssetB, call.Output)
	case types.MethodInitializeCustody:
		var custody tokenswap.Custody
		custody, err = x.engine.InitializeCustody(ctx, session, caller)
		res.Custody = &custody
	case types.MethodDeposit:
		err = x.engine.Deposit(ctx, session, caller, amount)
	case types.MethodWithdraw:
		res.Legs, err = x.engine.Withdraw(ctx, session, caller)
	case types.MethodUpdateAdmin:
		err = x.engine.UpdateAdmin(ctx, session, caller, call.Target)
	case types.MethodBuyWithNative:
		res.Receipt, err = x.engine.BuyWithNative(ctx, session, caller, amount)
	case types.MethodBuyWithAsset:
		res.Receipt, err = x.engine.BuyWithAsset(ctx, session, caller, call.Asset, amount)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownMethod, call.Method)
	}
	return err
}

// Quote prices a purchase against committed state without side effects.
func (x *Executor) Quote(ctx context.Context, asset string, amount *big.Int) (*tokenswap.Quote, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	session := x.manager.NewSession(x.program, [20]byte{}, [32]byte{}, x.nowFn())
	defer x.manager.Discard()
	return x.engine.Quote(ctx, session, asset, amount)
}

// TreasuryState returns the committed treasury record.
func (x *Executor) TreasuryState() (*tokenswap.TreasuryState, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	session := x.manager.NewSession(x.program, [20]byte{}, [32]byte{}, x.nowFn())
	return x.engine.LoadState(session)
}

// Account returns the nonce and balances of addr.
func (x *Executor) Account(addr [20]byte) (*types.Account, []types.Balance, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	acct, err := x.manager.Account(addr)
	if err != nil {
		return nil, nil, err
	}
	balances, err := x.manager.Balances(addr)
	if err != nil {
		return nil, nil, err
	}
	return acct, balances, nil
}

// Token returns the registered metadata for symbol.
func (x *Executor) Token(symbol string) (*types.TokenMetadata, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.manager.Token(symbol)
}

// ErrorCode maps an error to the stable code reported to clients and used as
// a metrics label.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, tokenswap.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, tokenswap.ErrInvalidAsset):
		return "invalid_asset"
	case errors.Is(err, tokenswap.ErrStalePrice):
		return "stale_price"
	case errors.Is(err, tokenswap.ErrFeedNotFound):
		return "feed_not_found"
	case errors.Is(err, tokenswap.ErrInvalidPrice):
		return "invalid_price"
	case errors.Is(err, tokenswap.ErrMinimumNotMet):
		return "minimum_not_met"
	case errors.Is(err, tokenswap.ErrMaximumExceeded):
		return "maximum_exceeded"
	case errors.Is(err, tokenswap.ErrInsufficientTreasuryLiquidity):
		return "insufficient_treasury_liquidity"
	case errors.Is(err, tokenswap.ErrTransferFailed):
		return "transfer_failed"
	case errors.Is(err, tokenswap.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, tokenswap.ErrStateExists):
		return "state_exists"
	case errors.Is(err, tokenswap.ErrStateNotInitialised):
		return "state_not_initialised"
	case errors.Is(err, tokenswap.ErrInvalidAdmin):
		return "invalid_admin"
	case errors.Is(err, tokenswap.ErrCustodyNotControlled):
		return "custody_not_controlled"
	case errors.Is(err, state.ErrUnknownToken):
		return "unknown_token"
	case errors.Is(err, ErrWrongProgram):
		return "wrong_program"
	case errors.Is(err, ErrUnknownMethod):
		return "unknown_method"
	case errors.Is(err, ErrBadSignature):
		return "bad_signature"
	case errors.Is(err, ErrNonceMismatch):
		return "nonce_mismatch"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	}
	return "internal"
}
