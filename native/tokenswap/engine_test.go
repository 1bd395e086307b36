package tokenswap

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"tokenswap/core/events"
	"tokenswap/core/state"
	"tokenswap/core/types"
	"tokenswap/crypto"
	"tokenswap/storage"
)

var (
	testProgram = [20]byte{0xaa, 0xbb}
	testAdmin   = [20]byte{0x01}
	testBuyer   = [20]byte{0x02}
	testNow     = time.Unix(1_700_000_000, 0)
)

type harness struct {
	t       *testing.T
	manager *state.Manager
	oracle  *ManualOracle
	engine  *Engine
	events  *events.Buffer
	calls   byte
}

func unitsOf(n int64, decimals uint8) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), pow10(decimals))
}

func newHarness(t *testing.T, signer TreasurySigner, custody Custody) *harness {
	t.Helper()
	m := state.NewManager(storage.NewMemDB())
	for _, token := range []struct {
		symbol   string
		decimals uint8
	}{{"SOL", 9}, {"TSW", 6}, {"USDC", 6}, {"USDT", 6}} {
		if err := m.RegisterToken(token.symbol, token.symbol, token.decimals); err != nil {
			t.Fatalf("register %s: %v", token.symbol, err)
		}
	}
	oracle := NewManualOracle()
	oracle.Set(PriceRecord{Feed: DefaultNativeFeed, Price: 15_000_000_000, Exponent: -8, PublishTime: testNow.Add(-10 * time.Second)})
	oracle.Set(PriceRecord{Feed: DefaultAssetAFeed, Price: 99_990_000, Exponent: -8, PublishTime: testNow.Add(-10 * time.Second)})
	oracle.Set(PriceRecord{Feed: DefaultAssetBFeed, Price: 100_010_000, Exponent: -8, PublishTime: testNow.Add(-10 * time.Second)})
	engine, err := NewEngine(Config{
		NativeAsset: "SOL",
		Signer:      signer,
		Custody:     custody,
		Oracle:      oracle,
		Feeds:       DefaultFeeds(),
		Policy:      DefaultPolicy(),
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	buffer := new(events.Buffer)
	engine.SetEmitter(buffer)
	return &harness{t: t, manager: m, oracle: oracle, engine: engine, events: buffer}
}

func newDerivedHarness(t *testing.T) *harness {
	t.Helper()
	h := newHarness(t, NewDerivedSigner(testProgram), DerivedCustody(testProgram))
	h.bootstrap()
	return h
}

func (h *harness) session(signer [20]byte) *state.Session {
	h.calls++
	return h.manager.NewSession(testProgram, signer, [32]byte{h.calls}, testNow)
}

func (h *harness) bootstrap() {
	h.t.Helper()
	ctx := context.Background()
	if _, err := h.engine.InitializeState(ctx, h.session(testAdmin), testAdmin, "usdc", "USDT", "tsw"); err != nil {
		h.t.Fatalf("initialize state: %v", err)
	}
	if _, err := h.engine.InitializeCustody(ctx, h.session(testAdmin), testAdmin); err != nil {
		h.t.Fatalf("initialize custody: %v", err)
	}
	h.credit(testAdmin, "TSW", unitsOf(10_000_000, 6))
	if err := h.engine.Deposit(ctx, h.session(testAdmin), testAdmin, unitsOf(1_000_000, 6)); err != nil {
		h.t.Fatalf("deposit: %v", err)
	}
	h.events.Drain()
}

func (h *harness) credit(addr [20]byte, asset string, amount *big.Int) {
	h.t.Helper()
	if err := h.manager.Credit(addr, asset, amount); err != nil {
		h.t.Fatalf("credit %s: %v", asset, err)
	}
}

func (h *harness) balance(addr [20]byte, asset string) *big.Int {
	h.t.Helper()
	bal, err := h.manager.Balance(addr, asset)
	if err != nil {
		h.t.Fatalf("balance %s: %v", asset, err)
	}
	return bal
}

func TestInitializeStateOnce(t *testing.T) {
	h := newHarness(t, NewDerivedSigner(testProgram), DerivedCustody(testProgram))
	ctx := context.Background()
	record, err := h.engine.InitializeState(ctx, h.session(testAdmin), testAdmin, "usdc", "usdt", "tsw")
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if record.Admin != testAdmin || record.AssetA != "USDC" || record.Output != "TSW" {
		t.Fatalf("unexpected record %+v", record)
	}
	if _, err := h.engine.InitializeState(ctx, h.session(testBuyer), testBuyer, "usdc", "usdt", "tsw"); !errors.Is(err, ErrStateExists) {
		t.Fatalf("expected state exists, got %v", err)
	}
	emitted := h.events.Drain()
	if len(emitted) != 1 || emitted[0].Type != events.TypeStateInitialized {
		t.Fatalf("unexpected events %+v", emitted)
	}
}

func TestInitializeStateRejectsBadAssets(t *testing.T) {
	h := newHarness(t, NewDerivedSigner(testProgram), DerivedCustody(testProgram))
	ctx := context.Background()
	cases := map[string][3]string{
		"unregistered": {"DAI", "USDT", "TSW"},
		"duplicate":    {"USDC", "USDC", "TSW"},
		"native leg":   {"SOL", "USDT", "TSW"},
		"empty":        {"", "USDT", "TSW"},
	}
	for name, assets := range cases {
		if _, err := h.engine.InitializeState(ctx, h.session(testAdmin), testAdmin, assets[0], assets[1], assets[2]); !errors.Is(err, ErrInvalidAsset) {
			t.Fatalf("%s: expected invalid asset, got %v", name, err)
		}
	}
}

func TestOperationsBeforeInitialisation(t *testing.T) {
	h := newHarness(t, NewDerivedSigner(testProgram), DerivedCustody(testProgram))
	ctx := context.Background()
	if _, err := h.engine.BuyWithNative(ctx, h.session(testBuyer), testBuyer, big.NewInt(1)); !errors.Is(err, ErrStateNotInitialised) {
		t.Fatalf("expected not initialised, got %v", err)
	}
	if _, err := h.engine.Withdraw(ctx, h.session(testAdmin), testAdmin); !errors.Is(err, ErrStateNotInitialised) {
		t.Fatalf("expected not initialised, got %v", err)
	}
}

func TestBuyWithNativeSettles(t *testing.T) {
	h := newDerivedHarness(t)
	custody := h.engine.Custody()
	h.credit(testBuyer, "SOL", unitsOf(10, 9))

	receipt, err := h.engine.BuyWithNative(context.Background(), h.session(testBuyer), testBuyer, unitsOf(1, 9))
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	// 1 SOL at $150 buys 7,500 output units.
	if receipt.OutputAmount.Cmp(unitsOf(7_500, 6)) != 0 {
		t.Fatalf("unexpected output %s", receipt.OutputAmount)
	}
	if got := h.balance(testBuyer, "TSW"); got.Cmp(unitsOf(7_500, 6)) != 0 {
		t.Fatalf("buyer output balance %s", got)
	}
	if got := h.balance(testBuyer, "SOL"); got.Cmp(unitsOf(9, 9)) != 0 {
		t.Fatalf("buyer native balance %s", got)
	}
	if got := h.balance(custody.Native, "SOL"); got.Cmp(unitsOf(1, 9)) != 0 {
		t.Fatalf("native custody balance %s", got)
	}
	if got := h.balance(custody.Output, "TSW"); got.Cmp(unitsOf(1_000_000-7_500, 6)) != 0 {
		t.Fatalf("output custody balance %s", got)
	}
	emitted := h.events.Drain()
	if len(emitted) != 1 || emitted[0].Type != events.TypePurchased {
		t.Fatalf("unexpected events %+v", emitted)
	}
	if emitted[0].Attribute("outputAmount") != "7500000000" {
		t.Fatalf("unexpected event amount %q", emitted[0].Attribute("outputAmount"))
	}
}

func TestBuyWithNativeScenarioBelowFloor(t *testing.T) {
	h := newDerivedHarness(t)
	h.credit(testBuyer, "SOL", unitsOf(1, 9))
	_, err := h.engine.BuyWithNative(context.Background(), h.session(testBuyer), testBuyer, big.NewInt(1_000_000))
	if !errors.Is(err, ErrMinimumNotMet) {
		t.Fatalf("7.5 units must fail the 50 unit floor, got %v", err)
	}
}

func TestBuyWithNativeScenarioAboveCeiling(t *testing.T) {
	h := newDerivedHarness(t)
	// 666.6668 SOL at $150 is exactly 5,000,001 output units.
	pay := big.NewInt(666_666_800_000)
	h.credit(testBuyer, "SOL", pay)
	quote, err := h.engine.Quote(context.Background(), h.session(testBuyer), "", pay)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if quote.OutputAmount.Cmp(unitsOf(5_000_001, 6)) != 0 {
		t.Fatalf("unexpected quote %s", quote.OutputAmount)
	}
	if !errors.Is(quote.Violation, ErrMaximumExceeded) {
		t.Fatalf("expected quote violation, got %v", quote.Violation)
	}
	if _, err := h.engine.BuyWithNative(context.Background(), h.session(testBuyer), testBuyer, pay); !errors.Is(err, ErrMaximumExceeded) {
		t.Fatalf("expected maximum exceeded, got %v", err)
	}
}

func TestBuyWithNativeRejectsStalePrice(t *testing.T) {
	h := newDerivedHarness(t)
	h.credit(testBuyer, "SOL", unitsOf(10, 9))
	// ManualOracle.Set keeps the newer record, so swap in a fresh oracle.
	stale := NewManualOracle()
	stale.Set(PriceRecord{Feed: DefaultNativeFeed, Price: 15_000_000_000, Exponent: -8, PublishTime: testNow.Add(-61 * time.Second)})
	h.engine.oracle = stale
	if _, err := h.engine.BuyWithNative(context.Background(), h.session(testBuyer), testBuyer, unitsOf(1, 9)); !errors.Is(err, ErrStalePrice) {
		t.Fatalf("expected stale price, got %v", err)
	}
	if got := h.balance(testBuyer, "SOL"); got.Cmp(unitsOf(10, 9)) != 0 {
		t.Fatalf("stale price must not move funds, balance %s", got)
	}
}

func TestBuyWithAssetSettlesAtPeg(t *testing.T) {
	h := newDerivedHarness(t)
	custody := h.engine.Custody()
	h.credit(testBuyer, "USDT", unitsOf(1_000, 6))
	receipt, err := h.engine.BuyWithAsset(context.Background(), h.session(testBuyer), testBuyer, "usdt", unitsOf(100, 6))
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	// $100 buys 5,000 units regardless of the oracle's 1.0001 reading.
	if receipt.OutputAmount.Cmp(unitsOf(5_000, 6)) != 0 {
		t.Fatalf("unexpected output %s", receipt.OutputAmount)
	}
	if receipt.Price.Feed != DefaultAssetBFeed {
		t.Fatalf("expected asset B feed to be consulted")
	}
	if got := h.balance(custody.AssetB, "USDT"); got.Cmp(unitsOf(100, 6)) != 0 {
		t.Fatalf("asset B custody balance %s", got)
	}
}

func TestBuyWithAssetStableMaxAge(t *testing.T) {
	h := newDerivedHarness(t)
	h.credit(testBuyer, "USDC", unitsOf(1_000, 6))
	aged := NewManualOracle()
	aged.Set(PriceRecord{Feed: DefaultAssetAFeed, Price: 100_000_000, Exponent: -8, PublishTime: testNow.Add(-89 * time.Second)})
	h.engine.oracle = aged
	if _, err := h.engine.BuyWithAsset(context.Background(), h.session(testBuyer), testBuyer, "USDC", unitsOf(10, 6)); err != nil {
		t.Fatalf("89s old stable price should be accepted: %v", err)
	}
	aged = NewManualOracle()
	aged.Set(PriceRecord{Feed: DefaultAssetAFeed, Price: 100_000_000, Exponent: -8, PublishTime: testNow.Add(-91 * time.Second)})
	h.engine.oracle = aged
	if _, err := h.engine.BuyWithAsset(context.Background(), h.session(testBuyer), testBuyer, "USDC", unitsOf(10, 6)); !errors.Is(err, ErrStalePrice) {
		t.Fatalf("expected stale price, got %v", err)
	}
}

func TestBuyWithAssetRejectsUnknownAssetBeforeOracle(t *testing.T) {
	h := newDerivedHarness(t)
	reads := h.oracle.Reads()
	for _, asset := range []string{"DAI", "TSW", "SOL", ""} {
		if _, err := h.engine.BuyWithAsset(context.Background(), h.session(testBuyer), testBuyer, asset, unitsOf(100, 6)); !errors.Is(err, ErrInvalidAsset) {
			t.Fatalf("%q: expected invalid asset, got %v", asset, err)
		}
	}
	if h.oracle.Reads() != reads {
		t.Fatalf("oracle consulted for an invalid asset")
	}
}

func TestBuyFailsOnInsufficientLiquidity(t *testing.T) {
	h := newDerivedHarness(t)
	custody := h.engine.Custody()
	h.credit(testBuyer, "USDC", unitsOf(30_000, 6))
	// Treasury holds 1,000,000 units; $30,000 would need 1,500,000.
	_, err := h.engine.BuyWithAsset(context.Background(), h.session(testBuyer), testBuyer, "USDC", unitsOf(30_000, 6))
	if !errors.Is(err, ErrInsufficientTreasuryLiquidity) {
		t.Fatalf("expected insufficient liquidity, got %v", err)
	}
	if got := h.balance(testBuyer, "USDC"); got.Cmp(unitsOf(30_000, 6)) != 0 {
		t.Fatalf("buyer must keep payment, balance %s", got)
	}
	if got := h.balance(custody.Output, "TSW"); got.Cmp(unitsOf(1_000_000, 6)) != 0 {
		t.Fatalf("treasury output must be untouched, balance %s", got)
	}
}

func TestBuyFailsWhenBuyerCannotPay(t *testing.T) {
	h := newDerivedHarness(t)
	counting := &faultyState{State: h.session(testBuyer), failAt: -1}
	_, err := h.engine.BuyWithNative(context.Background(), counting, testBuyer, unitsOf(1, 9))
	if !errors.Is(err, ErrTransferFailed) || !errors.Is(err, state.ErrInsufficientFunds) {
		t.Fatalf("expected transfer failure for unfunded buyer, got %v", err)
	}
	if counting.transfers != 1 {
		t.Fatalf("proceeds-out attempted after failed payment: %d transfers", counting.transfers)
	}
}

// faultyState fails the Nth transfer after applying none of it.
type faultyState struct {
	State
	failAt    int
	transfers int
}

var errInjected = errors.New("injected failure")

func (f *faultyState) Transfer(instr types.TransferInstruction, auth types.Authorization) error {
	f.transfers++
	if f.transfers == f.failAt {
		return errInjected
	}
	return f.State.Transfer(instr, auth)
}

func TestBuyIsAtomicAcrossLegs(t *testing.T) {
	h := newDerivedHarness(t)
	custody := h.engine.Custody()
	h.credit(testBuyer, "SOL", unitsOf(10, 9))
	faulty := &faultyState{State: h.session(testBuyer), failAt: 2}
	_, err := h.engine.BuyWithNative(context.Background(), faulty, testBuyer, unitsOf(1, 9))
	if !errors.Is(err, ErrTransferFailed) || !errors.Is(err, errInjected) {
		t.Fatalf("expected injected transfer failure, got %v", err)
	}
	if got := h.balance(testBuyer, "SOL"); got.Cmp(unitsOf(10, 9)) != 0 {
		t.Fatalf("payment-in must be rolled back, buyer balance %s", got)
	}
	if got := h.balance(custody.Native, "SOL"); got.Sign() != 0 {
		t.Fatalf("native custody must be unchanged, balance %s", got)
	}
	if got := h.balance(testBuyer, "TSW"); got.Sign() != 0 {
		t.Fatalf("buyer must not receive output, balance %s", got)
	}
	if emitted := h.events.Drain(); len(emitted) != 0 {
		t.Fatalf("failed purchase emitted events: %+v", emitted)
	}
}

func TestAdminOperationsRejectOthers(t *testing.T) {
	h := newDerivedHarness(t)
	intruder := [20]byte{0x66}
	h.credit(intruder, "TSW", unitsOf(100, 6))
	ctx := context.Background()
	custody := h.engine.Custody()
	before := h.balance(custody.Output, "TSW")

	if err := h.engine.Deposit(ctx, h.session(intruder), intruder, unitsOf(100, 6)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("deposit: expected unauthorized, got %v", err)
	}
	if _, err := h.engine.Withdraw(ctx, h.session(intruder), intruder); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("withdraw: expected unauthorized, got %v", err)
	}
	if err := h.engine.UpdateAdmin(ctx, h.session(intruder), intruder, intruder); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("update admin: expected unauthorized, got %v", err)
	}
	if _, err := h.engine.InitializeCustody(ctx, h.session(intruder), intruder); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("initialize custody: expected unauthorized, got %v", err)
	}
	if got := h.balance(custody.Output, "TSW"); got.Cmp(before) != 0 {
		t.Fatalf("custody changed: %s", got)
	}
	record, err := h.engine.LoadState(h.session(testAdmin))
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if record.Admin != testAdmin {
		t.Fatalf("admin changed by intruder")
	}
}

func TestUpdateAdminRotates(t *testing.T) {
	h := newDerivedHarness(t)
	ctx := context.Background()
	next := [20]byte{0x77}
	if err := h.engine.UpdateAdmin(ctx, h.session(testAdmin), testAdmin, testAdmin); err != nil {
		t.Fatalf("self rotation should be a no-op: %v", err)
	}
	if err := h.engine.UpdateAdmin(ctx, h.session(testAdmin), testAdmin, [20]byte{}); !errors.Is(err, ErrInvalidAdmin) {
		t.Fatalf("expected zero admin to be rejected, got %v", err)
	}
	record, err := h.engine.LoadState(h.session(testAdmin))
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if record.Admin != testAdmin {
		t.Fatalf("rejected rotation changed admin to %x", record.Admin)
	}
	if err := h.engine.UpdateAdmin(ctx, h.session(testAdmin), testAdmin, next); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if _, err := h.engine.Withdraw(ctx, h.session(testAdmin), testAdmin); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("previous admin must lose access, got %v", err)
	}
	if _, err := h.engine.Withdraw(ctx, h.session(next), next); err != nil {
		t.Fatalf("new admin withdraw: %v", err)
	}
}

func TestWithdrawSweepsNonZeroLegs(t *testing.T) {
	h := newDerivedHarness(t)
	ctx := context.Background()
	h.credit(testBuyer, "SOL", unitsOf(2, 9))
	if _, err := h.engine.BuyWithNative(ctx, h.session(testBuyer), testBuyer, unitsOf(2, 9)); err != nil {
		t.Fatalf("buy: %v", err)
	}
	legs, err := h.engine.Withdraw(ctx, h.session(testAdmin), testAdmin)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if len(legs) != 2 || legs[0].Asset != "SOL" || legs[1].Asset != "TSW" {
		t.Fatalf("unexpected legs %+v", legs)
	}
	if got := h.balance(testAdmin, "SOL"); got.Cmp(unitsOf(2, 9)) != 0 {
		t.Fatalf("admin native balance %s", got)
	}
	if got := h.balance(testAdmin, "TSW"); got.Cmp(unitsOf(10_000_000-15_000, 6)) != 0 {
		t.Fatalf("admin output balance %s", got)
	}
	custody := h.engine.Custody()
	if got := h.balance(custody.Output, "TSW"); got.Sign() != 0 {
		t.Fatalf("output custody not swept: %s", got)
	}
}

func TestWithdrawWithEmptyCustody(t *testing.T) {
	h := newHarness(t, NewDerivedSigner(testProgram), DerivedCustody(testProgram))
	ctx := context.Background()
	if _, err := h.engine.InitializeState(ctx, h.session(testAdmin), testAdmin, "USDC", "USDT", "TSW"); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	faulty := &faultyState{State: h.session(testAdmin), failAt: -1}
	legs, err := h.engine.Withdraw(ctx, faulty, testAdmin)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if len(legs) != 0 || faulty.transfers != 0 {
		t.Fatalf("expected no transfers, legs=%d transfers=%d", len(legs), faulty.transfers)
	}
}

func TestDepositRequiresFunds(t *testing.T) {
	h := newDerivedHarness(t)
	ctx := context.Background()
	if err := h.engine.Deposit(ctx, h.session(testAdmin), testAdmin, big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if err := h.engine.Deposit(ctx, h.session(testAdmin), testAdmin, unitsOf(100_000_000, 6)); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected transfer failure, got %v", err)
	}
}

func TestHeldKeyWithExternalCustody(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer, err := NewKeySigner(key)
	if err != nil {
		t.Fatalf("key signer: %v", err)
	}
	wallet := signer.Authority()
	h := newHarness(t, signer, ExternalCustody(wallet, wallet, wallet, wallet))
	h.bootstrap()
	h.credit(testBuyer, "USDC", unitsOf(100, 6))

	receipt, err := h.engine.BuyWithAsset(context.Background(), h.session(testBuyer), testBuyer, "USDC", unitsOf(100, 6))
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if receipt.OutputAmount.Cmp(unitsOf(5_000, 6)) != 0 {
		t.Fatalf("unexpected output %s", receipt.OutputAmount)
	}
	if got := h.balance(wallet, "USDC"); got.Cmp(unitsOf(100, 6)) != 0 {
		t.Fatalf("held wallet payment balance %s", got)
	}
}

func TestExternalCustodyMustBeControlled(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer, err := NewKeySigner(key)
	if err != nil {
		t.Fatalf("key signer: %v", err)
	}
	foreign := [20]byte{0x99}
	h := newHarness(t, signer, ExternalCustody(signer.Authority(), foreign, signer.Authority(), signer.Authority()))
	ctx := context.Background()
	if _, err := h.engine.InitializeState(ctx, h.session(testAdmin), testAdmin, "USDC", "USDT", "TSW"); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, err := h.engine.InitializeCustody(ctx, h.session(testAdmin), testAdmin); !errors.Is(err, ErrCustodyNotControlled) {
		t.Fatalf("expected custody not controlled, got %v", err)
	}
}

func TestDerivedSignerCannotMoveForeignProgramFunds(t *testing.T) {
	h := newDerivedHarness(t)
	custody := h.engine.Custody()
	impostor := h.manager.NewSession([20]byte{0xde, 0xad}, testBuyer, [32]byte{0xff}, testNow)
	instr := types.TransferInstruction{Asset: "TSW", From: custody.Output, To: testBuyer, Amount: big.NewInt(1), CallID: impostor.CallID()}
	auth, err := NewDerivedSigner(testProgram).Authorize(instr)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if err := impostor.Transfer(instr, auth); !errors.Is(err, state.ErrAuthorityMismatch) {
		t.Fatalf("expected authority mismatch outside the program, got %v", err)
	}
}
