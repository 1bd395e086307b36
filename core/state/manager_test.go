package state

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"tokenswap/core/types"
	"tokenswap/crypto"
	"tokenswap/storage"
)

func newTestManager(t *testing.T) (*Manager, storage.Database) {
	t.Helper()
	db := storage.NewMemDB()
	m := NewManager(db)
	if err := m.RegisterToken("sol", "Solana", 9); err != nil {
		t.Fatalf("register sol: %v", err)
	}
	if err := m.RegisterToken("TSW", "TokenSwap", 6); err != nil {
		t.Fatalf("register tsw: %v", err)
	}
	return m, db
}

func TestRegisterTokenNormalisesAndRejectsDuplicates(t *testing.T) {
	m, _ := newTestManager(t)
	meta, err := m.Token(" Sol ")
	if err != nil {
		t.Fatalf("token lookup: %v", err)
	}
	if meta.Symbol != "SOL" || meta.Decimals != 9 {
		t.Fatalf("unexpected metadata %+v", meta)
	}
	if err := m.RegisterToken("SOL", "dup", 9); !errors.Is(err, ErrTokenExists) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if _, err := m.Balance([20]byte{1}, "USDC"); !errors.Is(err, ErrUnknownToken) {
		t.Fatalf("expected unknown token, got %v", err)
	}
	list, err := m.TokenList()
	if err != nil {
		t.Fatalf("token list: %v", err)
	}
	if len(list) != 2 || list[0] != "SOL" || list[1] != "TSW" {
		t.Fatalf("unexpected token list %v", list)
	}
}

func TestSnapshotRevertAndCommit(t *testing.T) {
	m, db := newTestManager(t)
	addr := [20]byte{7}
	if err := m.Credit(addr, "SOL", big.NewInt(100)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	snap := m.Snapshot()
	if err := m.Credit(addr, "SOL", big.NewInt(50)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	inner := m.Snapshot()
	if err := m.Credit(addr, "SOL", big.NewInt(25)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	m.RevertToSnapshot(inner)
	if bal, _ := m.Balance(addr, "SOL"); bal.Int64() != 150 {
		t.Fatalf("expected 150 after inner revert, got %s", bal)
	}
	m.RevertToSnapshot(snap)
	if bal, _ := m.Balance(addr, "SOL"); bal.Int64() != 100 {
		t.Fatalf("expected 100 after outer revert, got %s", bal)
	}
	if err := m.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	reopened := NewManager(db)
	bal, err := reopened.Balance(addr, "SOL")
	if err != nil {
		t.Fatalf("balance after reopen: %v", err)
	}
	if bal.Int64() != 100 {
		t.Fatalf("expected committed balance 100, got %s", bal)
	}

	if err := reopened.Credit(addr, "SOL", big.NewInt(1)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	reopened.Discard()
	if bal, _ := reopened.Balance(addr, "SOL"); bal.Int64() != 100 {
		t.Fatalf("discard must drop pending writes, got %s", bal)
	}
}

func TestKVRoundTrip(t *testing.T) {
	m, _ := newTestManager(t)
	type record struct {
		Name  string
		Value uint64
	}
	if ok, err := m.KVGet([]byte("missing"), new(record)); err != nil || ok {
		t.Fatalf("expected missing key, ok=%v err=%v", ok, err)
	}
	if err := m.KVPut([]byte("rec"), &record{Name: "a", Value: 9}); err != nil {
		t.Fatalf("kv put: %v", err)
	}
	var out record
	ok, err := m.KVGet([]byte("rec"), &out)
	if err != nil || !ok {
		t.Fatalf("kv get: ok=%v err=%v", ok, err)
	}
	if out.Name != "a" || out.Value != 9 {
		t.Fatalf("unexpected record %+v", out)
	}
	if err := m.KVPut(nil, &out); err == nil {
		t.Fatalf("expected empty key to be rejected")
	}
}

func TestSessionTransferCallerAuthorization(t *testing.T) {
	m, _ := newTestManager(t)
	alice := [20]byte{1}
	bob := [20]byte{2}
	if err := m.Credit(alice, "SOL", big.NewInt(10)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	session := m.NewSession([20]byte{0xaa}, alice, [32]byte{1}, time.Unix(1700000000, 0))
	instr := types.TransferInstruction{Asset: "SOL", From: alice, To: bob, Amount: big.NewInt(4)}
	if err := session.Transfer(instr, types.CallerAuthorization()); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if bal, _ := m.Balance(bob, "SOL"); bal.Int64() != 4 {
		t.Fatalf("expected bob to hold 4, got %s", bal)
	}

	instr.Amount = big.NewInt(100)
	if err := session.Transfer(instr, types.CallerAuthorization()); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}

	mallory := m.NewSession([20]byte{0xaa}, [20]byte{3}, [32]byte{1}, time.Now())
	instr.Amount = big.NewInt(1)
	if err := mallory.Transfer(instr, types.CallerAuthorization()); !errors.Is(err, ErrAuthorityMismatch) {
		t.Fatalf("expected authority mismatch, got %v", err)
	}
}

func TestSessionProgramAuthorizationIsBoundToProgram(t *testing.T) {
	m, _ := newTestManager(t)
	program := [20]byte{0xaa}
	seeds := [][]byte{[]byte("state")}
	authority := crypto.DeriveProgramAddress(program, seeds...)
	session := m.NewSession(program, [20]byte{1}, [32]byte{1}, time.Now())
	custody, err := session.BindProgramAccount([][]byte{[]byte("custody/native")}, authority)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	if _, err := session.BindProgramAccount([][]byte{[]byte("custody/native")}, [20]byte{9}); !errors.Is(err, ErrAuthorityMismatch) {
		t.Fatalf("expected rebinding to fail, got %v", err)
	}
	if err := m.Credit(custody, "SOL", big.NewInt(10)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	instr := types.TransferInstruction{Asset: "SOL", From: custody, To: [20]byte{1}, Amount: big.NewInt(3)}
	auth := types.Authorization{Kind: types.AuthProgram, Seeds: seeds}
	if err := session.Transfer(instr, auth); err != nil {
		t.Fatalf("program transfer: %v", err)
	}

	other := m.NewSession([20]byte{0xbb}, [20]byte{1}, [32]byte{1}, time.Now())
	if err := other.Transfer(instr, auth); !errors.Is(err, ErrAuthorityMismatch) {
		t.Fatalf("seeds must be useless outside the owning program, got %v", err)
	}
}

func TestSessionKeyAuthorization(t *testing.T) {
	m, _ := newTestManager(t)
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	holder := key.PubKey().Address().Raw()
	if err := m.Credit(holder, "TSW", big.NewInt(1000)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	callID := [32]byte{5}
	session := m.NewSession([20]byte{0xaa}, [20]byte{1}, callID, time.Now())
	instr := types.TransferInstruction{Asset: "TSW", From: holder, To: [20]byte{1}, Amount: big.NewInt(10), CallID: callID}
	digest, err := instr.Digest()
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	sig, err := key.Sign(digest)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	auth := types.Authorization{Kind: types.AuthKey, Signature: sig}
	if err := session.Transfer(instr, auth); err != nil {
		t.Fatalf("key transfer: %v", err)
	}

	replay := m.NewSession([20]byte{0xaa}, [20]byte{1}, [32]byte{6}, time.Now())
	if err := replay.Transfer(instr, auth); !errors.Is(err, ErrAuthorityMismatch) {
		t.Fatalf("expected replay in another call to fail, got %v", err)
	}
}
