package types

import (
	"encoding/json"
	"errors"
	"math/big"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

func TestCallSignAndRecover(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	call := &Call{
		Program: ethcommon.Address{9},
		Method:  MethodBuyWithNative,
		Nonce:   3,
		Amount:  big.NewInt(1_000_000_000),
	}
	if _, err := call.From(); !errors.Is(err, ErrUnsigned) {
		t.Fatalf("expected unsigned error, got %v", err)
	}
	if err := call.Sign(key); err != nil {
		t.Fatalf("sign: %v", err)
	}
	from, err := call.From()
	if err != nil {
		t.Fatalf("from: %v", err)
	}
	if from != crypto.PubkeyToAddress(key.PublicKey) {
		t.Fatalf("recovered unexpected signer")
	}

	raw, err := json.Marshal(call)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Call
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	decodedFrom, err := decoded.From()
	if err != nil {
		t.Fatalf("decoded from: %v", err)
	}
	if decodedFrom != from {
		t.Fatalf("signer changed across JSON encoding")
	}

	decoded.Amount = big.NewInt(2_000_000_000)
	tampered, err := decoded.From()
	if err == nil && tampered == from {
		t.Fatalf("tampered amount must not recover the original signer")
	}
}

func TestCallHashBindsProgram(t *testing.T) {
	a := &Call{Program: ethcommon.Address{1}, Method: MethodWithdraw}
	b := &Call{Program: ethcommon.Address{2}, Method: MethodWithdraw}
	ha, err := a.Hash()
	if err != nil {
		t.Fatalf("hash a: %v", err)
	}
	hb, err := b.Hash()
	if err != nil {
		t.Fatalf("hash b: %v", err)
	}
	if string(ha) == string(hb) {
		t.Fatalf("calls for different programs must hash differently")
	}
}

func TestTransferInstructionValidate(t *testing.T) {
	good := TransferInstruction{Asset: "SOL", From: [20]byte{1}, To: [20]byte{2}, Amount: big.NewInt(1)}
	if err := good.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cases := map[string]TransferInstruction{
		"missing asset": {From: [20]byte{1}, To: [20]byte{2}, Amount: big.NewInt(1)},
		"zero amount":   {Asset: "SOL", From: [20]byte{1}, To: [20]byte{2}, Amount: big.NewInt(0)},
		"self transfer": {Asset: "SOL", From: [20]byte{1}, To: [20]byte{1}, Amount: big.NewInt(1)},
	}
	for name, instr := range cases {
		if err := instr.Validate(); !errors.Is(err, ErrInvalidInstruction) {
			t.Fatalf("%s: expected invalid instruction, got %v", name, err)
		}
	}
}

func TestTransferDigestBindsCall(t *testing.T) {
	instr := TransferInstruction{Asset: "SOL", From: [20]byte{1}, To: [20]byte{2}, Amount: big.NewInt(5), CallID: [32]byte{1}}
	first, err := instr.Digest()
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	instr.CallID = [32]byte{2}
	second, err := instr.Digest()
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	if string(first) == string(second) {
		t.Fatalf("digest must change with the call id")
	}
}
