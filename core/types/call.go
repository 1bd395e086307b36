package types

import (
	"crypto/ecdsa"
	"errors"
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// CallMethod names the exchange operation a call invokes.
type CallMethod string

const (
	MethodInitializeState   CallMethod = "initialize_state"
	MethodInitializeCustody CallMethod = "initialize_custody"
	MethodDeposit           CallMethod = "deposit"
	MethodWithdraw          CallMethod = "withdraw"
	MethodUpdateAdmin       CallMethod = "update_admin"
	MethodBuyWithNative     CallMethod = "buy_with_native"
	MethodBuyWithAsset      CallMethod = "buy_with_asset"
)

// Valid reports whether the method is one the executor dispatches.
func (m CallMethod) Valid() bool {
	switch m {
	case MethodInitializeState, MethodInitializeCustody, MethodDeposit, MethodWithdraw,
		MethodUpdateAdmin, MethodBuyWithNative, MethodBuyWithAsset:
		return true
	}
	return false
}

// ErrUnsigned is returned when a call carries no signature.
var ErrUnsigned = errors.New("types: call is not signed")

// Call is a signed request to run one operation against a deployed program.
// Unused argument fields are left at their zero values.
type Call struct {
	Program ethcommon.Address `json:"program"`
	Method  CallMethod        `json:"method"`
	Nonce   uint64            `json:"nonce"`
	Asset   string            `json:"asset,omitempty"`
	Amount  *big.Int          `json:"amount,omitempty"`
	Target  ethcommon.Address `json:"target"`
	AssetA  string            `json:"assetA,omitempty"`
	AssetB  string            `json:"assetB,omitempty"`
	Output  string            `json:"output,omitempty"`

	// Signatures
	R *big.Int `json:"r,omitempty"`
	S *big.Int `json:"s,omitempty"`
	V *big.Int `json:"v,omitempty"`

	from *[20]byte
}

// Hash returns the keccak256 digest of the call's signed fields.
func (c *Call) Hash() ([]byte, error) {
	amount := c.Amount
	if amount == nil {
		amount = big.NewInt(0)
	}
	payload := struct {
		Program ethcommon.Address
		Method  string
		Nonce   uint64
		Asset   string
		Amount  *big.Int
		Target  ethcommon.Address
		AssetA  string
		AssetB  string
		Output  string
	}{c.Program, string(c.Method), c.Nonce, c.Asset, amount, c.Target, c.AssetA, c.AssetB, c.Output}
	encoded, err := rlp.EncodeToBytes(payload)
	if err != nil {
		return nil, err
	}
	return crypto.Keccak256(encoded), nil
}

// ID returns the call hash as a fixed array for use in transfer instructions.
func (c *Call) ID() ([32]byte, error) {
	var id [32]byte
	hash, err := c.Hash()
	if err != nil {
		return id, err
	}
	copy(id[:], hash)
	return id, nil
}

func (c *Call) Sign(privKey *ecdsa.PrivateKey) error {
	hash, err := c.Hash()
	if err != nil {
		return err
	}
	sig, err := crypto.Sign(hash, privKey)
	if err != nil {
		return err
	}
	c.R = new(big.Int).SetBytes(sig[:32])
	c.S = new(big.Int).SetBytes(sig[32:64])
	c.V = new(big.Int).SetBytes([]byte{sig[64] + 27})
	c.from = nil
	return nil
}

// From recovers the signer of the call.
func (c *Call) From() ([20]byte, error) {
	if c.from != nil {
		return *c.from, nil
	}
	var out [20]byte
	if c.R == nil || c.S == nil || c.V == nil {
		return out, ErrUnsigned
	}
	if c.V.Uint64() < 27 || len(c.R.Bytes()) > 32 || len(c.S.Bytes()) > 32 {
		return out, errors.New("types: malformed signature")
	}
	hash, err := c.Hash()
	if err != nil {
		return out, err
	}
	sig := make([]byte, 65)
	copy(sig[32-len(c.R.Bytes()):32], c.R.Bytes())
	copy(sig[64-len(c.S.Bytes()):64], c.S.Bytes())
	sig[64] = byte(c.V.Uint64() - 27)
	pubKey, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return out, err
	}
	out = crypto.PubkeyToAddress(*pubKey)
	c.from = &out
	return out, nil
}
