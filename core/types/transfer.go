package types

import (
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// AuthorizationKind selects how the substrate verifies a transfer.
type AuthorizationKind uint8

const (
	// AuthCaller authorises with the verified signer of the enclosing call.
	AuthCaller AuthorizationKind = iota + 1
	// AuthProgram authorises with seeds that must re-derive the source
	// owner from the identity of the executing program.
	AuthProgram
	// AuthKey authorises with a secp256k1 signature over the instruction
	// digest produced by the key that owns the source account.
	AuthKey
)

func (k AuthorizationKind) String() string {
	switch k {
	case AuthCaller:
		return "caller"
	case AuthProgram:
		return "program"
	case AuthKey:
		return "key"
	default:
		return "unknown"
	}
}

// Authorization proves the right to debit the source of a transfer.
type Authorization struct {
	Kind      AuthorizationKind
	Seeds     [][]byte
	Signature []byte
}

// CallerAuthorization returns the authorization used for caller-signed legs.
func CallerAuthorization() Authorization {
	return Authorization{Kind: AuthCaller}
}

// TransferInstruction moves Amount of Asset between two accounts. CallID
// binds the instruction to a single call so key signatures cannot be replayed
// in a later one.
type TransferInstruction struct {
	Asset  string
	From   [20]byte
	To     [20]byte
	Amount *big.Int
	CallID [32]byte
}

// ErrInvalidInstruction is returned for malformed transfer instructions.
var ErrInvalidInstruction = errors.New("types: invalid transfer instruction")

// Validate reports structural problems with the instruction.
func (i TransferInstruction) Validate() error {
	if strings.TrimSpace(i.Asset) == "" {
		return errors.Join(ErrInvalidInstruction, errors.New("asset required"))
	}
	if i.Amount == nil || i.Amount.Sign() <= 0 {
		return errors.Join(ErrInvalidInstruction, errors.New("amount must be positive"))
	}
	if i.From == i.To {
		return errors.Join(ErrInvalidInstruction, errors.New("source and destination must differ"))
	}
	return nil
}

// Digest returns the keccak256 hash that key authorities sign.
func (i TransferInstruction) Digest() ([]byte, error) {
	amount := i.Amount
	if amount == nil {
		amount = big.NewInt(0)
	}
	payload := struct {
		Domain string
		Asset  string
		From   [20]byte
		To     [20]byte
		Amount *big.Int
		CallID [32]byte
	}{"tokenswap/transfer", i.Asset, i.From, i.To, amount, i.CallID}
	encoded, err := rlp.EncodeToBytes(payload)
	if err != nil {
		return nil, err
	}
	return crypto.Keccak256(encoded), nil
}
