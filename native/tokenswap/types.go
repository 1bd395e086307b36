package tokenswap

import (
	"math/big"
	"strings"
	"time"

	"tokenswap/core/types"
)

// State is the slice of the host account substrate the engine relies on.
// core/state.Session satisfies it.
type State interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	Token(symbol string) (*types.TokenMetadata, error)
	Balance(addr [20]byte, symbol string) (*big.Int, error)
	Account(addr [20]byte) (*types.Account, error)
	BindProgramAccount(seeds [][]byte, owner [20]byte) ([20]byte, error)
	Transfer(instr types.TransferInstruction, auth types.Authorization) error
	Snapshot() int
	RevertToSnapshot(id int)
	CallID() [32]byte
	Now() time.Time
}

// TreasuryState is the singleton configuration record. Only Admin changes
// after InitializeState.
type TreasuryState struct {
	Admin  [20]byte
	AssetA string
	AssetB string
	Output string
}

// Clone returns a deep copy of the record.
func (s *TreasuryState) Clone() *TreasuryState {
	if s == nil {
		return nil
	}
	clone := *s
	return &clone
}

// AssetRole identifies which custody leg an asset maps to.
type AssetRole uint8

const (
	RoleNative AssetRole = iota + 1
	RoleOutput
	RoleAssetA
	RoleAssetB
)

func (r AssetRole) String() string {
	switch r {
	case RoleNative:
		return "native"
	case RoleOutput:
		return "output"
	case RoleAssetA:
		return "asset_a"
	case RoleAssetB:
		return "asset_b"
	default:
		return "unknown"
	}
}

// Receipt describes a settled purchase.
type Receipt struct {
	CallID       [32]byte
	Buyer        [20]byte
	PaymentAsset string
	PaidAmount   *big.Int
	OutputAsset  string
	OutputAmount *big.Int
	Price        PriceRecord
}

// Quote is the dry-run result of pricing a purchase.
type Quote struct {
	PaymentAsset    string
	PaidAmount      *big.Int
	OutputAsset     string
	OutputAmount    *big.Int
	OutputDecimals  uint8
	Price           PriceRecord
	TreasuryBalance *big.Int
	// Violation holds the trade-guard error that would reject the purchase,
	// or nil when it would settle.
	Violation error
}

// WithdrawLeg records one swept custody balance.
type WithdrawLeg struct {
	Asset  string
	Amount *big.Int
}

func normaliseSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
