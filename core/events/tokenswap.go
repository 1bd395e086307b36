package events

import (
	"math/big"
	"strconv"
	"strings"

	"tokenswap/core/types"
	"tokenswap/crypto"
)

const (
	// TypeStateInitialized is emitted once when the treasury record is created.
	TypeStateInitialized = "tokenswap.initialized"
	// TypeCustodyInitialized is emitted when custody accounts are bound to the treasury authority.
	TypeCustodyInitialized = "tokenswap.custody_initialized"
	// TypeDeposited is emitted when the administrator funds the output custody.
	TypeDeposited = "tokenswap.deposited"
	// TypeWithdrawn is emitted for every non-zero leg of a sweep.
	TypeWithdrawn = "tokenswap.withdrawn"
	// TypeAdminUpdated is emitted when the administrator rotates.
	TypeAdminUpdated = "tokenswap.admin_updated"
	// TypePurchased is emitted for every settled purchase.
	TypePurchased = "tokenswap.purchased"
)

func renderAddress(addr [20]byte) string {
	if addr == ([20]byte{}) {
		return ""
	}
	return crypto.NewAddress(crypto.AccountPrefix, addr[:]).String()
}

func renderAmount(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}

type StateInitialized struct {
	Admin  [20]byte
	AssetA string
	AssetB string
	Output string
}

func (StateInitialized) EventType() string { return TypeStateInitialized }

func (e StateInitialized) Event() *types.Event {
	return &types.Event{
		Type: TypeStateInitialized,
		Attributes: map[string]string{
			"admin":  renderAddress(e.Admin),
			"assetA": strings.TrimSpace(e.AssetA),
			"assetB": strings.TrimSpace(e.AssetB),
			"output": strings.TrimSpace(e.Output),
		},
	}
}

type CustodyInitialized struct {
	Authority [20]byte
	Native    [20]byte
	Output    [20]byte
	AssetA    [20]byte
	AssetB    [20]byte
}

func (CustodyInitialized) EventType() string { return TypeCustodyInitialized }

func (e CustodyInitialized) Event() *types.Event {
	return &types.Event{
		Type: TypeCustodyInitialized,
		Attributes: map[string]string{
			"authority": renderAddress(e.Authority),
			"native":    renderAddress(e.Native),
			"output":    renderAddress(e.Output),
			"assetA":    renderAddress(e.AssetA),
			"assetB":    renderAddress(e.AssetB),
		},
	}
}

type Deposited struct {
	Admin  [20]byte
	Asset  string
	Amount *big.Int
}

func (Deposited) EventType() string { return TypeDeposited }

func (e Deposited) Event() *types.Event {
	return &types.Event{
		Type: TypeDeposited,
		Attributes: map[string]string{
			"admin":  renderAddress(e.Admin),
			"asset":  e.Asset,
			"amount": renderAmount(e.Amount),
		},
	}
}

type Withdrawn struct {
	Admin  [20]byte
	Asset  string
	Amount *big.Int
}

func (Withdrawn) EventType() string { return TypeWithdrawn }

func (e Withdrawn) Event() *types.Event {
	return &types.Event{
		Type: TypeWithdrawn,
		Attributes: map[string]string{
			"admin":  renderAddress(e.Admin),
			"asset":  e.Asset,
			"amount": renderAmount(e.Amount),
		},
	}
}

type AdminUpdated struct {
	Previous [20]byte
	Next     [20]byte
}

func (AdminUpdated) EventType() string { return TypeAdminUpdated }

func (e AdminUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeAdminUpdated,
		Attributes: map[string]string{
			"previous": renderAddress(e.Previous),
			"next":     renderAddress(e.Next),
		},
	}
}

// Purchased records a settled trade together with the oracle observation
// used to price it.
type Purchased struct {
	Buyer        [20]byte
	PaymentAsset string
	PaidAmount   *big.Int
	OutputAsset  string
	OutputAmount *big.Int
	Price        int64
	Exponent     int32
	PublishTime  int64
}

func (Purchased) EventType() string { return TypePurchased }

func (e Purchased) Event() *types.Event {
	return &types.Event{
		Type: TypePurchased,
		Attributes: map[string]string{
			"buyer":        renderAddress(e.Buyer),
			"paymentAsset": e.PaymentAsset,
			"paidAmount":   renderAmount(e.PaidAmount),
			"outputAsset":  e.OutputAsset,
			"outputAmount": renderAmount(e.OutputAmount),
			"price":        strconv.FormatInt(e.Price, 10),
			"exponent":     strconv.FormatInt(int64(e.Exponent), 10),
			"publishTime":  strconv.FormatInt(e.PublishTime, 10),
		},
	}
}
