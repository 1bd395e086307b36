package tokenswap

import "errors"

var (
	// ErrUnauthorized is returned when a non-administrator invokes an
	// administrative operation.
	ErrUnauthorized = errors.New("tokenswap: unauthorized access")
	// ErrInvalidAsset is returned when the payment asset is neither approved
	// stable asset.
	ErrInvalidAsset = errors.New("tokenswap: invalid payment asset")
	// ErrStalePrice is returned when the oracle record is older than the
	// entry point's maximum age.
	ErrStalePrice = errors.New("tokenswap: oracle price stale")
	// ErrFeedNotFound is returned when the oracle has no record for a feed.
	ErrFeedNotFound = errors.New("tokenswap: price feed not found")
	// ErrInvalidPrice is returned for non-positive oracle prices.
	ErrInvalidPrice = errors.New("tokenswap: oracle price invalid")
	// ErrMinimumNotMet is returned when a purchase is below the minimum limit.
	ErrMinimumNotMet = errors.New("tokenswap: purchase amount below minimum limit")
	// ErrMaximumExceeded is returned when a purchase exceeds the maximum limit.
	ErrMaximumExceeded = errors.New("tokenswap: purchase amount exceeds maximum limit")
	// ErrInsufficientTreasuryLiquidity is returned when the output custody
	// cannot cover the computed quantity.
	ErrInsufficientTreasuryLiquidity = errors.New("tokenswap: insufficient treasury liquidity")
	// ErrTransferFailed wraps any failure of the underlying transfer primitive.
	ErrTransferFailed = errors.New("tokenswap: transfer failed")
	// ErrInvalidAmount is returned for zero or negative amounts.
	ErrInvalidAmount = errors.New("tokenswap: amount must be positive")
	// ErrStateExists is returned when the treasury record was already created.
	ErrStateExists = errors.New("tokenswap: state already initialised")
	// ErrStateNotInitialised is returned when an operation runs before
	// InitializeState.
	ErrStateNotInitialised = errors.New("tokenswap: state not initialised")
	// ErrInvalidAdmin is returned when an administrator rotation names the
	// zero address.
	ErrInvalidAdmin = errors.New("tokenswap: new admin address required")
	// ErrCustodyNotControlled is returned when a custody account is not
	// owned by the treasury authority.
	ErrCustodyNotControlled = errors.New("tokenswap: custody not controlled by treasury authority")
)
