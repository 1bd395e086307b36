package tokenswap

import (
	"fmt"

	"tokenswap/core/types"
	"tokenswap/crypto"
)

// TreasurySigner authorises outbound transfers from custody. The substrate
// verifies the returned authorization against the owner of the source account.
type TreasurySigner interface {
	// Authority is the owner recorded on every custody account.
	Authority() [20]byte
	Authorize(instr types.TransferInstruction) (types.Authorization, error)
}

// DerivedSigner is a program-derived authority. It has no private key: the
// substrate accepts its seeds only while the owning program is executing.
type DerivedSigner struct {
	program   [20]byte
	authority [20]byte
}

// NewDerivedSigner derives the treasury authority for program.
func NewDerivedSigner(program [20]byte) *DerivedSigner {
	return &DerivedSigner{
		program:   program,
		authority: crypto.DeriveProgramAddress(program, authoritySeed),
	}
}

func (s *DerivedSigner) Authority() [20]byte { return s.authority }

func (s *DerivedSigner) Authorize(types.TransferInstruction) (types.Authorization, error) {
	return types.Authorization{Kind: types.AuthProgram, Seeds: [][]byte{authoritySeed}}, nil
}

// KeySigner is a treasury authority backed by a held secp256k1 key.
type KeySigner struct {
	key       *crypto.PrivateKey
	authority [20]byte
}

// NewKeySigner wraps key as a treasury signer.
func NewKeySigner(key *crypto.PrivateKey) (*KeySigner, error) {
	if key == nil || key.PrivateKey == nil {
		return nil, fmt.Errorf("tokenswap: treasury key required")
	}
	return &KeySigner{key: key, authority: key.PubKey().Address().Raw()}, nil
}

func (s *KeySigner) Authority() [20]byte { return s.authority }

func (s *KeySigner) Authorize(instr types.TransferInstruction) (types.Authorization, error) {
	digest, err := instr.Digest()
	if err != nil {
		return types.Authorization{}, err
	}
	sig, err := s.key.Sign(digest)
	if err != nil {
		return types.Authorization{}, err
	}
	return types.Authorization{Kind: types.AuthKey, Signature: sig}, nil
}

// Custody lists the four treasury accounts, one per asset.
type Custody struct {
	Native  [20]byte
	Output  [20]byte
	AssetA  [20]byte
	AssetB  [20]byte
	derived bool
}

// DerivedCustody returns program-derived custody accounts for program.
func DerivedCustody(program [20]byte) Custody {
	return Custody{
		Native:  crypto.DeriveProgramAddress(program, nativeCustodySeed),
		Output:  crypto.DeriveProgramAddress(program, outputCustodySeed),
		AssetA:  crypto.DeriveProgramAddress(program, assetACustodySeed),
		AssetB:  crypto.DeriveProgramAddress(program, assetBCustodySeed),
		derived: true,
	}
}

// ExternalCustody uses operator-supplied accounts. They must already be
// controlled by the treasury signer's authority.
func ExternalCustody(native, output, assetA, assetB [20]byte) Custody {
	return Custody{Native: native, Output: output, AssetA: assetA, AssetB: assetB}
}

// Derived reports whether the accounts are program-derived.
func (c Custody) Derived() bool { return c.derived }

// Address returns the custody account for role.
func (c Custody) Address(role AssetRole) [20]byte {
	switch role {
	case RoleNative:
		return c.Native
	case RoleOutput:
		return c.Output
	case RoleAssetA:
		return c.AssetA
	case RoleAssetB:
		return c.AssetB
	}
	return [20]byte{}
}

// StateAddress returns the derived address under which the treasury record
// conceptually lives. It is derived from the same seed as the DerivedSigner
// authority, so for derived deployments the record's address is also the
// treasury signer. Key signed deployments report a different Authority.
func StateAddress(program [20]byte) [20]byte {
	return crypto.DeriveProgramAddress(program, authoritySeed)
}
