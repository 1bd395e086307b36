package state

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"tokenswap/core/types"
	"tokenswap/crypto"
)

// Session is the view of the substrate handed to a native program for the
// duration of one call. It binds the executing program identity, the verified
// signer and the call ID so that every authorization is checked against them.
type Session struct {
	m       *Manager
	program [20]byte
	signer  [20]byte
	callID  [32]byte
	now     time.Time
}

// NewSession opens a session over m. now is the call's block time.
func (m *Manager) NewSession(program, signer [20]byte, callID [32]byte, now time.Time) *Session {
	return &Session{m: m, program: program, signer: signer, callID: callID, now: now}
}

// Program returns the identity of the executing program.
func (s *Session) Program() [20]byte { return s.program }

// Signer returns the verified signer of the call.
func (s *Session) Signer() [20]byte { return s.signer }

// CallID returns the hash of the call being executed.
func (s *Session) CallID() [32]byte { return s.callID }

// Now returns the call's block time.
func (s *Session) Now() time.Time { return s.now }

func (s *Session) KVGet(key []byte, out interface{}) (bool, error) { return s.m.KVGet(key, out) }

func (s *Session) KVPut(key []byte, value interface{}) error { return s.m.KVPut(key, value) }

func (s *Session) Token(symbol string) (*types.TokenMetadata, error) { return s.m.Token(symbol) }

func (s *Session) Balance(addr [20]byte, symbol string) (*big.Int, error) {
	return s.m.Balance(addr, symbol)
}

func (s *Session) Account(addr [20]byte) (*types.Account, error) { return s.m.Account(addr) }

func (s *Session) Snapshot() int { return s.m.Snapshot() }

func (s *Session) RevertToSnapshot(id int) { s.m.RevertToSnapshot(id) }

// BindProgramAccount assigns owner to the account the executing program
// derives from seeds and returns its address. Rebinding to a different owner
// fails with ErrAuthorityMismatch.
func (s *Session) BindProgramAccount(seeds [][]byte, owner [20]byte) ([20]byte, error) {
	addr := crypto.DeriveProgramAddress(s.program, seeds...)
	acct, err := s.m.Account(addr)
	if err != nil {
		return addr, err
	}
	if acct.Owner != ([20]byte{}) {
		if acct.Owner != owner {
			return addr, fmt.Errorf("%w: account already bound", ErrAuthorityMismatch)
		}
		return addr, nil
	}
	acct.Owner = owner
	return addr, s.m.PutAccount(addr, acct)
}

// Transfer verifies auth against the owner of instr.From and moves the funds.
func (s *Session) Transfer(instr types.TransferInstruction, auth types.Authorization) error {
	if err := instr.Validate(); err != nil {
		return err
	}
	acct, err := s.m.Account(instr.From)
	if err != nil {
		return err
	}
	if err := s.verify(instr, auth, acct.Controller(instr.From)); err != nil {
		return err
	}
	return s.m.move(instr)
}

func (s *Session) verify(instr types.TransferInstruction, auth types.Authorization, controller [20]byte) error {
	switch auth.Kind {
	case types.AuthCaller:
		if controller != s.signer {
			return fmt.Errorf("%w: caller does not control source", ErrAuthorityMismatch)
		}
	case types.AuthProgram:
		if crypto.DeriveProgramAddress(s.program, auth.Seeds...) != controller {
			return fmt.Errorf("%w: seeds do not derive source owner", ErrAuthorityMismatch)
		}
	case types.AuthKey:
		if instr.CallID != s.callID {
			return fmt.Errorf("%w: instruction bound to another call", ErrAuthorityMismatch)
		}
		digest, err := instr.Digest()
		if err != nil {
			return err
		}
		signer, err := crypto.RecoverAddress(digest, auth.Signature)
		if err != nil {
			return errors.Join(ErrAuthorityMismatch, err)
		}
		if signer != controller {
			return fmt.Errorf("%w: key does not control source", ErrAuthorityMismatch)
		}
	default:
		return fmt.Errorf("%w: unsupported authorization %s", ErrAuthorityMismatch, auth.Kind)
	}
	return nil
}
