package state

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"tokenswap/core/types"
	"tokenswap/storage"
)

var (
	// ErrInsufficientFunds is returned when a transfer source cannot cover the amount.
	ErrInsufficientFunds = errors.New("state: insufficient funds")
	// ErrAuthorityMismatch is returned when a transfer authorization does not
	// resolve to the owner of the source account.
	ErrAuthorityMismatch = errors.New("state: authority mismatch")
	// ErrUnknownToken is returned for assets that were never registered.
	ErrUnknownToken = errors.New("state: unknown token")
	// ErrTokenExists is returned when registering a symbol twice.
	ErrTokenExists = errors.New("state: token already registered")
)

var (
	accountPrefix = []byte("account:")
	balancePrefix = []byte("balance:")
	tokenPrefix   = []byte("token:")
	kvPrefix      = []byte("kv:")
	tokenListKey  = ethcrypto.Keccak256([]byte("token-list"))
)

// Manager is the account substrate: accounts, per-asset balances, registered
// tokens and a generic KV space for native modules. Writes are buffered and
// journaled until Commit so any call can be rolled back to a snapshot.
//
// Manager is not safe for concurrent use; core.Executor serialises access.
type Manager struct {
	db      storage.Database
	dirty   map[string][]byte
	journal []journalEntry
}

type journalEntry struct {
	key     string
	prev    []byte
	existed bool
}

// NewManager creates a state manager backed by db.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db, dirty: make(map[string][]byte)}
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func accountKey(addr [20]byte) []byte {
	buf := make([]byte, 0, len(accountPrefix)+len(addr))
	buf = append(buf, accountPrefix...)
	return append(buf, addr[:]...)
}

func balanceKey(addr [20]byte, symbol string) []byte {
	buf := make([]byte, 0, len(balancePrefix)+len(addr)+1+len(symbol))
	buf = append(buf, balancePrefix...)
	buf = append(buf, addr[:]...)
	buf = append(buf, ':')
	return append(buf, symbol...)
}

func tokenMetadataKey(symbol string) []byte {
	buf := make([]byte, 0, len(tokenPrefix)+len(symbol))
	buf = append(buf, tokenPrefix...)
	return append(buf, symbol...)
}

func kvKey(key []byte) []byte {
	buf := make([]byte, 0, len(kvPrefix)+32)
	buf = append(buf, kvPrefix...)
	return append(buf, ethcrypto.Keccak256(key)...)
}

func (m *Manager) get(key []byte) ([]byte, error) {
	if value, ok := m.dirty[string(key)]; ok {
		return value, nil
	}
	value, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("state: read: %w", err)
	}
	return value, nil
}

func (m *Manager) set(key []byte, value []byte) {
	prev, existed := m.dirty[string(key)]
	m.journal = append(m.journal, journalEntry{key: string(key), prev: prev, existed: existed})
	m.dirty[string(key)] = value
}

func (m *Manager) putRLP(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.set(key, encoded)
	return nil
}

func (m *Manager) getRLP(key []byte, out interface{}) (bool, error) {
	data, err := m.get(key)
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// Snapshot returns an identifier for the current journal position.
func (m *Manager) Snapshot() int {
	return len(m.journal)
}

// RevertToSnapshot undoes every uncommitted write made after id was taken.
func (m *Manager) RevertToSnapshot(id int) {
	if id < 0 {
		id = 0
	}
	for i := len(m.journal) - 1; i >= id; i-- {
		entry := m.journal[i]
		if entry.existed {
			m.dirty[entry.key] = entry.prev
		} else {
			delete(m.dirty, entry.key)
		}
	}
	if id < len(m.journal) {
		m.journal = m.journal[:id]
	}
}

// Commit flushes buffered writes to the database in a single batch.
func (m *Manager) Commit() error {
	if len(m.dirty) == 0 {
		m.journal = m.journal[:0]
		return nil
	}
	keys := make([]string, 0, len(m.dirty))
	for key := range m.dirty {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	batch := new(storage.Batch)
	for _, key := range keys {
		batch.Put([]byte(key), m.dirty[key])
	}
	if err := m.db.Write(batch); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	m.dirty = make(map[string][]byte)
	m.journal = m.journal[:0]
	return nil
}

// Discard drops every uncommitted write.
func (m *Manager) Discard() {
	m.dirty = make(map[string][]byte)
	m.journal = m.journal[:0]
}

// KVPut stores an RLP-encoded value under the hashed key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	return m.putRLP(kvKey(key), value)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	return m.getRLP(kvKey(key), out)
}

// RegisterToken records metadata for a new asset symbol.
func (m *Manager) RegisterToken(symbol, name string, decimals uint8) error {
	normalized := normalizeSymbol(symbol)
	if normalized == "" {
		return fmt.Errorf("state: token symbol required")
	}
	exists, err := m.getRLP(tokenMetadataKey(normalized), nil)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrTokenExists, normalized)
	}
	meta := types.TokenMetadata{Symbol: normalized, Name: strings.TrimSpace(name), Decimals: decimals}
	if err := m.putRLP(tokenMetadataKey(normalized), &meta); err != nil {
		return err
	}
	list, err := m.TokenList()
	if err != nil {
		return err
	}
	list = append(list, normalized)
	sort.Strings(list)
	return m.putRLP(tokenListKey, list)
}

// Token returns the metadata registered for symbol.
func (m *Manager) Token(symbol string) (*types.TokenMetadata, error) {
	normalized := normalizeSymbol(symbol)
	meta := new(types.TokenMetadata)
	ok, err := m.getRLP(tokenMetadataKey(normalized), meta)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, normalized)
	}
	return meta, nil
}

// TokenList returns the registered symbols in lexical order.
func (m *Manager) TokenList() ([]string, error) {
	list := []string{}
	if _, err := m.getRLP(tokenListKey, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Account returns the stored record for addr, or a fresh one when absent.
func (m *Manager) Account(addr [20]byte) (*types.Account, error) {
	acct := new(types.Account)
	if _, err := m.getRLP(accountKey(addr), acct); err != nil {
		return nil, err
	}
	return acct, nil
}

// PutAccount writes the record for addr.
func (m *Manager) PutAccount(addr [20]byte, acct *types.Account) error {
	if acct == nil {
		return fmt.Errorf("state: nil account")
	}
	return m.putRLP(accountKey(addr), acct)
}

// Balance returns the amount of symbol held by addr.
func (m *Manager) Balance(addr [20]byte, symbol string) (*big.Int, error) {
	normalized := normalizeSymbol(symbol)
	if _, err := m.Token(normalized); err != nil {
		return nil, err
	}
	balance := new(big.Int)
	if _, err := m.getRLP(balanceKey(addr, normalized), balance); err != nil {
		return nil, err
	}
	return balance, nil
}

// Balances lists every registered asset held by addr, zero balances included.
func (m *Manager) Balances(addr [20]byte) ([]types.Balance, error) {
	symbols, err := m.TokenList()
	if err != nil {
		return nil, err
	}
	out := make([]types.Balance, 0, len(symbols))
	for _, symbol := range symbols {
		amount, err := m.Balance(addr, symbol)
		if err != nil {
			return nil, err
		}
		out = append(out, types.Balance{Asset: symbol, Amount: amount})
	}
	return out, nil
}

func (m *Manager) setBalance(addr [20]byte, symbol string, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("state: negative balance for %s", symbol)
	}
	return m.putRLP(balanceKey(addr, symbol), amount)
}

// Credit mints amount of symbol into addr. It is reserved for genesis
// allocation and tests; runtime movements go through Session.Transfer.
func (m *Manager) Credit(addr [20]byte, symbol string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("state: credit amount must be positive")
	}
	current, err := m.Balance(addr, symbol)
	if err != nil {
		return err
	}
	return m.setBalance(addr, normalizeSymbol(symbol), new(big.Int).Add(current, amount))
}

// move debits and credits without authorization checks.
func (m *Manager) move(instr types.TransferInstruction) error {
	symbol := normalizeSymbol(instr.Asset)
	fromBalance, err := m.Balance(instr.From, symbol)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(instr.Amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s %s", ErrInsufficientFunds, fromBalance, instr.Amount, symbol)
	}
	toBalance, err := m.Balance(instr.To, symbol)
	if err != nil {
		return err
	}
	if err := m.setBalance(instr.From, symbol, new(big.Int).Sub(fromBalance, instr.Amount)); err != nil {
		return err
	}
	return m.setBalance(instr.To, symbol, new(big.Int).Add(toBalance, instr.Amount))
}
