// Package kv is the on-disk key-value store collaborator: typed reads and
// writes plus the handful of block/contract-state lookups the core needs,
// backed by CometBFT's embedded DB.
package kv

import (
	"encoding/binary"
	"errors"
	"fmt"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/tfsc-node/packcore/pkg/txtypes"
)

var ErrNotFound = errors.New("kv: key not found")

// Store is the KV-store operations consumed by the core, per the external
// interfaces table.
type Store interface {
	GetBlockTop() (uint64, error)
	GetStakeAddress() ([]string, error)
	GetBlockByBlockHash(hash txtypes.Hash) ([]byte, error)
	GetBlockHashByTransactionHash(txHash txtypes.Hash) (txtypes.Hash, error)
	GetLatestUtxoByContractAddr(addr txtypes.Address) (txtypes.Hash, error)

	// Raw key/value access.
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
}

const (
	prefixBlockByHeight = "b/h/"
	prefixBlockByHash   = "b/x/"
	prefixTxToBlockHash = "t/x/"
	prefixContractUtxo  = "c/u/"
	prefixStake         = "s/addr"
	keyBlockTop         = "b/top"
)

// CometDB implements Store over github.com/cometbft/cometbft-db.
type CometDB struct {
	db dbm.DB
}

// NewCometDB wraps an already-opened CometBFT DB.
func NewCometDB(db dbm.DB) *CometDB {
	return &CometDB{db: db}
}

// Open opens a goleveldb-backed CometBFT DB rooted at dir.
func Open(name, dir string) (*CometDB, error) {
	db, err := dbm.NewGoLevelDB(name, dir)
	if err != nil {
		return nil, fmt.Errorf("kv: open %s: %w", dir, err)
	}
	return NewCometDB(db), nil
}

func (c *CometDB) Get(key []byte) ([]byte, error) {
	v, err := c.db.Get(key)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (c *CometDB) Set(key, value []byte) error {
	return c.db.SetSync(key, value)
}

func (c *CometDB) GetBlockTop() (uint64, error) {
	v, err := c.db.Get([]byte(keyBlockTop))
	if err != nil {
		return 0, err
	}
	if v == nil {
		return 0, nil
	}
	if len(v) != 8 {
		return 0, fmt.Errorf("kv: corrupt block-top value")
	}
	return binary.BigEndian.Uint64(v), nil
}

// SetBlockTop is not part of the external Store contract (block persistence
// is owned by consensus) but is exposed for test fixtures that need to seed
// a top height.
func (c *CometDB) SetBlockTop(height uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, height)
	return c.db.SetSync([]byte(keyBlockTop), buf)
}

func (c *CometDB) GetStakeAddress() ([]string, error) {
	v, err := c.db.Get([]byte(prefixStake))
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	var addrs []string
	n := len(v) / 40
	for i := 0; i < n; i++ {
		addrs = append(addrs, string(v[i*40:i*40+40]))
	}
	return addrs, nil
}

func (c *CometDB) GetBlockByBlockHash(hash txtypes.Hash) ([]byte, error) {
	v, err := c.db.Get(append([]byte(prefixBlockByHash), hash[:]...))
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, ErrNotFound
	}
	return v, nil
}

func (c *CometDB) GetBlockHashByTransactionHash(txHash txtypes.Hash) (txtypes.Hash, error) {
	v, err := c.db.Get(append([]byte(prefixTxToBlockHash), txHash[:]...))
	if err != nil {
		return txtypes.Hash{}, err
	}
	if v == nil || len(v) != 32 {
		return txtypes.Hash{}, ErrNotFound
	}
	var h txtypes.Hash
	copy(h[:], v)
	return h, nil
}

func (c *CometDB) GetLatestUtxoByContractAddr(addr txtypes.Address) (txtypes.Hash, error) {
	v, err := c.db.Get(append([]byte(prefixContractUtxo), []byte(addr)...))
	if err != nil {
		return txtypes.Hash{}, err
	}
	if v == nil || len(v) != 32 {
		return txtypes.Hash{}, ErrNotFound
	}
	var h txtypes.Hash
	copy(h[:], v)
	return h, nil
}

// PutBlockByHash, PutBlockByHeight, and PutLatestUtxoByContractAddr
// are test/bootstrap helpers used by
// pkg/blockstore and fixtures to populate the store; the live node only
// writes these via the (out-of-scope) consensus commit path.
func (c *CometDB) PutBlockByHash(hash txtypes.Hash, raw []byte) error {
	return c.db.SetSync(append([]byte(prefixBlockByHash), hash[:]...), raw)
}

func (c *CometDB) PutBlockByHeight(height uint64, hash txtypes.Hash) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, height)
	return c.db.SetSync(append([]byte(prefixBlockByHeight), buf...), hash[:])
}

func (c *CometDB) GetBlockHashByHeight(height uint64) (txtypes.Hash, error) {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, height)
	v, err := c.db.Get(append([]byte(prefixBlockByHeight), buf...))
	if err != nil {
		return txtypes.Hash{}, err
	}
	if v == nil || len(v) != 32 {
		return txtypes.Hash{}, ErrNotFound
	}
	var h txtypes.Hash
	copy(h[:], v)
	return h, nil
}

func (c *CometDB) PutLatestUtxoByContractAddr(addr txtypes.Address, hash txtypes.Hash) error {
	return c.db.SetSync(append([]byte(prefixContractUtxo), []byte(addr)...), hash[:])
}
