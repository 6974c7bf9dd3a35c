// Package store keeps node state in a luxfi database. Writes go through a Tx
// overlay that commits as a single batch.
package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/luxfi/database"
	"github.com/luxfi/database/manager"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/database/prefixdb"
	"github.com/luxfi/log"
)

// Key prefixes inside the store namespace.
var (
	PrefixState    = []byte("state/")
	PrefixBalances = []byte("balance/")
	PrefixBlocks   = []byte("block/")
	PrefixMeta     = []byte("meta/")
)

var (
	keyHeight  = []byte("height")
	keyGenesis = []byte("genesis")
)

// DefaultNamespace is used when Config.Namespace is empty.
const DefaultNamespace = "perps"

var ErrClosed = errors.New("store closed")

// KV is the key-value surface shared by the database, a Tx and a Bucket.
type KV interface {
	Has(key []byte) (bool, error)
	Get(key []byte) ([]byte, error)
	Put(key []byte, value []byte) error
	Delete(key []byte) error
}

// Config selects the backing database.
type Config struct {
	DataDir   string
	Namespace string
	InMemory  bool
}

// Store is the node database, namespaced under Config.Namespace.
type Store struct {
	root   database.Database
	db     database.Database
	logger log.Logger
}

// Open opens BadgerDB under cfg.DataDir through the database manager. When
// badger cannot be opened the store falls back to memory.
func Open(cfg Config, logger log.Logger) (*Store, error) {
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultNamespace
	}
	if cfg.InMemory || cfg.DataDir == "" {
		logger.Info("using in-memory database")
		return New(memdb.New(), cfg.Namespace, logger), nil
	}

	dbManager := manager.NewManager(cfg.DataDir, nil)
	dbConfig := manager.DefaultBadgerDBConfig("badgerdb")
	dbConfig.Namespace = cfg.Namespace

	db, err := dbManager.New(dbConfig)
	if err != nil {
		logger.Warn("failed to open badgerdb, falling back to memory", "error", err)
		db, err = dbManager.New(manager.DefaultMemoryConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
		return New(db, cfg.Namespace, logger), nil
	}
	logger.Info("badgerdb initialized", "path", filepath.Join(cfg.DataDir, "badgerdb"))
	return New(db, cfg.Namespace, logger), nil
}

// New wraps an existing database, e.g. one shared with a node, keeping every
// key under namespace.
func New(db database.Database, namespace string, logger log.Logger) *Store {
	return &Store{
		root:   db,
		db:     prefixdb.New([]byte(namespace), db),
		logger: logger,
	}
}

// NewMemory returns an empty store backed by memdb.
func NewMemory() *Store {
	return New(memdb.New(), DefaultNamespace, log.Root().New("module", "store"))
}

// Begin starts a write overlay over the committed state.
func (s *Store) Begin() *Tx {
	return &Tx{db: s.db, writes: make(map[string]write)}
}

// Bucket returns a view of committed keys under prefix. Writes through it go
// straight to the database; use a Tx for anything that must commit atomically.
func (s *Store) Bucket(prefix []byte) Bucket {
	return NewBucket(s.db, prefix)
}

// Height returns the last committed height, zero before the first commit.
func (s *Store) Height() (uint64, error) {
	return readHeight(NewBucket(s.db, PrefixMeta))
}

// GenesisApplied reports whether the genesis market has been written.
func (s *Store) GenesisApplied() (bool, error) {
	return NewBucket(s.db, PrefixMeta).Has(keyGenesis)
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.root.Close()
}

func readHeight(meta KV) (uint64, error) {
	raw, err := meta.Get(keyHeight)
	if errors.Is(err, database.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("corrupt height record: %d bytes", len(raw))
	}
	return binary.BigEndian.Uint64(raw), nil
}

// HeightKey encodes a block height for ordered iteration.
func HeightKey(height uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, height)
}
