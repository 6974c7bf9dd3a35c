package store

import (
	"bytes"
	"errors"
	"sort"

	"github.com/luxfi/database"
)

// ErrTxDone is returned by a Tx that was already committed or discarded.
var ErrTxDone = errors.New("transaction already finished")

type write struct {
	value   []byte
	deleted bool
}

// Tx buffers writes over the committed state. Reads see the Tx's own writes.
// A Tx is not safe for concurrent use.
type Tx struct {
	db     database.Database
	writes map[string]write
	done   bool
}

func (tx *Tx) Has(key []byte) (bool, error) {
	if tx.done {
		return false, ErrTxDone
	}
	if w, ok := tx.writes[string(key)]; ok {
		return !w.deleted, nil
	}
	return tx.db.Has(key)
}

func (tx *Tx) Get(key []byte) ([]byte, error) {
	if tx.done {
		return nil, ErrTxDone
	}
	if w, ok := tx.writes[string(key)]; ok {
		if w.deleted {
			return nil, database.ErrNotFound
		}
		return bytes.Clone(w.value), nil
	}
	return tx.db.Get(key)
}

func (tx *Tx) Put(key []byte, value []byte) error {
	if tx.done {
		return ErrTxDone
	}
	tx.writes[string(key)] = write{value: bytes.Clone(value)}
	return nil
}

func (tx *Tx) Delete(key []byte) error {
	if tx.done {
		return ErrTxDone
	}
	tx.writes[string(key)] = write{deleted: true}
	return nil
}

// Bucket scopes the Tx to prefix.
func (tx *Tx) Bucket(prefix []byte) Bucket {
	return NewBucket(tx, prefix)
}

// Height returns the height recorded in this Tx or the committed one.
func (tx *Tx) Height() (uint64, error) {
	return readHeight(tx.Bucket(PrefixMeta))
}

// SetHeight records height as the last committed height.
func (tx *Tx) SetHeight(height uint64) error {
	return tx.Bucket(PrefixMeta).Put(keyHeight, HeightKey(height))
}

// MarkGenesis records that the genesis market was applied.
func (tx *Tx) MarkGenesis() error {
	return tx.Bucket(PrefixMeta).Put(keyGenesis, []byte{1})
}

// Len returns the number of buffered writes.
func (tx *Tx) Len() int {
	return len(tx.writes)
}

// Commit writes every buffered change in one batch, in key order.
func (tx *Tx) Commit() error {
	if tx.done {
		return ErrTxDone
	}
	tx.done = true

	keys := make([]string, 0, len(tx.writes))
	for k := range tx.writes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	batch := tx.db.NewBatch()
	for _, k := range keys {
		w := tx.writes[k]
		var err error
		if w.deleted {
			err = batch.Delete([]byte(k))
		} else {
			err = batch.Put([]byte(k), w.value)
		}
		if err != nil {
			return err
		}
	}
	tx.writes = nil
	return batch.Write()
}

// Discard drops every buffered change. Discarding a finished Tx is a no-op.
func (tx *Tx) Discard() {
	tx.done = true
	tx.writes = nil
}
