package buffer

import (
	"context"
	"errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/dmitrijs2005/chunkpipe/internal/common"
)

var chunkPrefix = []byte("chunk/")

// BadgerStore keeps chunks under a key prefix in a badger directory.
type BadgerStore struct {
	db *badger.DB
}

func OpenBadger(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db}, nil
}

func badgerKey(id string) []byte {
	return append(append([]byte(nil), chunkPrefix...), id...)
}

func (b *BadgerStore) Put(ctx context.Context, id string, value []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(id), value)
	})
}

func (b *BadgerStore) Get(ctx context.Context, id string) ([]byte, error) {
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return common.ErrorNotFound
		}
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	return out, err
}

func (b *BadgerStore) Delete(ctx context.Context, id string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(badgerKey(id))
	})
}

func (b *BadgerStore) List(ctx context.Context) ([][]byte, error) {
	var out [][]byte
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = chunkPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			v, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			out = append(out, v)
		}
		return nil
	})
	return out, err
}

func (b *BadgerStore) Clear(ctx context.Context) error {
	return b.db.DropPrefix(chunkPrefix)
}

func (b *BadgerStore) Close() error {
	return b.db.Close()
}
