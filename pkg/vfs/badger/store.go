// Package badger provides a persistent vfs.AttributeStore backed by BadgerDB.
//
// Key layout:
//
//	attr:<path>\x00<name> -> XDR encoded wireValue
//
// The NUL separator sorts before "/", so all attributes of one path form a
// contiguous range and a subtree is covered by the two prefixes
// "attr:<path>\x00" and "attr:<path>/".
package badger

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/marmos91/dittoloaders/internal/logger"
	"github.com/marmos91/dittoloaders/pkg/vfs"
)

const keyPrefix = "attr:"

// BadgerAttributeStoreConfig contains configuration for the badger store.
type BadgerAttributeStoreConfig struct {
	// DBPath is the directory holding the database files
	DBPath string `mapstructure:"db_path"`

	// InMemory keeps the database in memory (DBPath is ignored)
	InMemory bool `mapstructure:"in_memory"`

	// BlockCacheSizeMB is the block cache size (default: 64)
	BlockCacheSizeMB int64 `mapstructure:"block_cache_mb"`

	// IndexCacheSizeMB is the index cache size (default: 32)
	IndexCacheSizeMB int64 `mapstructure:"index_cache_mb"`

	// BadgerOptions overrides every other option when set
	BadgerOptions *badger.Options `mapstructure:"-"`
}

// BadgerAttributeStore persists attributes in BadgerDB.
//
// Thread safety:
// Badger transactions provide isolation; no additional locking is needed.
type BadgerAttributeStore struct {
	db *badger.DB
}

// NewBadgerAttributeStore opens (or creates) the database.
func NewBadgerAttributeStore(ctx context.Context, config BadgerAttributeStoreConfig) (*BadgerAttributeStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if config.DBPath == "" && !config.InMemory && config.BadgerOptions == nil {
		return nil, fmt.Errorf("badger attribute store: db_path is required")
	}

	var opts badger.Options
	if config.BadgerOptions != nil {
		opts = *config.BadgerOptions
	} else {
		if config.InMemory {
			opts = badger.DefaultOptions("").WithInMemory(true)
		} else {
			opts = badger.DefaultOptions(config.DBPath)
		}

		// attribute values are tiny; compression costs more than it saves
		opts = opts.WithLoggingLevel(badger.WARNING)
		opts = opts.WithCompression(options.None)

		blockCacheMB := config.BlockCacheSizeMB
		if blockCacheMB == 0 {
			blockCacheMB = 64
		}
		indexCacheMB := config.IndexCacheSizeMB
		if indexCacheMB == 0 {
			indexCacheMB = 32
		}
		opts = opts.WithBlockCacheSize(blockCacheMB << 20)
		opts = opts.WithIndexCacheSize(indexCacheMB << 20)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", config.DBPath, err)
	}

	logger.Debug("Opened badger attribute store at %s", config.DBPath)
	return &BadgerAttributeStore{db: db}, nil
}

func attrKey(path, name string) []byte {
	return []byte(keyPrefix + path + "\x00" + name)
}

func pathPrefix(path string) []byte {
	return []byte(keyPrefix + path + "\x00")
}

func subtreePrefix(path string) []byte {
	if path == "/" {
		return []byte(keyPrefix + "/")
	}
	return []byte(keyPrefix + path + "/")
}

// splitKey returns path and name of an attribute key.
func splitKey(key []byte) (string, string, bool) {
	rest := strings.TrimPrefix(string(key), keyPrefix)
	idx := strings.IndexByte(rest, 0)
	if idx < 0 {
		return "", "", false
	}
	return rest[:idx], rest[idx+1:], true
}

func (s *BadgerAttributeStore) Get(ctx context.Context, path, name string) (any, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	var value any
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(attrKey(path, name))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			v, err := decodeValue(val)
			if err != nil {
				return err
			}
			value, found = v, true
			return nil
		})
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to get attribute %s of %s: %w", name, path, err)
	}
	return value, found, nil
}

func (s *BadgerAttributeStore) Set(ctx context.Context, path, name string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v, err := normalize(value)
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if v == nil {
			if err := txn.Delete(attrKey(path, name)); err != nil && err != badger.ErrKeyNotFound {
				return err
			}
			return nil
		}
		data, err := encodeValue(v)
		if err != nil {
			return err
		}
		return txn.Set(attrKey(path, name), data)
	})
}

func (s *BadgerAttributeStore) List(ctx context.Context, path string) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make(map[string]any)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = pathPrefix(path)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			_, name, ok := splitKey(item.Key())
			if !ok {
				continue
			}
			if err := item.Value(func(val []byte) error {
				v, err := decodeValue(val)
				if err != nil {
					return err
				}
				out[name] = v
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list attributes of %s: %w", path, err)
	}
	return out, nil
}

func (s *BadgerAttributeStore) Paths(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if p, _, ok := splitKey(it.Item().Key()); ok {
				seen[p] = true
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

// subtree collects key/value pairs of path and its descendants.
func subtree(txn *badger.Txn, path string) (map[string][]byte, error) {
	out := make(map[string][]byte)
	for _, prefix := range [][]byte{pathPrefix(path), subtreePrefix(path)} {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				it.Close()
				return nil, err
			}
			out[string(item.KeyCopy(nil))] = val
		}
		it.Close()
	}
	return out, nil
}

func (s *BadgerAttributeStore) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		kvs, err := subtree(txn, path)
		if err != nil {
			return err
		}
		for k := range kvs {
			if err := txn.Delete([]byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
}

// rebaseKey rewrites an attribute key from below oldPath to below newPath.
func rebaseKey(key []byte, oldPath, newPath string) []byte {
	p, name, _ := splitKey(key)
	return attrKey(vfs.Rebase(p, oldPath, newPath), name)
}

func (s *BadgerAttributeStore) Rename(ctx context.Context, oldPath, newPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		kvs, err := subtree(txn, oldPath)
		if err != nil {
			return err
		}
		for k := range kvs {
			if err := txn.Delete([]byte(k)); err != nil {
				return err
			}
		}
		for k, v := range kvs {
			if err := txn.Set(rebaseKey([]byte(k), oldPath, newPath), v); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerAttributeStore) Copy(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		kvs, err := subtree(txn, src)
		if err != nil {
			return err
		}
		for k, v := range kvs {
			if err := txn.Set(rebaseKey([]byte(k), src, dst), bytes.Clone(v)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close closes the database.
func (s *BadgerAttributeStore) Close() error {
	return s.db.Close()
}
