package supervisor

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"procpanel/internal/models"
)

var processesBucket = []byte("processes")

// record is the persisted form of a managed process.
type record struct {
	ID       int              `json:"id"`
	Instance int              `json:"instance"`
	Spec     models.StartSpec `json:"spec"`
	Running  bool             `json:"running"`
}

// Store keeps the process table across supervisor restarts.
type Store struct {
	db *bolt.DB
}

func OpenStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db directory failed: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, createErr := tx.CreateBucketIfNotExists(processesBucket)
		return createErr
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (store *Store) Close() error {
	if store == nil || store.db == nil {
		return nil
	}
	return store.db.Close()
}

func (store *Store) save(rec record) error {
	if store == nil {
		return nil
	}
	return store.db.Update(func(tx *bolt.Tx) error {
		payload, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return tx.Bucket(processesBucket).Put(idKey(rec.ID), payload)
	})
}

func (store *Store) delete(id int) error {
	if store == nil {
		return nil
	}
	return store.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(processesBucket).Delete(idKey(id))
	})
}

// load returns every record in id order.
func (store *Store) load() ([]record, error) {
	if store == nil {
		return nil, nil
	}
	var records []record
	err := store.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(processesBucket).ForEach(func(_, value []byte) error {
			rec := record{}
			if err := json.Unmarshal(value, &rec); err != nil {
				return err
			}
			records = append(records, rec)
			return nil
		})
	})
	return records, err
}

// Big-endian keys keep the cursor in numeric order.
func idKey(id int) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(id))
	return key
}
