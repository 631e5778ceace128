package store

import (
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var modelsBucket = []byte("models")

// Bolt keeps models in a single bbolt file.
type Bolt struct {
	db *bolt.DB
}

// OpenBolt opens or creates the database at path.
func OpenBolt(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open model db: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(modelsBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("create models bucket: %w", err)
	}

	return &Bolt{db: db}, nil
}

// Save puts blob under key in one transaction.
func (b *Bolt) Save(key string, blob []byte) error {
	if key == "" {
		return ErrEmptyKey
	}

	if err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(modelsBucket).Put([]byte(Key(key)), blob)
	}); err != nil {
		return fmt.Errorf("put model %s: %w", key, err)
	}
	return nil
}

// Load copies the value out of the read transaction.
func (b *Bolt) Load(key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, ErrEmptyKey
	}

	var blob []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(modelsBucket).Get([]byte(Key(key)))
		if v != nil {
			blob = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("get model %s: %w", key, err)
	}
	return blob, blob != nil, nil
}

// Keys lists stored model keys in byte order.
func (b *Bolt) Keys() ([]string, error) {
	var keys []string
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(modelsBucket).ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}

// Close releases the database file.
func (b *Bolt) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}
