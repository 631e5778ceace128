package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FileSuffix is appended to the key to form the model file name.
const FileSuffix = "_autoencoder.gob"

// Dir keeps one model file per key in a directory.
type Dir struct {
	path string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewDir creates the directory if needed and returns a store rooted at it.
func NewDir(path string) (*Dir, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create model dir: %w", err)
	}
	return &Dir{path: path, locks: map[string]*sync.Mutex{}}, nil
}

// Path returns the file a key is stored in.
func (d *Dir) Path(key string) string {
	return filepath.Join(d.path, Key(key)+FileSuffix)
}

// Save writes blob to a temporary file and renames it over the key's file.
func (d *Dir) Save(key string, blob []byte) error {
	if key == "" {
		return ErrEmptyKey
	}

	lock := d.lock(key)
	lock.Lock()
	defer lock.Unlock()

	tmp, err := os.CreateTemp(d.path, ".model-*")
	if err != nil {
		return fmt.Errorf("create temp model file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		return fmt.Errorf("write model %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close model %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), d.Path(key)); err != nil {
		return fmt.Errorf("rename model %s: %w", key, err)
	}
	return nil
}

// Load reads the key's file if it exists.
func (d *Dir) Load(key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, ErrEmptyKey
	}

	lock := d.lock(key)
	lock.Lock()
	defer lock.Unlock()

	blob, err := os.ReadFile(d.Path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read model %s: %w", key, err)
	}
	return blob, true, nil
}

func (d *Dir) lock(key string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()

	k := Key(key)
	l, ok := d.locks[k]
	if !ok {
		l = &sync.Mutex{}
		d.locks[k] = l
	}
	return l
}
