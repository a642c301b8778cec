package session

import (
	"os"

	"github.com/peterbourgon/diskv/v3"
)

// DiskStore persists session keys as individual files under the workspace,
// one value per key.
type DiskStore struct {
	d *diskv.Diskv
}

// NewDiskStore opens a key store rooted at dir, creating it on first write.
func NewDiskStore(dir string) *DiskStore {
	return &DiskStore{d: diskv.New(diskv.Options{
		BasePath:     dir,
		CacheSizeMax: 1024,
	})}
}

func (s *DiskStore) Get(key string) (string, bool) {
	data, err := s.d.Read(key)
	if err != nil {
		return "", false
	}
	return string(data), true
}

func (s *DiskStore) Set(key, value string) error {
	return s.d.Write(key, []byte(value))
}

func (s *DiskStore) Delete(key string) error {
	if err := s.d.Erase(key); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
