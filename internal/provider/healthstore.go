package provider

import (
	"encoding/json"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const healthKeyPrefix = "health:"

// HealthStore persists provider health snapshots so provider standing
// survives process restarts. Best-effort: the gateway works without it.
type HealthStore struct {
	db *leveldb.DB
}

// OpenHealthStore opens (or creates) the LevelDB database at path.
func OpenHealthStore(path string) (*HealthStore, error) {
	opts := &opt.Options{
		CompactionTableSize: 2 * 1024 * 1024,
		WriteBuffer:         1 * 1024 * 1024,
	}
	db, err := leveldb.OpenFile(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open health store: %w", err)
	}
	return &HealthStore{db: db}, nil
}

func (s *HealthStore) Close() error {
	return s.db.Close()
}

// Save writes one snapshot per provider, overwriting previous records.
func (s *HealthStore) Save(snapshots []HealthSnapshot) error {
	batch := new(leveldb.Batch)
	for _, snap := range snapshots {
		data, err := json.Marshal(snap)
		if err != nil {
			return fmt.Errorf("failed to marshal health snapshot: %w", err)
		}
		batch.Put([]byte(healthKeyPrefix+snap.Provider), data)
	}
	return s.db.Write(batch, nil)
}

// Load returns all persisted snapshots. A missing database is not an error.
func (s *HealthStore) Load() ([]HealthSnapshot, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(healthKeyPrefix)), nil)
	defer iter.Release()

	var out []HealthSnapshot
	for iter.Next() {
		var snap HealthSnapshot
		if err := json.Unmarshal(iter.Value(), &snap); err != nil {
			continue
		}
		out = append(out, snap)
	}
	return out, iter.Error()
}
