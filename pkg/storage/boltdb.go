package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/LordVaderXIII/Appmanager/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketRepositories = []byte("repositories")
	bucketFailures     = []byte("failures")
	bucketSettings     = []byte("settings")

	settingsKey = []byte("global")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "appmanager.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketRepositories,
			bucketFailures,
			bucketSettings,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Repository operations

func (s *BoltStore) CreateRepository(repo *types.Repository) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRepositories)

		// Source URL is unique across all tracked repositories
		var dup bool
		err := b.ForEach(func(k, v []byte) error {
			var existing types.Repository
			if err := json.Unmarshal(v, &existing); err != nil {
				return err
			}
			if existing.URL == repo.URL && existing.ID != repo.ID {
				dup = true
			}
			return nil
		})
		if err != nil {
			return err
		}
		if dup {
			return fmt.Errorf("repository with URL %s already tracked", repo.URL)
		}

		data, err := json.Marshal(repo)
		if err != nil {
			return err
		}
		return b.Put([]byte(repo.ID), data)
	})
}

func (s *BoltStore) GetRepository(id string) (*types.Repository, error) {
	var repo types.Repository
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRepositories)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("repository %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &repo)
	})
	if err != nil {
		return nil, err
	}
	return &repo, nil
}

func (s *BoltStore) GetRepositoryByURL(url string) (*types.Repository, error) {
	var found *types.Repository
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRepositories)
		return b.ForEach(func(k, v []byte) error {
			var repo types.Repository
			if err := json.Unmarshal(v, &repo); err != nil {
				return err
			}
			if repo.URL == url {
				found = &repo
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("repository with URL %s: %w", url, ErrNotFound)
	}
	return found, nil
}

func (s *BoltStore) ListRepositories() ([]*types.Repository, error) {
	var repos []*types.Repository
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRepositories)
		return b.ForEach(func(k, v []byte) error {
			var repo types.Repository
			if err := json.Unmarshal(v, &repo); err != nil {
				return err
			}
			repos = append(repos, &repo)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(repos, func(i, j int) bool { return repos[i].CreatedAt.Before(repos[j].CreatedAt) })
	return repos, nil
}

func (s *BoltStore) UpdateRepository(repo *types.Repository) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRepositories)
		if b.Get([]byte(repo.ID)) == nil {
			return fmt.Errorf("repository %s: %w", repo.ID, ErrNotFound)
		}
		data, err := json.Marshal(repo)
		if err != nil {
			return err
		}
		return b.Put([]byte(repo.ID), data)
	})
}

func (s *BoltStore) DeleteRepository(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRepositories).Delete([]byte(id))
	})
}

// Failure record operations

func (s *BoltStore) CreateFailure(rec *types.FailureRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFailures)
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(rec.ID), data)
	})
}

func (s *BoltStore) GetFailure(id string) (*types.FailureRecord, error) {
	var rec types.FailureRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFailures)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("failure record %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *BoltStore) ListFailuresByRepository(repoID string) ([]*types.FailureRecord, error) {
	var recs []*types.FailureRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFailures)
		return b.ForEach(func(k, v []byte) error {
			var rec types.FailureRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if rec.RepositoryID == repoID {
				recs = append(recs, &rec)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].CreatedAt.Before(recs[j].CreatedAt) })
	return recs, nil
}

// LatestFailure returns the repository's current failure record, the most
// recent by creation time. Returns ErrNotFound when the repository has no
// failure history.
func (s *BoltStore) LatestFailure(repoID string) (*types.FailureRecord, error) {
	recs, err := s.ListFailuresByRepository(repoID)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("no failures for repository %s: %w", repoID, ErrNotFound)
	}
	return recs[len(recs)-1], nil
}

func (s *BoltStore) UpdateFailure(rec *types.FailureRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFailures)
		if b.Get([]byte(rec.ID)) == nil {
			return fmt.Errorf("failure record %s: %w", rec.ID, ErrNotFound)
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(rec.ID), data)
	})
}

// Settings operations

func (s *BoltStore) GetSettings() (*types.Settings, error) {
	settings := &types.Settings{}
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSettings)
		data := b.Get(settingsKey)
		if data == nil {
			// Empty settings until configured
			return nil
		}
		return json.Unmarshal(data, settings)
	})
	if err != nil {
		return nil, err
	}
	return settings, nil
}

func (s *BoltStore) UpdateSettings(settings *types.Settings) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSettings)
		data, err := json.Marshal(settings)
		if err != nil {
			return err
		}
		return b.Put(settingsKey, data)
	})
}
