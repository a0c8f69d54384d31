package storage

import (
	"errors"

	"github.com/LordVaderXIII/Appmanager/pkg/types"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("record not found")

// Store defines the interface for App Manager state storage.
// Implemented by BoltDB-backed storage; tests may substitute fakes.
type Store interface {
	// Repositories
	CreateRepository(repo *types.Repository) error
	GetRepository(id string) (*types.Repository, error)
	GetRepositoryByURL(url string) (*types.Repository, error)
	ListRepositories() ([]*types.Repository, error)
	UpdateRepository(repo *types.Repository) error
	DeleteRepository(id string) error

	// Failure records
	CreateFailure(rec *types.FailureRecord) error
	GetFailure(id string) (*types.FailureRecord, error)
	ListFailuresByRepository(repoID string) ([]*types.FailureRecord, error)
	LatestFailure(repoID string) (*types.FailureRecord, error)
	UpdateFailure(rec *types.FailureRecord) error

	// Settings (single process-wide record)
	GetSettings() (*types.Settings, error)
	UpdateSettings(s *types.Settings) error

	// Utility
	Close() error
}
