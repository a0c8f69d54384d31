package escalate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/LordVaderXIII/Appmanager/pkg/activity"
	"github.com/LordVaderXIII/Appmanager/pkg/storage"
	"github.com/LordVaderXIII/Appmanager/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRemote struct {
	calls int
	fail  bool
}

func (f *fakeRemote) OpenSession(ctx context.Context, apiKey, repoName, failureText string) (string, error) {
	f.calls++
	if f.fail {
		return "", errors.New("connection refused")
	}
	return "sessions/12345", nil
}

func setup(t *testing.T) (*storage.BoltStore, *types.Repository, *activity.Log) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	repo := &types.Repository{
		ID:        "repo-1",
		URL:       "https://example.com/acme/widgets.git",
		Name:      "acme/widgets",
		Status:    types.RepoStatusActive,
		CreatedAt: time.Now(),
	}
	require.NoError(t, store.CreateRepository(repo))
	return store, repo, activity.NewLog(t.TempDir())
}

func TestEscalateIdempotent(t *testing.T) {
	store, repo, act := setup(t)
	remote := &fakeRemote{}
	e := NewEscalator(store, remote, act)

	ctx := context.Background()
	require.NoError(t, e.Escalate(ctx, repo, "build/run error", "Build Failed: syntax error"))
	require.NoError(t, e.Escalate(ctx, repo, "build/run error", "Build Failed: syntax error"))

	// Exactly one record, exactly one remote session-open call
	recs, err := store.ListFailuresByRepository(repo.ID)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
	assert.Equal(t, 1, remote.calls)
	assert.Equal(t, "sessions/12345", recs[0].SessionID)
	assert.Equal(t, types.FixStatusReported, recs[0].FixStatus)

	got, err := store.GetRepository(repo.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RepoStatusError, got.Status)
	assert.Equal(t, recs[0].Fingerprint, got.LastErrorHash)
}

func TestEscalateDifferentDetail(t *testing.T) {
	store, repo, act := setup(t)
	remote := &fakeRemote{}
	e := NewEscalator(store, remote, act)

	ctx := context.Background()
	require.NoError(t, e.Escalate(ctx, repo, "build/run error", "first failure"))
	require.NoError(t, e.Escalate(ctx, repo, "build/run error", "second, different failure"))

	recs, err := store.ListFailuresByRepository(repo.ID)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
	assert.Equal(t, 2, remote.calls)
	assert.NotEqual(t, recs[0].Fingerprint, recs[1].Fingerprint)
}

func TestEscalateRemoteUnreachableRetries(t *testing.T) {
	store, repo, act := setup(t)
	remote := &fakeRemote{fail: true}
	e := NewEscalator(store, remote, act)

	ctx := context.Background()
	require.NoError(t, e.Escalate(ctx, repo, "sync error", "fatal: repository not found"))

	// Failure is recorded locally without a session id
	rec, err := store.LatestFailure(repo.ID)
	require.NoError(t, err)
	assert.Empty(t, rec.SessionID)
	assert.Equal(t, types.FixStatusNone, rec.FixStatus)

	// The identical failure on the next pass retries the remote call on
	// the same record instead of treating it as already escalated
	remote.fail = false
	require.NoError(t, e.Escalate(ctx, repo, "sync error", "fatal: repository not found"))

	recs, err := store.ListFailuresByRepository(repo.ID)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
	assert.Equal(t, 2, remote.calls)
	assert.Equal(t, "sessions/12345", recs[0].SessionID)
	assert.Equal(t, types.FixStatusReported, recs[0].FixStatus)
}

func TestFingerprintDeterministic(t *testing.T) {
	a := Fingerprint("build/run error", "detail")
	b := Fingerprint("build/run error", "detail")
	c := Fingerprint("build/run error", "other detail")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
