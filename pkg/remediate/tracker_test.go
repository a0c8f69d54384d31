package remediate

import (
	"context"
	"testing"
	"time"

	"github.com/LordVaderXIII/Appmanager/pkg/activity"
	"github.com/LordVaderXIII/Appmanager/pkg/storage"
	"github.com/LordVaderXIII/Appmanager/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSessions struct {
	session *Session
	err     error
}

func (f *fakeSessions) GetSession(ctx context.Context, apiKey, id string) (*Session, error) {
	return f.session, f.err
}

type fakePRs struct {
	state PRState
	err   error
}

func (f *fakePRs) PRStatus(ctx context.Context, prURL, token string) (PRState, error) {
	return f.state, f.err
}

func trackerFixture(t *testing.T, status types.FixStatus) (*storage.BoltStore, *types.Repository, *types.FailureRecord) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	repo := &types.Repository{
		ID:            "repo-1",
		URL:           "https://example.com/acme/widgets.git",
		Name:          "acme/widgets",
		Status:        types.RepoStatusError,
		LastErrorHash: "hash-1",
		CreatedAt:     time.Now(),
	}
	require.NoError(t, store.CreateRepository(repo))

	rec := &types.FailureRecord{
		ID:           "rec-1",
		RepositoryID: repo.ID,
		Fingerprint:  "hash-1",
		SessionID:    "sessions/12345",
		FixStatus:    status,
		CreatedAt:    time.Now(),
	}
	if status == types.FixStatusPRCreated {
		rec.PRURL = "https://github.com/acme/widgets/pull/42"
	}
	require.NoError(t, store.CreateFailure(rec))

	return store, repo, rec
}

func TestTrackSessionCompleted(t *testing.T) {
	store, repo, rec := trackerFixture(t, types.FixStatusReported)
	tracker := NewTracker(store,
		&fakeSessions{session: &Session{
			Name:           "sessions/12345",
			State:          SessionCompleted,
			PullRequestURL: "https://github.com/acme/widgets/pull/42",
		}},
		&fakePRs{}, activity.NewLog(t.TempDir()))

	require.NoError(t, tracker.Track(context.Background(), repo, rec))

	got, err := store.GetFailure(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.FixStatusPRCreated, got.FixStatus)
	assert.Equal(t, "https://github.com/acme/widgets/pull/42", got.PRURL)
}

func TestTrackSessionStillRunning(t *testing.T) {
	store, repo, rec := trackerFixture(t, types.FixStatusReported)
	tracker := NewTracker(store,
		&fakeSessions{session: &Session{State: SessionInProgress}},
		&fakePRs{}, activity.NewLog(t.TempDir()))

	require.NoError(t, tracker.Track(context.Background(), repo, rec))

	got, err := store.GetFailure(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.FixStatusReported, got.FixStatus)
}

func TestTrackSessionFailed(t *testing.T) {
	store, repo, rec := trackerFixture(t, types.FixStatusReported)
	tracker := NewTracker(store,
		&fakeSessions{session: &Session{State: SessionFailed}},
		&fakePRs{}, activity.NewLog(t.TempDir()))

	require.NoError(t, tracker.Track(context.Background(), repo, rec))

	got, err := store.GetFailure(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.FixStatusFailed, got.FixStatus)

	// Failed is terminal; repository stays in error until a human steps in
	gotRepo, err := store.GetRepository(repo.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RepoStatusError, gotRepo.Status)
}

func TestTrackPRMerged(t *testing.T) {
	store, repo, rec := trackerFixture(t, types.FixStatusPRCreated)
	tracker := NewTracker(store, &fakeSessions{},
		&fakePRs{state: PRMerged}, activity.NewLog(t.TempDir()))

	require.NoError(t, tracker.Track(context.Background(), repo, rec))

	got, err := store.GetFailure(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.FixStatusResolved, got.FixStatus)

	// Repository released back to normal reconciliation
	gotRepo, err := store.GetRepository(repo.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RepoStatusPending, gotRepo.Status)
	assert.Empty(t, gotRepo.LastErrorHash)
}

func TestTrackPRStillOpen(t *testing.T) {
	store, repo, rec := trackerFixture(t, types.FixStatusPRCreated)
	tracker := NewTracker(store, &fakeSessions{},
		&fakePRs{state: PROpen}, activity.NewLog(t.TempDir()))

	require.NoError(t, tracker.Track(context.Background(), repo, rec))

	got, err := store.GetFailure(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.FixStatusPRCreated, got.FixStatus)

	gotRepo, err := store.GetRepository(repo.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RepoStatusError, gotRepo.Status)
}

func TestTrackFullLifecycle(t *testing.T) {
	store, repo, rec := trackerFixture(t, types.FixStatusReported)
	sessions := &fakeSessions{session: &Session{State: SessionInProgress}}
	prs := &fakePRs{state: PROpen}
	tracker := NewTracker(store, sessions, prs, activity.NewLog(t.TempDir()))
	ctx := context.Background()

	// Pass 1: session still running
	require.NoError(t, tracker.Track(ctx, repo, rec))
	assert.Equal(t, types.FixStatusReported, rec.FixStatus)

	// Pass 2: session completes with a PR
	sessions.session = &Session{State: SessionCompleted, PullRequestURL: "https://github.com/acme/widgets/pull/7"}
	require.NoError(t, tracker.Track(ctx, repo, rec))
	assert.Equal(t, types.FixStatusPRCreated, rec.FixStatus)

	// Pass 3: PR open, no transition
	require.NoError(t, tracker.Track(ctx, repo, rec))
	assert.Equal(t, types.FixStatusPRCreated, rec.FixStatus)

	// Pass 4: PR merged, repository released
	prs.state = PRMerged
	require.NoError(t, tracker.Track(ctx, repo, rec))
	assert.Equal(t, types.FixStatusResolved, rec.FixStatus)

	gotRepo, err := store.GetRepository(repo.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RepoStatusPending, gotRepo.Status)
	assert.Empty(t, gotRepo.LastErrorHash)
}

func TestTrackPollFailureIsNotATransition(t *testing.T) {
	store, repo, rec := trackerFixture(t, types.FixStatusReported)
	tracker := NewTracker(store,
		&fakeSessions{err: &RemediationError{Op: "get_session", Detail: "timeout"}},
		&fakePRs{}, activity.NewLog(t.TempDir()))

	require.NoError(t, tracker.Track(context.Background(), repo, rec))

	got, err := store.GetFailure(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, types.FixStatusReported, got.FixStatus)
}
