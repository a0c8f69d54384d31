package remediate

import (
	"context"
	"time"

	"github.com/LordVaderXIII/Appmanager/pkg/activity"
	"github.com/LordVaderXIII/Appmanager/pkg/log"
	"github.com/LordVaderXIII/Appmanager/pkg/metrics"
	"github.com/LordVaderXIII/Appmanager/pkg/storage"
	"github.com/LordVaderXIII/Appmanager/pkg/types"
	"github.com/rs/zerolog"
)

// SessionPoller polls an open remediation session
type SessionPoller interface {
	GetSession(ctx context.Context, apiKey, id string) (*Session, error)
}

// PRChecker polls a pull request's merge status
type PRChecker interface {
	PRStatus(ctx context.Context, prURL, token string) (PRState, error)
}

// Tracker drives an open remediation session through to a merged pull
// request, then hands the repository back to normal reconciliation. It is
// the only component that mutates FixStatus and PRURL on an open record.
type Tracker struct {
	store    storage.Store
	sessions SessionPoller
	prs      PRChecker
	activity *activity.Log
	logger   zerolog.Logger
}

// NewTracker creates a remediation tracker
func NewTracker(store storage.Store, sessions SessionPoller, prs PRChecker, act *activity.Log) *Tracker {
	return &Tracker{
		store:    store,
		sessions: sessions,
		prs:      prs,
		activity: act,
		logger:   log.WithComponent("remediate"),
	}
}

// Track advances the record's remediation state machine by at most one
// transition per pass. Waiting states simply return; the next scheduled
// pass polls again.
func (t *Tracker) Track(ctx context.Context, repo *types.Repository, rec *types.FailureRecord) error {
	logger := t.logger.With().Str("repo", repo.Name).Str("session", rec.SessionID).Logger()

	switch rec.FixStatus {
	case types.FixStatusReported:
		return t.pollSession(ctx, repo, rec, logger)
	case types.FixStatusPRCreated:
		return t.pollPR(ctx, repo, rec, logger)
	default:
		// Terminal states (or a record that never reached the remote
		// service): nothing to track
		return nil
	}
}

func (t *Tracker) pollSession(ctx context.Context, repo *types.Repository, rec *types.FailureRecord, logger zerolog.Logger) error {
	settings, err := t.store.GetSettings()
	if err != nil {
		return err
	}

	session, err := t.sessions.GetSession(ctx, settings.RemediationAPIKey, rec.SessionID)
	if err != nil {
		// Polling failure is not a state transition; try again next pass
		logger.Warn().Err(err).Msg("session poll failed")
		return nil
	}

	switch session.State {
	case SessionCompleted:
		if session.PullRequestURL == "" {
			logger.Warn().Msg("session completed without a pull request")
			return nil
		}
		rec.PRURL = session.PullRequestURL
		rec.FixStatus = types.FixStatusPRCreated
		rec.UpdatedAt = time.Now()
		if err := t.store.UpdateFailure(rec); err != nil {
			return err
		}
		t.activity.Append(repo.ID, "remediation produced pull request: "+rec.PRURL)
		logger.Info().Str("pr", rec.PRURL).Msg("pull request created")

	case SessionFailed:
		rec.FixStatus = types.FixStatusFailed
		rec.UpdatedAt = time.Now()
		if err := t.store.UpdateFailure(rec); err != nil {
			return err
		}
		t.activity.Append(repo.ID, "remediation session failed, operator action required")
		logger.Warn().Msg("remediation session failed")

	default:
		t.activity.Append(repo.ID, "remediation session still in progress")
	}
	return nil
}

func (t *Tracker) pollPR(ctx context.Context, repo *types.Repository, rec *types.FailureRecord, logger zerolog.Logger) error {
	settings, err := t.store.GetSettings()
	if err != nil {
		return err
	}

	state, err := t.prs.PRStatus(ctx, rec.PRURL, settings.GitToken)
	if err != nil {
		logger.Warn().Err(err).Msg("pull request poll failed")
		return nil
	}

	if state != PRMerged {
		t.activity.Append(repo.ID, "pull request not merged yet ("+string(state)+")")
		return nil
	}

	rec.FixStatus = types.FixStatusResolved
	rec.UpdatedAt = time.Now()
	if err := t.store.UpdateFailure(rec); err != nil {
		return err
	}

	// Hand the repository back to normal reconciliation: a fresh
	// sync+build happens on the next pass
	repo.Status = types.RepoStatusPending
	repo.LastErrorHash = ""
	repo.UpdatedAt = time.Now()
	if err := t.store.UpdateRepository(repo); err != nil {
		return err
	}

	metrics.RemediationResolvedTotal.Inc()
	t.activity.Append(repo.ID, "pull request merged, repository released for rebuild")
	logger.Info().Str("pr", rec.PRURL).Msg("remediation resolved")
	return nil
}
