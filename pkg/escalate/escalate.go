package escalate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/LordVaderXIII/Appmanager/pkg/activity"
	"github.com/LordVaderXIII/Appmanager/pkg/log"
	"github.com/LordVaderXIII/Appmanager/pkg/metrics"
	"github.com/LordVaderXIII/Appmanager/pkg/storage"
	"github.com/LordVaderXIII/Appmanager/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SessionOpener opens a remediation session with the remote service
type SessionOpener interface {
	OpenSession(ctx context.Context, apiKey, repoName, failureText string) (string, error)
}

// Escalator deduplicates failures per repository and opens remediation
// sessions for new ones. It is the only component that creates
// FailureRecords.
type Escalator struct {
	store    storage.Store
	remote   SessionOpener
	activity *activity.Log
	logger   zerolog.Logger
}

// NewEscalator creates a failure escalator
func NewEscalator(store storage.Store, remote SessionOpener, act *activity.Log) *Escalator {
	return &Escalator{
		store:    store,
		remote:   remote,
		activity: act,
		logger:   log.WithComponent("escalate"),
	}
}

// Fingerprint computes the deduplication hash over a failure's context
// and detail. Collisions are not security-sensitive here.
func Fingerprint(context, detail string) string {
	sum := sha256.Sum256([]byte(context + "\n" + detail))
	return hex.EncodeToString(sum[:])
}

// Escalate records and escalates a failure for repo.
//
// A repeat of the already-escalated failure (same fingerprint, session
// open) only re-asserts the error status. If the previous remote call
// never succeeded the existing record is re-escalated instead of being
// treated as already reported, so a transient remediation outage cannot
// permanently swallow a failure. A new fingerprint creates a fresh
// record and opens a new session.
func (e *Escalator) Escalate(ctx context.Context, repo *types.Repository, failCtx, detail string) error {
	fp := Fingerprint(failCtx, detail)
	logger := e.logger.With().Str("repo", repo.Name).Str("context", failCtx).Logger()

	repo.Status = types.RepoStatusError
	repo.UpdatedAt = time.Now()

	if repo.LastErrorHash == fp {
		rec, err := e.store.LatestFailure(repo.ID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		if rec != nil && rec.Fingerprint == fp {
			if rec.SessionID != "" {
				logger.Info().Msg("duplicate failure, already escalated")
				return e.store.UpdateRepository(repo)
			}
			// Previous remote call failed; retry on the existing record
			if err := e.store.UpdateRepository(repo); err != nil {
				return err
			}
			e.openSession(ctx, repo, rec, logger)
			return nil
		}
	}

	rec := &types.FailureRecord{
		ID:           uuid.New().String(),
		RepositoryID: repo.ID,
		Fingerprint:  fp,
		Context:      failCtx,
		Detail:       detail,
		FixStatus:    types.FixStatusNone,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	if err := e.store.CreateFailure(rec); err != nil {
		return fmt.Errorf("failed to persist failure record: %w", err)
	}

	repo.LastErrorHash = fp
	if err := e.store.UpdateRepository(repo); err != nil {
		return err
	}

	metrics.FailuresEscalatedTotal.WithLabelValues(failCtx).Inc()
	e.activity.Append(repo.ID, fmt.Sprintf("failure recorded (%s): %s", failCtx, firstLine(detail)))
	logger.Warn().Str("fingerprint", fp[:12]).Msg("new failure recorded")

	e.openSession(ctx, repo, rec, logger)
	return nil
}

// openSession attempts the remote call. On failure the record persists
// locally with an empty SessionID; the next pass with the same
// fingerprint retries.
func (e *Escalator) openSession(ctx context.Context, repo *types.Repository, rec *types.FailureRecord, logger zerolog.Logger) {
	settings, err := e.store.GetSettings()
	if err != nil {
		logger.Error().Err(err).Msg("failed to load settings for escalation")
		return
	}

	failureText := rec.Context + ":\n" + rec.Detail
	sessionID, err := e.remote.OpenSession(ctx, settings.RemediationAPIKey, repo.Name, failureText)
	if err != nil {
		metrics.RemediationErrorsTotal.Inc()
		e.activity.Append(repo.ID, "remediation service unreachable, will retry next pass")
		logger.Error().Err(err).Msg("failed to open remediation session")
		return
	}

	rec.SessionID = sessionID
	rec.FixStatus = types.FixStatusReported
	rec.UpdatedAt = time.Now()
	if err := e.store.UpdateFailure(rec); err != nil {
		logger.Error().Err(err).Msg("failed to store session id")
		return
	}

	e.activity.Append(repo.ID, "remediation session opened: "+sessionID)
	logger.Info().Str("session", sessionID).Msg("remediation session opened")
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
