package reconciler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/LordVaderXIII/Appmanager/pkg/activity"
	"github.com/LordVaderXIII/Appmanager/pkg/deploy"
	"github.com/LordVaderXIII/Appmanager/pkg/gitsync"
	"github.com/LordVaderXIII/Appmanager/pkg/log"
	"github.com/LordVaderXIII/Appmanager/pkg/metrics"
	"github.com/LordVaderXIII/Appmanager/pkg/runtime"
	"github.com/LordVaderXIII/Appmanager/pkg/storage"
	"github.com/LordVaderXIII/Appmanager/pkg/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Syncer keeps a working copy current with its upstream
type Syncer interface {
	Clone(ctx context.Context, url, dest string, creds gitsync.Credentials) error
	Pull(ctx context.Context, path, url string, creds gitsync.Credentials) (bool, error)
}

// ContainerDeployer replaces a repository's running instance
type ContainerDeployer interface {
	Deploy(ctx context.Context, repo *types.Repository) (*deploy.Result, error)
}

// HealthScanner inspects recent container output for fatal signatures
type HealthScanner interface {
	Check(ctx context.Context, target runtime.LogTarget) (tail string, fatal bool, err error)
}

// FailureEscalator records and escalates failures
type FailureEscalator interface {
	Escalate(ctx context.Context, repo *types.Repository, failCtx, detail string) error
}

// SessionTracker advances an open remediation session
type SessionTracker interface {
	Track(ctx context.Context, repo *types.Repository, rec *types.FailureRecord) error
}

// Config wires the reconciler's collaborators. Everything is injected so
// tests can substitute doubles for source control, the container runtime,
// and the remediation service.
type Config struct {
	Store     storage.Store
	Syncer    Syncer
	Deployer  ContainerDeployer
	Scanner   HealthScanner
	Escalator FailureEscalator
	Tracker   SessionTracker
	Activity  *activity.Log

	// DataDir roots derived working-copy paths
	DataDir string

	// Interval between periodic sweeps (default 5m)
	Interval time.Duration

	// PassTimeout bounds one repository's pass so a stuck repository
	// cannot stall a sweep indefinitely (default 10m)
	PassTimeout time.Duration

	// Parallelism bounds concurrent per-repository passes within a
	// sweep (default 1)
	Parallelism int
}

// Reconciler is the per-repository state machine and the top-level loop
// that drives all tracked repositories toward their latest revision.
type Reconciler struct {
	cfg    Config
	logger zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex // Per-repository pass serialization

	trigger chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a reconciler
func New(cfg Config) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.PassTimeout <= 0 {
		cfg.PassTimeout = 10 * time.Minute
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 1
	}
	return &Reconciler{
		cfg:     cfg,
		logger:  log.WithComponent("reconciler"),
		locks:   make(map[string]*sync.Mutex),
		trigger: make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start begins the reconciliation loop
func (r *Reconciler) Start() {
	go r.run()
}

// Stop stops the reconciler and waits for the loop to exit
func (r *Reconciler) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

// TriggerNow requests an immediate sweep, coalescing with any already
// pending request.
func (r *Reconciler) TriggerNow() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

func (r *Reconciler) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Sweep(context.Background())
		case <-r.trigger:
			r.Sweep(context.Background())
		case <-r.stopCh:
			return
		}
	}
}

// Sweep runs one reconciliation pass over all tracked repositories. A
// failure in one repository's pass never aborts the others.
func (r *Reconciler) Sweep(ctx context.Context) {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.SweepDuration)
		metrics.SweepsTotal.Inc()
	}()

	repos, err := r.cfg.Store.ListRepositories()
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to list repositories")
		return
	}
	r.logger.Info().Int("repositories", len(repos)).Msg("sweep started")

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Parallelism)
	for _, repo := range repos {
		id := repo.ID
		g.Go(func() error {
			if err := r.reconcileOne(ctx, id); err != nil {
				// Diagnostic only; isolation is the contract
				r.logger.Error().Err(err).Str("repo_id", id).Msg("repository pass failed")
				metrics.PassesTotal.WithLabelValues("error").Inc()
			} else {
				metrics.PassesTotal.WithLabelValues("ok").Inc()
			}
			return nil
		})
	}
	g.Wait()

	r.collectStatusMetrics()
}

// reconcileOne runs one repository's pass under its lock and timeout,
// converting a panic into a diagnostic instead of poisoning the sweep.
func (r *Reconciler) reconcileOne(ctx context.Context, repoID string) (err error) {
	lock := r.repoLock(repoID)
	lock.Lock()
	defer lock.Unlock()

	ctx, cancel := context.WithTimeout(ctx, r.cfg.PassTimeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic during pass: %v", rec)
		}
	}()

	// Re-read under the lock; an on-demand sweep may have just run
	repo, err := r.cfg.Store.GetRepository(repoID)
	if err != nil {
		return err
	}
	return r.pass(ctx, repo)
}

// pass is one reconciliation attempt for a single repository
func (r *Reconciler) pass(ctx context.Context, repo *types.Repository) error {
	logger := log.WithRepo(repo.ID, repo.Name)

	// An open remediation session owns the repository: track it
	// exclusively and skip sync/build until it resolves.
	if repo.Status == types.RepoStatusError {
		rec, err := r.cfg.Store.LatestFailure(repo.ID)
		if err == nil && rec.SessionID != "" && !rec.FixStatus.Terminal() {
			logger.Info().Str("session", rec.SessionID).Msg("remediation session open, tracking")
			return r.cfg.Tracker.Track(ctx, repo, rec)
		}
	}

	// Lazy derivation of local path and display name on first run
	if repo.LocalPath == "" || repo.Name == "" {
		repo.Name = DeriveName(repo.URL)
		repo.LocalPath = filepath.Join(r.cfg.DataDir, "repos", DeriveSlug(repo.URL))
		repo.UpdatedAt = time.Now()
		if err := r.cfg.Store.UpdateRepository(repo); err != nil {
			return err
		}
		logger = log.WithRepo(repo.ID, repo.Name)
	}

	settings, err := r.cfg.Store.GetSettings()
	if err != nil {
		return err
	}
	creds := gitsync.Credentials{Username: settings.GitUsername, Token: settings.GitToken}

	// Fresh sync+build attempt starts a fresh activity log
	r.cfg.Activity.Reset(repo.ID)

	changed, syncErr := r.sync(ctx, repo, creds)
	repo.LastCheckedAt = time.Now()
	if syncErr != nil {
		r.cfg.Activity.Append(repo.ID, "sync failed: "+syncErr.Error())
		return r.cfg.Escalator.Escalate(ctx, repo, "sync error", syncErr.Error())
	}
	r.cfg.Activity.Append(repo.ID, fmt.Sprintf("sync complete (changed=%v)", changed))

	rebuild := changed ||
		repo.Status == types.RepoStatusPending ||
		repo.Status == types.RepoStatusError

	if rebuild {
		repo.Status = types.RepoStatusBuilding
		repo.UpdatedAt = time.Now()
		if err := r.cfg.Store.UpdateRepository(repo); err != nil {
			return err
		}
		r.cfg.Activity.Append(repo.ID, "building")

		result, err := r.cfg.Deployer.Deploy(ctx, repo)
		if err != nil {
			metrics.DeploysTotal.WithLabelValues("error").Inc()
			r.cfg.Activity.Append(repo.ID, "build/run failed")
			return r.cfg.Escalator.Escalate(ctx, repo, "build/run error", err.Error())
		}
		metrics.DeploysTotal.WithLabelValues("ok").Inc()

		if result.ContainerName != "" {
			repo.ContainerName = result.ContainerName
		}
		repo.Status = types.RepoStatusActive
		repo.LastErrorHash = ""
		repo.UpdatedAt = time.Now()
		if err := r.cfg.Store.UpdateRepository(repo); err != nil {
			return err
		}
		r.cfg.Activity.Append(repo.ID, "instance running")
		logger.Info().Msg("repository active")
	} else {
		if err := r.cfg.Store.UpdateRepository(repo); err != nil {
			return err
		}
	}

	return r.scanHealth(ctx, repo, logger)
}

// sync clones on first contact and pulls thereafter
func (r *Reconciler) sync(ctx context.Context, repo *types.Repository, creds gitsync.Credentials) (bool, error) {
	if !workingCopyExists(repo.LocalPath) {
		if err := r.cfg.Syncer.Clone(ctx, repo.URL, repo.LocalPath, creds); err != nil {
			return false, err
		}
		return true, nil
	}
	return r.cfg.Syncer.Pull(ctx, repo.LocalPath, repo.URL, creds)
}

// scanHealth runs the heuristic crash detector against recent output.
// Scan failures are swallowed: the detector is best-effort by design.
func (r *Reconciler) scanHealth(ctx context.Context, repo *types.Repository, logger zerolog.Logger) error {
	kind, composeFile, err := runtime.Detect(repo.LocalPath)
	if err != nil {
		return nil
	}

	name := repo.ContainerName
	if name == "" {
		name = runtime.NormalizeName(repo.Name)
	}
	target := runtime.LogTarget{
		Kind:        kind,
		WorkDir:     repo.LocalPath,
		ComposeFile: composeFile,
		Container:   name,
	}

	tail, fatal, err := r.cfg.Scanner.Check(ctx, target)
	if err != nil {
		logger.Debug().Err(err).Msg("log scan unavailable")
		return nil
	}
	if !fatal {
		return nil
	}

	snippet := runtime.TailBytes(tail, 3000)
	r.cfg.Activity.Append(repo.ID, "fatal signature in recent output")
	return r.cfg.Escalator.Escalate(ctx, repo, "runtime error", snippet)
}

func (r *Reconciler) collectStatusMetrics() {
	repos, err := r.cfg.Store.ListRepositories()
	if err != nil {
		return
	}
	counts := map[types.RepoStatus]int{
		types.RepoStatusPending:  0,
		types.RepoStatusBuilding: 0,
		types.RepoStatusActive:   0,
		types.RepoStatusError:    0,
	}
	for _, repo := range repos {
		counts[repo.Status]++
	}
	for status, n := range counts {
		metrics.RepositoriesTotal.WithLabelValues(string(status)).Set(float64(n))
	}
}

func (r *Reconciler) repoLock(repoID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[repoID]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[repoID] = lock
	}
	return lock
}

func workingCopyExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// DeriveSlug returns the working-copy directory name for a URL:
// the last path segment minus any ".git" suffix.
func DeriveSlug(url string) string {
	parts := strings.Split(strings.TrimSuffix(url, "/"), "/")
	return strings.TrimSuffix(parts[len(parts)-1], ".git")
}

// DeriveName returns the display name for a URL: the last two path
// segments joined, minus any ".git" suffix ("acme/widgets").
func DeriveName(url string) string {
	parts := strings.Split(strings.TrimSuffix(url, "/"), "/")
	if len(parts) < 2 {
		return DeriveSlug(url)
	}
	name := parts[len(parts)-2] + "/" + parts[len(parts)-1]
	return strings.TrimSuffix(name, ".git")
}
