package deploy

import (
	"context"
	"time"

	"github.com/LordVaderXIII/Appmanager/pkg/log"
	"github.com/LordVaderXIII/Appmanager/pkg/runtime"
	"github.com/LordVaderXIII/Appmanager/pkg/types"
	"github.com/rs/zerolog"
)

const (
	// portRetryAttempts bounds the cleanup-and-retry loop for host port
	// contention
	portRetryAttempts = 12

	// portRetryBackoff is the fixed wait between port-contention retries
	portRetryBackoff = 5 * time.Second
)

// Result describes the instance a successful deployment converged to
type Result struct {
	Kind          runtime.BuildKind
	ContainerName string // Normalized name (dockerfile kind only)
	ComposeFile   string
	Output        string
}

// Deployer is the container lifecycle manager. Given a working copy and a
// run configuration it produces exactly one running instance reflecting
// the working copy's current build definition, replacing any prior
// instance with the same logical identity.
type Deployer struct {
	rt     runtime.Runtime
	logger zerolog.Logger

	attempts int
	backoff  time.Duration
}

// NewDeployer creates a deployer over the given runtime
func NewDeployer(rt runtime.Runtime) *Deployer {
	return &Deployer{
		rt:       rt,
		logger:   log.WithComponent("deploy"),
		attempts: portRetryAttempts,
		backoff:  portRetryBackoff,
	}
}

// Deploy builds the working copy at repo.LocalPath and replaces any
// running instance with a fresh one. Re-running against an unchanged tree
// converges to the same single instance.
func (d *Deployer) Deploy(ctx context.Context, repo *types.Repository) (*Result, error) {
	kind, composeFile, err := runtime.Detect(repo.LocalPath)
	if err != nil {
		return nil, &ConfigError{Dir: repo.LocalPath, Reason: err.Error()}
	}

	if kind == runtime.BuildKindCompose {
		return d.deployCompose(ctx, repo, composeFile)
	}
	return d.deployContainer(ctx, repo)
}

func (d *Deployer) deployCompose(ctx context.Context, repo *types.Repository, composeFile string) (*Result, error) {
	dir := repo.LocalPath

	out, err := d.rt.ComposeBuild(ctx, dir, composeFile)
	if err != nil {
		return nil, &BuildError{Output: out}
	}

	var lastOut string
	for attempt := 1; attempt <= d.attempts; attempt++ {
		out, err := d.rt.ComposeUp(ctx, dir, composeFile)
		if err == nil {
			d.logger.Info().Str("repo", repo.Name).Str("compose", composeFile).Msg("compose stack up")
			return &Result{Kind: runtime.BuildKindCompose, ComposeFile: composeFile, Output: out}, nil
		}
		lastOut = out
		if !runtime.IsPortConflict(out) {
			return nil, &StartError{Output: out}
		}

		// Tear down whatever partially came up before retrying
		if _, derr := d.rt.ComposeDown(ctx, dir, composeFile); derr != nil {
			d.logger.Warn().Str("repo", repo.Name).Msg("compose down after port conflict failed")
		}
		if attempt < d.attempts {
			d.logger.Info().
				Str("repo", repo.Name).
				Int("attempt", attempt).
				Msg("host port busy, backing off before retry")
			if err := sleep(ctx, d.backoff); err != nil {
				return nil, &StartError{Output: lastOut + "\n" + err.Error()}
			}
		}
	}
	return nil, &PortContentionError{Attempts: d.attempts, Output: lastOut}
}

func (d *Deployer) deployContainer(ctx context.Context, repo *types.Repository) (*Result, error) {
	name := repo.ContainerName
	if name == "" {
		name = repo.Name
	}
	name = runtime.NormalizeName(name)

	out, err := d.rt.BuildImage(ctx, repo.LocalPath, name)
	if err != nil {
		return nil, &BuildError{Output: out}
	}

	// Remove the previous instance exactly once; retries below only
	// clean up their own partially created container.
	if err := d.rt.StopAndRemove(ctx, name); err != nil {
		return nil, &StartError{Output: err.Error()}
	}

	var lastOut string
	for attempt := 1; attempt <= d.attempts; attempt++ {
		out, err := d.rt.Run(ctx, name, name, repo.Build)
		if err == nil {
			d.logger.Info().Str("repo", repo.Name).Str("container", name).Msg("container started")
			return &Result{Kind: runtime.BuildKindDockerfile, ContainerName: name, Output: out}, nil
		}
		lastOut = out
		if !runtime.IsPortConflict(out) {
			return nil, &StartError{Output: out}
		}

		if err := d.rt.StopAndRemove(ctx, name); err != nil {
			d.logger.Warn().Str("container", name).Err(err).Msg("cleanup after port conflict failed")
		}
		if attempt < d.attempts {
			d.logger.Info().
				Str("repo", repo.Name).
				Int("attempt", attempt).
				Msg("host port busy, backing off before retry")
			if err := sleep(ctx, d.backoff); err != nil {
				return nil, &StartError{Output: lastOut + "\n" + err.Error()}
			}
		}
	}
	return nil, &PortContentionError{Attempts: d.attempts, Output: lastOut}
}

// LogTarget returns where to read recent output for the deployed instance
func (r *Result) LogTarget(workDir string) runtime.LogTarget {
	return runtime.LogTarget{
		Kind:        r.Kind,
		WorkDir:     workDir,
		ComposeFile: r.ComposeFile,
		Container:   r.ContainerName,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
