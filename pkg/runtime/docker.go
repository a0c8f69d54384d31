package runtime

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/LordVaderXIII/Appmanager/pkg/log"
	"github.com/LordVaderXIII/Appmanager/pkg/types"
	"github.com/rs/zerolog"
)

// BuildKind identifies which build descriptor drives a working copy
type BuildKind string

const (
	BuildKindCompose    BuildKind = "compose"
	BuildKindDockerfile BuildKind = "dockerfile"
)

// composeFiles are checked in order; the first present wins
var composeFiles = []string{
	"docker-compose.yml",
	"docker-compose.yaml",
	"compose.yml",
	"compose.yaml",
}

// LogTarget identifies where to read recent output from
type LogTarget struct {
	Kind        BuildKind
	WorkDir     string // Compose working directory
	ComposeFile string
	Container   string // Normalized container name (dockerfile kind)
}

// Runtime is the container runtime surface the lifecycle manager needs.
// The production implementation shells out to the docker CLI.
type Runtime interface {
	BuildImage(ctx context.Context, dir, tag string) (string, error)
	ComposeBuild(ctx context.Context, dir, file string) (string, error)
	ComposeUp(ctx context.Context, dir, file string) (string, error)
	ComposeDown(ctx context.Context, dir, file string) (string, error)
	StopAndRemove(ctx context.Context, name string) error
	Run(ctx context.Context, image, name string, cfg types.BuildConfig) (string, error)
	RecentOutput(ctx context.Context, target LogTarget, tailLines int) (string, error)
}

const (
	// defaultRemovalWait bounds how long StopAndRemove polls for a
	// container whose removal is already in progress elsewhere
	defaultRemovalWait = 30 * time.Second

	// outputTailBytes bounds captured command output
	outputTailBytes = 16 * 1024
)

// DockerRuntime drives containers through the docker CLI. The CLI is used
// instead of an SDK because compose stacks are first-class here and only
// the CLI fronts both single containers and compose.
type DockerRuntime struct {
	dockerBin string
	logger    zerolog.Logger

	// removalPoll is the interval between disappearance checks while
	// waiting out a concurrent removal; removalWait bounds the whole
	// wait. Both are shortened in tests.
	removalPoll time.Duration
	removalWait time.Duration
}

// NewDockerRuntime creates a docker CLI runtime
func NewDockerRuntime() *DockerRuntime {
	return &DockerRuntime{
		dockerBin:   "docker",
		logger:      log.WithComponent("runtime"),
		removalPoll: time.Second,
		removalWait: defaultRemovalWait,
	}
}

// Detect returns the build kind for a working copy. Compose takes
// precedence over a plain Dockerfile; absence of both is a configuration
// error the caller treats as non-retryable.
func Detect(dir string) (BuildKind, string, error) {
	for _, name := range composeFiles {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return BuildKindCompose, name, nil
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "Dockerfile")); err == nil {
		return BuildKindDockerfile, "", nil
	}
	return "", "", fmt.Errorf("no Dockerfile or compose file in %s", dir)
}

// NormalizeName maps a logical repository name onto a container identity:
// lowercase, alphanumeric/hyphen/dot kept, everything else mapped to "_".
func NormalizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// IsPortConflict reports whether command output describes a host port that
// is already bound. This failure category is specifically recoverable via
// cleanup-and-retry.
func IsPortConflict(output string) bool {
	lower := strings.ToLower(output)
	return strings.Contains(lower, "port is already allocated") ||
		strings.Contains(lower, "address already in use")
}

// BuildImage builds a Dockerfile working copy into the given tag
func (r *DockerRuntime) BuildImage(ctx context.Context, dir, tag string) (string, error) {
	return r.run(ctx, dir, r.dockerBin, "build", "-t", tag, ".")
}

// ComposeBuild builds all services of a compose stack
func (r *DockerRuntime) ComposeBuild(ctx context.Context, dir, file string) (string, error) {
	return r.run(ctx, dir, r.dockerBin, "compose", "-f", file, "build")
}

// ComposeUp brings a compose stack up detached
func (r *DockerRuntime) ComposeUp(ctx context.Context, dir, file string) (string, error) {
	return r.run(ctx, dir, r.dockerBin, "compose", "-f", file, "up", "-d")
}

// ComposeDown tears a compose stack down
func (r *DockerRuntime) ComposeDown(ctx context.Context, dir, file string) (string, error) {
	return r.run(ctx, dir, r.dockerBin, "compose", "-f", file, "down")
}

// StopAndRemove removes the named container if present. A concurrent
// removal ("removal already in progress") is tolerated by polling for
// disappearance up to a bounded wait; exceeding the wait is fatal.
func (r *DockerRuntime) StopAndRemove(ctx context.Context, name string) error {
	out, err := r.run(ctx, "", r.dockerBin, "rm", "-f", name)
	if err == nil {
		return nil
	}
	if strings.Contains(out, "No such container") {
		return nil
	}
	if !strings.Contains(out, "already in progress") {
		return fmt.Errorf("failed to remove container %s: %s", name, out)
	}

	r.logger.Debug().Str("container", name).Msg("removal already in progress, waiting for disappearance")
	deadline := time.Now().Add(r.removalWait)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.removalPoll):
		}
		if exists, err := r.containerExists(ctx, name); err == nil && !exists {
			return nil
		}
	}
	return fmt.Errorf("container %s still present after %s waiting out concurrent removal", name, r.removalWait)
}

// Run launches a container detached with an automatic-restart policy and
// the configured port, volume, and environment mappings.
func (r *DockerRuntime) Run(ctx context.Context, image, name string, cfg types.BuildConfig) (string, error) {
	args := []string{"run", "-d", "--name", name, "--restart", "unless-stopped"}
	for _, p := range cfg.Ports {
		proto := p.Protocol
		if proto == "" {
			proto = "tcp"
		}
		args = append(args, "-p", fmt.Sprintf("%d:%d/%s", p.HostPort, p.ContainerPort, proto))
	}
	for _, v := range cfg.Volumes {
		spec := fmt.Sprintf("%s:%s", v.Source, v.Target)
		if v.ReadOnly {
			spec += ":ro"
		}
		args = append(args, "-v", spec)
	}
	for _, k := range sortedKeys(cfg.Env) {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, cfg.Env[k]))
	}
	args = append(args, image)

	return r.run(ctx, "", r.dockerBin, args...)
}

// RecentOutput returns a bounded tail of recent container or compose
// stack output.
func (r *DockerRuntime) RecentOutput(ctx context.Context, target LogTarget, tailLines int) (string, error) {
	tail := fmt.Sprintf("%d", tailLines)
	if target.Kind == BuildKindCompose {
		return r.run(ctx, target.WorkDir, r.dockerBin,
			"compose", "-f", target.ComposeFile, "logs", "--no-color", "--tail", tail)
	}
	return r.run(ctx, "", r.dockerBin, "logs", "--tail", tail, target.Container)
}

func (r *DockerRuntime) containerExists(ctx context.Context, name string) (bool, error) {
	_, err := r.run(ctx, "", r.dockerBin, "inspect", "--format", "{{.Id}}", name)
	if err != nil {
		return false, nil
	}
	return true, nil
}

// run executes a command and returns its combined output truncated to a
// bounded tail. A context timeout is reported alongside whatever partial
// output was captured.
func (r *DockerRuntime) run(ctx context.Context, dir, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	text := TailBytes(string(out), outputTailBytes)
	if err != nil {
		// A missing binary fails before producing any output; the
		// exec error is then the only diagnostic there is.
		if strings.TrimSpace(text) == "" {
			text = err.Error()
		}
		if ctx.Err() != nil {
			text = fmt.Sprintf("%s\n(step timed out: %v)", text, ctx.Err())
		}
		return text, err
	}
	return text, nil
}

// TailBytes truncates s to at most n trailing bytes, cutting at a line
// boundary where possible.
func TailBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := s[len(s)-n:]
	if idx := strings.IndexByte(cut, '\n'); idx >= 0 && idx < len(cut)-1 {
		cut = cut[idx+1:]
	}
	return cut
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
