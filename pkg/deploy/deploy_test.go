package deploy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/LordVaderXIII/Appmanager/pkg/runtime"
	"github.com/LordVaderXIII/Appmanager/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRuntime records calls and scripts failures for the first N runs
type fakeRuntime struct {
	buildCalls   int
	removeCalls  int
	runCalls     int
	upCalls      int
	downCalls    int
	failRunsWith string // Output returned (with error) for scripted failures
	failRuns     int    // How many leading Run/ComposeUp calls fail
	buildErr     bool
}

func (f *fakeRuntime) BuildImage(ctx context.Context, dir, tag string) (string, error) {
	f.buildCalls++
	if f.buildErr {
		return "compile error in main.go", errors.New("exit status 1")
	}
	return "built " + tag, nil
}

func (f *fakeRuntime) ComposeBuild(ctx context.Context, dir, file string) (string, error) {
	f.buildCalls++
	if f.buildErr {
		return "service build failed", errors.New("exit status 1")
	}
	return "built stack", nil
}

func (f *fakeRuntime) ComposeUp(ctx context.Context, dir, file string) (string, error) {
	f.upCalls++
	if f.upCalls <= f.failRuns {
		return f.failRunsWith, errors.New("exit status 1")
	}
	return "stack up", nil
}

func (f *fakeRuntime) ComposeDown(ctx context.Context, dir, file string) (string, error) {
	f.downCalls++
	return "stack down", nil
}

func (f *fakeRuntime) StopAndRemove(ctx context.Context, name string) error {
	f.removeCalls++
	return nil
}

func (f *fakeRuntime) Run(ctx context.Context, image, name string, cfg types.BuildConfig) (string, error) {
	f.runCalls++
	if f.runCalls <= f.failRuns {
		return f.failRunsWith, errors.New("exit status 1")
	}
	return "container-id", nil
}

func (f *fakeRuntime) RecentOutput(ctx context.Context, target runtime.LogTarget, tail int) (string, error) {
	return "", nil
}

func newTestDeployer(rt runtime.Runtime) *Deployer {
	d := NewDeployer(rt)
	d.backoff = time.Millisecond
	return d
}

func dockerfileRepo(t *testing.T) *types.Repository {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Dockerfile"), []byte("FROM scratch"), 0o644))
	return &types.Repository{Name: "acme/widgets", LocalPath: dir}
}

func composeRepo(t *testing.T) *types.Repository {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "docker-compose.yml"), []byte("services: {}"), 0o644))
	return &types.Repository{Name: "acme/widgets", LocalPath: dir}
}

func TestDeployDockerfile(t *testing.T) {
	rt := &fakeRuntime{}
	d := newTestDeployer(rt)

	res, err := d.Deploy(context.Background(), dockerfileRepo(t))
	require.NoError(t, err)
	assert.Equal(t, runtime.BuildKindDockerfile, res.Kind)
	assert.Equal(t, "acme_widgets", res.ContainerName)
	assert.Equal(t, 1, rt.buildCalls)
	assert.Equal(t, 1, rt.runCalls)
	// Prior instance removed exactly once on a clean run
	assert.Equal(t, 1, rt.removeCalls)
}

func TestDeployIdempotent(t *testing.T) {
	rt := &fakeRuntime{}
	d := newTestDeployer(rt)
	repo := dockerfileRepo(t)

	for i := 0; i < 2; i++ {
		res, err := d.Deploy(context.Background(), repo)
		require.NoError(t, err)
		assert.Equal(t, "acme_widgets", res.ContainerName)
	}
	// One stop/remove of the prior instance per run, never more
	assert.Equal(t, 2, rt.removeCalls)
	assert.Equal(t, 2, rt.runCalls)
}

func TestDeployPortContentionRetry(t *testing.T) {
	rt := &fakeRuntime{
		failRuns:     3,
		failRunsWith: "Bind for 0.0.0.0:8080 failed: port is already allocated",
	}
	d := newTestDeployer(rt)

	res, err := d.Deploy(context.Background(), dockerfileRepo(t))
	require.NoError(t, err)
	assert.NotNil(t, res)

	// Exactly 4 underlying start attempts
	assert.Equal(t, 4, rt.runCalls)
	// Initial replace plus cleanup before each of the 3 retries
	assert.Equal(t, 4, rt.removeCalls)
}

func TestDeployPortContentionExhausted(t *testing.T) {
	rt := &fakeRuntime{
		failRuns:     100,
		failRunsWith: "port is already allocated",
	}
	d := newTestDeployer(rt)
	d.attempts = 3

	_, err := d.Deploy(context.Background(), dockerfileRepo(t))
	var portErr *PortContentionError
	require.ErrorAs(t, err, &portErr)
	assert.Equal(t, 3, portErr.Attempts)
	assert.Equal(t, 3, rt.runCalls)
}

func TestDeployOtherStartFailureIsTerminal(t *testing.T) {
	rt := &fakeRuntime{
		failRuns:     100,
		failRunsWith: "Error response from daemon: No such image",
	}
	d := newTestDeployer(rt)

	_, err := d.Deploy(context.Background(), dockerfileRepo(t))
	var startErr *StartError
	require.ErrorAs(t, err, &startErr)
	// No retry for non-port failures
	assert.Equal(t, 1, rt.runCalls)
}

func TestDeployBuildFailure(t *testing.T) {
	rt := &fakeRuntime{buildErr: true}
	d := newTestDeployer(rt)

	_, err := d.Deploy(context.Background(), dockerfileRepo(t))
	var buildErr *BuildError
	require.ErrorAs(t, err, &buildErr)
	assert.Contains(t, buildErr.Output, "compile error")
	// Build failure never reaches the replace step
	assert.Equal(t, 0, rt.removeCalls)
}

func TestDeployCompose(t *testing.T) {
	rt := &fakeRuntime{}
	d := newTestDeployer(rt)

	res, err := d.Deploy(context.Background(), composeRepo(t))
	require.NoError(t, err)
	assert.Equal(t, runtime.BuildKindCompose, res.Kind)
	assert.Equal(t, "docker-compose.yml", res.ComposeFile)
	assert.Equal(t, 1, rt.upCalls)
}

func TestDeployComposePortRetry(t *testing.T) {
	rt := &fakeRuntime{
		failRuns:     2,
		failRunsWith: "address already in use",
	}
	d := newTestDeployer(rt)

	_, err := d.Deploy(context.Background(), composeRepo(t))
	require.NoError(t, err)
	assert.Equal(t, 3, rt.upCalls)
	// Partial stack torn down before each retry
	assert.Equal(t, 2, rt.downCalls)
}

func TestDeployNoDescriptor(t *testing.T) {
	d := newTestDeployer(&fakeRuntime{})
	repo := &types.Repository{Name: "acme/widgets", LocalPath: t.TempDir()}

	_, err := d.Deploy(context.Background(), repo)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
}
