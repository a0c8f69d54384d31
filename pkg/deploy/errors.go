package deploy

import "fmt"

// ConfigError means the working copy has no recognized build descriptor.
// Not retryable without a format change in the repository itself.
type ConfigError struct {
	Dir    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("no build descriptor in %s: %s", e.Dir, e.Reason)
}

// BuildError means the build backend exited nonzero. Output carries a
// bounded tail of the captured build log.
type BuildError struct {
	Output string
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build failed:\n%s", e.Output)
}

// PortContentionError means every start attempt found a requested host
// port already bound. Raised only after the bounded retry is exhausted.
type PortContentionError struct {
	Attempts int
	Output   string
}

func (e *PortContentionError) Error() string {
	return fmt.Sprintf("host port still bound after %d attempts:\n%s", e.Attempts, e.Output)
}

// StartError means the container (or compose stack) failed to start for a
// reason other than port contention. Terminal for the pass, no retry.
type StartError struct {
	Output string
}

func (e *StartError) Error() string {
	return fmt.Sprintf("start failed:\n%s", e.Output)
}
