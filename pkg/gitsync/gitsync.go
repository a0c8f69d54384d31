package gitsync

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/LordVaderXIII/Appmanager/pkg/log"
	"github.com/rs/zerolog"
)

// Credentials carries source-control transport credentials. They are
// injected into the remote URL only at the point of use.
type Credentials struct {
	Username string
	Token    string
}

// SyncError is a source-sync failure with secrets already redacted from
// the diagnostic text. Sync failures are never retried internally; the
// reconciler retries on its next scheduled pass.
type SyncError struct {
	Op     string // "clone", "pull"
	Detail string
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("git %s failed: %s", e.Op, e.Detail)
}

// Service synchronizes local working copies with their upstream remotes
// via the git CLI.
type Service struct {
	gitBin string
	logger zerolog.Logger
}

// NewService creates a git sync service
func NewService() *Service {
	return &Service{
		gitBin: "git",
		logger: log.WithComponent("gitsync"),
	}
}

// Clone performs a full fresh checkout of url into dest. Any pre-existing
// directory at dest is destroyed first; checkout is not incremental.
func (s *Service) Clone(ctx context.Context, url, dest string, creds Credentials) error {
	if err := os.RemoveAll(dest); err != nil {
		return &SyncError{Op: "clone", Detail: fmt.Sprintf("failed to clear %s: %v", dest, err)}
	}

	out, err := s.run(ctx, "", creds.Token, s.gitBin, "clone", authURL(url, creds), dest)
	if err != nil {
		return &SyncError{Op: "clone", Detail: out}
	}

	s.logger.Info().Str("url", Redact(url, creds.Token)).Str("dest", dest).Msg("cloned repository")
	return nil
}

// Pull refreshes the working copy at path from its upstream. It returns
// changed=false with a nil error when the local branch is already current.
// Remote credentials are re-applied on every call since they may change
// between runs.
func (s *Service) Pull(ctx context.Context, path, url string, creds Credentials) (bool, error) {
	if _, err := os.Stat(path); err != nil {
		return false, &SyncError{Op: "pull", Detail: fmt.Sprintf("working copy missing at %s", path)}
	}

	if url != "" {
		if out, err := s.run(ctx, path, creds.Token, s.gitBin, "remote", "set-url", "origin", authURL(url, creds)); err != nil {
			return false, &SyncError{Op: "pull", Detail: out}
		}
	}

	if out, err := s.run(ctx, path, creds.Token, s.gitBin, "fetch", "origin"); err != nil {
		return false, &SyncError{Op: "pull", Detail: out}
	}

	status, err := s.run(ctx, path, creds.Token, s.gitBin, "status", "-uno")
	if err != nil {
		return false, &SyncError{Op: "pull", Detail: status}
	}
	if strings.Contains(status, "Your branch is up to date") {
		return false, nil
	}

	if out, err := s.run(ctx, path, creds.Token, s.gitBin, "pull"); err != nil {
		return false, &SyncError{Op: "pull", Detail: out}
	}

	s.logger.Info().Str("path", path).Msg("pulled updates")
	return true, nil
}

// run executes a git command and returns its combined output with the
// token redacted. On failure the returned string is the redacted
// diagnostic to embed in a SyncError.
func (s *Service) run(ctx context.Context, dir, token string, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	text := Redact(string(out), token)
	if err != nil {
		// No output means the command failed before git could speak,
		// e.g. the binary is missing; surface the exec error instead.
		if strings.TrimSpace(text) == "" {
			text = Redact(err.Error(), token)
		}
		if ctx.Err() != nil {
			text = fmt.Sprintf("%s (timed out: %v)", text, ctx.Err())
		}
		return text, err
	}
	return text, nil
}

// authURL injects credentials into the transport URL. Empty credentials
// leave the URL untouched.
func authURL(url string, creds Credentials) string {
	if creds.Username == "" || creds.Token == "" {
		return url
	}
	clean := strings.TrimPrefix(strings.TrimPrefix(url, "https://"), "http://")
	return fmt.Sprintf("https://%s:%s@%s", creds.Username, creds.Token, clean)
}

// Redact replaces every occurrence of token in text. Tokens must never
// appear verbatim in persisted or displayed failure messages.
func Redact(text, token string) string {
	if token == "" {
		return text
	}
	return strings.ReplaceAll(text, token, "***")
}
