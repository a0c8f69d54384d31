package activity

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/LordVaderXIII/Appmanager/pkg/log"
	"github.com/rs/zerolog"
)

// Log writes per-repository append-only activity files for operator
// visibility. Appends are fire-and-forget: a failure to write a
// diagnostic line is never a pass failure.
type Log struct {
	dir    string
	logger zerolog.Logger
}

// NewLog creates an activity log rooted at dir
func NewLog(dir string) *Log {
	return &Log{
		dir:    dir,
		logger: log.WithComponent("activity"),
	}
}

// Path returns the activity file for a repository
func (l *Log) Path(repoID string) string {
	return filepath.Join(l.dir, repoID+".log")
}

// Reset truncates and reinitializes a repository's activity file. Called
// at the start of a fresh sync+build attempt.
func (l *Log) Reset(repoID string) {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		l.logger.Warn().Err(err).Msg("failed to create activity dir")
		return
	}
	header := fmt.Sprintf("--- pass started %s ---\n", time.Now().Format(time.RFC3339))
	if err := os.WriteFile(l.Path(repoID), []byte(header), 0o644); err != nil {
		l.logger.Warn().Err(err).Str("repo_id", repoID).Msg("failed to reset activity log")
	}
}

// Append adds a timestamped line to a repository's activity file
func (l *Log) Append(repoID, msg string) {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		l.logger.Warn().Err(err).Msg("failed to create activity dir")
		return
	}
	f, err := os.OpenFile(l.Path(repoID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		l.logger.Warn().Err(err).Str("repo_id", repoID).Msg("failed to open activity log")
		return
	}
	defer f.Close()

	line := fmt.Sprintf("%s %s\n", time.Now().Format(time.RFC3339), msg)
	if _, err := f.WriteString(line); err != nil {
		l.logger.Warn().Err(err).Str("repo_id", repoID).Msg("failed to append activity line")
	}
}
