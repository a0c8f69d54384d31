package health

import (
	"context"
	"strings"

	"github.com/LordVaderXIII/Appmanager/pkg/runtime"
)

// TailLines is how much recent output the scanner inspects
const TailLines = 100

// fatalSignatures are the fixed substrings treated as evidence of a
// runtime failure. This is best-effort string matching, not log parsing;
// false positives and negatives are an accepted limitation.
var fatalSignatures = []string{
	"Traceback",
	"Error:",
	"Exception",
	"panic:",
}

// Scan checks a log tail for fatal-looking signatures and returns the
// first match.
func Scan(tail string) (string, bool) {
	for _, sig := range fatalSignatures {
		if strings.Contains(tail, sig) {
			return sig, true
		}
	}
	return "", false
}

// OutputReader fetches recent container output
type OutputReader interface {
	RecentOutput(ctx context.Context, target runtime.LogTarget, tailLines int) (string, error)
}

// Scanner is the heuristic crash detector run after a successful
// build/start.
type Scanner struct {
	rt OutputReader
}

// NewScanner creates a scanner over the given runtime
func NewScanner(rt OutputReader) *Scanner {
	return &Scanner{rt: rt}
}

// Check fetches a bounded tail of recent output and scans it. The tail is
// returned regardless so callers can embed it in an escalation.
func (s *Scanner) Check(ctx context.Context, target runtime.LogTarget) (tail string, fatal bool, err error) {
	tail, err = s.rt.RecentOutput(ctx, target, TailLines)
	if err != nil {
		return tail, false, err
	}
	_, fatal = Scan(tail)
	return tail, fatal, nil
}
