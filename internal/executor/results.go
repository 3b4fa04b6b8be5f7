package executor

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"
)

// Summary holds parsed test counts.
type Summary struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// ParseResultFile reads the structured summary a well-behaved script writes
// to the known result path.
func ParseResultFile(path string) (Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Summary{}, fmt.Errorf("executor: read result file: %w", err)
	}
	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return Summary{}, fmt.Errorf("executor: parse result file: %w", err)
	}
	if s.Total == 0 {
		s.Total = s.Passed + s.Failed + s.Skipped
	}
	return s, nil
}

// Summary-line patterns for the supported runners, e.g. pytest's
// "3 passed, 1 failed, 2 skipped in 0.12s" or Playwright's "5 passed (3s)".
var (
	passedRe  = regexp.MustCompile(`(\d+) passed`)
	failedRe  = regexp.MustCompile(`(\d+) failed`)
	skippedRe = regexp.MustCompile(`(\d+) skipped`)
	errorRe   = regexp.MustCompile(`(\d+) error`)
)

// ParseOutput extracts counts from captured stdout as a fallback when no
// structured result file exists. The second return is false when no counts
// were found at all.
func ParseOutput(stdout string) (Summary, bool) {
	var s Summary
	found := false

	if n, ok := lastCount(passedRe, stdout); ok {
		s.Passed = n
		found = true
	}
	if n, ok := lastCount(failedRe, stdout); ok {
		s.Failed = n
		found = true
	}
	if n, ok := lastCount(skippedRe, stdout); ok {
		s.Skipped = n
		found = true
	}
	// pytest reports collection errors separately; count them as failures.
	if n, ok := lastCount(errorRe, stdout); ok {
		s.Failed += n
		found = true
	}

	s.Total = s.Passed + s.Failed + s.Skipped
	return s, found
}

// lastCount returns the count from the last match of re in text. Runners
// print per-shard lines before the final summary, so the last match wins.
func lastCount(re *regexp.Regexp, text string) (int, bool) {
	matches := re.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(matches[len(matches)-1][1])
	if err != nil {
		return 0, false
	}
	return n, true
}
