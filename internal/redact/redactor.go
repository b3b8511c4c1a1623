// Package redact masks credentials in document text before it is embedded
// and stored in the vector index.
//
// Detection uses the default gitleaks rule set. Each finding is replaced in
// place by a marker of the form [REDACTED:<rule>:<preview>] where preview is
// the first four characters of the match.
package redact

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
	"go.uber.org/zap"
)

const previewLen = 4

// Finding is one detected secret.
type Finding struct {
	RuleID string
	Match  string
}

// Redactor scrubs secrets from text. It is safe for concurrent use.
type Redactor struct {
	mu       sync.Mutex
	detector *detect.Detector
	logger   *zap.Logger
}

// New builds a Redactor from the default gitleaks rules plus an optional
// allowlist.
func New(allowlist *Allowlist, logger *zap.Logger) (*Redactor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("loading gitleaks rules: %w", err)
	}

	if allowlist != nil && len(allowlist.Regexes) > 0 {
		if err := applyAllowlist(&detector.Config, allowlist); err != nil {
			return nil, err
		}
	}

	return &Redactor{detector: detector, logger: logger}, nil
}

// Redact returns text with every finding replaced by a marker, and the
// number of findings replaced.
func (r *Redactor) Redact(text string) (string, int) {
	if strings.TrimSpace(text) == "" {
		return text, 0
	}

	r.mu.Lock()
	raw := r.detector.DetectString(text)
	r.mu.Unlock()

	if len(raw) == 0 {
		return text, 0
	}

	findings := make([]Finding, 0, len(raw))
	for _, f := range raw {
		findings = append(findings, Finding{
			RuleID: f.RuleID,
			Match:  f.Secret,
		})
	}

	redacted, n := replaceFindings(text, findings)
	if n > 0 {
		rules := make([]string, 0, len(findings))
		for _, f := range findings {
			rules = append(rules, f.RuleID)
		}
		r.logger.Info("redacted secrets from document text",
			zap.Int("count", n),
			zap.Strings("rules", rules))
	}
	return redacted, n
}

func applyAllowlist(cfg *gitleaksConfig.Config, allowlist *Allowlist) error {
	global := &gitleaksConfig.Allowlist{
		Description: "ragd ingestion allowlist",
	}
	for _, pattern := range allowlist.Regexes {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidRegex, pattern, err)
		}
		global.Regexes = append(global.Regexes, (*gitleaksRegexp.Regexp)(re))
	}
	cfg.Allowlists = append(cfg.Allowlists, global)
	return nil
}

// replaceFindings substitutes a marker for every occurrence of each match.
// Longer matches go first so a secret that contains another is masked whole.
func replaceFindings(content string, findings []Finding) (string, int) {
	sorted := make([]Finding, len(findings))
	copy(sorted, findings)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Match) > len(sorted[j].Match)
	})

	replaced := 0
	seen := make(map[string]struct{}, len(sorted))
	for _, f := range sorted {
		if f.Match == "" {
			continue
		}
		if _, ok := seen[f.Match]; ok {
			continue
		}
		seen[f.Match] = struct{}{}

		n := strings.Count(content, f.Match)
		if n == 0 {
			continue
		}
		marker := fmt.Sprintf("[REDACTED:%s:%s]", f.RuleID, preview(f.Match))
		content = strings.ReplaceAll(content, f.Match, marker)
		replaced += n
	}
	return content, replaced
}

func preview(s string) string {
	if len(s) <= previewLen {
		return s
	}
	return s[:previewLen]
}
