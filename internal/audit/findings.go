package audit

import (
	"encoding/json"
	"fmt"
	"path"
	"regexp"
	"strings"
)

// Severity is the threat level assigned by the Evaluator.
type Severity string

const (
	SeverityCritical      Severity = "Critical"
	SeverityHigh          Severity = "High"
	SeverityMedium        Severity = "Medium"
	SeverityLow           Severity = "Low"
	SeverityInformational Severity = "Informational"
)

// ParseSeverity accepts any casing plus the "Info" shorthand used by the
// structured prompt.
func ParseSeverity(s string) (Severity, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return SeverityCritical, true
	case "high":
		return SeverityHigh, true
	case "medium":
		return SeverityMedium, true
	case "low":
		return SeverityLow, true
	case "informational", "info":
		return SeverityInformational, true
	default:
		return "", false
	}
}

// Finding is one vulnerability record. Never mutated after creation.
type Finding struct {
	Title       string   `json:"title" yaml:"title"`
	Description string   `json:"description" yaml:"description"`
	Severity    Severity `json:"severity" yaml:"severity"`
	FilePaths   []string `json:"file_paths" yaml:"file_paths"`
}

// Key is the finding's title, lowercased with whitespace collapsed. The
// ledger indexes findings by it.
func (f Finding) Key() string {
	return findingKey(f.Title)
}

func findingKey(title string) string {
	return strings.ToLower(strings.Join(strings.Fields(title), " "))
}

// ValidationError reports generation output that could not be turned into
// findings. Sessions carry it on the Report instead of failing.
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid findings: %s: %v", e.Reason, e.Err)
	}
	return "invalid findings: " + e.Reason
}

func (e *ValidationError) Unwrap() error { return e.Err }

var (
	headingRe  = regexp.MustCompile(`(?i)^[\s#*]*(?:\d+[.)]\s*)?(.*?)[\s*]*\(\s*threat level\s*:\s*([a-z]+)\s*\)[\s*:]*$`)
	locationRe = regexp.MustCompile(`(?i)^[\s•*-]*location\s*:`)
	solPathRe  = regexp.MustCompile(`[A-Za-z0-9_./-]+\.sol\b`)
)

// ParseFindings extracts findings from Evaluator-formatted text. A finding
// starts at a line carrying "(THREAT LEVEL: X)" and runs until the next one.
// File paths come from the "Location:" bullet (or the whole block when it
// has none) and are resolved against known when a base name matches
// exactly one known path. Repeated titles are kept once.
//
// Non-blank text with no recognizable finding yields a *ValidationError.
func ParseFindings(text string, known []string) ([]Finding, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	type block struct {
		title    string
		severity string
		body     []string
	}
	var blocks []*block
	var cur *block
	for _, line := range strings.Split(text, "\n") {
		if m := headingRe.FindStringSubmatch(strings.TrimRight(line, "\r")); m != nil {
			cur = &block{title: strings.TrimSpace(m[1]), severity: m[2]}
			blocks = append(blocks, cur)
			continue
		}
		if cur != nil {
			cur.body = append(cur.body, strings.TrimRight(line, "\r "))
		}
	}
	if len(blocks) == 0 {
		return nil, &ValidationError{Reason: "no threat-level headings in evaluator output"}
	}

	resolve := pathResolver(known)
	seen := make(map[string]struct{}, len(blocks))
	findings := make([]Finding, 0, len(blocks))
	var rejected []string
	for _, b := range blocks {
		sev, ok := ParseSeverity(b.severity)
		if !ok || b.title == "" {
			rejected = append(rejected, b.title)
			continue
		}
		paths := resolve(locationPaths(b.body))
		// Only verbatim repeats collapse; same-titled issues elsewhere are distinct.
		key := findingKey(b.title) + "|" + string(sev) + "|" + strings.Join(paths, ",")
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		body := strings.TrimSpace(strings.Join(trimFences(b.body), "\n"))
		findings = append(findings, Finding{
			Title:       b.title,
			Description: body,
			Severity:    sev,
			FilePaths:   paths,
		})
	}
	if len(findings) == 0 {
		return nil, &ValidationError{Reason: fmt.Sprintf("unrecognized threat levels for %q", rejected)}
	}
	return findings, nil
}

func trimFences(lines []string) []string {
	out := lines[:0:0]
	for _, l := range lines {
		if strings.HasPrefix(strings.TrimSpace(l), "```") {
			continue
		}
		out = append(out, l)
	}
	return out
}

func locationPaths(body []string) []string {
	var src []string
	for _, l := range body {
		if locationRe.MatchString(l) {
			src = append(src, l)
		}
	}
	if len(src) == 0 {
		src = body
	}
	var out []string
	seen := map[string]struct{}{}
	for _, l := range src {
		for _, p := range solPathRe.FindAllString(l, -1) {
			p = strings.TrimPrefix(p, "./")
			if _, dup := seen[p]; dup {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

func pathResolver(known []string) func([]string) []string {
	byBase := make(map[string][]string, len(known))
	exact := make(map[string]struct{}, len(known))
	for _, k := range known {
		exact[k] = struct{}{}
		base := path.Base(k)
		byBase[base] = append(byBase[base], k)
	}
	return func(paths []string) []string {
		out := make([]string, 0, len(paths))
		seen := map[string]struct{}{}
		for _, p := range paths {
			resolved := p
			if _, ok := exact[p]; !ok {
				if cands := byBase[path.Base(p)]; len(cands) == 1 {
					resolved = cands[0]
				}
			}
			if _, dup := seen[resolved]; dup {
				continue
			}
			seen[resolved] = struct{}{}
			out = append(out, resolved)
		}
		return out
	}
}

// FormatFindings renders findings in the Evaluator's text layout.
func FormatFindings(findings []Finding) string {
	var b strings.Builder
	for i, f := range findings {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d. %s (THREAT LEVEL: %s)\n", i+1, f.Title, strings.ToUpper(string(f.Severity)))
		desc := strings.TrimSpace(f.Description)
		if desc != "" && !strings.Contains(desc, "•") {
			desc = "• Description: " + desc
		}
		if desc != "" {
			b.WriteString(desc)
			b.WriteString("\n")
		}
		if len(f.FilePaths) > 0 && !strings.Contains(strings.ToLower(desc), "location:") {
			fmt.Fprintf(&b, "• Location: %s\n", strings.Join(f.FilePaths, ", "))
		}
	}
	return b.String()
}

type structuredFinding struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Severity    string   `json:"severity"`
	FilePaths   []string `json:"file_paths"`
	FilePath    string   `json:"file_path"`
}

type structuredResponse struct {
	Findings []structuredFinding `json:"findings"`
}

// DecodeStructured validates a single-pass JSON response. Any malformed
// entry invalidates the whole document.
func DecodeStructured(raw string) ([]Finding, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var resp structuredResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, &ValidationError{Reason: "response is not a findings document", Err: err}
	}
	out := make([]Finding, 0, len(resp.Findings))
	for i, sf := range resp.Findings {
		if strings.TrimSpace(sf.Title) == "" {
			return nil, &ValidationError{Reason: fmt.Sprintf("finding %d has no title", i)}
		}
		sev, ok := ParseSeverity(sf.Severity)
		if !ok {
			return nil, &ValidationError{Reason: fmt.Sprintf("finding %d has unknown severity %q", i, sf.Severity)}
		}
		paths := sf.FilePaths
		if len(paths) == 0 && sf.FilePath != "" {
			paths = []string{sf.FilePath}
		}
		out = append(out, Finding{
			Title:       strings.TrimSpace(sf.Title),
			Description: strings.TrimSpace(sf.Description),
			Severity:    sev,
			FilePaths:   paths,
		})
	}
	return out, nil
}
