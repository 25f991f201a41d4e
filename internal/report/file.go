package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"auditagent/internal/audit"
)

// DefaultOutputPath is where local runs write results.
const DefaultOutputPath = "security_audit_results.txt"

// OutputFormat is the on-disk encoding of a local run.
type OutputFormat string

const (
	OutputText OutputFormat = "text"
	OutputJSON OutputFormat = "json"
	OutputYAML OutputFormat = "yaml"
)

// OutputFormatFor returns explicit when set, otherwise infers from the file
// extension and falls back to text.
func OutputFormatFor(path, explicit string) (OutputFormat, error) {
	switch strings.ToLower(strings.TrimSpace(explicit)) {
	case "":
	case "text", "txt":
		return OutputText, nil
	case "json":
		return OutputJSON, nil
	case "yaml", "yml":
		return OutputYAML, nil
	default:
		return "", fmt.Errorf("unknown output format %q", explicit)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return OutputJSON, nil
	case ".yaml", ".yml":
		return OutputYAML, nil
	default:
		return OutputText, nil
	}
}

type fileReport struct {
	TaskID     string          `json:"task_id" yaml:"task_id"`
	Mode       audit.Mode      `json:"mode" yaml:"mode"`
	Iterations int             `json:"iterations" yaml:"iterations"`
	Findings   []audit.Finding `json:"findings" yaml:"findings"`
	Ledger     string          `json:"ledger,omitempty" yaml:"ledger,omitempty"`
}

// Encode renders rep in the given format.
func Encode(format OutputFormat, rep audit.Report) ([]byte, error) {
	doc := fileReport{
		TaskID:     rep.TaskID,
		Mode:       rep.Mode,
		Iterations: rep.Iterations,
		Findings:   rep.Findings,
		Ledger:     rep.Ledger,
	}
	if doc.Findings == nil {
		doc.Findings = []audit.Finding{}
	}
	switch format {
	case OutputJSON:
		b, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(b, '\n'), nil
	case OutputYAML:
		return yaml.Marshal(doc)
	default:
		return []byte(rep.Ledger), nil
	}
}

// WriteFile saves rep to path, creating parent directories.
func WriteFile(path string, format OutputFormat, rep audit.Report) error {
	data, err := Encode(format, rep)
	if err != nil {
		return fmt.Errorf("encode %s report: %w", format, err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
