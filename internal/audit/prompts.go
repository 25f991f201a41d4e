package audit

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"

	"auditagent/internal/contracts"
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

var prompts = template.Must(template.ParseFS(promptFS, "prompts/*.tmpl"))

// NoKnownIssues is rendered in place of an empty ledger.
const NoKnownIssues = "None"

type searchParams struct {
	Contracts   string
	KnownIssues string
}

type evaluateParams struct {
	Candidates string
	Contracts  string
}

type auditParams struct {
	Contracts string
}

// SearchPrompt asks for findings not already in knownIssues.
func SearchPrompt(auditContext, knownIssues string) (string, error) {
	if strings.TrimSpace(knownIssues) == "" {
		knownIssues = NoKnownIssues
	}
	return render("search.tmpl", searchParams{Contracts: auditContext, KnownIssues: knownIssues})
}

// EvaluatePrompt asks for candidates to be re-titled with a threat level.
func EvaluatePrompt(candidates, auditContext string) (string, error) {
	return render("evaluate.tmpl", evaluateParams{Candidates: candidates, Contracts: auditContext})
}

// StructuredPrompt asks for a single JSON findings document.
func StructuredPrompt(auditContext string) (string, error) {
	return render("audit.tmpl", auditParams{Contracts: auditContext})
}

func render(name string, params any) (string, error) {
	var buf bytes.Buffer
	if err := prompts.ExecuteTemplate(&buf, name, params); err != nil {
		return "", fmt.Errorf("execute template %s: %w", name, err)
	}
	return buf.String(), nil
}

// RenderContext joins files into one path-tagged block per file, in order.
func RenderContext(files []contracts.File) string {
	var b strings.Builder
	for i, f := range files {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "File: %s\n```solidity\n%s", f.Path, f.Content)
		if !strings.HasSuffix(f.Content, "\n") {
			b.WriteString("\n")
		}
		b.WriteString("```\n")
	}
	return b.String()
}
