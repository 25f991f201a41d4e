package audit

import "strings"

// ledgerSeparator sits between appended evaluator outputs.
const ledgerSeparator = "\n\n"

// Ledger is the known-issues record of one session. The text only grows by
// concatenation: content after an Append always contains the content before
// it. The key set mirrors the titles seen so far and never feeds back into
// prompts.
type Ledger struct {
	text strings.Builder
	keys map[string]struct{}
}

// Append concatenates evaluator output. Blank output leaves the ledger
// untouched. It reports whether anything was added.
func (l *Ledger) Append(s string) bool {
	if strings.TrimSpace(s) == "" {
		return false
	}
	if l.text.Len() > 0 {
		l.text.WriteString(ledgerSeparator)
	}
	l.text.WriteString(strings.TrimSpace(s))

	if l.keys == nil {
		l.keys = make(map[string]struct{})
	}
	if found, err := ParseFindings(s, nil); err == nil {
		for _, f := range found {
			l.keys[f.Key()] = struct{}{}
		}
	}
	return true
}

// String returns the raw accumulated text.
func (l *Ledger) String() string { return l.text.String() }

// Render returns the text as fed to the Search prompt.
func (l *Ledger) Render() string {
	if l.text.Len() == 0 {
		return NoKnownIssues
	}
	return l.text.String()
}

// Len is the byte length of the accumulated text.
func (l *Ledger) Len() int { return l.text.Len() }

// Keys returns the number of distinct finding titles appended so far.
func (l *Ledger) Keys() int { return len(l.keys) }

// Has reports whether a finding with this title was appended.
func (l *Ledger) Has(title string) bool {
	_, ok := l.keys[findingKey(title)]
	return ok
}
