package audit

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const evaluatorOutput = "```\n" + `1. Signature Replay Vulnerability (THREAT LEVEL: CRITICAL)
• Description: The hash omits a nonce.
• Location: In SignatureReplay.sol, function getTxHash().
• Potential impact: Funds can be sent twice.
• Recommended fix: Include a nonce.

**2. Forced ETH breaks game logic (Threat Level: high)**
• Description: The winner is derived from the raw balance.
• Location: In game/ForceSend.sol and ./lib/Helper.sol
• Recommended fix: Track deposits with a counter.
` + "```"

func TestParseFindings(t *testing.T) {
	known := []string{"contracts/SignatureReplay.sol", "game/ForceSend.sol", "lib/Helper.sol"}

	got, err := ParseFindings(evaluatorOutput, known)

	require.NoError(t, err)
	want := []Finding{
		{
			Title:       "Signature Replay Vulnerability",
			Description: "• Description: The hash omits a nonce.\n• Location: In SignatureReplay.sol, function getTxHash().\n• Potential impact: Funds can be sent twice.\n• Recommended fix: Include a nonce.",
			Severity:    SeverityCritical,
			FilePaths:   []string{"contracts/SignatureReplay.sol"},
		},
		{
			Title:       "Forced ETH breaks game logic",
			Description: "• Description: The winner is derived from the raw balance.\n• Location: In game/ForceSend.sol and ./lib/Helper.sol\n• Recommended fix: Track deposits with a counter.",
			Severity:    SeverityHigh,
			FilePaths:   []string{"game/ForceSend.sol", "lib/Helper.sol"},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
}

func TestParseFindings_DeduplicatesRepeats(t *testing.T) {
	text := "1. Reentrancy (THREAT LEVEL: HIGH)\n• Location: A.sol\n\n1.  reentrancy  (THREAT LEVEL: high)\n• Location: ./A.sol"

	got, err := ParseFindings(text, []string{"A.sol"})

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Reentrancy", got[0].Title)
}

func TestParseFindings_KeepsSameTitleInOtherFiles(t *testing.T) {
	text := "1. Reentrancy (THREAT LEVEL: HIGH)\n• Location: In A.sol, function withdraw().\n\n" +
		"2. Reentrancy (THREAT LEVEL: CRITICAL)\n• Location: In B.sol, function claim()."

	got, err := ParseFindings(text, []string{"A.sol", "B.sol"})

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, SeverityHigh, got[0].Severity)
	assert.Equal(t, []string{"A.sol"}, got[0].FilePaths)
	assert.Equal(t, SeverityCritical, got[1].Severity)
	assert.Equal(t, []string{"B.sol"}, got[1].FilePaths)
}

func TestParseFindings_Degenerate(t *testing.T) {
	t.Run("blank text is no findings and no error", func(t *testing.T) {
		got, err := ParseFindings("  \n", nil)
		assert.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("prose without headings", func(t *testing.T) {
		got, err := ParseFindings("Nothing new was found.", nil)
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr)
		assert.Empty(t, got)
	})

	t.Run("unknown threat level only", func(t *testing.T) {
		got, err := ParseFindings("1. Odd (THREAT LEVEL: SEVERE)", nil)
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr)
		assert.Empty(t, got)
	})

	t.Run("no location falls back to body", func(t *testing.T) {
		got, err := ParseFindings("1. Gas griefing (THREAT LEVEL: LOW)\nSee Pool.sol loop.", nil)
		require.NoError(t, err)
		if diff := cmp.Diff([]Finding{{
			Title:       "Gas griefing",
			Description: "See Pool.sol loop.",
			Severity:    SeverityLow,
			FilePaths:   []string{"Pool.sol"},
		}}, got); diff != "" {
			t.Fatalf("(-want +got):\n%s", diff)
		}
	})
}

func TestFormatFindings_RoundTrip(t *testing.T) {
	in := []Finding{
		{Title: "Missing access control", Description: "anyone can mint", Severity: SeverityHigh, FilePaths: []string{"Token.sol"}},
		{Title: "Floating pragma", Severity: SeverityInformational},
	}

	out, err := ParseFindings(FormatFindings(in), []string{"Token.sol"})

	require.NoError(t, err)
	want := []Finding{
		{Title: "Missing access control", Description: "• Description: anyone can mint\n• Location: Token.sol", Severity: SeverityHigh, FilePaths: []string{"Token.sol"}},
		{Title: "Floating pragma", Severity: SeverityInformational},
	}
	if diff := cmp.Diff(want, out, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
}

func TestDecodeStructured(t *testing.T) {
	t.Run("accepts fenced json and legacy file_path", func(t *testing.T) {
		raw := "```json\n" + `{"findings":[
			{"title":" Unchecked call ","description":"return value ignored","severity":"medium","file_paths":["A.sol","B.sol"]},
			{"title":"Style","description":"naming","severity":"Info","file_path":"C.sol"}
		]}` + "\n```"

		got, err := DecodeStructured(raw)

		require.NoError(t, err)
		want := []Finding{
			{Title: "Unchecked call", Description: "return value ignored", Severity: SeverityMedium, FilePaths: []string{"A.sol", "B.sol"}},
			{Title: "Style", Description: "naming", Severity: SeverityInformational, FilePaths: []string{"C.sol"}},
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("(-want +got):\n%s", diff)
		}
	})

	t.Run("empty findings list is valid", func(t *testing.T) {
		got, err := DecodeStructured(`{"findings":[]}`)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	for name, raw := range map[string]string{
		"not json":         "I found nothing",
		"missing title":    `{"findings":[{"severity":"High"}]}`,
		"unknown severity": `{"findings":[{"title":"x","severity":"Catastrophic"}]}`,
		"wrong shape":      `{"findings":"none"}`,
	} {
		t.Run(name, func(t *testing.T) {
			got, err := DecodeStructured(raw)
			var verr *ValidationError
			assert.ErrorAs(t, err, &verr)
			assert.Nil(t, got)
		})
	}
}

func TestParseSeverity(t *testing.T) {
	for in, want := range map[string]Severity{
		"CRITICAL": SeverityCritical,
		" high ":   SeverityHigh,
		"Medium":   SeverityMedium,
		"low":      SeverityLow,
		"Info":     SeverityInformational,
	} {
		got, ok := ParseSeverity(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := ParseSeverity("severe")
	assert.False(t, ok)
}
