package webhook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auditagent/internal/report"
)

func TestNotification_NormalizeDedupesFiles(t *testing.T) {
	n := &Notification{
		TaskID: "  T1 ",
		Files:  []string{" src/A.sol", "./src/A.sol", "", "src/B.sol", "src\\B.sol"},
	}
	n.Normalize()

	assert.Equal(t, "T1", n.TaskID)
	assert.Equal(t, []string{"src/A.sol", "src/B.sol"}, n.Files)
}

func TestNotification_ToJob(t *testing.T) {
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		name       string
		n          Notification
		wantSource string
		wantCB     string
		wantFormat report.Format
	}{
		{
			name:       "split",
			n:          Notification{TaskID: "T", GetContractsURL: "http://a/c", PostFindingsURL: "http://a/f"},
			wantSource: "http://a/c",
			wantCB:     "http://a/f",
			wantFormat: report.FormatStructured,
		},
		{
			name:       "combined",
			n:          Notification{TaskID: "T", ContractsURL: "http://a/c", CallbackURL: "http://a/f"},
			wantSource: "http://a/c",
			wantCB:     "http://a/f",
			wantFormat: report.FormatRawText,
		},
		{
			name:       "split with raw override",
			n:          Notification{TaskID: "T", RepoURL: "https://g/r.git", PostFindingsURL: "http://a/f", FindingsFormat: "text"},
			wantSource: "https://g/r.git",
			wantCB:     "http://a/f",
			wantFormat: report.FormatRawText,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			n := tc.n
			n.Normalize()
			require.NoError(t, n.Validate())

			job := n.ToJob(at)

			assert.Equal(t, tc.wantSource, job.Source().String())
			assert.Equal(t, tc.wantCB, job.CallbackURL)
			assert.Equal(t, tc.wantFormat, job.Format)
			assert.Equal(t, at, job.AcceptedAt)
			assert.Empty(t, job.ID)
		})
	}
}

func TestNotification_ValidateNil(t *testing.T) {
	var n *Notification
	assert.Error(t, n.Validate())
}
