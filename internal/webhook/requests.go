package webhook

import (
	"net/url"
	"strings"
	"time"

	"auditagent/internal/contracts"
	"auditagent/internal/jobs"
	"auditagent/internal/report"
	"auditagent/pkg/platform/httputil"
	strs "auditagent/pkg/platform/strings"
)

// Notification is the POST /webhook body. It carries both protocol
// variants: split (get_contracts_url / post_findings_url, structured
// findings) and combined (contracts_url / callback_url, raw text findings).
type Notification struct {
	TaskID          string   `json:"task_id"`
	Files           []string `json:"files,omitempty"`
	GetContractsURL string   `json:"get_contracts_url,omitempty"`
	PostFindingsURL string   `json:"post_findings_url,omitempty"`
	ContractsURL    string   `json:"contracts_url,omitempty"`
	RepoURL         string   `json:"repo_url,omitempty"`
	CallbackURL     string   `json:"callback_url,omitempty"`
	FindingsFormat  string   `json:"findings_format,omitempty"`
}

// Normalize trims whitespace and drops blank or repeated file entries.
func (n *Notification) Normalize() {
	if n == nil {
		return
	}
	n.TaskID = strings.TrimSpace(n.TaskID)
	n.GetContractsURL = strings.TrimSpace(n.GetContractsURL)
	n.PostFindingsURL = strings.TrimSpace(n.PostFindingsURL)
	n.ContractsURL = strings.TrimSpace(n.ContractsURL)
	n.RepoURL = strings.TrimSpace(n.RepoURL)
	n.CallbackURL = strings.TrimSpace(n.CallbackURL)
	n.FindingsFormat = strings.ToLower(strings.TrimSpace(n.FindingsFormat))
	n.Files = strs.DedupeBy(n.Files, contracts.NormalizePath)
}

// split reports whether the notification uses the split protocol.
func (n *Notification) split() bool {
	return n.GetContractsURL != "" || n.PostFindingsURL != ""
}

// Validate checks the fields the chosen variant requires.
func (n *Notification) Validate() error {
	if n == nil {
		return httputil.NewError(httputil.CodeBadRequest, "request body is required")
	}
	if n.TaskID == "" {
		return httputil.NewError(httputil.CodeValidation, "task_id is required")
	}
	if n.split() && (n.ContractsURL != "" || n.CallbackURL != "") {
		return httputil.NewError(httputil.CodeValidation, "split and combined fields cannot be mixed")
	}

	contractsURL, callbackURL := n.ContractsURL, n.CallbackURL
	if n.split() {
		contractsURL, callbackURL = n.GetContractsURL, n.PostFindingsURL
	}
	switch {
	case contractsURL == "" && n.RepoURL == "":
		return httputil.NewError(httputil.CodeValidation, "a contracts URL or repo_url is required")
	case contractsURL != "" && n.RepoURL != "":
		return httputil.NewError(httputil.CodeValidation, "provide either a contracts URL or repo_url, not both")
	case contractsURL != "" && !isHTTPURL(contractsURL):
		return httputil.NewError(httputil.CodeValidation, "contracts URL must be an absolute http(s) URL")
	case strings.HasPrefix(n.RepoURL, "-"):
		return httputil.NewError(httputil.CodeValidation, "repo_url is invalid")
	}
	if callbackURL == "" {
		return httputil.NewError(httputil.CodeValidation, "a findings callback URL is required")
	}
	if !isHTTPURL(callbackURL) {
		return httputil.NewError(httputil.CodeValidation, "callback URL must be an absolute http(s) URL")
	}
	if n.FindingsFormat != "" {
		if _, ok := report.ParseFormat(n.FindingsFormat); !ok {
			return httputil.NewError(httputil.CodeValidation, "findings_format must be structured or raw")
		}
	}
	return nil
}

// ToJob maps a validated notification onto a job. Split notifications
// default to structured findings, combined ones to raw text.
func (n *Notification) ToJob(acceptedAt time.Time) jobs.Job {
	job := jobs.Job{
		TaskID:       n.TaskID,
		ContractsURL: n.ContractsURL,
		RepoURL:      n.RepoURL,
		Files:        n.Files,
		CallbackURL:  n.CallbackURL,
		Format:       report.FormatRawText,
		AcceptedAt:   acceptedAt,
	}
	if n.split() {
		job.ContractsURL = n.GetContractsURL
		job.CallbackURL = n.PostFindingsURL
		job.Format = report.FormatStructured
	}
	if f, ok := report.ParseFormat(n.FindingsFormat); ok {
		job.Format = f
	}
	return job
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
