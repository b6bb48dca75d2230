// Package request defines the sync request payload, its validation and the
// composition of credential-bearing remote URLs.
package request

import (
	"cmp"
	"fmt"
	"net/url"
	"strings"
)

const (
	DefaultWorkspace   = "admins"
	DefaultBranch      = "main"
	DefaultAuthorName  = "Windmill Git Sync"
	DefaultAuthorEmail = "windmill@example.com"
)

// Request is the payload of a single sync. It is decoded per inbound request,
// used once and discarded.
type Request struct {
	WindmillToken string `json:"windmill_token"`
	Workspace     string `json:"workspace,omitempty"`
	GitRemoteURL  string `json:"git_remote_url"`
	GitToken      string `json:"git_token"`
	GitBranch     string `json:"git_branch,omitempty"`
	GitUserName   string `json:"git_user_name,omitempty"`
	GitUserEmail  string `json:"git_user_email,omitempty"`
}

// Defaults holds the values applied to optional request fields left empty.
type Defaults struct {
	Workspace   string
	Branch      string
	AuthorName  string
	AuthorEmail string
}

// Validate checks that every mandatory field is present and returns a copy of
// the request with defaults applied. All missing fields are reported at once.
func (r Request) Validate(d Defaults) (Request, error) {
	var missing []string
	for _, f := range []struct {
		name  string
		value string
	}{
		{"windmill_token", r.WindmillToken},
		{"git_remote_url", r.GitRemoteURL},
		{"git_token", r.GitToken},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}

	if len(missing) > 0 {
		return Request{}, &ValidationError{Missing: missing}
	}

	if err := checkRemoteURL(r.GitRemoteURL); err != nil {
		return Request{}, err
	}

	n := r
	n.GitRemoteURL = strings.TrimSpace(r.GitRemoteURL)
	n.Workspace = cmp.Or(strings.TrimSpace(r.Workspace), d.Workspace, DefaultWorkspace)
	n.GitBranch = cmp.Or(strings.TrimSpace(r.GitBranch), d.Branch, DefaultBranch)
	n.GitUserName = cmp.Or(strings.TrimSpace(r.GitUserName), d.AuthorName, DefaultAuthorName)
	n.GitUserEmail = cmp.Or(strings.TrimSpace(r.GitUserEmail), d.AuthorEmail, DefaultAuthorEmail)
	return n, nil
}

// Secrets returns the credential values carried by the request.
func (r Request) Secrets() []string {
	return []string{r.WindmillToken, r.GitToken}
}

// String renders the non-secret fields of the request.
func (r Request) String() string {
	return fmt.Sprintf("workspace=%s remote=%s branch=%s", r.Workspace, RedactURL(r.GitRemoteURL), r.GitBranch)
}

// ComposeAuthenticatedURL embeds token as the userinfo of an HTTPS remote URL:
// https://TOKEN@host/path. Scheme, host and path are preserved; any userinfo
// already present is replaced.
func ComposeAuthenticatedURL(remoteURL, token string) (string, error) {
	u, err := parseHTTPS(remoteURL)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", &ValidationError{Missing: []string{"git_token"}}
	}

	u.User = url.User(token)
	return u.String(), nil
}

// RedactURL strips any userinfo from rawURL. Values that do not parse as a URL
// are returned with everything before the last '@' removed.
func RedactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" {
		if i := strings.LastIndex(rawURL, "@"); i >= 0 && strings.Contains(rawURL[:i], "://") {
			return rawURL[:strings.Index(rawURL, "://")+3] + rawURL[i+1:]
		}
		return rawURL
	}
	u.User = nil
	return u.String()
}

func checkRemoteURL(rawURL string) error {
	_, err := parseHTTPS(rawURL)
	return err
}

func parseHTTPS(rawURL string) (*url.URL, error) {
	rawURL = strings.TrimSpace(rawURL)
	u, err := url.Parse(rawURL)
	if err != nil {
		// scp-like git@host:path addresses end up here
		return nil, &UnsupportedURLError{URL: RedactURL(rawURL), Reason: "not a valid URL"}
	}
	if !strings.EqualFold(u.Scheme, "https") {
		scheme := u.Scheme
		if scheme == "" {
			scheme = "none"
		}
		return nil, &UnsupportedURLError{URL: RedactURL(rawURL), Reason: fmt.Sprintf("unsupported scheme %q", scheme)}
	}
	if u.Host == "" {
		return nil, &UnsupportedURLError{URL: RedactURL(rawURL), Reason: "missing host"}
	}
	u.Scheme = "https"
	return u, nil
}
