package request_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/windmill-git-sync/windmill-git-sync/internal/request"
)

func TestValidateMissingFields(t *testing.T) {
	tests := []struct {
		name    string
		req     request.Request
		missing []string
	}{
		{
			name:    "empty",
			req:     request.Request{},
			missing: []string{"windmill_token", "git_remote_url", "git_token"},
		},
		{
			name:    "only windmill token",
			req:     request.Request{WindmillToken: "wm"},
			missing: []string{"git_remote_url", "git_token"},
		},
		{
			name:    "blank values count as missing",
			req:     request.Request{WindmillToken: "  ", GitRemoteURL: "https://github.com/u/r.git", GitToken: "\t"},
			missing: []string{"windmill_token", "git_token"},
		},
		{
			name:    "missing remote url",
			req:     request.Request{WindmillToken: "wm", GitToken: "gt"},
			missing: []string{"git_remote_url"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.req.Validate(request.Defaults{})

			var verr *request.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if diff := cmp.Diff(tc.missing, verr.Missing); diff != "" {
				t.Fatalf("unexpected missing fields (-want +got):\n%s", diff)
			}
			for _, f := range tc.missing {
				if !strings.Contains(err.Error(), f) {
					t.Errorf("error %q does not name %q", err, f)
				}
			}
		})
	}
}

func TestValidateDefaults(t *testing.T) {
	req := request.Request{
		WindmillToken: "wm",
		GitRemoteURL:  " https://github.com/u/r.git ",
		GitToken:      "gt",
	}

	got, err := req.Validate(request.Defaults{})
	if err != nil {
		t.Fatal(err)
	}

	exp := request.Request{
		WindmillToken: "wm",
		Workspace:     "admins",
		GitRemoteURL:  "https://github.com/u/r.git",
		GitToken:      "gt",
		GitBranch:     "main",
		GitUserName:   "Windmill Git Sync",
		GitUserEmail:  "windmill@example.com",
	}
	if diff := cmp.Diff(exp, got); diff != "" {
		t.Fatalf("unexpected request (-want +got):\n%s", diff)
	}

	got, err = req.Validate(request.Defaults{Workspace: "ops", Branch: "backup", AuthorName: "Bot", AuthorEmail: "bot@example.org"})
	if err != nil {
		t.Fatal(err)
	}
	if got.Workspace != "ops" || got.GitBranch != "backup" || got.GitUserName != "Bot" || got.GitUserEmail != "bot@example.org" {
		t.Fatalf("configured defaults not applied: %+v", got)
	}

	req.Workspace = "prod"
	got, err = req.Validate(request.Defaults{Workspace: "ops"})
	if err != nil {
		t.Fatal(err)
	}
	if got.Workspace != "prod" {
		t.Fatalf("explicit workspace overridden: %q", got.Workspace)
	}
}

func TestValidateRejectsNonHTTPS(t *testing.T) {
	for _, remote := range []string{
		"git@github.com:u/r.git",
		"ssh://git@github.com/u/r.git",
		"http://github.com/u/r.git",
		"file:///tmp/repo.git",
		"github.com/u/r.git",
	} {
		t.Run(remote, func(t *testing.T) {
			_, err := request.Request{WindmillToken: "wm", GitRemoteURL: remote, GitToken: "gt"}.Validate(request.Defaults{})
			var uerr *request.UnsupportedURLError
			if !errors.As(err, &uerr) {
				t.Fatalf("expected unsupported url error, got %v", err)
			}
		})
	}
}

func TestComposeAuthenticatedURL(t *testing.T) {
	tests := []struct {
		remote string
		token  string
		exp    string
	}{
		{"https://github.com/u/r.git", "TOK", "https://TOK@github.com/u/r.git"},
		{"https://gitlab.example.com:8443/group/sub/r.git", "glpat-x", "https://glpat-x@gitlab.example.com:8443/group/sub/r.git"},
		{"https://old@github.com/u/r.git", "TOK", "https://TOK@github.com/u/r.git"},
		{"HTTPS://github.com/u/r", "TOK", "https://TOK@github.com/u/r"},
	}

	for _, tc := range tests {
		t.Run(tc.remote, func(t *testing.T) {
			got, err := request.ComposeAuthenticatedURL(tc.remote, tc.token)
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.exp {
				t.Fatalf("expected %q, got %q", tc.exp, got)
			}
		})
	}
}

func TestComposeAuthenticatedURLErrors(t *testing.T) {
	_, err := request.ComposeAuthenticatedURL("ssh://git@github.com/u/r.git", "SECRET-TOKEN")
	var uerr *request.UnsupportedURLError
	if !errors.As(err, &uerr) {
		t.Fatalf("expected unsupported url error, got %v", err)
	}
	if strings.Contains(err.Error(), "SECRET-TOKEN") {
		t.Fatalf("error leaks token: %v", err)
	}

	_, err = request.ComposeAuthenticatedURL("https://:SECRET-TOKEN@github.com:bad/u", "x")
	if err == nil || strings.Contains(err.Error(), "SECRET-TOKEN") {
		t.Fatalf("expected redacted error, got %v", err)
	}
}

func TestRedactURL(t *testing.T) {
	tests := map[string]string{
		"https://TOK@github.com/u/r.git":      "https://github.com/u/r.git",
		"https://user:pw@github.com/u/r.git":  "https://github.com/u/r.git",
		"https://github.com/u/r.git":          "https://github.com/u/r.git",
		"https://TOK@github.com:bad/u/r.git":  "https://github.com:bad/u/r.git",
		"git@github.com:u/r.git":              "git@github.com:u/r.git",
	}
	for in, exp := range tests {
		if got := request.RedactURL(in); got != exp {
			t.Errorf("RedactURL(%q) = %q, want %q", in, got, exp)
		}
	}
}

func TestRequestStringOmitsSecrets(t *testing.T) {
	req := request.Request{
		WindmillToken: "wm-secret",
		Workspace:     "admins",
		GitRemoteURL:  "https://gt-secret@github.com/u/r.git",
		GitToken:      "gt-secret",
		GitBranch:     "main",
	}
	s := req.String()
	for _, secret := range req.Secrets() {
		if strings.Contains(s, secret) {
			t.Fatalf("String() leaks %q: %s", secret, s)
		}
	}
}
