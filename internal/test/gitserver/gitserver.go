// Package gitserver runs a smart HTTP git server over TLS for tests. It serves
// a bare repository through git-http-backend with push enabled, and only
// accepts requests carrying the configured token.
package gitserver

import (
	"encoding/pem"
	"net/http"
	"net/http/cgi"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const RepoName = "backup.git"

type Server struct {
	srv   *httptest.Server
	root  string
	Token string
}

// New starts a server for a new empty bare repository. The test is skipped
// when git is not installed.
func New(t testing.TB, token string) *Server {
	t.Helper()

	gitBin, err := exec.LookPath("git")
	if err != nil {
		t.Skip("git binary not found in PATH")
	}

	root := t.TempDir()
	run(t, root, "init", "--bare", "--initial-branch=main", RepoName)

	s := &Server{root: root, Token: token}
	s.srv = httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok || (username != token && password != token) {
			w.Header().Set("WWW-Authenticate", `Basic realm="git"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		h := &cgi.Handler{
			Path: gitBin,
			Args: []string{
				"-c", "http.receivepack",
				"http-backend",
			},
			Dir: root,
			Env: []string{
				"GIT_PROJECT_ROOT=" + root,
				"PATH_INFO=" + r.URL.Path,
				"QUERY_STRING=" + r.URL.RawQuery,
				"REQUEST_METHOD=" + r.Method,
				"GIT_HTTP_EXPORT_ALL=true",
				"REMOTE_USER=sync",
			},
			Stderr: os.Stderr,
		}
		h.ServeHTTP(w, r)
	}))
	t.Cleanup(s.srv.Close)

	return s
}

// URL returns the remote URL of the repository, without credentials.
func (s *Server) URL() string {
	return s.srv.URL + "/" + RepoName
}

// CABundle returns the PEM encoded certificate of the server.
func (s *Server) CABundle() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: s.srv.Certificate().Raw})
}

// Dir returns the path of the bare repository.
func (s *Server) Dir() string {
	return filepath.Join(s.root, RepoName)
}

// Head returns the commit the branch points to, or "" if it does not exist.
func (s *Server) Head(t testing.TB, branch string) string {
	t.Helper()
	cmd := exec.Command("git", "rev-parse", "--verify", "--quiet", "refs/heads/"+branch)
	cmd.Dir = s.Dir()
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// Subjects returns the commit subjects of the branch, newest first.
func (s *Server) Subjects(t testing.TB, branch string) []string {
	t.Helper()
	out := run(t, s.Dir(), "log", "--format=%s", "refs/heads/"+branch)
	return strings.Split(strings.TrimSpace(out), "\n")
}

// Show returns the content of path at the tip of branch.
func (s *Server) Show(t testing.TB, branch, path string) string {
	t.Helper()
	return run(t, s.Dir(), "show", branch+":"+path)
}

// Files lists the paths tracked at the tip of branch.
func (s *Server) Files(t testing.TB, branch string) []string {
	t.Helper()
	out := run(t, s.Dir(), "ls-tree", "-r", "--name-only", "refs/heads/"+branch)
	return strings.Fields(out)
}

// Commit adds a commit to branch from outside, as another writer of the
// remote would.
func (s *Server) Commit(t testing.TB, branch, path, content string) {
	t.Helper()

	dir := t.TempDir()
	run(t, dir, "init", "--initial-branch="+branch)
	if s.Head(t, branch) != "" {
		run(t, dir, "fetch", s.Dir(), branch)
		run(t, dir, "reset", "--hard", "FETCH_HEAD")
	}

	require.NoError(t, os.MkdirAll(filepath.Dir(filepath.Join(dir, path)), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, path), []byte(content), 0644))
	run(t, dir, "add", path)
	run(t, dir, "commit", "-m", "external change to "+path)
	run(t, dir, "push", s.Dir(), "HEAD:refs/heads/"+branch)
}

func run(t testing.TB, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=Some User",
		"GIT_AUTHOR_EMAIL=some@example.com",
		"GIT_COMMITTER_NAME=Some User",
		"GIT_COMMITTER_EMAIL=some@example.com",
	)
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %s: %s", strings.Join(args, " "), out)
	return string(out)
}
