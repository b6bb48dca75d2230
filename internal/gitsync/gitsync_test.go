package gitsync_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windmill-git-sync/windmill-git-sync/internal/gitsync"
	"github.com/windmill-git-sync/windmill-git-sync/internal/request"
	"github.com/windmill-git-sync/windmill-git-sync/internal/test/gitserver"
)

const token = "ghp_secret"

var who = gitsync.Signature{Name: "Windmill Git Sync", Email: "windmill@example.com"}

func options(t *testing.T, srv *gitserver.Server, branch string) gitsync.Options {
	t.Helper()
	authURL, err := request.ComposeAuthenticatedURL(srv.URL(), srv.Token)
	require.NoError(t, err)
	return gitsync.Options{
		Branch: branch,
		Remote: gitsync.Remote{
			URL:              srv.URL(),
			AuthenticatedURL: authURL,
			CABundle:         srv.CABundle(),
		},
		AdoptRemoteHistory: true,
	}
}

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for path, content := range files {
		abs := filepath.Join(dir, path)
		require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0755))
		require.NoError(t, os.WriteFile(abs, []byte(content), 0644))
	}
}

func TestOpenOrInitIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	opts := gitsync.Options{Branch: "main", Remote: gitsync.Remote{URL: "https://example.com/u/r.git"}}

	r, err := gitsync.OpenOrInit(t.Context(), dir, opts)
	require.NoError(t, err)
	assert.True(t, r.Created())

	r, err = gitsync.OpenOrInit(t.Context(), dir, opts)
	require.NoError(t, err)
	assert.False(t, r.Created())

	repo, err := git.PlainOpen(dir)
	require.NoError(t, err)
	remote, err := repo.Remote(gitsync.DefaultRemoteName)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/u/r.git"}, remote.Config().URLs)

	head, err := repo.Storer.Reference("HEAD")
	require.NoError(t, err)
	assert.Equal(t, "refs/heads/main", head.Target().String())
}

func TestOpenOrInitRewritesRemoteWithCredentials(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	_, err = repo.CreateRemote(&gitconfig.RemoteConfig{
		Name: gitsync.DefaultRemoteName,
		URLs: []string{"https://old-token@github.com/u/r.git"},
	})
	require.NoError(t, err)

	_, err = gitsync.OpenOrInit(t.Context(), dir, gitsync.Options{
		Branch: "main",
		Remote: gitsync.Remote{URL: "https://github.com/u/r.git"},
	})
	require.NoError(t, err)

	config, err := os.ReadFile(filepath.Join(dir, ".git", "config"))
	require.NoError(t, err)
	assert.NotContains(t, string(config), "old-token")
	assert.Contains(t, string(config), "https://github.com/u/r.git")
}

func TestCommitIfChanged(t *testing.T) {
	dir := t.TempDir()
	r, err := gitsync.OpenOrInit(t.Context(), dir, gitsync.Options{Branch: "main"})
	require.NoError(t, err)

	_, committed, err := r.CommitIfChanged("empty", who)
	require.NoError(t, err)
	assert.False(t, committed, "nothing staged in a new repository")

	writeFiles(t, dir, map[string]string{"f/a.yaml": "a", "f/b.yaml": "b"})
	n, err := r.Stage()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	hash, committed, err := r.CommitIfChanged("first", who)
	require.NoError(t, err)
	require.True(t, committed)

	head, err := r.Head()
	require.NoError(t, err)
	assert.Equal(t, hash, head)

	n, err = r.Stage()
	require.NoError(t, err)
	assert.Zero(t, n)
	_, committed, err = r.CommitIfChanged("second", who)
	require.NoError(t, err)
	assert.False(t, committed, "unchanged export must not commit")

	require.NoError(t, os.Remove(filepath.Join(dir, "f", "b.yaml")))
	n, err = r.Stage()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, committed, err = r.CommitIfChanged("delete", who)
	require.NoError(t, err)
	assert.True(t, committed, "deletions are committed")

	commits, err := r.Log(0)
	require.NoError(t, err)
	require.Len(t, commits, 2)
	assert.Equal(t, "delete", commits[0].Message)
	assert.Equal(t, "Windmill Git Sync", commits[0].Author)
	assert.Equal(t, "windmill@example.com", commits[0].Email)
}

func TestStageExcludes(t *testing.T) {
	dir := t.TempDir()
	exclude, err := gitsync.CompileExcludes([]string{"**/*.lock", "tmp/**"})
	require.NoError(t, err)

	r, err := gitsync.OpenOrInit(t.Context(), dir, gitsync.Options{Branch: "main", Exclude: exclude})
	require.NoError(t, err)

	writeFiles(t, dir, map[string]string{
		"f/a.yaml":    "a",
		"f/deps.lock": "x",
		"tmp/scratch": "y",
	})

	n, err := r.Stage()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, committed, err := r.CommitIfChanged("first", who)
	require.NoError(t, err)
	assert.True(t, committed)

	_, err = gitsync.CompileExcludes([]string{"[unterminated"})
	assert.Error(t, err)
}

func TestStageNormalizesInterruptedIndex(t *testing.T) {
	for _, tc := range []struct {
		name    string
		exclude []string
	}{
		{name: "all"},
		{name: "with excludes", exclude: []string{"**/*.lock"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			exclude, err := gitsync.CompileExcludes(tc.exclude)
			require.NoError(t, err)

			r, err := gitsync.OpenOrInit(t.Context(), dir, gitsync.Options{Branch: "main", Exclude: exclude})
			require.NoError(t, err)

			writeFiles(t, dir, map[string]string{"f/a.yaml": "a"})
			_, err = r.Stage()
			require.NoError(t, err)
			_, committed, err := r.CommitIfChanged("first", who)
			require.NoError(t, err)
			require.True(t, committed)

			// A run that died after staging a modification and a new file.
			writeFiles(t, dir, map[string]string{"f/a.yaml": "changed", "f/new.yaml": "new"})
			repo, err := git.PlainOpen(dir)
			require.NoError(t, err)
			wt, err := repo.Worktree()
			require.NoError(t, err)
			_, err = wt.Add("f/a.yaml")
			require.NoError(t, err)
			_, err = wt.Add("f/new.yaml")
			require.NoError(t, err)

			// The next export matches the committed state again.
			writeFiles(t, dir, map[string]string{"f/a.yaml": "a"})
			require.NoError(t, os.Remove(filepath.Join(dir, "f", "new.yaml")))

			r, err = gitsync.OpenOrInit(t.Context(), dir, gitsync.Options{Branch: "main", Exclude: exclude})
			require.NoError(t, err)
			n, err := r.Stage()
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			staged, err := r.HasStagedChanges()
			require.NoError(t, err)
			assert.False(t, staged)

			_, committed, err = r.CommitIfChanged("second", who)
			require.NoError(t, err)
			assert.False(t, committed, "leftover index must not produce a commit")

			commits, err := r.Log(0)
			require.NoError(t, err)
			assert.Len(t, commits, 1)
		})
	}
}

func TestPushCreatesBranchAndTracksIt(t *testing.T) {
	srv := gitserver.New(t, token)
	dir := t.TempDir()

	r, err := gitsync.OpenOrInit(t.Context(), dir, options(t, srv, "backup"))
	require.NoError(t, err)
	assert.False(t, r.Adopted(), "empty remote has nothing to adopt")

	pending, err := r.PushPending()
	require.NoError(t, err)
	assert.False(t, pending, "no commits, nothing to push")

	writeFiles(t, dir, map[string]string{"f/a.yaml": "a"})
	_, err = r.Stage()
	require.NoError(t, err)
	hash, _, err := r.CommitIfChanged("first", who)
	require.NoError(t, err)

	pending, err = r.PushPending()
	require.NoError(t, err)
	assert.True(t, pending)

	require.NoError(t, r.Push(t.Context()))
	assert.Equal(t, hash.String(), srv.Head(t, "backup"))

	pending, err = r.PushPending()
	require.NoError(t, err)
	assert.False(t, pending)

	require.NoError(t, r.Push(t.Context()), "pushing an up to date branch succeeds")
}

func TestPushRejectsNonFastForward(t *testing.T) {
	srv := gitserver.New(t, token)
	dir := t.TempDir()

	opts := options(t, srv, "main")
	opts.AdoptRemoteHistory = false
	r, err := gitsync.OpenOrInit(t.Context(), dir, opts)
	require.NoError(t, err)

	srv.Commit(t, "main", "README.md", "remote only")
	remoteHead := srv.Head(t, "main")

	writeFiles(t, dir, map[string]string{"f/a.yaml": "a"})
	_, err = r.Stage()
	require.NoError(t, err)
	hash, _, err := r.CommitIfChanged("first", who)
	require.NoError(t, err)

	err = r.Push(t.Context())
	require.ErrorIs(t, err, gitsync.ErrNonFastForward)
	assert.Contains(t, err.Error(), "refs/heads/main", "rejected ref is reported")
	assert.Equal(t, remoteHead, srv.Head(t, "main"), "remote is left untouched")

	head, err := r.Head()
	require.NoError(t, err)
	assert.Equal(t, hash, head, "local commit is kept")
}

func TestAdoptRemoteHistory(t *testing.T) {
	srv := gitserver.New(t, token)
	srv.Commit(t, "main", "f/a.yaml", "a")
	remoteHead := srv.Head(t, "main")

	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"f/a.yaml": "a", "f/b.yaml": "b"})

	r, err := gitsync.OpenOrInit(t.Context(), dir, options(t, srv, "main"))
	require.NoError(t, err)
	assert.True(t, r.Adopted())

	n, err := r.Stage()
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the file missing on the remote is staged")

	_, committed, err := r.CommitIfChanged("second", who)
	require.NoError(t, err)
	require.True(t, committed)

	require.NoError(t, r.Push(t.Context()))
	assert.Equal(t, []string{"second", "external change to f/a.yaml"}, srv.Subjects(t, "main"))
	assert.NotEqual(t, remoteHead, srv.Head(t, "main"))
}

func TestPushWrongToken(t *testing.T) {
	srv := gitserver.New(t, token)
	dir := t.TempDir()

	opts := options(t, srv, "main")
	opts.AdoptRemoteHistory = false
	opts.Remote.AuthenticatedURL, _ = request.ComposeAuthenticatedURL(srv.URL(), "wrong")

	r, err := gitsync.OpenOrInit(t.Context(), dir, opts)
	require.NoError(t, err)

	writeFiles(t, dir, map[string]string{"f/a.yaml": "a"})
	_, err = r.Stage()
	require.NoError(t, err)
	_, _, err = r.CommitIfChanged("first", who)
	require.NoError(t, err)

	err = r.Push(t.Context())
	require.Error(t, err)
	assert.True(t, errors.Is(err, gitsync.ErrAuthFailed), err.Error())
	assert.NotContains(t, err.Error(), "wrong@")
}
