// gitsync package maintains the backup repository in the working directory: it opens or initializes the
// repository, stages the exported files, commits them and pushes to the remote. This package implements no
// locking, it is expected that the caller serializes access to a working directory. A Repository is not
// thread-safe.
package gitsync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/protocol/packp/capability"
	"github.com/go-git/go-git/v5/plumbing/transport"
)

// DefaultRemoteName is the remote the backup is pushed to. Its URL is stored
// without credentials.
const DefaultRemoteName = "origin"

var (
	ErrNonFastForward = errors.New("rejected: remote contains commits that are not present locally")
	ErrAuthFailed     = errors.New("authentication failed")
)

func init() {
	// For Azure DevOps compatibility. More details: https://github.com/go-git/go-git/issues/64
	transport.UnsupportedCapabilities = []capability.Capability{
		capability.ThinPack,
	}
}

// Remote describes where the backup goes. URL is persisted in the repository
// configuration; AuthenticatedURL is only ever used for network operations.
type Remote struct {
	URL              string
	AuthenticatedURL string
	CABundle         []byte
	InsecureSkipTLS  bool
}

// Options control how the repository is opened and staged.
type Options struct {
	Branch string
	Remote Remote

	// AdoptRemoteHistory makes a repository without commits continue the
	// history of the remote branch, if there is one.
	AdoptRemoteHistory bool

	// Exclude lists glob patterns of paths that are never staged.
	Exclude []glob.Glob
}

// Repository is the backup repository in a working directory.
type Repository struct {
	path    string
	opts    Options
	repo    *git.Repository
	wt      *git.Worktree
	created bool
	adopted bool
}

// CompileExcludes compiles exclusion patterns. '/' is the separator, so '*'
// does not cross directories while '**' does.
func CompileExcludes(patterns []string) ([]glob.Glob, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid exclude pattern %q: %w", p, err)
		}
		globs = append(globs, g)
	}
	return globs, nil
}

// OpenOrInit opens the repository at path, initializing it when the directory holds no repository yet. Running
// it repeatedly against the same path always yields the same repository. The configured remote URL is
// (re)written on every call so that credentials stored by earlier tooling are dropped.
func OpenOrInit(ctx context.Context, path string, opts Options) (*Repository, error) {
	if opts.Branch == "" {
		return nil, errors.New("branch must be set")
	}

	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, err
	}

	r := &Repository{path: path, opts: opts}

	repository, err := git.PlainOpen(path)
	if errors.Is(err, git.ErrRepositoryNotExists) { // does not exist? initialize it
		repository, err = git.PlainInitWithOptions(path, &git.PlainInitOptions{
			InitOptions: git.InitOptions{
				DefaultBranch: plumbing.NewBranchReferenceName(opts.Branch),
			},
		})
		if err != nil {
			return nil, fmt.Errorf("init: %w", err)
		}
		r.created = true
	} else if err != nil { // other errors are bubbled up
		return nil, fmt.Errorf("open: %w", err)
	}

	r.repo = repository
	r.wt, err = repository.Worktree()
	if err != nil {
		return nil, err
	}

	if err := r.ensureRemote(); err != nil {
		return nil, fmt.Errorf("configure remote: %w", err)
	}

	if opts.AdoptRemoteHistory {
		head, err := r.Head()
		if err != nil {
			return nil, err
		}
		if head.IsZero() { // no commits yet, including a previous attempt that failed to adopt
			if err := r.adoptRemoteHistory(ctx); err != nil {
				return nil, fmt.Errorf("adopt remote history: %w", err)
			}
		}
	}

	return r, nil
}

// Created reports whether OpenOrInit initialized a new repository.
func (r *Repository) Created() bool {
	return r.created
}

// Adopted reports whether OpenOrInit continued existing remote history.
func (r *Repository) Adopted() bool {
	return r.adopted
}

func (r *Repository) ensureRemote() error {
	if r.opts.Remote.URL == "" {
		return nil
	}

	cfg, err := r.repo.Config()
	if err != nil {
		return err
	}

	if remote, ok := cfg.Remotes[DefaultRemoteName]; ok {
		if len(remote.URLs) == 1 && remote.URLs[0] == r.opts.Remote.URL {
			return nil
		}
		remote.URLs = []string{r.opts.Remote.URL}
		return r.repo.SetConfig(cfg)
	}

	_, err = r.repo.CreateRemote(&gitconfig.RemoteConfig{
		Name: DefaultRemoteName,
		URLs: []string{r.opts.Remote.URL},
	})
	return err
}

// adoptRemoteHistory points the new local branch at the remote branch, if it exists, and resets the index to
// its tree. The worktree is left untouched, so the exported files are compared against the remote state.
func (r *Repository) adoptRemoteHistory(ctx context.Context) error {
	remoteRef := plumbing.NewRemoteReferenceName(DefaultRemoteName, r.opts.Branch)
	spec := gitconfig.RefSpec(fmt.Sprintf("+%s:%s", plumbing.NewBranchReferenceName(r.opts.Branch), remoteRef))

	err := r.repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName:      DefaultRemoteName,
		RemoteURL:       r.opts.Remote.AuthenticatedURL,
		Auth:            r.opts.Remote.auth(),
		RefSpecs:        []gitconfig.RefSpec{spec},
		Tags:            git.NoTags,
		CABundle:        r.opts.Remote.CABundle,
		InsecureSkipTLS: r.opts.Remote.InsecureSkipTLS,
	})

	var noMatch git.NoMatchingRefSpecError
	switch {
	case err == nil, errors.Is(err, git.NoErrAlreadyUpToDate):
	case errors.Is(err, transport.ErrEmptyRemoteRepository), errors.As(err, &noMatch):
		return nil // nothing to adopt, the first push creates the branch
	default:
		return classify(err)
	}

	ref, err := r.repo.Reference(remoteRef, true)
	if err != nil {
		return err
	}

	local := plumbing.NewHashReference(plumbing.NewBranchReferenceName(r.opts.Branch), ref.Hash())
	if err := r.repo.Storer.SetReference(local); err != nil {
		return err
	}

	if err := r.wt.Reset(&git.ResetOptions{Commit: ref.Hash(), Mode: git.MixedReset}); err != nil {
		return err
	}

	r.adopted = true
	return nil
}

// Stage adds every change in the worktree to the index: new, modified and deleted files. Paths matching an
// exclusion pattern are skipped. It returns the number of paths staged.
func (r *Repository) Stage() (int, error) {
	status, err := r.wt.Status()
	if err != nil {
		return 0, fmt.Errorf("status: %w", err)
	}

	if len(r.opts.Exclude) == 0 {
		n := 0
		for _, s := range status {
			if s.Worktree != git.Unmodified {
				n++
			}
		}
		if n == 0 {
			return 0, nil
		}
		return n, r.wt.AddWithOptions(&git.AddOptions{All: true})
	}

	n := 0
	for path, s := range status {
		if s.Worktree == git.Unmodified || r.excluded(path) {
			continue
		}
		if _, err := r.wt.Add(path); err != nil {
			return n, fmt.Errorf("add %q: %w", path, err)
		}
		n++
	}
	return n, nil
}

func (r *Repository) excluded(path string) bool {
	for _, g := range r.opts.Exclude {
		if g.Match(path) {
			return true
		}
	}
	return false
}

// HasStagedChanges reports whether the index differs from HEAD.
func (r *Repository) HasStagedChanges() (bool, error) {
	status, err := r.wt.Status()
	if err != nil {
		return false, fmt.Errorf("status: %w", err)
	}

	for _, s := range status {
		if s.Staging != git.Unmodified && s.Staging != git.Untracked {
			return true, nil
		}
	}
	return false, nil
}

// Signature identifies the author and committer of backup commits.
type Signature struct {
	Name  string
	Email string
}

// CommitIfChanged commits the index when it differs from HEAD. It returns the
// new commit hash, or the zero hash and false when there was nothing to commit.
func (r *Repository) CommitIfChanged(msg string, who Signature) (plumbing.Hash, bool, error) {
	changed, err := r.HasStagedChanges()
	if err != nil || !changed {
		return plumbing.ZeroHash, false, err
	}

	sig := &object.Signature{Name: who.Name, Email: who.Email, When: time.Now()}
	hash, err := r.wt.Commit(msg, &git.CommitOptions{
		Author:    sig,
		Committer: sig,
	})
	if err != nil {
		return plumbing.ZeroHash, false, fmt.Errorf("commit: %w", err)
	}

	return hash, true, nil
}

// Head returns the commit HEAD points to, or the zero hash for a repository
// without commits.
func (r *Repository) Head() (plumbing.Hash, error) {
	head, err := r.repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return plumbing.ZeroHash, nil
	}
	if err != nil {
		return plumbing.ZeroHash, err
	}
	return head.Hash(), nil
}

// PushPending reports whether HEAD holds commits the remote branch has not
// received yet, as far as the last successful push or fetch tells.
func (r *Repository) PushPending() (bool, error) {
	head, err := r.Head()
	if err != nil || head.IsZero() {
		return false, err
	}

	tracking, err := r.repo.Reference(plumbing.NewRemoteReferenceName(DefaultRemoteName, r.opts.Branch), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}

	return tracking.Hash() != head, nil
}

// Push pushes the branch HEAD is on to the configured branch of the remote, creating it if needed. The push is
// never forced: a remote that moved ahead yields ErrNonFastForward and the local history is left as it is.
func (r *Repository) Push(ctx context.Context) error {
	head, err := r.repo.Head()
	if err != nil {
		return fmt.Errorf("resolve HEAD: %w", err)
	}

	dst := plumbing.NewBranchReferenceName(r.opts.Branch)
	spec := gitconfig.RefSpec(fmt.Sprintf("%s:%s", head.Name(), dst))

	err = r.repo.PushContext(ctx, &git.PushOptions{
		RemoteName:      DefaultRemoteName,
		RemoteURL:       r.opts.Remote.AuthenticatedURL,
		RefSpecs:        []gitconfig.RefSpec{spec},
		Auth:            r.opts.Remote.auth(),
		Force:           false,
		CABundle:        r.opts.Remote.CABundle,
		InsecureSkipTLS: r.opts.Remote.InsecureSkipTLS,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return classify(err)
	}

	tracking := plumbing.NewHashReference(plumbing.NewRemoteReferenceName(DefaultRemoteName, r.opts.Branch), head.Hash())
	return r.repo.Storer.SetReference(tracking)
}

func classify(err error) error {
	switch {
	case errors.Is(err, git.ErrNonFastForwardUpdate), strings.HasPrefix(err.Error(), "non-fast-forward update"):
		// Push reports the rejected ref in an unwrapped error of its own.
		return fmt.Errorf("%w: %v", ErrNonFastForward, err)
	case errors.Is(err, transport.ErrAuthenticationRequired), errors.Is(err, transport.ErrAuthorizationFailed):
		return fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	return err
}

// Commit is a summary of a backup commit.
type Commit struct {
	Hash    string
	Author  string
	Email   string
	When    time.Time
	Message string
}

// Log returns up to limit commits reachable from HEAD, newest first.
func (r *Repository) Log(limit int) ([]Commit, error) {
	head, err := r.Head()
	if err != nil || head.IsZero() {
		return nil, err
	}

	iter, err := r.repo.Log(&git.LogOptions{From: head})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var commits []Commit
	for limit <= 0 || len(commits) < limit {
		c, err := iter.Next()
		if err != nil {
			break
		}
		commits = append(commits, Commit{
			Hash:    c.Hash.String(),
			Author:  c.Author.Name,
			Email:   c.Author.Email,
			When:    c.Author.When,
			Message: c.Message,
		})
	}
	return commits, nil
}

// Open opens an existing repository read-only for inspection.
func Open(path string) (*Repository, error) {
	repository, err := git.PlainOpen(path)
	if err != nil {
		return nil, err
	}
	wt, err := repository.Worktree()
	if err != nil {
		return nil, err
	}
	return &Repository{path: path, repo: repository, wt: wt}, nil
}
