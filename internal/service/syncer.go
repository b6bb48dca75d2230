package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gobwas/glob"

	"github.com/windmill-git-sync/windmill-git-sync/internal/config"
	"github.com/windmill-git-sync/windmill-git-sync/internal/export"
	"github.com/windmill-git-sync/windmill-git-sync/internal/gitsync"
	"github.com/windmill-git-sync/windmill-git-sync/internal/logging"
	"github.com/windmill-git-sync/windmill-git-sync/internal/metrics"
	"github.com/windmill-git-sync/windmill-git-sync/internal/request"
	"github.com/windmill-git-sync/windmill-git-sync/internal/util"
)

const (
	CommitMessageFormat = "Automated Windmill workspace backup - %s"
	NoChangesMessage    = "No changes to sync"
	SuccessFormat       = "Successfully synced workspace '%s' to Git"
)

// Syncer backs up a Windmill workspace into a git repository: it exports the
// workspace into the working directory, commits whatever changed and pushes
// the result. The working directory is the only state kept between runs.
//
// Syncer performs no locking: callers must not run two syncs against the same
// working directory concurrently.
type Syncer struct {
	dir      string
	defaults request.Defaults
	exporter export.Exporter
	git      config.Git
	excludes []glob.Glob
	caBundle []byte
	log      *logging.Logger
}

// New creates a Syncer from the service configuration. A nil exporter selects
// the Windmill CLI configured in cfg.Windmill.
func New(cfg config.Root, exporter export.Exporter, logger *logging.Logger) (*Syncer, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	excludes, err := gitsync.CompileExcludes(cfg.Git.Exclude)
	if err != nil {
		return nil, err
	}

	caBundle, err := cfg.Git.CABundle()
	if err != nil {
		return nil, err
	}

	if exporter == nil {
		exporter = export.New(export.Options{
			CLI:        cfg.Windmill.CLI,
			BaseURL:    cfg.Windmill.BaseURL,
			TokenEnv:   cfg.Windmill.TokenEnv,
			BaseURLEnv: cfg.Windmill.BaseURLEnv,
			InheritEnv: cfg.Windmill.InheritEnv,
			ExtraArgs:  cfg.Windmill.ExtraArgs,
			OutputTail: cfg.Windmill.OutputTail,
		}, logger)
	}

	return &Syncer{
		dir:      cfg.WorkspaceDir,
		defaults: cfg.Defaults.Request(),
		exporter: exporter,
		git:      cfg.Git,
		excludes: excludes,
		caBundle: caBundle,
		log:      logger,
	}, nil
}

// Dir returns the working directory.
func (s *Syncer) Dir() string {
	return s.dir
}

// run tracks a single sync while it moves through its states.
type run struct {
	state     SyncState
	start     time.Time
	workspace string
	redactor  *util.Redactor
	committed bool
	log       *logging.Logger
}

// Run executes one sync. It never returns an error and never panics: every
// outcome, including a failure at any step, is reported as a Result whose
// messages are free of the request secrets.
func (s *Syncer) Run(ctx context.Context, req request.Request) (result Result) {
	r := &run{
		state:    SyncStateStart,
		start:    time.Now(),
		redactor: util.NewRedactor(req.Secrets()...),
		log:      s.log,
	}

	defer func() {
		if p := recover(); p != nil {
			result = s.report(r, fmt.Errorf("unexpected failure: %v", p))
		}
	}()

	r.state = SyncStateValidate
	req, err := req.Validate(s.defaults)
	if err != nil {
		return s.report(r, err)
	}

	authURL, err := request.ComposeAuthenticatedURL(req.GitRemoteURL, req.GitToken)
	if err != nil {
		return s.report(r, err)
	}
	r.redactor = util.NewRedactor(req.WindmillToken, req.GitToken, authURL)
	r.workspace = req.Workspace
	r.log = s.log.With("workspace", req.Workspace)
	metrics.SyncStarted(req.Workspace, r.start)

	r.log.Infof("starting sync: %v", req)

	r.state = SyncStateExport
	if err := s.exporter.Export(ctx, s.dir, req); err != nil {
		return s.report(r, err)
	}

	r.state = SyncStateRepoOpenOrInit
	repo, err := gitsync.OpenOrInit(ctx, s.dir, gitsync.Options{
		Branch: req.GitBranch,
		Remote: gitsync.Remote{
			URL:              req.GitRemoteURL,
			AuthenticatedURL: authURL,
			CABundle:         s.caBundle,
			InsecureSkipTLS:  s.git.InsecureSkipTLS,
		},
		AdoptRemoteHistory: s.git.AdoptRemote(),
		Exclude:            s.excludes,
	})
	if err != nil {
		return s.report(r, err)
	}
	if repo.Created() {
		r.log.Infof("initialized repository in %s (adopted remote history: %v)", s.dir, repo.Adopted())
	}

	r.state = SyncStateStage
	staged, err := repo.Stage()
	if err != nil {
		return s.report(r, err)
	}
	r.log.Debugf("staged %d paths", staged)

	r.state = SyncStateCommit
	hash, committed, err := repo.CommitIfChanged(fmt.Sprintf(CommitMessageFormat, req.Workspace), gitsync.Signature{
		Name:  req.GitUserName,
		Email: req.GitUserEmail,
	})
	if err != nil {
		return s.report(r, err)
	}
	r.committed = committed

	if !committed {
		pending, err := repo.PushPending()
		if err != nil {
			return s.report(r, err)
		}
		if !pending {
			return s.done(r, Result{Success: true, Message: NoChangesMessage})
		}
		r.log.Infof("no changes, pushing commits left over from an earlier sync")
	}

	r.state = SyncStatePush
	if err := repo.Push(ctx); err != nil {
		return s.report(r, err)
	}

	if !committed {
		return s.done(r, Result{Success: true, Message: NoChangesMessage})
	}

	return s.done(r, Result{
		Success: true,
		Message: fmt.Sprintf(SuccessFormat, req.Workspace),
		Commit:  hash.String(),
	})
}

func (s *Syncer) done(r *run, result Result) Result {
	r.state = SyncStateDone
	metrics.SyncFinished(r.workspace, r.start, r.committed, "")
	r.log.Infof("%s in %v", result.Message, time.Since(r.start).Round(time.Millisecond))
	return result
}

// report converts err into the failure Result of the state it occurred in.
func (s *Syncer) report(r *run, err error) Result {
	failed := r.state
	r.state = SyncStateFailed

	category := failed.Category()
	var validationErr *request.ValidationError
	var urlErr *request.UnsupportedURLError
	if errors.As(err, &validationErr) || errors.As(err, &urlErr) {
		category = CategoryValidation
	}

	result := Result{
		Success:   false,
		Message:   r.redactor.Redact(fmt.Sprintf("%s: %v", category.Prefix(), err)),
		ErrorType: category,
	}

	if r.workspace != "" {
		metrics.SyncFinished(r.workspace, r.start, r.committed, string(category))
	}

	r.log.Warnf("sync failed in state %v: %s", failed, result.Message)
	return result
}
