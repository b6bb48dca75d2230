// Package export materializes a Windmill workspace on disk by running the
// workspace-export CLI as a subprocess.
//
// Credentials reach the subprocess through an environment assembled from
// scratch for every run. The parent process environment is never modified and
// only an explicit allow list of variables is passed through.
package export

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/windmill-git-sync/windmill-git-sync/internal/logging"
	"github.com/windmill-git-sync/windmill-git-sync/internal/request"
	"github.com/windmill-git-sync/windmill-git-sync/internal/util"
)

const (
	DefaultCLI        = "wmill"
	DefaultTokenEnv   = "WM_TOKEN"
	DefaultBaseURLEnv = "BASE_URL"
	DefaultOutputTail = 2048
)

var (
	DefaultInheritEnv = []string{"PATH", "HOME"}
	DefaultExtraArgs  = []string{"--yes"}
)

// Exporter writes the content of a workspace into dir.
type Exporter interface {
	Export(ctx context.Context, dir string, req request.Request) error
}

// Options configures the CLI exporter. Zero values select the defaults above.
type Options struct {
	CLI        string
	BaseURL    string
	TokenEnv   string
	BaseURLEnv string
	InheritEnv []string
	ExtraArgs  []string
	OutputTail int
}

// CLI runs `<cli> sync pull --workspace <name>` in the working directory.
type CLI struct {
	opts Options
	log  *logging.Logger
}

func New(opts Options, log *logging.Logger) *CLI {
	opts.CLI = cmp.Or(opts.CLI, DefaultCLI)
	opts.TokenEnv = cmp.Or(opts.TokenEnv, DefaultTokenEnv)
	opts.BaseURLEnv = cmp.Or(opts.BaseURLEnv, DefaultBaseURLEnv)
	opts.OutputTail = cmp.Or(opts.OutputTail, DefaultOutputTail)
	if opts.InheritEnv == nil {
		opts.InheritEnv = DefaultInheritEnv
	}
	if opts.ExtraArgs == nil {
		opts.ExtraArgs = DefaultExtraArgs
	}
	if log == nil {
		log = logging.NewNop()
	}
	return &CLI{opts: opts, log: log}
}

// Args returns the command line arguments for exporting workspace.
func (c *CLI) Args(workspace string) []string {
	return append([]string{"sync", "pull", "--workspace", workspace}, c.opts.ExtraArgs...)
}

// Env returns the isolated environment of the subprocess: the allow-listed
// variables of the current process plus the export credentials.
func (c *CLI) Env(req request.Request) []string {
	env := make([]string, 0, len(c.opts.InheritEnv)+2)
	for _, name := range c.opts.InheritEnv {
		if name == c.opts.TokenEnv || name == c.opts.BaseURLEnv {
			continue
		}
		if value, ok := os.LookupEnv(name); ok {
			env = append(env, name+"="+value)
		}
	}
	env = append(env,
		c.opts.TokenEnv+"="+req.WindmillToken,
		c.opts.BaseURLEnv+"="+c.opts.BaseURL,
	)
	return env
}

// Export runs the CLI with dir as its working directory. A non-zero exit or a
// failure to start is returned as *Error carrying the redacted tail of the
// command output.
func (c *CLI) Export(ctx context.Context, dir string, req request.Request) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &Error{Err: err}
	}

	args := c.Args(req.Workspace)
	cmd := exec.CommandContext(ctx, c.opts.CLI, args...)
	cmd.Dir = dir
	cmd.Env = c.Env(req)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	c.log.Infof("exporting workspace %q from %s with %s %v", req.Workspace, c.opts.BaseURL, c.opts.CLI, args)

	err := cmd.Run()
	redactor := util.NewRedactor(req.Secrets()...)
	if err != nil {
		output := stderr.String()
		if output == "" {
			output = stdout.String()
		}

		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}

		return &Error{
			Err:      errors.New(redactor.Redact(err.Error())),
			ExitCode: exitCode,
			Output:   redactor.Redact(util.Tail(output, c.opts.OutputTail)),
		}
	}

	if out := stdout.String(); out != "" {
		c.log.Debugf("%s output: %s", c.opts.CLI, redactor.Redact(util.Tail(out, c.opts.OutputTail)))
	}
	return nil
}

// Error is returned when the export subprocess fails.
type Error struct {
	Err      error
	ExitCode int
	Output   string
}

func (e *Error) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("%v: %s", e.Err, e.Output)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ExporterFunc adapts a function to the Exporter interface.
type ExporterFunc func(ctx context.Context, dir string, req request.Request) error

func (f ExporterFunc) Export(ctx context.Context, dir string, req request.Request) error {
	return f(ctx, dir, req)
}

var _ Exporter = (*CLI)(nil)
var _ Exporter = ExporterFunc(nil)

