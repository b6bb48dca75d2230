package config

import (
	"bytes"
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gobwas/glob"
	"github.com/goccy/go-yaml"

	"github.com/windmill-git-sync/windmill-git-sync/internal/logging"
	"github.com/windmill-git-sync/windmill-git-sync/internal/request"
)

// Configuration data structures for the sync service. The configuration is
// loaded once at start and passed by value to the components that need it.

const (
	DefaultAddress      = ":8080"
	DefaultWorkspaceDir = "/workspace"
	DefaultBaseURL      = "http://windmill_server:8000"

	// BaseURLEnvVar overrides the Windmill base URL when the configuration
	// does not set one.
	BaseURLEnvVar = "WINDMILL_BASE_URL"
)

// Root is the top-level configuration structure.
type Root struct {
	Server       Server   `json:"server,omitzero"`
	WorkspaceDir string   `json:"workspace_dir,omitempty"`
	Windmill     Windmill `json:"windmill,omitzero"`
	Defaults     Defaults `json:"defaults,omitzero"`
	Git          Git      `json:"git,omitzero"`
	Logging      Logging  `json:"logging,omitzero"`

	_ struct{} `additionalProperties:"false"`
}

type Server struct {
	Address string `json:"address,omitempty"`
	// ApiPrefix prefixes all endpoints (including health and metrics) with its value. It is important to start with `/` and not end with `/`.
	// For example `/my/path` will make the sync endpoint be accessible under `/my/path/sync`
	ApiPrefix string `json:"api_prefix,omitempty" pattern:"^/([^/].*[^/])?$"`
	// ApiKey, when set, must be presented as a bearer token on sync requests.
	ApiKey            string   `json:"api_key,omitempty"`
	ReadHeaderTimeout Duration `json:"read_header_timeout,omitzero"`
	// SyncTimeout bounds a single sync. Zero means no limit.
	SyncTimeout Duration `json:"sync_timeout,omitzero"`

	_ struct{} `additionalProperties:"false"`
}

// Windmill configures the workspace export tool.
type Windmill struct {
	BaseURL    string   `json:"base_url,omitempty"`
	CLI        string   `json:"cli,omitempty"`
	TokenEnv   string   `json:"token_env,omitempty"`
	BaseURLEnv string   `json:"base_url_env,omitempty"`
	InheritEnv []string `json:"inherit_env,omitempty"`
	ExtraArgs  []string `json:"extra_args,omitempty"`
	OutputTail int      `json:"output_tail,omitempty" minimum:"0"`

	_ struct{} `additionalProperties:"false"`
}

// Defaults are applied to optional request fields left empty.
type Defaults struct {
	Workspace   string `json:"workspace,omitempty"`
	Branch      string `json:"branch,omitempty"`
	AuthorName  string `json:"author_name,omitempty"`
	AuthorEmail string `json:"author_email,omitempty"`

	_ struct{} `additionalProperties:"false"`
}

type Git struct {
	// Exclude lists glob patterns of paths that are never committed.
	Exclude            []string `json:"exclude,omitempty"`
	AdoptRemoteHistory *bool    `json:"adopt_remote_history,omitempty"`
	CAFile             string   `json:"ca_file,omitempty"`
	InsecureSkipTLS    bool     `json:"insecure_skip_tls_verify,omitempty"`
	DebugHTTP          bool     `json:"debug_http,omitempty"`

	_ struct{} `additionalProperties:"false"`
}

type Logging struct {
	Level  string `json:"level,omitempty" enum:"debug,info,warn,warning,error"`
	Format string `json:"format,omitempty" enum:"json,console"`

	_ struct{} `additionalProperties:"false"`
}

// Default returns the configuration used when no file is given.
func Default() Root {
	var r Root
	r.setDefaults()
	return r
}

func ParseFile(filename string) (Root, error) {
	bs, err := os.ReadFile(filename)
	if err != nil {
		return Root{}, fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	return Parse(bs)
}

// Parse validates a YAML or JSON document against the configuration schema
// and decodes it. Empty documents yield the default configuration.
func Parse(bs []byte) (Root, error) {
	if len(bytes.TrimSpace(bs)) == 0 {
		return Default(), nil
	}

	if err := Validate(bs); err != nil {
		return Root{}, err
	}

	var root Root
	if err := yaml.Unmarshal(bs, &root); err != nil {
		return Root{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	root.expand()
	root.setDefaults()

	if err := root.Check(); err != nil {
		return Root{}, err
	}

	return root, nil
}

func Validate(data []byte) error {
	var config any
	if err := yaml.Unmarshal(data, &config); err != nil {
		return err
	}

	return rootSchema.Validate(config)
}

// expand replaces ${VAR} and $VAR references in string values with the
// values of environment variables.
func (r *Root) expand() {
	for _, s := range []*string{
		&r.Server.Address,
		&r.Server.ApiKey,
		&r.WorkspaceDir,
		&r.Windmill.BaseURL,
		&r.Windmill.CLI,
		&r.Defaults.Workspace,
		&r.Defaults.Branch,
		&r.Defaults.AuthorName,
		&r.Defaults.AuthorEmail,
		&r.Git.CAFile,
	} {
		*s = os.ExpandEnv(*s)
	}
}

func (r *Root) setDefaults() {
	r.Server.Address = cmp.Or(r.Server.Address, DefaultAddress)
	r.WorkspaceDir = cmp.Or(r.WorkspaceDir, DefaultWorkspaceDir)
	r.Windmill.BaseURL = cmp.Or(r.Windmill.BaseURL, os.Getenv(BaseURLEnvVar), DefaultBaseURL)
}

// Check validates constraints across fields that the schema cannot express.
func (r Root) Check() error {
	var errs []error

	for _, p := range r.Git.Exclude {
		if _, err := glob.Compile(p, '/'); err != nil {
			errs = append(errs, fmt.Errorf("git.exclude: invalid pattern %q: %w", p, err))
		}
	}

	if r.Git.DebugHTTP && (r.Git.CAFile != "" || r.Git.InsecureSkipTLS) {
		errs = append(errs, errors.New("git.debug_http cannot be combined with git.ca_file or git.insecure_skip_tls_verify"))
	}

	if _, err := logging.ParseLevel(r.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}

	return errors.Join(errs...)
}

// AdoptRemote reports whether a newly initialized repository continues the
// history of the remote branch. It defaults to true.
func (g Git) AdoptRemote() bool {
	return g.AdoptRemoteHistory == nil || *g.AdoptRemoteHistory
}

// CABundle reads the configured CA certificates, if any.
func (g Git) CABundle() ([]byte, error) {
	if g.CAFile == "" {
		return nil, nil
	}
	bs, err := os.ReadFile(g.CAFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read git CA file: %w", err)
	}
	return bs, nil
}

func (d Defaults) Request() request.Defaults {
	return request.Defaults{
		Workspace:   d.Workspace,
		Branch:      d.Branch,
		AuthorName:  d.AuthorName,
		AuthorEmail: d.AuthorEmail,
	}
}

// LoggerConfig maps the logging section to the logger configuration. An
// invalid level has been rejected by Check.
func (l Logging) LoggerConfig() logging.Config {
	level, _ := logging.ParseLevel(l.Level)
	return logging.Config{Level: level, Format: l.Format}
}

// Instead of marshaling and unmarshaling as int64 it uses strings, like "5m" or "0.5s".
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	val, err := time.ParseDuration(str)
	*d = Duration(val)
	return err
}

func (d *Duration) UnmarshalYAML(bs []byte) error {
	var s string
	if err := yaml.Unmarshal(bs, &s); err != nil {
		return err
	}
	val, err := time.ParseDuration(s)
	*d = Duration(val)
	return err
}

func (d Duration) String() string {
	return time.Duration(d).String()
}
