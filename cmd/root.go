// Package cmd implements the windmill-git-sync command line.
package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/thediveo/enumflag/v2"

	"github.com/windmill-git-sync/windmill-git-sync/internal/config"
	"github.com/windmill-git-sync/windmill-git-sync/internal/gitsync"
	"github.com/windmill-git-sync/windmill-git-sync/internal/logging"
)

const brand = "windmill-git-sync"

// errSyncFailed is returned after a failed result has been printed.
var errSyncFailed = errors.New("sync failed")

type globalFlags struct {
	configFile   string
	logLevel     logging.Level
	workspaceDir string
}

func New() *cobra.Command {
	g := &globalFlags{logLevel: logging.LevelInfo}

	root := &cobra.Command{
		Use:           brand,
		Short:         "Back up Windmill workspaces to Git",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&g.configFile, "config", "c", "", "path to the configuration file (YAML or JSON)")
	root.PersistentFlags().Var(enumflag.New(&g.logLevel, "level", logging.LevelIds, enumflag.EnumCaseInsensitive),
		"log-level", "log level: debug, info, warn or error")
	root.PersistentFlags().StringVar(&g.workspaceDir, "workspace-dir", "", "working directory holding the exported workspace and its repository")

	root.AddCommand(
		newRunCommand(g),
		newSyncCommand(g),
		newHistoryCommand(g),
	)

	return root
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	if err := New().Execute(); err != nil {
		if !errors.Is(err, errSyncFailed) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		return 1
	}
	return 0
}

func (g *globalFlags) config(cmd *cobra.Command) (config.Root, error) {
	cfg := config.Default()
	if g.configFile != "" {
		var err error
		if cfg, err = config.ParseFile(g.configFile); err != nil {
			return config.Root{}, err
		}
	}

	if g.workspaceDir != "" {
		cfg.WorkspaceDir = g.workspaceDir
	}

	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = g.logLevel.String()
	}

	return cfg, nil
}

func (g *globalFlags) logger(cfg config.Root, w io.Writer) *logging.Logger {
	lc := cfg.Logging.LoggerConfig()
	lc.Output = w
	log := logging.NewLogger(lc)

	if cfg.Git.DebugHTTP {
		gitsync.InstallDebugTransport(log)
	}

	return log
}
