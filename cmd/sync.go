package cmd

import (
	"encoding/json"
	"os"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cobra"

	"github.com/windmill-git-sync/windmill-git-sync/internal/request"
	"github.com/windmill-git-sync/windmill-git-sync/internal/service"
)

// requestEnv maps environment variables to request fields for one-shot syncs.
var requestEnv = map[string]string{
	"WINDMILL_TOKEN":     "windmill_token",
	"WINDMILL_WORKSPACE": "workspace",
	"GIT_REMOTE_URL":     "git_remote_url",
	"GIT_TOKEN":          "git_token",
	"GIT_BRANCH":         "git_branch",
	"GIT_USER_NAME":      "git_user_name",
	"GIT_USER_EMAIL":     "git_user_email",
}

func newSyncCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run a single sync configured from the environment",
		Long: `Run a single sync and print its result as JSON.

The request is read from the environment: WINDMILL_TOKEN, WINDMILL_WORKSPACE,
GIT_REMOTE_URL, GIT_TOKEN, GIT_BRANCH, GIT_USER_NAME and GIT_USER_EMAIL. The
command exits with status 1 when the sync fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.config(cmd)
			if err != nil {
				return err
			}

			req, err := requestFromEnv(os.LookupEnv)
			if err != nil {
				return err
			}

			syncer, err := service.New(cfg, nil, g.logger(cfg, cmd.ErrOrStderr()))
			if err != nil {
				return err
			}

			result := syncer.Run(cmd.Context(), req)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return err
			}

			if !result.Success {
				return errSyncFailed
			}
			return nil
		},
	}
}

func requestFromEnv(lookup func(string) (string, bool)) (request.Request, error) {
	values := make(map[string]any, len(requestEnv))
	for env, field := range requestEnv {
		if v, ok := lookup(env); ok {
			values[field] = v
		}
	}

	var req request.Request
	return req, decode(values, &req)
}

// we use this one so we don't need duplicate tags on the request
func decode(input any, output any) error {
	config := &mapstructure.DecoderConfig{
		TagName:     "json",
		ErrorUnused: true,
		Result:      output,
	}

	decoder, err := mapstructure.NewDecoder(config)
	if err != nil {
		return err
	}

	return decoder.Decode(input)
}
