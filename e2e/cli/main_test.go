//go:build e2e

package cli

import (
	"cmp"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rogpeppe/go-internal/testscript"

	"github.com/windmill-git-sync/windmill-git-sync/internal/test/gitserver"
)

const gitToken = "ghp_e2e_token"

func TestScript(t *testing.T) {
	bin := cmp.Or(os.Getenv("WINDMILL_GIT_SYNC"), "windmill-git-sync")

	testscript.Run(t, testscript.Params{
		Dir: ".",
		Setup: func(e *testscript.Env) error {
			// every script gets its own empty remote
			srv := gitserver.New(t, gitToken)
			caFile := filepath.Join(e.WorkDir, "ca.pem")
			if err := os.WriteFile(caFile, srv.CABundle(), 0644); err != nil {
				return err
			}

			e.Vars = append(e.Vars,
				"WGS="+bin,
				"GIT_REMOTE="+srv.URL(),
				"GIT_REMOTE_TOKEN="+gitToken,
				"GIT_REMOTE_DIR="+srv.Dir(),
				"CA_FILE="+caFile,
			)
			for _, kv := range os.Environ() {
				if strings.HasPrefix(kv, "E2E_") {
					e.Vars = append(e.Vars, kv)
				}
			}
			return nil
		},
		Condition: func(cond string) (bool, error) {
			args := strings.Split(cond, ":")
			name := args[0]
			switch name {
			case "env":
				if len(args) < 2 {
					return false, fmt.Errorf("syntax: [env:SOME_VAR]")
				}
				return os.Getenv(args[1]) != "", nil
			default:
				return false, fmt.Errorf("unknown condition %s", name)
			}
		},
		// NB: To quickly update expectations in txtar files, try re-running the tests with
		// E2E_UPDATE=y, for example:
		//   E2E_UPDATE=y go test -tags e2e ./e2e/cli -run TestScript/sync_success -v -count=1
		UpdateScripts: os.Getenv("E2E_UPDATE") != "",
	})
}
