package main

import (
	"os"

	"github.com/windmill-git-sync/windmill-git-sync/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
