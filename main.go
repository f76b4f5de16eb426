// Command commentcast relays 2ch-style thread responses and live chat
// comments to browser overlays for streaming.
package main

import (
	"os"

	"github.com/onnwee/commentcast/cli"
)

func main() {
	if err := cli.NewCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
