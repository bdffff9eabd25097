// Command agpm is the CLI entrypoint for the Git-backed package
// manager for AI coding assistant resources.
package main

import "github.com/agpm-dev/agpm/cmd"

func main() {
	cmd.Execute()
}
