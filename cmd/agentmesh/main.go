// Command agentmesh runs the coordination fabric: the central hub
// ("agentmesh hub") or one agent runtime ("agentmesh agent").
package main

import (
	"fmt"
	"os"

	"github.com/agentmesh/agentmesh/internal/logging"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	logging.Setup()

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "hub":
		err = runHub(os.Args[2:])
	case "agent":
		err = runAgent(os.Args[2:])
	case "version":
		fmt.Println(version)
	case "-h", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `usage: agentmesh <command> [flags]

commands:
  hub      run the coordination hub
  agent    run an agent runtime (configured via environment)
  version  print the version

run "agentmesh hub -h" for hub flags. The agent command reads HUB_URL,
AGENT_ID and related environment variables.
`)
}
