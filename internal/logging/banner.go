package logging

import (
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/mdp/qrterminal/v3"
)

// ANSI color codes.
const (
	reset  = "\033[0m"
	bold   = "\033[1m"
	cyan   = "\033[36m"
	green  = "\033[32m"
	yellow = "\033[33m"
	dim    = "\033[2m"
)

// Logo lines — base AgentMesh ASCII art.
var logoLines = [6]string{
	`     _                    _   __  __           _     `,
	`    / \   __ _  ___ _ __ | |_|  \/  | ___  ___| |__  `,
	`   / _ \ / _` + "`" + ` |/ _ \ '_ \| __| |\/| |/ _ \/ __| '_ \ `,
	`  / ___ \ (_| |  __/ | | | |_| |  | |  __/\__ \ | | |`,
	` /_/   \_\__, |\___|_| |_|\__|_|  |_|\___||___/_| |_|`,
	`         |___/                                       `,
}

// Mode-specific ASCII art (right-side, same height as logo).
var hubArt = [6]string{
	`  _   _       _     `,
	` | | | |_   _| |__  `,
	` | |_| | | | | '_ \ `,
	` |  _  | |_| | |_) |`,
	` |_| |_|\__,_|_.__/ `,
	`                     `,
}

var agentArt = [6]string{
	`     _                    _   `,
	`    / \   __ _  ___ _ __ | |_ `,
	`   / _ \ / _` + "`" + ` |/ _ \ '_ \| __|`,
	`  / ___ \ (_| |  __/ | | | |_ `,
	` /_/   \_\__, |\___|_| |_|\__|`,
	`         |___/                `,
}

// PrintBanner prints the AgentMesh ASCII art logo with mode-specific
// art appended to the right. Below the art it prints version and
// listen address. Colors are used only when stderr is a TTY.
func PrintBanner(mode, ver, addr string) {
	color := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())

	var modeArt *[6]string
	var modeColor string
	switch mode {
	case "hub":
		modeArt = &hubArt
		modeColor = green
	default: // agent
		modeArt = &agentArt
		modeColor = yellow
	}

	for i := 0; i < 6; i++ {
		if color {
			fmt.Fprintf(os.Stderr, "%s%s%s%s%s%s\n",
				bold+cyan, logoLines[i], reset,
				bold+modeColor, modeArt[i], reset)
		} else {
			fmt.Fprintf(os.Stderr, "%s%s\n", logoLines[i], modeArt[i])
		}
	}

	// Info line below the art.
	if color {
		fmt.Fprintf(os.Stderr, "\n  %sversion%s %s   %saddr%s %s\n\n",
			dim, reset, ver, dim, reset, addr)
	} else {
		fmt.Fprintf(os.Stderr, "\n  version %s   addr %s\n\n", ver, addr)
	}
}

// PrintAccessURL prints the coordination endpoint agents should connect
// to, plus a scannable QR code when stderr is a TTY. The printed URL is
// the value to paste into agent configuration (HUB_URL).
func PrintAccessURL(addr string) {
	url := accessURL(addr)
	fmt.Fprintf(os.Stderr, "  agents connect to: %s\n\n", url)

	if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		qrterminal.GenerateWithConfig(url, qrterminal.Config{
			Level:      qrterminal.L,
			Writer:     os.Stderr,
			HalfBlocks: true,
			QuietZone:  1,
		})
		fmt.Fprintln(os.Stderr)
	}
}

// accessURL turns a listen address like ":7117" into a pasteable URL.
func accessURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return fmt.Sprintf("http://%s:%s", host, port)
}
