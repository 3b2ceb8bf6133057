// Command evoagent runs the long-running self-improving conversational
// agent process: bridge loop, cron scheduler, heartbeat, and the
// background self-improvement cycle, all wired from one YAML config.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
