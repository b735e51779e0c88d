package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Process exit codes shared by the monitoring commands.
const (
	exitOK        = 0
	exitAlerted   = 1
	exitError     = 2
	exitViolation = 3
)

// exitCodeError carries a non-zero exit status out of a command that
// otherwise completed normally.
type exitCodeError struct {
	code int
}

func (e *exitCodeError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

var rootCmd = &cobra.Command{
	Use:   "storyvoice",
	Short: "Narration usage metering and cost monitoring",
	Long: `storyvoice runs the narration cost monitor and inspects provider logs.

Examples:
  storyvoice monitor-cost --period=today --notify
  storyvoice monitor-logs --type=errors --lines=500
  storyvoice monitor-logs --stats`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	os.Exit(execute())
}

func execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return exitOK
	}
	var coded *exitCodeError
	if errors.As(err, &coded) {
		return coded.code
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	return exitError
}
