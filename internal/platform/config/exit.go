package config

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// Swapped by tests; production binaries write to stderr and exit the process.
var (
	exitStderr io.Writer = os.Stderr
	exitProcess          = os.Exit
)

// ExitCodeUsage is returned to the shell when flags or environment are invalid.
const ExitCodeUsage = 2

// Exitf prints a single-line fatal message and exits with status 1.
func Exitf(format string, args ...any) {
	exit(1, format, args...)
}

// UsageExitf is Exitf for configuration mistakes, exiting with ExitCodeUsage.
func UsageExitf(format string, args ...any) {
	exit(ExitCodeUsage, format, args...)
}

func exit(code int, format string, args ...any) {
	msg := strings.TrimRight(fmt.Sprintf(format, args...), "\n")
	fmt.Fprintln(exitStderr, msg)
	exitProcess(code)
}
