package utils

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Verbose controls whether informational output is printed.
// Set to false to suppress output.
var Verbose = true

// Output is the writer where informational output is printed.
// Defaults to os.Stdout.
var Output io.Writer = os.Stdout

// LogLevel is the active log level, read from NGRAPH_HE_LOG_LEVEL at startup.
// Messages with a level above it are dropped.
var LogLevel = envInt("NGRAPH_HE_LOG_LEVEL", 0)

var verboseOps = parseVerboseOps(os.Getenv("NGRAPH_HE_VERBOSE_OPS"))

// Logf prints a formatted message when level is within LogLevel.
// Respects the Verbose flag.
func Logf(level int, format string, args ...interface{}) {
	if !Verbose || level > LogLevel {
		return
	}
	fmt.Fprintf(Output, format+"\n", args...)
}

// VerboseOp reports whether per-op detail was requested for the named
// operation via NGRAPH_HE_VERBOSE_OPS ("all" or a comma-separated list).
func VerboseOp(name string) bool {
	if verboseOps == nil {
		return false
	}
	if _, ok := verboseOps["all"]; ok {
		return true
	}
	_, ok := verboseOps[strings.ToLower(name)]
	return ok
}

// SetVerboseOps overrides the NGRAPH_HE_VERBOSE_OPS selection.
func SetVerboseOps(spec string) {
	verboseOps = parseVerboseOps(spec)
}

// LazyModFromEnv reports whether LAZY_MOD is set to "true".
func LazyModFromEnv() bool {
	return strings.EqualFold(os.Getenv("LAZY_MOD"), "true")
}

func parseVerboseOps(spec string) map[string]struct{} {
	if spec == "" {
		return nil
	}
	ops := make(map[string]struct{})
	for _, s := range strings.Split(spec, ",") {
		s = strings.TrimSpace(strings.ToLower(s))
		if s != "" {
			ops[s] = struct{}{}
		}
	}
	return ops
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
