// Package config provides environment-driven configuration with documented
// fallback defaults, in the style of the runtime's original configuration
// module: every knob is read from a single env var, parsed, and falls back
// to a named constant unless a default is explicitly disallowed.
//
// Available environment variables:
//   - TOOLRT_MAX_FILE_SIZE: maximum file size in bytes the workspace file
//     tools will read or write (default: 10485760 = 10MB)
//   - TOOLRT_DEFAULT_EXECUTION_TIMEOUT: default shell-command timeout in
//     seconds (default: 30)
//   - TOOLRT_MAX_EXECUTION_TIMEOUT: maximum shell-command timeout in
//     seconds (default: 300)
//   - TOOLRT_MAX_OUTPUT_SIZE: maximum stdout/stderr capture size per
//     spawned process, in bytes (default: 104857600 = 100MB)
//   - TOOLRT_POLL_THRESHOLD: number of consecutive "still running" polls
//     before poll_process attaches backoff guidance. Has no default — the
//     daemon refuses to start the workspace provider until this is set.
//   - TOOLRT_MESSAGE_INDEX_MAX_DOCS: default max_docs for new BM25 search
//     engines (default: 10000)
//   - TOOLRT_SNIPPET_LENGTH: search-result snippet window, characters
//     (default: 200)
//   - TOOLRT_DATA_DIR: root directory for session workspaces and search
//     indices (default: $HOME/.toolrt, or ./.toolrt if $HOME is unset)
//   - TOOLRT_LISTEN_ADDR: address the MCP HTTP endpoint binds to
//     (default: :8743)
//   - TOOLRT_RETENTION_SWEEP_PERIOD: interval between process-registry
//     retention sweeps, a Go duration string (default: "1h")
//   - TOOLRT_PROCESS_RETENTION_HOURS: age, in hours, past which a finished
//     process record is swept (default: 24)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	DefaultMaxFileSize           = 10 * 1024 * 1024
	DefaultExecutionTimeoutSecs  = 30
	DefaultMaxExecutionTimeout   = 300
	DefaultMaxOutputSize         = 100 * 1024 * 1024
	DefaultMessageIndexMaxDocs   = 10_000
	DefaultSnippetLength         = 200
	DefaultRetentionSweepPeriod  = "1h"
	DefaultProcessRetentionHours = 24
)

func getUint64(name string, def uint64) uint64 {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	parsed, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getInt(name string, def int) int {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}

// MaxFileSize returns TOOLRT_MAX_FILE_SIZE or DefaultMaxFileSize.
func MaxFileSize() int64 {
	return int64(getUint64("TOOLRT_MAX_FILE_SIZE", DefaultMaxFileSize))
}

// DefaultExecutionTimeout returns TOOLRT_DEFAULT_EXECUTION_TIMEOUT or the default, in seconds.
func DefaultExecutionTimeout() uint64 {
	return getUint64("TOOLRT_DEFAULT_EXECUTION_TIMEOUT", DefaultExecutionTimeoutSecs)
}

// MaxExecutionTimeout returns TOOLRT_MAX_EXECUTION_TIMEOUT or the default, in seconds.
// Never returns a value smaller than DefaultExecutionTimeout().
func MaxExecutionTimeout() uint64 {
	max := getUint64("TOOLRT_MAX_EXECUTION_TIMEOUT", DefaultMaxExecutionTimeout)
	if def := DefaultExecutionTimeout(); max < def {
		return def
	}
	return max
}

// MaxOutputSize returns TOOLRT_MAX_OUTPUT_SIZE or the default, in bytes.
func MaxOutputSize() uint64 {
	return getUint64("TOOLRT_MAX_OUTPUT_SIZE", DefaultMaxOutputSize)
}

// MessageIndexMaxDocs returns TOOLRT_MESSAGE_INDEX_MAX_DOCS or the default.
func MessageIndexMaxDocs() int {
	return getInt("TOOLRT_MESSAGE_INDEX_MAX_DOCS", DefaultMessageIndexMaxDocs)
}

// SnippetLength returns TOOLRT_SNIPPET_LENGTH or the default.
func SnippetLength() int {
	return getInt("TOOLRT_SNIPPET_LENGTH", DefaultSnippetLength)
}

// ErrPollThresholdUnset is returned by PollThreshold when the env var is absent.
// The spec treats this as a required configuration parameter with no default.
var ErrPollThresholdUnset = fmt.Errorf("TOOLRT_POLL_THRESHOLD is not set and has no default")

// PollThreshold returns the number of consecutive "still running" polls
// before poll_process attaches backoff guidance. Unlike every other knob in
// this package, there is no built-in default: the original implementation
// reads this from the environment without documenting a fallback, so this
// port treats it as mandatory configuration.
func PollThreshold() (int, error) {
	v, ok := os.LookupEnv("TOOLRT_POLL_THRESHOLD")
	if !ok {
		return 0, ErrPollThresholdUnset
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("TOOLRT_POLL_THRESHOLD: %w", err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("TOOLRT_POLL_THRESHOLD must be positive, got %d", parsed)
	}
	return parsed, nil
}

// RetentionSweepPeriod returns TOOLRT_RETENTION_SWEEP_PERIOD parsed as a
// Go duration, or DefaultRetentionSweepPeriod.
func RetentionSweepPeriod() time.Duration {
	v, ok := os.LookupEnv("TOOLRT_RETENTION_SWEEP_PERIOD")
	if !ok {
		v = DefaultRetentionSweepPeriod
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		d, _ = time.ParseDuration(DefaultRetentionSweepPeriod)
	}
	return d
}

// ProcessRetentionMaxAge returns TOOLRT_PROCESS_RETENTION_HOURS, or
// DefaultProcessRetentionHours, as a duration: finished process records
// older than this are swept by the retention sweeper (§4.5).
func ProcessRetentionMaxAge() time.Duration {
	hours := getInt("TOOLRT_PROCESS_RETENTION_HOURS", DefaultProcessRetentionHours)
	return time.Duration(hours) * time.Hour
}

// DataDir returns TOOLRT_DATA_DIR, or $HOME/.toolrt, or ./.toolrt if
// neither is set.
func DataDir() string {
	if v, ok := os.LookupEnv("TOOLRT_DATA_DIR"); ok {
		return v
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".toolrt")
	}
	return ".toolrt"
}

// ListenAddr returns TOOLRT_LISTEN_ADDR or ":8743".
func ListenAddr() string {
	if v, ok := os.LookupEnv("TOOLRT_LISTEN_ADDR"); ok {
		return v
	}
	return ":8743"
}
