package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/google/uuid"
)

const (
	DefaultRuntimeBinary = "docker"
	RunSubcommand        = "run"
)

var (
	ErrMissingPrefix = errors.New("missing run prefix")
	ErrDetachFlag    = errors.New("missing or duplicate detach flag")
	ErrUnparsable    = errors.New("unparsable command")
	ErrInvalidID     = errors.New("invalid request id")
)

// detachFlags are the spellings docker accepts for running in the background.
var detachFlags = map[string]struct{}{
	"-d":            {},
	"--detach":      {},
	"--detach=true": {},
}

// ValidationError reports why a raw command was rejected. Reason is one of
// the Err* sentinels so callers can use errors.Is.
type ValidationError struct {
	Reason  error
	Message string
}

func (e *ValidationError) Error() string {
	if e.Reason == ErrInvalidID {
		return fmt.Sprintf("invalid request: %s", e.Message)
	}
	return fmt.Sprintf("invalid docker run command: %s", e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Reason
}

// CommandValidator turns raw command strings into launch requests.
type CommandValidator struct {
	Runtime    string
	Subcommand string
}

// NewCommandValidator creates a validator for the given runtime binary.
func NewCommandValidator(runtime string) *CommandValidator {
	if runtime == "" {
		runtime = DefaultRuntimeBinary
	}
	return &CommandValidator{Runtime: runtime, Subcommand: RunSubcommand}
}

var defaultValidator = NewCommandValidator(DefaultRuntimeBinary)

// NewLaunchRequest validates command with the docker validator.
func NewLaunchRequest(command string, status Status) (*LaunchRequest, error) {
	return defaultValidator.NewLaunchRequest(command, status)
}

// NewLaunchRequest validates command and assigns it a fresh id. An empty
// status defaults to Paused.
func (v *CommandValidator) NewLaunchRequest(command string, status Status) (*LaunchRequest, error) {
	normalized, args, err := v.Parse(command)
	if err != nil {
		return nil, err
	}
	if status == "" {
		status = StatusPaused
	}
	return &LaunchRequest{
		ID:       uuid.NewString(),
		Command:  normalized,
		Status:   status,
		QueuedAt: time.Now().UTC(),
		args:     args,
	}, nil
}

// Parse normalizes command and checks the prefix and detach rules. It
// returns the normalized text and the argument vector for the launcher.
func (v *CommandValidator) Parse(command string) (string, []string, error) {
	normalized := NormalizeCommand(command)

	tokens, err := shlex.Split(normalized)
	if err != nil {
		return "", nil, &ValidationError{Reason: ErrUnparsable, Message: err.Error()}
	}

	var rest, args []string
	switch {
	case len(tokens) >= 2 && tokens[0] == v.Runtime && tokens[1] == v.Subcommand:
		rest = tokens[2:]
		args = tokens
	case len(tokens) >= 1 && tokens[0] == v.Subcommand:
		rest = tokens[1:]
		args = append([]string{v.Runtime}, tokens...)
	default:
		return "", nil, &ValidationError{
			Reason:  ErrMissingPrefix,
			Message: fmt.Sprintf("should start with %q (or %q)", v.Runtime+" "+v.Subcommand, v.Subcommand),
		}
	}

	leading, trailing := countDetachFlags(rest)
	switch {
	case leading == 0:
		return "", nil, &ValidationError{
			Reason:  ErrDetachFlag,
			Message: `missing detach flag, include one such as "-d" or "--detach" before the image`,
		}
	case leading > 1 || trailing > 0:
		return "", nil, &ValidationError{
			Reason:  ErrDetachFlag,
			Message: `duplicate detach flag, use exactly one of "-d", "--detach" or "--detach=true"`,
		}
	}

	return normalized, args, nil
}

// countDetachFlags counts detach spellings among the option tokens that
// directly follow the prefix, and separately among everything after them.
// The scan has no knowledge of which docker options take a value, so the
// image cannot be located exactly. A detach spelling anywhere after the
// leading options is therefore treated as a duplicate, which also rejects
// a container argument that happens to be "-d" (docker run -d img tool -d).
func countDetachFlags(tokens []string) (leading, trailing int) {
	i := 0
	for ; i < len(tokens) && strings.HasPrefix(tokens[i], "-"); i++ {
		if _, ok := detachFlags[tokens[i]]; ok {
			leading++
		}
	}
	for _, tok := range tokens[i:] {
		if _, ok := detachFlags[tok]; ok {
			trailing++
		}
	}
	return leading, trailing
}

// NormalizeCommand joins a multi-line command into one line, dropping
// trailing backslash continuation markers and blank lines.
func NormalizeCommand(command string) string {
	lines := strings.Split(strings.ReplaceAll(command, "\r\n", "\n"), "\n")
	parts := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		line = strings.TrimSpace(strings.TrimSuffix(line, `\`))
		if line == "" {
			continue
		}
		parts = append(parts, line)
	}
	return strings.Join(parts, " ")
}
