package provisioner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/lcnr/docker-queue/internal/models"
)

// LaunchError is returned when the launch command fails or prints no id.
type LaunchError struct {
	Argv     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *LaunchError) Error() string {
	msg := fmt.Sprintf("launch %q failed", strings.Join(e.Argv, " "))
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(" with exit code %d", e.ExitCode)
	}
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

var errNoContainerID = errors.New("command succeeded but printed no container id")

// ExecLauncher runs launch commands as child processes.
type ExecLauncher struct {
	logger *logrus.Entry
}

func NewExecLauncher(logger *logrus.Entry) *ExecLauncher {
	return &ExecLauncher{logger: logger.WithField("component", "launcher")}
}

// Launch runs argv to completion and returns the container id it printed.
func (l *ExecLauncher) Launch(ctx context.Context, argv []string) (models.RunningContainerID, error) {
	if len(argv) == 0 {
		return "", &LaunchError{Err: errors.New("empty command")}
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	errText := strings.TrimSpace(stderr.String())
	if err != nil {
		launchErr := &LaunchError{Argv: argv, Stderr: errText, Err: err}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			launchErr.ExitCode = exitErr.ExitCode()
		}
		return "", launchErr
	}

	id := strings.TrimSpace(stdout.String())
	if id == "" {
		return "", &LaunchError{Argv: argv, Stderr: errText, Err: errNoContainerID}
	}
	if errText != "" {
		l.logger.WithField("stderr", errText).Debug("launch wrote to stderr")
	}
	return models.RunningContainerID(id), nil
}
