package media

import (
	"bytes"
	"context"
	"errors"
	"os/exec"

	"go.uber.org/zap"

	"github.com/kozaktomas/media-annotator/internal/logging"
)

// Runner executes a command and returns its standard output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	Logger *zap.Logger
}

// Run executes name with args. A failure is returned as *SubprocessError.
func (r ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	logging.OrNop(r.Logger).Debug("running command", zap.String("command", name), zap.Strings("args", args))

	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		se := &SubprocessError{
			Command: append([]string{name}, args...),
			Stderr:  stderr.String(),
			Err:     err,
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			se.ExitCode = exitErr.ExitCode()
		}
		return nil, se
	}
	return stdout.Bytes(), nil
}

// Tools groups the external programs the pipeline shells out to.
type Tools struct {
	Exiftool string
	Ffprobe  string
	Ffmpeg   string
	Logger   *zap.Logger
	runner   Runner
}

// NewTools returns Tools using the binaries found on PATH.
func NewTools(runner Runner) *Tools {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Tools{Exiftool: "exiftool", Ffprobe: "ffprobe", Ffmpeg: "ffmpeg", runner: runner}
}

// ToolStatus is the availability of one external program.
type ToolStatus struct {
	Name string
	Path string
	Err  error
}

// CheckTools looks up every external program on PATH.
func (t *Tools) CheckTools() []ToolStatus {
	var out []ToolStatus
	for _, name := range []string{t.Exiftool, t.Ffprobe, t.Ffmpeg} {
		path, err := exec.LookPath(name)
		out = append(out, ToolStatus{Name: name, Path: path, Err: err})
	}
	return out
}
