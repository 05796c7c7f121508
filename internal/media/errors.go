// Package media wraps the external tools and decoders used to inspect
// photos and videos: exiftool, ffprobe, ffmpeg and the Go image decoders.
package media

import (
	"fmt"
	"strings"
)

// DecodeError reports a file that could not be read as an image.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("cannot decode image %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// SubprocessError reports an external command that exited with a failure.
type SubprocessError struct {
	Command  []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *SubprocessError) Error() string {
	msg := fmt.Sprintf("%s failed", strings.Join(e.Command, " "))
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(" (exit %d)", e.ExitCode)
	}
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SubprocessError) Unwrap() error { return e.Err }
