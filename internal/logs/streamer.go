// Package logs streams supervised processes' log files.
package logs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"procpanel/internal/models"
)

// Kind selects a process's stdout or stderr log.
type Kind string

const (
	KindOut Kind = "out"
	KindErr Kind = "err"
)

var (
	ErrInvalidKind = errors.New("log type must be out or err")
	ErrRead        = errors.New("failed to read log file")
)

const copyBufferSize = 32 * 1024

func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case "", KindOut:
		return KindOut, nil
	case KindErr:
		return KindErr, nil
	}
	return "", ErrInvalidKind
}

// Describer looks a process up by id.
type Describer interface {
	Describe(ctx context.Context, id string) (models.ProcessDetail, error)
}

type Streamer struct {
	procs Describer
}

func NewStreamer(procs Describer) *Streamer {
	return &Streamer{procs: procs}
}

// Path returns the log file the supervisor reports for id and kind.
func (s *Streamer) Path(ctx context.Context, id string, kind Kind) (string, error) {
	detail, err := s.procs.Describe(ctx, id)
	if err != nil {
		return "", err
	}
	if kind == KindErr {
		return detail.ErrLogPath, nil
	}
	return detail.OutLogPath, nil
}

// Open returns a reader over the log. A log that does not exist yet reads as
// a short placeholder message. The caller must close the reader.
func (s *Streamer) Open(ctx context.Context, id string, kind Kind) (io.ReadCloser, error) {
	path, err := s.Path(ctx, id, kind)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return placeholder(id, kind), nil
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return placeholder(id, kind), nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRead, err)
	}
	return f, nil
}

func placeholder(id string, kind Kind) io.ReadCloser {
	return io.NopCloser(strings.NewReader(Placeholder(id, kind)))
}

func Placeholder(id string, kind Kind) string {
	return fmt.Sprintf("No %s logs yet for process %s.\n", kind, id)
}

type flusher interface {
	Flush()
}

// Copy streams src to dst in chunks, flushing after each one, and stops as
// soon as ctx is done.
func Copy(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, copyBufferSize)
	f, canFlush := dst.(flusher)

	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			m, err := dst.Write(buf[:n])
			written += int64(m)
			if err != nil {
				return written, err
			}
			if canFlush {
				f.Flush()
			}
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, fmt.Errorf("%w: %v", ErrRead, readErr)
		}
	}
}
