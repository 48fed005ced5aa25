package tail

import (
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/pkg/stdcopy"
)

// LogSource opens a container's follow-mode log stream. tty reports whether
// the stream is raw (TTY) or multiplexed with stdout/stderr frame headers.
type LogSource interface {
	Logs(ctx context.Context, container string) (rc io.ReadCloser, tty bool, err error)
}

// FollowContainer feeds the container's output until the stream ends or ctx
// is cancelled.
func FollowContainer(ctx context.Context, src LogSource, container string, f *Feeder) error {
	rc, tty, err := src.Logs(ctx, container)
	if err != nil {
		return fmt.Errorf("container logs: %w", err)
	}
	defer rc.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			rc.Close()
		case <-done:
		}
	}()

	if tty {
		return ignoreCancel(ctx, Consume(ctx, rc, f))
	}

	pr, pw := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(pw, pw, rc)
		pw.CloseWithError(err)
	}()
	defer pr.Close()
	return ignoreCancel(ctx, Consume(ctx, pr, f))
}

func ignoreCancel(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}
