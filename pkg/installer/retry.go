package installer

import (
	"os"
	"time"

	agpmerrors "github.com/agpm-dev/agpm/pkg/errors"
)

// retryBackoff mirrors the original tool's exponential backoff for
// worktree reads: start at 10ms, double each attempt, cap at 500ms,
// stop after 10 attempts. Only a not-found error is retried — a fresh
// worktree checkout can briefly lag its directory entries becoming
// visible on some filesystems/mounts; any other read error is real and
// surfaces immediately.
func retryBackoff() []time.Duration {
	delays := make([]time.Duration, 0, 10)
	d := 10 * time.Millisecond
	for i := 0; i < 10; i++ {
		delays = append(delays, d)
		d *= 2
		if d > 500*time.Millisecond {
			d = 500 * time.Millisecond
		}
	}
	return delays
}

// readWithRetry reads path, retrying on os.IsNotExist errors using
// retryBackoff's schedule.
func readWithRetry(path string) ([]byte, error) {
	var lastErr error
	for _, delay := range retryBackoff() {
		data, err := os.ReadFile(path)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if !os.IsNotExist(err) {
			return nil, err
		}
		time.Sleep(delay)
	}
	return nil, agpmerrors.Filesystem(lastErr, "reading file after retries exhausted")
}
