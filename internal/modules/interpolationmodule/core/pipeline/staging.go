package pipeline

import (
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff"
)

// rotate moves outputDir to staging and recreates an empty outputDir.
// A leftover staging directory from an earlier crash is removed first.
// Renames are retried because a just-exited engine or the encoder may
// still hold handles inside the directory on some platforms.
func rotate(outputDir, staging string, policy func() backoff.BackOff) error {
	op := func() error {
		if err := os.RemoveAll(staging); err != nil {
			return err
		}
		err := os.Rename(outputDir, staging)
		if os.IsNotExist(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	if err := backoff.Retry(op, policy()); err != nil {
		return err
	}
	return os.MkdirAll(outputDir, 0755)
}

// removeStaging deletes every staging directory of outputDir. It is safe to
// call when none exist.
func removeStaging(outputDir string) error {
	matches, err := filepath.Glob(filepath.Clean(outputDir) + "-run[0-9]*")
	if err != nil {
		return err
	}
	for _, m := range matches {
		if err := os.RemoveAll(m); err != nil {
			return err
		}
	}
	return nil
}

// CleanupStaging is removeStaging for callers outside the package, such as
// crash recovery.
func CleanupStaging(outputDir string) error {
	return removeStaging(outputDir)
}

func defaultRetryPolicy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxElapsedTime = 5 * time.Second
	return backoff.WithMaxRetries(b, 5)
}
