package indexer

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/indexer/segment"
)

// CollectGarbage removes the files of versions that were never committed
// and leftover temporary metadata files. It takes the write lock, so it
// fails with ErrWriteLocked while a transaction is in progress and never
// touches the files of a live writer.
func CollectGarbage(dir string) ([]string, error) {
	lock, err := acquireWriteLock(dir)
	if err != nil {
		return nil, err
	}
	defer lock.release()

	names, err := segment.ListFiles(dir)
	if err != nil {
		return nil, err
	}
	committed := make(map[int64]bool)
	for _, name := range names {
		if filepath.Ext(name) == segment.ExtMeta {
			if v, ok := segment.ParseVersion(name); ok {
				committed[v] = true
			}
		}
	}

	logger := slog.Default().With("component", "gc", "dir", dir)
	var removed []string
	var errs []error
	for _, name := range names {
		if name == segment.LockFileName {
			continue
		}
		v, ok := segment.ParseVersion(name)
		if !ok {
			continue
		}
		if committed[v] && !strings.HasSuffix(name, segment.ExtTemp) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("removing %s: %w", name, err))
			continue
		}
		removed = append(removed, name)
	}
	logger.Info("garbage collected", "removed", len(removed), "committed_versions", len(committed))
	return removed, errors.Join(errs...)
}
