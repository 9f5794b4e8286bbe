package apply

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oshokin/appkg/internal/logger"
)

const (
	// MarkerFilename marks that an apply run is in progress in the install directory.
	MarkerFilename = ".appkg-apply.marker"

	// markerLifetime is the period after which a stale marker is ignored.
	markerLifetime = 10 * time.Minute
)

var errApplyRunning = errors.New("another apply run is in progress")

// acquireMarker creates the marker in dir and returns a function removing it.
// A marker older than markerLifetime is treated as left over by a crashed run.
func acquireMarker(ctx context.Context, dir string) (func(), error) {
	path := filepath.Join(dir, MarkerFilename)

	info, err := os.Stat(path)
	switch {
	case err == nil && time.Since(info.ModTime()) <= markerLifetime:
		return nil, fmt.Errorf("%s: %w", dir, errApplyRunning)
	case err == nil:
		logger.InfoKV(ctx, "The apply marker is too old, removing it", "path", path)

		if err = os.Remove(path); err != nil {
			return nil, fmt.Errorf("remove stale marker: %w", err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("read apply marker: %w", err)
	}

	marker, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%s: %w", dir, errApplyRunning)
		}

		return nil, fmt.Errorf("create apply marker: %w", err)
	}

	if err = marker.Close(); err != nil {
		return nil, fmt.Errorf("create apply marker: %w", err)
	}

	return func() {
		_ = os.Remove(path)
	}, nil
}
