package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// UploadReconciler scans the local artifact directories for files missing
// from the mirror and re-uploads them. Handles failed mirror writes and
// crash recovery.
type UploadReconciler struct {
	store    *ArtifactStore
	mirror   Mirror
	interval time.Duration
	window   time.Duration
	log      zerolog.Logger
	stop     chan struct{}
	stopOnce sync.Once
}

// NewUploadReconciler creates a reconciler for store's mirror.
func NewUploadReconciler(store *ArtifactStore, mirror Mirror, log zerolog.Logger) *UploadReconciler {
	return &UploadReconciler{
		store:    store,
		mirror:   mirror,
		interval: 5 * time.Minute,
		window:   24 * time.Hour,
		log:      log.With().Str("component", "upload-reconciler").Logger(),
		stop:     make(chan struct{}),
	}
}

func (r *UploadReconciler) Start() { go r.loop() }
func (r *UploadReconciler) Stop()  { r.stopOnce.Do(func() { close(r.stop) }) }

func (r *UploadReconciler) loop() {
	// Delay first run to let startup writes settle
	select {
	case <-time.After(2 * time.Minute):
	case <-r.stop:
		return
	}

	r.reconcile()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.reconcile()
		case <-r.stop:
			return
		}
	}
}

// reconcile runs one pass and returns the number of uploaded artifacts.
func (r *UploadReconciler) reconcile() int {
	var uploaded, failed, checked int
	cutoff := time.Now().Add(-r.window)

	for _, sub := range []string{rawDir, finalDir} {
		dir := filepath.Join(r.store.Root(), sub)
		entries, _ := os.ReadDir(dir)
		for _, e := range entries {
			if e.IsDir() || isTempName(e.Name()) {
				continue
			}
			info, err := e.Info()
			if err != nil || info.ModTime().Before(cutoff) {
				continue
			}
			checked++
			key := sub + "/" + e.Name()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			exists := r.mirror.Exists(ctx, key)
			cancel()
			if exists {
				continue
			}

			data, readErr := os.ReadFile(filepath.Join(dir, e.Name()))
			if readErr != nil {
				continue
			}

			ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
			if saveErr := r.mirror.Save(ctx, key, data, contentTypeFromExt(filepath.Ext(e.Name()))); saveErr != nil {
				r.log.Warn().Err(saveErr).Str("key", key).Msg("reconcile upload failed")
				failed++
			} else {
				uploaded++
			}
			cancel()
		}
	}

	if uploaded > 0 || failed > 0 {
		r.log.Info().
			Int("uploaded", uploaded).
			Int("failed", failed).
			Int("checked", checked).
			Msg("reconcile complete")
	}
	return uploaded
}

func isTempName(name string) bool {
	return strings.HasPrefix(name, tmpPrefix) && strings.Contains(name, tmpSuffix)
}
