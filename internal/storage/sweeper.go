package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// TempSweeper removes temp files orphaned by crashed writers or converters.
// Only files older than maxAge are touched, so in-flight writes survive.
type TempSweeper struct {
	root     string
	maxAge   time.Duration
	interval time.Duration
	log      zerolog.Logger
	stop     chan struct{}
	stopOnce sync.Once
}

// NewTempSweeper creates a sweeper for the artifact directories under root.
func NewTempSweeper(root string, maxAge time.Duration, log zerolog.Logger) *TempSweeper {
	return &TempSweeper{
		root:     root,
		maxAge:   maxAge,
		interval: 15 * time.Minute,
		log:      log.With().Str("component", "temp-sweeper").Logger(),
		stop:     make(chan struct{}),
	}
}

func (p *TempSweeper) Start() {
	go p.loop()
}

func (p *TempSweeper) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

func (p *TempSweeper) loop() {
	// Run once on startup to clear leftovers from the previous process
	p.sweep()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.sweep()
		case <-p.stop:
			return
		}
	}
}

// sweep runs one pass and returns the number of removed files.
func (p *TempSweeper) sweep() int {
	cutoff := time.Now().Add(-p.maxAge)
	var removed int
	var freed int64

	for _, sub := range []string{rawDir, finalDir} {
		dir := filepath.Join(p.root, sub)
		entries, _ := os.ReadDir(dir)
		for _, e := range entries {
			if e.IsDir() || !isTempName(e.Name()) {
				continue
			}
			info, err := e.Info()
			if err != nil || !info.ModTime().Before(cutoff) {
				continue
			}
			if err := os.Remove(filepath.Join(dir, e.Name())); err == nil {
				removed++
				freed += info.Size()
			}
		}
	}

	if removed > 0 {
		p.log.Info().
			Int("removed", removed).
			Str("freed", humanizeBytes(freed)).
			Msg("temp sweep complete")
	}
	return removed
}

func humanizeBytes(b int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case b >= GB:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
