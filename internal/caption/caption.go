package caption

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// Format is an output caption format.
type Format string

const (
	VTT Format = "vtt"
	SRT Format = "srt"
)

// ParseFormat accepts "vtt", "srt" or a file extension such as ".vtt".
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimPrefix(s, "."))); f {
	case VTT, SRT:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported caption format %q", s)
	}
}

// Cue is one timed caption block. Text may span lines.
type Cue struct {
	Start time.Duration
	End   time.Duration
	Text  string
}

// Render writes t in the given format. A transcript with no items renders
// to nothing at all, which downstream treats as an empty transcription.
func Render(w io.Writer, t *Transcript, f Format) error {
	if len(t.Items) == 0 {
		return nil
	}
	switch f {
	case VTT:
		return WriteVTT(w, VTTCues(t.Items, DefaultMinWords, DefaultMaxWords))
	case SRT:
		return WriteSRT(w, SRTCues(t.Items))
	default:
		return fmt.Errorf("unsupported caption format %q", f)
	}
}

// timestamp formats d as HH:MM:SS<sep>mmm.
func timestamp(d time.Duration, sep byte) string {
	if d < 0 {
		d = 0
	}
	ms := d.Milliseconds()
	h := ms / 3600000
	m := ms / 60000 % 60
	s := ms / 1000 % 60
	return fmt.Sprintf("%02d:%02d:%02d%c%03d", h, m, s, sep, ms%1000)
}
