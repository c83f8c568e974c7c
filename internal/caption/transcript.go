// Package caption turns Amazon Transcribe JSON into WebVTT or SRT captions.
package caption

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

// ErrInvalidTranscript means the payload is not a transcription result.
var ErrInvalidTranscript = errors.New("invalid transcript")

const (
	Pronunciation = "pronunciation"
	Punctuation   = "punctuation"
)

// Item is one recognized word or punctuation mark. Punctuation carries no
// timing, so Timed is false for it.
type Item struct {
	Type    string
	Content string
	Start   time.Duration
	End     time.Duration
	Timed   bool
}

// Transcript is the parsed form of a raw transcription result.
type Transcript struct {
	JobName string
	Text    string
	Items   []Item
}

type rawTranscript struct {
	JobName string `json:"jobName"`
	Results *struct {
		Transcripts []struct {
			Transcript string `json:"transcript"`
		} `json:"transcripts"`
		Items []struct {
			Type         string `json:"type"`
			StartTime    string `json:"start_time"`
			EndTime      string `json:"end_time"`
			Alternatives []struct {
				Content string `json:"content"`
			} `json:"alternatives"`
		} `json:"items"`
	} `json:"results"`
}

// ParseTranscript decodes a raw transcript. A result with no items is valid
// and yields an empty Items slice.
func ParseTranscript(data []byte) (*Transcript, error) {
	var raw rawTranscript
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTranscript, err)
	}
	if raw.Results == nil {
		return nil, fmt.Errorf("%w: no results object", ErrInvalidTranscript)
	}

	t := &Transcript{JobName: raw.JobName}
	if len(raw.Results.Transcripts) > 0 {
		t.Text = raw.Results.Transcripts[0].Transcript
	}
	for n, ri := range raw.Results.Items {
		if len(ri.Alternatives) == 0 {
			continue
		}
		it := Item{Type: ri.Type, Content: ri.Alternatives[0].Content}
		if ri.StartTime != "" {
			start, err := parseSeconds(ri.StartTime)
			if err != nil {
				return nil, fmt.Errorf("%w: item %d start_time: %v", ErrInvalidTranscript, n, err)
			}
			end, err := parseSeconds(ri.EndTime)
			if err != nil {
				end = start
			}
			it.Start, it.End, it.Timed = start, end, true
		}
		t.Items = append(t.Items, it)
	}
	return t, nil
}

func parseSeconds(s string) (time.Duration, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("bad time %q", s)
	}
	return time.Duration(math.Round(f*1000)) * time.Millisecond, nil
}
