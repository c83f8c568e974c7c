package caption

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"time"
)

// Subtitle timing rules, after the BBC subtitle guidelines.
const (
	MaxScreenLen  = 74                      // characters per screen
	MaxLineLen    = 37                      // characters per line
	LineGap       = 2000 * time.Millisecond // silence that starts a new line
	CombineWindow = 500 * time.Millisecond  // lines starting this close share a cue
	MaxDisplay    = 8 * time.Second
	frameGap      = 33 * time.Millisecond
)

// SRTCues builds subtitle cues from transcript items.
func SRTCues(items []Item) []Cue {
	var b srtBuilder
	var line string
	var start, last, lineLast time.Duration

	flush := func() {
		if line != "" {
			b.add(line, start, lineLast+LineGap)
		}
		line = ""
	}

	for n, it := range items {
		if it.Timed {
			if line != "" && it.Start-last > LineGap {
				flush()
			}
			last = it.Start
		}
		if line == "" {
			start = last
			line = it.Content
			lineLast = last
			continue
		}

		if it.Type == Punctuation {
			line += it.Content
			if sentenceEnd(it.Content) && n+1 < len(items) &&
				len(line)+len(items[n+1].Content) > MaxScreenLen {
				flush()
			}
			continue
		}

		if len(line)+len(it.Content) < MaxScreenLen {
			line += " " + it.Content
			lineLast = last
			continue
		}
		flush()
		start = last
		line = it.Content
		lineLast = last
	}
	flush()
	b.capLast()
	return b.cues
}

type srtBuilder struct {
	cues []Cue
}

// add appends a line, merging it into the previous cue when both start
// within CombineWindow, and fixing up the previous cue's end otherwise.
func (b *srtBuilder) add(text string, start, end time.Duration) {
	if len(b.cues) == 0 {
		b.cues = append(b.cues, Cue{Start: start, End: end, Text: splitLine(text)})
		return
	}
	prev := &b.cues[len(b.cues)-1]
	if start < prev.Start+CombineWindow {
		prev.Text += "\n" + text
		if end > prev.End {
			prev.End = end
		}
		return
	}

	b.capLast()
	if prev.End > start {
		prev.End = max(start-frameGap, prev.Start)
	}
	b.cues = append(b.cues, Cue{Start: start, End: end, Text: splitLine(text)})
}

func (b *srtBuilder) capLast() {
	if len(b.cues) == 0 {
		return
	}
	prev := &b.cues[len(b.cues)-1]
	if prev.End > prev.Start+MaxDisplay {
		prev.End = prev.Start + MaxDisplay
	}
}

// splitLine breaks text longer than MaxLineLen into two lines at a word
// boundary. Text that already has a line break is left alone.
func splitLine(text string) string {
	if len(text) <= MaxLineLen || strings.Contains(text, "\n") {
		return text
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return text
	}
	first := words[0]
	for i := 1; i < len(words); i++ {
		if len(first)+len(words[i]) > MaxLineLen {
			return first + "\n" + strings.Join(words[i:], " ")
		}
		first += " " + words[i]
	}
	return first
}

// WriteSRT writes numbered SubRip cues.
func WriteSRT(w io.Writer, cues []Cue) error {
	bw := bufio.NewWriter(w)
	for i, c := range cues {
		bw.WriteString(strconv.Itoa(i + 1))
		bw.WriteString("\n")
		bw.WriteString(timestamp(c.Start, ','))
		bw.WriteString(" --> ")
		bw.WriteString(timestamp(c.End, ','))
		bw.WriteString("\n")
		bw.WriteString(c.Text)
		bw.WriteString("\n\n")
	}
	return bw.Flush()
}
