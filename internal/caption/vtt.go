package caption

import (
	"bufio"
	"io"
	"strings"
)

const (
	DefaultMinWords = 8
	DefaultMaxWords = 12
)

// VTTCues groups words into cues of minWords..maxWords words. A cue closes at
// maxWords, or at minWords or more when a sentence ends. Punctuation sticks to
// the preceding word, or to the previous cue when no words are pending.
func VTTCues(items []Item, minWords, maxWords int) []Cue {
	var cues []Cue
	var words []string
	var cur Cue

	for _, it := range items {
		if it.Type == Punctuation {
			switch {
			case len(words) > 0:
				words[len(words)-1] += it.Content
			case len(cues) > 0:
				cues[len(cues)-1].Text += it.Content
				continue
			default:
				continue
			}
		} else {
			if len(words) == 0 {
				cur.Start = it.Start
			}
			cur.End = it.End
			words = append(words, it.Content)
		}

		if len(words) >= maxWords || (len(words) >= minWords && sentenceEnd(it.Content)) {
			cur.Text = strings.Join(words, " ")
			cues = append(cues, cur)
			cur, words = Cue{}, nil
		}
	}
	if len(words) > 0 {
		cur.Text = strings.Join(words, " ")
		cues = append(cues, cur)
	}
	return cues
}

func sentenceEnd(s string) bool {
	return s == "." || s == "!" || s == "?"
}

// WriteVTT writes a WebVTT document.
func WriteVTT(w io.Writer, cues []Cue) error {
	bw := bufio.NewWriter(w)
	bw.WriteString("WEBVTT\n")
	for _, c := range cues {
		bw.WriteString("\n")
		bw.WriteString(timestamp(c.Start, '.'))
		bw.WriteString(" --> ")
		bw.WriteString(timestamp(c.End, '.'))
		bw.WriteString("\n")
		bw.WriteString(c.Text)
		bw.WriteString("\n")
	}
	return bw.Flush()
}
