// Command captionconv converts an Amazon Transcribe JSON result into a
// WebVTT or SRT caption file.
//
//	captionconv [-format vtt|srt] <in.json> <out>
//
// The format defaults to the output file's extension. A transcript with no
// items produces an empty output file. On failure the output is not created.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/snarg/caption-engine/internal/caption"
)

func main() {
	format := flag.String("format", "", "output format: vtt or srt (default: from output extension)")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [-format vtt|srt] <in.json> <out>\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	if flag.NArg() != 2 {
		flag.Usage()
		os.Exit(2)
	}
	in, out := flag.Arg(0), flag.Arg(1)

	if err := run(in, out, *format); err != nil {
		log.Error().Err(err).Str("in", in).Str("out", out).Msg("conversion failed")
		os.Exit(1)
	}
}

func run(in, out, format string) error {
	if format == "" {
		format = filepath.Ext(out)
	}
	f, err := caption.ParseFormat(format)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	t, err := caption.ParseTranscript(data)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := caption.Render(&buf, t, f); err != nil {
		return err
	}
	return os.WriteFile(out, buf.Bytes(), 0o644)
}
