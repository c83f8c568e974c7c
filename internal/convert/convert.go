// Package convert runs the external caption converter and commits its output
// as the final artifact.
package convert

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/caption-engine/internal/storage"
)

// ErrUnsafePath is returned for paths that contain shell metacharacters.
var ErrUnsafePath = errors.New("path contains shell metacharacters")

const unsafeChars = "`$;&|<>(){}[]*?!~#'\"\\\n\r\t"

// CommandLog captures one converter invocation.
type CommandLog struct {
	Command  string        `json:"command"`
	Args     []string      `json:"args"`
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	Duration time.Duration `json:"duration"`
}

// ConversionError means the converter failed or produced no output. The raw
// artifact is left in place so conversion can be retried alone.
type ConversionError struct {
	Digest  string
	Message string
	Log     CommandLog
	Err     error
}

func (e *ConversionError) Error() string {
	msg := fmt.Sprintf("convert %s: %s", e.Digest, e.Message)
	if e.Log.Command != "" {
		msg += fmt.Sprintf(" (cmd=%s exit=%d)", e.Log.Command, e.Log.ExitCode)
	}
	if s := tail(e.Log.Stderr); s != "" {
		msg += "; stderr: " + s
	}
	if s := tail(e.Log.Stdout); s != "" {
		msg += "; stdout: " + s
	}
	return msg
}

// maxOutputInError bounds how much captured output an error message carries.
// Tracebacks put the useful line last, so the tail is kept.
const maxOutputInError = 2048

func tail(out string) string {
	out = strings.TrimSpace(out)
	if len(out) > maxOutputInError {
		out = "..." + out[len(out)-maxOutputInError:]
	}
	return out
}

func (e *ConversionError) Unwrap() error { return e.Err }

// Result describes a committed final artifact.
type Result struct {
	Size int64
	Log  CommandLog
}

// Empty reports whether the converter produced a zero-length caption file.
func (r *Result) Empty() bool { return r.Size == 0 }

// Invoker runs "<command...> <in> <out>" and commits out as the final artifact.
type Invoker struct {
	argv   []string
	store  *storage.ArtifactStore
	runner commandRunner
	log    zerolog.Logger
}

// NewInvoker splits command on whitespace into the converter's argv prefix.
func NewInvoker(command string, store *storage.ArtifactStore, log zerolog.Logger) (*Invoker, error) {
	argv := strings.Fields(command)
	if len(argv) == 0 {
		return nil, fmt.Errorf("converter command is empty")
	}
	if err := CheckPath(argv[0]); err != nil {
		return nil, fmt.Errorf("converter command: %w", err)
	}
	for _, a := range argv[1:] {
		if strings.ContainsAny(a, unsafeChars) {
			return nil, fmt.Errorf("converter command: %w: %q", ErrUnsafePath, a)
		}
	}
	return &Invoker{
		argv:   argv,
		store:  store,
		runner: execRunner{},
		log:    log.With().Str("component", "converter").Logger(),
	}, nil
}

// Convert converts the raw transcript at rawPath into the final artifact for
// digest. The converter writes to a temp path which is renamed into place
// only when the process exits cleanly and left a file behind.
func (i *Invoker) Convert(ctx context.Context, digest, rawPath string) (*Result, error) {
	if err := CheckPath(rawPath); err != nil {
		return nil, &ConversionError{Digest: digest, Message: "refusing input path", Err: err}
	}
	tmp, err := i.store.TempPath(digest, storage.Final)
	if err != nil {
		return nil, &ConversionError{Digest: digest, Message: "allocate output path", Err: err}
	}
	if err := CheckPath(tmp); err != nil {
		return nil, &ConversionError{Digest: digest, Message: "refusing output path", Err: err}
	}

	args := append(append([]string(nil), i.argv[1:]...), rawPath, tmp)
	start := time.Now()
	res, runErr := i.runner.Run(ctx, i.argv[0], args...)
	cl := CommandLog{
		Command:  i.argv[0],
		Args:     args,
		ExitCode: res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		Duration: time.Since(start),
	}

	if runErr != nil {
		i.store.Discard(tmp)
		return nil, &ConversionError{Digest: digest, Message: "converter failed", Log: cl, Err: runErr}
	}
	info, err := os.Stat(tmp)
	if err != nil {
		return nil, &ConversionError{Digest: digest, Message: "converter produced no output", Log: cl, Err: err}
	}
	if err := i.store.Commit(ctx, tmp, digest, storage.Final); err != nil {
		i.store.Discard(tmp)
		return nil, err
	}

	i.log.Info().
		Str("digest", digest).
		Int64("bytes", info.Size()).
		Dur("took", cl.Duration).
		Msg("caption file produced")
	return &Result{Size: info.Size(), Log: cl}, nil
}

// CheckPath rejects arguments that would be dangerous if a shell ever saw
// them: metacharacters, and a leading '-' that reads as a flag.
func CheckPath(p string) error {
	if p == "" || strings.HasPrefix(p, "-") || strings.ContainsAny(p, unsafeChars) {
		return fmt.Errorf("%w: %q", ErrUnsafePath, p)
	}
	return nil
}
