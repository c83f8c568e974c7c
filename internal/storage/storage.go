package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// Kind distinguishes the two artifact kinds kept per digest.
type Kind int

const (
	// Raw is the transcript JSON fetched from a completed job.
	Raw Kind = iota
	// Final is the converted caption file.
	Final
)

func (k Kind) String() string {
	if k == Final {
		return "final"
	}
	return "raw"
}

const (
	rawDir   = "infiles"
	finalDir = "outfiles"

	tmpPrefix = ".artifact-"
	tmpSuffix = ".tmp"
)

// ErrNotFound is returned by Read when an artifact does not exist.
var ErrNotFound = errors.New("artifact not found")

// IOError reports a failed local persistence operation.
type IOError struct {
	Op     string
	Digest string
	Kind   Kind
	Err    error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s artifact %s: %v", e.Op, e.Kind, e.Digest, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Mirror is a secondary object store that backs up the local cache.
type Mirror interface {
	Save(ctx context.Context, key string, data []byte, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) bool
}

// ArtifactStore is the digest-keyed artifact cache. Local disk is the source
// of truth; an optional mirror receives a copy of every write and serves
// reads that miss locally.
type ArtifactStore struct {
	root     string
	finalExt string
	mirror   Mirror
	log      zerolog.Logger
}

// New creates the store under root, creating its directories. finalExt is the
// caption extension without the dot ("vtt" or "srt"). mirror may be nil.
func New(root, finalExt string, mirror Mirror, log zerolog.Logger) (*ArtifactStore, error) {
	for _, d := range []string{rawDir, finalDir} {
		dir := filepath.Join(root, d)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	return &ArtifactStore{
		root:     root,
		finalExt: strings.TrimPrefix(finalExt, "."),
		mirror:   mirror,
		log:      log.With().Str("component", "artifact-store").Logger(),
	}, nil
}

// Key returns the root-relative key for an artifact, e.g.
// "outfiles/abc123_outfile.vtt".
func (s *ArtifactStore) Key(digest string, kind Kind) string {
	if kind == Final {
		return finalDir + "/" + digest + "_outfile." + s.finalExt
	}
	return rawDir + "/" + digest + "_infile.json"
}

// Path returns the local filesystem path of an artifact.
func (s *ArtifactStore) Path(digest string, kind Kind) string {
	return filepath.Join(s.root, filepath.FromSlash(s.Key(digest, kind)))
}

// Root returns the artifact root directory.
func (s *ArtifactStore) Root() string { return s.root }

// Exists reports whether an artifact has been fully written, locally or in
// the mirror. Temp files are never visible under the artifact name.
func (s *ArtifactStore) Exists(ctx context.Context, digest string, kind Kind) bool {
	if _, err := os.Stat(s.Path(digest, kind)); err == nil {
		return true
	}
	if s.mirror != nil {
		return s.mirror.Exists(ctx, s.Key(digest, kind))
	}
	return false
}

// Read returns the artifact contents. On a local miss with a mirror
// configured, the object is fetched and cached locally (best effort).
func (s *ArtifactStore) Read(ctx context.Context, digest string, kind Kind) ([]byte, error) {
	data, err := os.ReadFile(s.Path(digest, kind))
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, &IOError{Op: "read", Digest: digest, Kind: kind, Err: err}
	}
	if s.mirror == nil {
		return nil, ErrNotFound
	}

	key := s.Key(digest, kind)
	if !s.mirror.Exists(ctx, key) {
		return nil, ErrNotFound
	}
	r, err := s.mirror.Open(ctx, key)
	if err != nil {
		return nil, &IOError{Op: "read", Digest: digest, Kind: kind, Err: err}
	}
	data, err = io.ReadAll(r)
	r.Close()
	if err != nil {
		return nil, &IOError{Op: "read", Digest: digest, Kind: kind, Err: err}
	}
	if cacheErr := writeFileAtomic(s.Path(digest, kind), data); cacheErr != nil {
		s.log.Warn().Err(cacheErr).Str("key", key).Msg("failed to cache mirrored artifact locally")
	}
	return data, nil
}

// Write atomically stores data as the artifact, then copies it to the mirror.
// Mirror failures are logged; the reconciler retries them.
func (s *ArtifactStore) Write(ctx context.Context, digest string, kind Kind, data []byte) error {
	if err := writeFileAtomic(s.Path(digest, kind), data); err != nil {
		return &IOError{Op: "write", Digest: digest, Kind: kind, Err: err}
	}
	s.mirrorSave(ctx, digest, kind, data)
	return nil
}

// TempPath returns a fresh, not-yet-existing path in the artifact's directory
// for an external producer to write into. The name keeps the artifact's
// extension so producers can infer the output format. Hand the result to Commit.
func (s *ArtifactStore) TempPath(digest string, kind Kind) (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	dest := s.Path(digest, kind)
	name := tmpPrefix + digest + "-" + hex.EncodeToString(b) + tmpSuffix + filepath.Ext(dest)
	return filepath.Join(filepath.Dir(dest), name), nil
}

// Commit atomically renames a file produced at a TempPath into place.
func (s *ArtifactStore) Commit(ctx context.Context, tmpPath, digest string, kind Kind) error {
	dest := s.Path(digest, kind)
	if filepath.Dir(tmpPath) != filepath.Dir(dest) {
		return &IOError{Op: "commit", Digest: digest, Kind: kind,
			Err: fmt.Errorf("temp file %s is outside %s", tmpPath, filepath.Dir(dest))}
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return &IOError{Op: "commit", Digest: digest, Kind: kind, Err: err}
	}
	if s.mirror != nil {
		data, err := os.ReadFile(dest)
		if err != nil {
			s.log.Warn().Err(err).Str("key", s.Key(digest, kind)).Msg("read back for mirror failed")
			return nil
		}
		s.mirrorSave(ctx, digest, kind, data)
	}
	return nil
}

// Discard removes a temp file left by a failed producer.
func (s *ArtifactStore) Discard(tmpPath string) {
	if strings.HasPrefix(filepath.Base(tmpPath), tmpPrefix) {
		os.Remove(tmpPath)
	}
}

func (s *ArtifactStore) mirrorSave(ctx context.Context, digest string, kind Kind, data []byte) {
	if s.mirror == nil {
		return
	}
	key := s.Key(digest, kind)
	if err := s.mirror.Save(ctx, key, data, s.contentType(kind)); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("mirror write failed, reconciler will retry")
	}
}

func (s *ArtifactStore) contentType(kind Kind) string {
	if kind == Raw {
		return "application/json"
	}
	return contentTypeFromExt("." + s.finalExt)
}

func contentTypeFromExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".json":
		return "application/json"
	case ".vtt":
		return "text/vtt"
	case ".srt":
		return "application/x-subrip"
	default:
		return "application/octet-stream"
	}
}
