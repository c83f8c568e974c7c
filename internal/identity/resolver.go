package identity

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrUnknownOrigin is wrapped by ResolutionError when no profile matches.
var ErrUnknownOrigin = errors.New("unrecognized origin")

var digestPattern = regexp.MustCompile(`^[0-9A-Za-z._-]{1,200}$`)

// ValidDigest reports whether d is usable as a job name and file name component.
func ValidDigest(d string) bool {
	return digestPattern.MatchString(d)
}

// Identity is the resolved form of a media reference.
type Identity struct {
	Digest        string
	MediaLocation string
	Profile       Profile
}

// ResolutionError means a reference could not be turned into an Identity.
// It is never retried.
type ResolutionError struct {
	Reference string
	Reason    string
	Err       error
}

func (e *ResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("resolve %q: %s: %v", e.Reference, e.Reason, e.Err)
	}
	return fmt.Sprintf("resolve %q: %s", e.Reference, e.Reason)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// ResolverOptions configures a Resolver.
type ResolverOptions struct {
	Profiles   *Profiles
	Bucket     string
	PathMarker string // repository path marker, e.g. "fedora"
	Timeout    time.Duration
	Client     *http.Client // optional; built from Timeout when nil
	Log        zerolog.Logger
}

// Resolver derives a digest and media location from a reference.
type Resolver struct {
	profiles *Profiles
	bucket   string
	marker   string
	client   *http.Client
	log      zerolog.Logger
}

func NewResolver(opts ResolverOptions) *Resolver {
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Resolver{
		profiles: opts.Profiles,
		bucket:   opts.Bucket,
		marker:   opts.PathMarker,
		client:   client,
		log:      opts.Log.With().Str("component", "resolver").Logger(),
	}
}

// Resolve classifies ref and derives its identity. The same reference always
// yields the same digest and media location, provided the repository reports
// the same content hash.
func (r *Resolver) Resolve(ctx context.Context, ref string) (Identity, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Identity{}, &ResolutionError{Reference: ref, Reason: "empty reference"}
	}
	u, err := url.Parse(ref)
	if err != nil {
		return Identity{}, &ResolutionError{Reference: ref, Reason: "unparsable reference", Err: err}
	}

	if strings.EqualFold(u.Scheme, "s3") {
		return r.resolveDirect(ref, u)
	}

	if u.Host == "" {
		return Identity{}, &ResolutionError{Reference: ref, Reason: "reference has no host", Err: ErrUnknownOrigin}
	}
	prof, ok := r.profiles.Classify(u.Hostname())
	if !ok {
		return Identity{}, &ResolutionError{Reference: ref, Reason: "host " + u.Hostname(), Err: ErrUnknownOrigin}
	}

	switch prof.Kind {
	case ObjectStoreOrigin:
		return r.resolveObject(ref, u, prof)
	case RepositoryOrigin:
		return r.resolveRepository(ctx, ref, u, prof)
	default:
		return Identity{}, &ResolutionError{Reference: ref, Reason: "unsupported origin kind " + prof.Kind.String()}
	}
}

// resolveDirect handles references that already are s3://bucket/key URIs.
func (r *Resolver) resolveDirect(ref string, u *url.URL) (Identity, error) {
	key, err := decodedKey(u)
	if err != nil {
		return Identity{}, &ResolutionError{Reference: ref, Reason: "undecodable object key", Err: err}
	}
	if u.Host == "" || key == "" {
		return Identity{}, &ResolutionError{Reference: ref, Reason: "object reference needs bucket and key"}
	}
	loc := "s3://" + u.Host + "/" + key
	return Identity{
		Digest:        hashLocation(loc),
		MediaLocation: loc,
		Profile:       Profile{Host: u.Host, Kind: ObjectStoreOrigin},
	}, nil
}

func (r *Resolver) resolveObject(ref string, u *url.URL, prof Profile) (Identity, error) {
	key, err := decodedKey(u)
	if err != nil {
		return Identity{}, &ResolutionError{Reference: ref, Reason: "undecodable object key", Err: err}
	}
	if key == "" {
		return Identity{}, &ResolutionError{Reference: ref, Reason: "reference has no object path"}
	}
	loc := "s3://" + r.bucket + "/" + prof.Prefix + key
	return Identity{
		Digest:        hashLocation(loc),
		MediaLocation: loc,
		Profile:       prof,
	}, nil
}

func (r *Resolver) resolveRepository(ctx context.Context, ref string, u *url.URL, prof Profile) (Identity, error) {
	repoURI := prof.MountPoint + r.repositoryPath(u)

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, repoURI, nil)
	if err != nil {
		return Identity{}, &ResolutionError{Reference: ref, Reason: "bad repository uri " + repoURI, Err: err}
	}
	req.Header.Set("Want-Digest", "sha")

	resp, err := r.client.Do(req)
	if err != nil {
		return Identity{}, &ResolutionError{Reference: ref, Reason: "metadata fetch failed", Err: err}
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Identity{}, &ResolutionError{
			Reference: ref,
			Reason:    fmt.Sprintf("metadata fetch returned status %d", resp.StatusCode),
		}
	}

	digest := ParseDigestHeader(resp.Header.Values("Digest"))
	if digest == "" {
		return Identity{}, &ResolutionError{Reference: ref, Reason: "no usable Digest header"}
	}

	r.log.Debug().
		Str("reference", ref).
		Str("repository_uri", repoURI).
		Str("digest", digest).
		Msg("repository digest resolved")

	return Identity{
		Digest:        digest,
		MediaLocation: "s3://" + r.bucket + "/" + digest,
		Profile:       prof,
	}, nil
}

// repositoryPath returns the escaped path after the last occurrence of the
// path marker, or the whole path when the marker is absent.
func (r *Resolver) repositoryPath(u *url.URL) string {
	p := u.EscapedPath()
	if r.marker != "" {
		if i := strings.LastIndex(p, r.marker); i >= 0 {
			p = p[i+len(r.marker):]
		}
	}
	if p != "" && !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// ParseDigestHeader extracts a digest value from Digest header values such as
// "sha=ab12", "sha%3Dab12" or "md5=..., sha=ab12". A sha entry is preferred.
// Returns "" when no entry yields a valid digest.
func ParseDigestHeader(values []string) string {
	var first string
	for _, v := range values {
		for _, entry := range strings.Split(v, ",") {
			entry = strings.TrimSpace(entry)
			if entry == "" {
				continue
			}
			if unescaped, err := url.QueryUnescape(entry); err == nil {
				entry = unescaped
			}
			algo, val, ok := strings.Cut(entry, "=")
			if !ok {
				algo, val = "", entry
			}
			val = strings.TrimSpace(val)
			if !ValidDigest(val) {
				continue
			}
			if strings.EqualFold(algo, "sha") {
				return val
			}
			if first == "" {
				first = val
			}
		}
	}
	return first
}

func decodedKey(u *url.URL) (string, error) {
	raw := strings.TrimLeft(u.EscapedPath(), "/")
	return url.PathUnescape(raw)
}

func hashLocation(loc string) string {
	sum := md5.Sum([]byte(loc))
	return hex.EncodeToString(sum[:])
}
