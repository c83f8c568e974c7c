package identity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func newTestResolver(t *testing.T, profiles string) *Resolver {
	t.Helper()
	p, err := ParseProfiles(profiles)
	if err != nil {
		t.Fatalf("ParseProfiles: %v", err)
	}
	return NewResolver(ResolverOptions{
		Profiles:   p,
		Bucket:     "media-bucket",
		PathMarker: "fedora",
		Log:        zerolog.Nop(),
	})
}

func TestParseProfiles(t *testing.T) {
	p, err := ParseProfiles("keep.lib.example.edu=object:keep-private/, cloudfront.net=object:, repo.example.edu=repository:http://fcrepo:8080/fcrepo/")
	if err != nil {
		t.Fatalf("ParseProfiles: %v", err)
	}
	if p.Len() != 3 {
		t.Fatalf("Len = %d, want 3", p.Len())
	}

	prof, ok := p.Classify("keep.lib.example.edu")
	if !ok || prof.Kind != ObjectStoreOrigin || prof.Prefix != "keep-private/" {
		t.Errorf("keep profile = %+v, %v", prof, ok)
	}
	prof, ok = p.Classify("D111.CloudFront.net")
	if !ok || prof.Kind != ObjectStoreOrigin || prof.Prefix != "" {
		t.Errorf("cloudfront suffix profile = %+v, %v", prof, ok)
	}
	prof, ok = p.Classify("repo.example.edu")
	if !ok || prof.Kind != RepositoryOrigin || prof.MountPoint != "http://fcrepo:8080/fcrepo" {
		t.Errorf("repository profile = %+v, %v", prof, ok)
	}
	if _, ok := p.Classify("evilcloudfront.net"); ok {
		t.Error("suffix match must respect label boundaries")
	}
	if _, ok := p.Classify("example.org"); ok {
		t.Error("unknown host should not classify")
	}
}

func TestParseProfilesErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"missing_equals", "example.edu"},
		{"missing_kind", "example.edu=prefix"},
		{"unknown_kind", "example.edu=ftp:/x"},
		{"repository_without_mount", "example.edu=repository:"},
		{"duplicate_host", "a.edu=object:,a.edu=object:x/"},
		{"empty_host", "=object:x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseProfiles(tt.raw); err == nil {
				t.Errorf("ParseProfiles(%q) expected error", tt.raw)
			}
		})
	}
}

func TestResolve_ObjectStoreOrigin(t *testing.T) {
	r := newTestResolver(t, "keep.lib.example.edu=object:keep-private/,cloudfront.net=object:")

	id, err := r.Resolve(context.Background(), "https://keep.lib.example.edu/items/My%20Talk.mp4")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if id.MediaLocation != "s3://media-bucket/keep-private/items/My Talk.mp4" {
		t.Errorf("MediaLocation = %q", id.MediaLocation)
	}
	if len(id.Digest) != 32 || !ValidDigest(id.Digest) {
		t.Errorf("Digest = %q, want 32 hex chars", id.Digest)
	}

	again, err := r.Resolve(context.Background(), "https://keep.lib.example.edu/items/My%20Talk.mp4")
	if err != nil {
		t.Fatalf("Resolve again: %v", err)
	}
	if again.Digest != id.Digest || again.MediaLocation != id.MediaLocation {
		t.Errorf("resolution not deterministic: %+v vs %+v", id, again)
	}

	cdn, err := r.Resolve(context.Background(), "https://d111.cloudfront.net/clip.mp3")
	if err != nil {
		t.Fatalf("Resolve cdn: %v", err)
	}
	if cdn.MediaLocation != "s3://media-bucket/clip.mp3" {
		t.Errorf("cdn MediaLocation = %q", cdn.MediaLocation)
	}
	if cdn.Digest == id.Digest {
		t.Error("different locations must not share a digest")
	}
}

func TestResolve_DirectObjectURI(t *testing.T) {
	r := newTestResolver(t, "")
	id, err := r.Resolve(context.Background(), "s3://other-bucket/path/a%2Bb.wav")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if id.MediaLocation != "s3://other-bucket/path/a+b.wav" {
		t.Errorf("MediaLocation = %q", id.MediaLocation)
	}
	if id.Digest != hashLocation("s3://other-bucket/path/a+b.wav") {
		t.Errorf("Digest = %q, want hash of canonical location", id.Digest)
	}

	if _, err := r.Resolve(context.Background(), "s3://bucket-only"); err == nil {
		t.Error("expected error for s3 uri without key")
	}
}

func TestResolve_RepositoryOrigin(t *testing.T) {
	var gotPath, gotWant, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotWant = r.Header.Get("Want-Digest")
		gotMethod = r.Method
		w.Header().Set("Digest", "sha%3D19f6648a2fe6f51d228faccd658f77304fd50a3e")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := newTestResolver(t, "drupal.example.edu=repository:"+srv.URL+"/fcrepo/rest")
	id, err := r.Resolve(context.Background(), "https://drupal.example.edu/fedora/2024-01/lecture.mp4")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if gotMethod != http.MethodHead {
		t.Errorf("method = %s, want HEAD", gotMethod)
	}
	if gotPath != "/fcrepo/rest/2024-01/lecture.mp4" {
		t.Errorf("repository path = %q", gotPath)
	}
	if gotWant != "sha" {
		t.Errorf("Want-Digest = %q, want sha", gotWant)
	}
	if id.Digest != "19f6648a2fe6f51d228faccd658f77304fd50a3e" {
		t.Errorf("Digest = %q", id.Digest)
	}
	if id.MediaLocation != "s3://media-bucket/19f6648a2fe6f51d228faccd658f77304fd50a3e" {
		t.Errorf("MediaLocation = %q", id.MediaLocation)
	}
}

func TestResolve_RepositoryFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"no_digest_header", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}},
		{"garbage_digest", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Digest", "sha=not/a/digest")
			w.WriteHeader(http.StatusOK)
		}},
		{"not_found", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Digest", "sha=abc123")
			w.WriteHeader(http.StatusNotFound)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			r := newTestResolver(t, "repo.example.edu=repository:"+srv.URL)
			_, err := r.Resolve(context.Background(), "https://repo.example.edu/fedora/x")
			var re *ResolutionError
			if !errors.As(err, &re) {
				t.Fatalf("err = %v, want *ResolutionError", err)
			}
			if errors.Is(err, ErrUnknownOrigin) {
				t.Error("repository failure should not be reported as unknown origin")
			}
		})
	}
}

func TestResolve_UnknownOrigin(t *testing.T) {
	r := newTestResolver(t, "keep.lib.example.edu=object:")
	for _, ref := range []string{"https://example.org/a.mp4", "/relative/path.mp4"} {
		_, err := r.Resolve(context.Background(), ref)
		if !errors.Is(err, ErrUnknownOrigin) {
			t.Errorf("Resolve(%q) err = %v, want ErrUnknownOrigin", ref, err)
		}
	}
	if _, err := r.Resolve(context.Background(), "  "); err == nil {
		t.Error("expected error for empty reference")
	}
}

func TestParseDigestHeader(t *testing.T) {
	tests := []struct {
		name   string
		values []string
		want   string
	}{
		{"plain", []string{"sha=abc123"}, "abc123"},
		{"percent_encoded", []string{"sha%3Dabc123"}, "abc123"},
		{"prefers_sha", []string{"md5=ffff, sha=abc123"}, "abc123"},
		{"first_valid_fallback", []string{"md5=ffff"}, "ffff"},
		{"bare_value", []string{"abc123"}, "abc123"},
		{"invalid_only", []string{"sha=a/b"}, ""},
		{"empty", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseDigestHeader(tt.values); got != tt.want {
				t.Errorf("ParseDigestHeader(%v) = %q, want %q", tt.values, got, tt.want)
			}
		})
	}
}

func TestValidDigest(t *testing.T) {
	if !ValidDigest("abc123") {
		t.Error("abc123 should be valid")
	}
	for _, bad := range []string{"", "a b", "a;b", "../x", strings.Repeat("a", 201)} {
		if ValidDigest(bad) {
			t.Errorf("ValidDigest(%q) = true, want false", bad)
		}
	}
}
