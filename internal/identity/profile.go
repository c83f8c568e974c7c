package identity

import (
	"fmt"
	"sort"
	"strings"
)

// OriginKind is the closed set of places a media reference can point at.
type OriginKind int

const (
	// ObjectStoreOrigin references map directly onto a key in the media bucket.
	ObjectStoreOrigin OriginKind = iota + 1
	// RepositoryOrigin references are repository URLs whose content digest
	// names the object in the media bucket.
	RepositoryOrigin
)

func (k OriginKind) String() string {
	switch k {
	case ObjectStoreOrigin:
		return "object"
	case RepositoryOrigin:
		return "repository"
	default:
		return fmt.Sprintf("OriginKind(%d)", int(k))
	}
}

// Profile is one configured origin. Prefix applies to ObjectStoreOrigin,
// MountPoint to RepositoryOrigin.
type Profile struct {
	Host       string
	Kind       OriginKind
	Prefix     string
	MountPoint string
}

// Profiles is an immutable host → profile table.
type Profiles struct {
	exact    map[string]Profile
	suffixes []Profile // longest host first
}

// ParseProfiles parses a comma-separated list of host=kind:value entries, e.g.
//
//	keep.lib.example.edu=object:keep-private/,cloudfront.net=object:,repo.example.edu=repository:http://fcrepo:8080/fcrepo
//
// An object entry may have an empty prefix; a repository entry needs a mount point.
func ParseProfiles(raw string) (*Profiles, error) {
	p := &Profiles{exact: make(map[string]Profile)}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		host, def, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("origin profile %q: missing '='", entry)
		}
		host = strings.ToLower(strings.TrimSpace(host))
		if host == "" {
			return nil, fmt.Errorf("origin profile %q: empty host", entry)
		}
		kind, value, ok := strings.Cut(def, ":")
		if !ok {
			return nil, fmt.Errorf("origin profile %q: missing kind", entry)
		}

		prof := Profile{Host: host}
		switch strings.TrimSpace(kind) {
		case "object":
			prof.Kind = ObjectStoreOrigin
			prof.Prefix = strings.TrimLeft(strings.TrimSpace(value), "/")
		case "repository":
			prof.Kind = RepositoryOrigin
			prof.MountPoint = strings.TrimRight(strings.TrimSpace(value), "/")
			if prof.MountPoint == "" {
				return nil, fmt.Errorf("origin profile %q: repository needs a mount point", entry)
			}
		default:
			return nil, fmt.Errorf("origin profile %q: unknown kind %q", entry, kind)
		}

		if _, dup := p.exact[host]; dup {
			return nil, fmt.Errorf("origin profile %q: duplicate host", entry)
		}
		p.exact[host] = prof
		p.suffixes = append(p.suffixes, prof)
	}

	sort.SliceStable(p.suffixes, func(i, j int) bool {
		return len(p.suffixes[i].Host) > len(p.suffixes[j].Host)
	})
	return p, nil
}

// Len returns the number of configured profiles.
func (p *Profiles) Len() int {
	if p == nil {
		return 0
	}
	return len(p.exact)
}

// Classify picks the profile for host: an exact match wins, otherwise the
// longest configured host that host ends with on a label boundary.
func (p *Profiles) Classify(host string) (Profile, bool) {
	if p == nil {
		return Profile{}, false
	}
	host = strings.ToLower(host)
	if prof, ok := p.exact[host]; ok {
		return prof, true
	}
	for _, prof := range p.suffixes {
		if strings.HasSuffix(host, "."+prof.Host) {
			return prof, true
		}
	}
	return Profile{}, false
}
