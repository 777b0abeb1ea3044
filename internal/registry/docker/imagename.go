package docker

import "strings"

// DefaultRegistry is the Docker Hub registry host.
const DefaultRegistry = "registry-1.docker.io"

// Scratch is the reserved empty base image.
const Scratch = "scratch"

// Ref is a parsed image reference.
type Ref struct {
	Registry string
	Repo     string
	// TagOrDigest is either a plain tag or a digest in "@sha256:..." form.
	TagOrDigest string
}

// IsDigest reports whether the reference pins a digest.
func (r Ref) IsDigest() bool {
	return strings.HasPrefix(r.TagOrDigest, "@")
}

// ParseImageName splits an image reference into registry, repository, and
// tag or digest. The first path segment is treated as a registry only when it
// contains a dot or colon or is the localhost marker; single-segment
// repositories on the default registry get the implicit library/ namespace;
// a digest takes precedence over a tag; absence of both defaults to latest.
func ParseImageName(name string) Ref {
	if strings.EqualFold(name, Scratch) {
		return Ref{Registry: Scratch, Repo: Scratch}
	}

	registry := DefaultRegistry
	repoPart := name
	if i := strings.Index(name, "/"); i >= 0 {
		first := name[:i]
		if strings.ContainsAny(first, ".:") || first == "localhost" {
			registry = first
			repoPart = name[i+1:]
		}
	}

	repo := repoPart
	tagOrDigest := "latest"
	if i := strings.Index(repoPart, "@"); i >= 0 {
		repo = repoPart[:i]
		tagOrDigest = repoPart[i:]
	} else if i := strings.LastIndex(repoPart, ":"); i >= 0 {
		repo = repoPart[:i]
		tagOrDigest = repoPart[i+1:]
	}

	// Docker Hub official images live under the library/ namespace.
	if registry == DefaultRegistry && !strings.Contains(repo, "/") {
		repo = "library/" + repo
	}

	return Ref{Registry: registry, Repo: repo, TagOrDigest: tagOrDigest}
}

// Canonicalize returns the canonical cache key for an image reference:
// implicit latest tag made explicit and the library/ namespace applied for
// single-segment names on the default registry. Canonicalize is idempotent.
func Canonicalize(name string) string {
	if strings.EqualFold(name, Scratch) {
		return Scratch
	}
	ref := ParseImageName(name)

	var b strings.Builder
	if ref.Registry != DefaultRegistry {
		b.WriteString(ref.Registry)
		b.WriteByte('/')
	}
	b.WriteString(ref.Repo)
	if ref.IsDigest() {
		b.WriteString(ref.TagOrDigest)
	} else {
		b.WriteByte(':')
		b.WriteString(ref.TagOrDigest)
	}
	return b.String()
}
