// Package pathpolicy decides which filesystem paths the agent watches and
// snapshots, from a set of include/exclude path prefixes configured by the
// operator (see internal/config).
package pathpolicy

import (
	"path/filepath"
	"strings"
)

// Policy holds normalized include/exclude path lists. Construct with New;
// the zero value is not usable since normalization happens at
// construction time, matching the original agent's one-shot
// canonicalization on startup.
type Policy struct {
	includes []string
	excludes []string
}

// New builds a Policy from raw configured paths, normalizing each one.
// Absolute paths are canonicalized best-effort (symlinks resolved) when
// they exist on disk; paths that don't exist, or that are relative, are
// kept as given so a policy can still reference not-yet-created paths or
// component names like "node_modules".
func New(includes, excludes []string) *Policy {
	p := &Policy{
		includes: make([]string, 0, len(includes)),
		excludes: make([]string, 0, len(excludes)),
	}
	for _, inc := range includes {
		p.includes = append(p.includes, normalizePath(inc))
	}
	for _, exc := range excludes {
		p.excludes = append(p.excludes, normalizeExcludePath(exc))
	}
	return p
}

// normalizePath canonicalizes an absolute path if it currently exists,
// otherwise returns it unchanged so a configured-but-not-yet-created path
// still matches once it appears.
func normalizePath(p string) string {
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		return resolved
	}
	return p
}

// normalizeExcludePath only canonicalizes absolute exclude paths;
// relative excludes (e.g. "node_modules") are left alone since they are
// matched by path component, not by prefix.
func normalizeExcludePath(p string) string {
	if !filepath.IsAbs(p) {
		return p
	}
	return normalizePath(p)
}

// IsExcluded reports whether path is covered by any configured exclude.
// Absolute excludes match by directory prefix; relative excludes match
// if any path component equals the exclude (or the exclude's own
// components appear contiguously among path's components).
func (p *Policy) IsExcluded(path string) bool {
	for _, exc := range p.excludes {
		if filepath.IsAbs(exc) {
			if hasPathPrefix(path, exc) {
				return true
			}
			continue
		}
		if matchesByComponent(path, exc) {
			return true
		}
	}
	return false
}

// IsIncluded reports whether path is covered by an include prefix. An
// empty include list (common: "watch everything not excluded") is
// handled by ShouldWatch, not here.
func (p *Policy) IsIncluded(path string) bool {
	for _, inc := range p.includes {
		if hasPathPrefix(path, inc) {
			return true
		}
	}
	return false
}

// ShouldWatch applies the full policy: excludes always win; an empty
// include list means "everything not excluded"; otherwise the path must
// match an include.
func (p *Policy) ShouldWatch(path string) bool {
	if p.IsExcluded(path) {
		return false
	}
	if len(p.includes) == 0 {
		return true
	}
	return p.IsIncluded(path)
}

// hasPathPrefix reports whether path is prefix or equal to it, comparing
// whole path components so "/etc2" is not considered inside "/etc".
func hasPathPrefix(path, prefix string) bool {
	path = filepath.Clean(path)
	prefix = filepath.Clean(prefix)
	if path == prefix {
		return true
	}
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(path, prefix)
}

// matchesByComponent reports whether exclude's components appear as a
// contiguous run within path's components, e.g. exclude "a/b" matches
// path "/x/a/b/c" but not "/x/a/y/b".
func matchesByComponent(path, exclude string) bool {
	pathParts := splitComponents(path)
	excludeParts := splitComponents(exclude)
	if len(excludeParts) == 0 {
		return false
	}
	for i := 0; i+len(excludeParts) <= len(pathParts); i++ {
		match := true
		for j, ep := range excludeParts {
			if pathParts[i+j] != ep {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func splitComponents(p string) []string {
	clean := filepath.Clean(p)
	parts := strings.Split(clean, string(filepath.Separator))
	out := parts[:0:0]
	for _, part := range parts {
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
