// Package project computes stable identifiers for a conversation source
// directory: a normalized project name and the vector-store collection name
// derived from it.
package project

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrEmptyProjectPath is returned when a project path is empty.
var ErrEmptyProjectPath = errors.New("project path cannot be empty")

// anchors are path components that precede the real project name in
// common workspace layouts (~/projects/foo, ~/code/foo, ~/src/foo).
var anchors = map[string]bool{
	"projects": true,
	"repos":    true,
	"code":     true,
	"src":      true,
}

// excluded components are never used as the project name even when they
// are the last path component.
var excluded = map[string]bool{
	"home":  true,
	"users": true,
	"var":   true,
	"tmp":   true,
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// Name normalizes a filesystem project path into a stable project name,
// following the rules in order:
//  1. expand to an absolute path
//  2. walk components; the component right after an anchor
//     ("projects", "repos", "code", "src") is the candidate name
//  3. otherwise take the last component that is non-empty, doesn't
//     start with '.', and isn't in the excluded set
//  4. lowercase, collapse runs of non [a-z0-9] into a single '_',
//     strip leading/trailing '_'; "default" if the result is empty
func Name(projectPath string) (string, error) {
	if projectPath == "" {
		return "", ErrEmptyProjectPath
	}

	abs, err := filepath.Abs(projectPath)
	if err != nil {
		return "", err
	}
	abs = filepath.ToSlash(abs)
	parts := strings.Split(abs, "/")

	var candidate string
	for i, p := range parts {
		if anchors[strings.ToLower(p)] && i+1 < len(parts) && parts[i+1] != "" {
			candidate = parts[i+1]
		}
	}

	if candidate == "" {
		for i := len(parts) - 1; i >= 0; i-- {
			p := parts[i]
			if p == "" || strings.HasPrefix(p, ".") {
				continue
			}
			if excluded[strings.ToLower(p)] {
				continue
			}
			candidate = p
			break
		}
	}

	normalized := strings.ToLower(candidate)
	normalized = nonAlnum.ReplaceAllString(normalized, "_")
	normalized = strings.Trim(normalized, "_")
	if normalized == "" {
		normalized = "default"
	}
	return normalized, nil
}

// CollectionName derives the vector-store collection name for a project
// name and an embedding-provider suffix ("local" or "voyage"):
// conv_<first 8 hex chars of md5(project name)>_<suffix>.
func CollectionName(projectName, providerSuffix string) string {
	sum := md5.Sum([]byte(projectName))
	h := hex.EncodeToString(sum[:])[:8]
	return "conv_" + h + "_" + providerSuffix
}

// CollectionFor is the combined operation: normalize the project path and
// derive its collection name for the given provider suffix. The same
// project path always yields the same collection name regardless of
// caller (ingester or search engine) — this is a hard invariant.
func CollectionFor(projectPath, providerSuffix string) (projectName, collectionName string, err error) {
	projectName, err = Name(projectPath)
	if err != nil {
		return "", "", err
	}
	return projectName, CollectionName(projectName, providerSuffix), nil
}
