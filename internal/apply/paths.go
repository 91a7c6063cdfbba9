package apply

import (
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	bulletPrefixRe = regexp.MustCompile(`^\s*[-*+]\s+`)
	lineColRe      = regexp.MustCompile(`:\d+(?::\d+)?$`)
)

// ContainPath cleans a model-supplied file path and verifies it resolves
// inside projectDir. It returns the normalized project-relative path in
// forward-slash form. Escaping the project root is a hard error, not a
// partial-failure case.
func ContainPath(projectDir, raw string) (string, error) {
	p := strings.TrimSpace(raw)
	p = bulletPrefixRe.ReplaceAllString(p, "")
	p = strings.Trim(p, `"'`+"`")
	p = lineColRe.ReplaceAllString(p, "")
	p = strings.TrimPrefix(p, "./")
	p = strings.TrimSpace(p)

	if p == "" {
		return "", fmt.Errorf("empty file path")
	}

	// An absolute path is re-resolved relative to the project root and
	// re-validated as relative.
	if filepath.IsAbs(p) || path.IsAbs(p) {
		absRoot, err := filepath.Abs(projectDir)
		if err != nil {
			return "", fmt.Errorf("cannot resolve project root: %w", err)
		}
		rel, err := filepath.Rel(absRoot, filepath.Clean(p))
		if err != nil {
			return "", fmt.Errorf("path %q is outside the project root", raw)
		}
		p = filepath.ToSlash(rel)
	}

	cleaned := path.Clean(p)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("path %q escapes the project root", raw)
	}
	return cleaned, nil
}
