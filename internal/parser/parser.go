// Package parser extracts structured file edits and dependency requests from
// free-form model output. The input has no fixed grammar; the parser is a
// closed set of extraction rules tried in priority order per line, and it
// never fails — malformed input degrades to an empty edit set with the whole
// text as summary.
package parser

import (
	"encoding/json"
	"regexp"
	"strings"

	"webforge/internal/logging"
)

// FileEdit is one full-content file replacement discovered in a response.
// Path is framework-relative in forward-slash form and not yet validated.
type FileEdit struct {
	Path    string
	Content string
}

// ParsedResponse is the structured result of parsing raw model output.
// Files preserve discovery order; duplicate paths are allowed and resolve
// last-write-wins when applied sequentially. Dependencies are de-duplicated
// case-sensitively, first occurrence order preserved.
type ParsedResponse struct {
	Summary      string
	Files        []FileEdit
	Dependencies []string
	Raw          string
}

var (
	// Form (a): explicit "File: <path>" line, optionally bulleted, bolded
	// or used as a heading.
	fileDeclRe = regexp.MustCompile(`^\s*(?:[#>*-]+\s*)*\**[Ff]ile(?:name)?\**\s*:\s*(.+?)\s*$`)

	// Line matching "Dependencies:" with the same decoration tolerance.
	depDeclRe = regexp.MustCompile(`^\s*(?:[#>*-]+\s*)*\**[Dd]ependencies\**\s*:\s*(.*)$`)

	// Form (b): a heading line that is itself a bare file path ending in a
	// recognized source extension.
	headingPathRe = regexp.MustCompile("^\\s*#{0,6}\\s*`?([\\w@./-]+\\.(?:tsx|ts|jsx|js|mjs|cjs|css|scss|json|html|md|svg|txt|ya?ml))`?\\s*$")

	// Form (c): fence info string embedding a file hint, e.g.
	// ```tsx file=src/app/page.tsx   or   ```ts filename="lib/utils.ts"
	fenceHintRe = regexp.MustCompile(`(?:^|\s)(?:file(?:name)?|path)\s*[:=]?\s*("[^"]+"|'[^']+'|\S+)`)

	// Form (d): a file marker comment in the first few lines of a fence
	// body, in line/block/hash/HTML comment style or bare.
	markerRe = regexp.MustCompile("^\\s*(?://|/\\*|#|<!--)?\\s*(?:[Ff]ile(?:name)?|[Pp]ath)?\\s*:?\\s*`?([\\w@./-]+\\.(?:tsx|ts|jsx|js|mjs|cjs|css|scss|json|html|md|svg|txt|ya?ml))`?\\s*(?:\\*/|-->)?\\s*$")

	bulletRe = regexp.MustCompile(`^\s*[-*+]\s+`)
)

const markerScanLines = 8

// Parse turns raw model output into a ParsedResponse. It never fails.
func Parse(raw string) ParsedResponse {
	result := ParsedResponse{Raw: raw}
	lines := strings.Split(raw, "\n")

	firstFileLine := -1
	seenDeps := make(map[string]bool)

	i := 0
	for i < len(lines) {
		line := lines[i]

		// 1. Dependency declaration line.
		if m := depDeclRe.FindStringSubmatch(line); m != nil && !fileDeclRe.MatchString(line) {
			rest, next := collectDependencyText(m[1], lines, i+1)
			for _, dep := range parseDependencyList(rest) {
				if !seenDeps[dep] {
					seenDeps[dep] = true
					result.Dependencies = append(result.Dependencies, dep)
				}
			}
			i = next
			continue
		}

		// 2a. Explicit "File: <path>" declaration followed by a fence.
		if m := fileDeclRe.FindStringSubmatch(line); m != nil {
			path := cleanPath(m[1])
			if fenceIdx, ok := nextFence(lines, i+1); ok && path != "" {
				content, next := consumeFence(lines, fenceIdx)
				result.Files = append(result.Files, FileEdit{Path: path, Content: content})
				if firstFileLine == -1 || i < firstFileLine {
					firstFileLine = i
				}
				i = next
				continue
			}
			i++
			continue
		}

		// 2b. Heading line that is itself a bare file path.
		if m := headingPathRe.FindStringSubmatch(line); m != nil {
			path := cleanPath(m[1])
			if fenceIdx, ok := nextFence(lines, i+1); ok && path != "" {
				content, next := consumeFence(lines, fenceIdx)
				result.Files = append(result.Files, FileEdit{Path: path, Content: content})
				if firstFileLine == -1 || i < firstFileLine {
					firstFileLine = i
				}
				i = next
				continue
			}
			i++
			continue
		}

		// 2c/2d. A fenced block: file hint on the opening line, or a
		// marker comment inside the first few content lines.
		if isFenceOpen(line) {
			fenceLine := i
			content, next := consumeFence(lines, i)

			if path := hintFromFenceInfo(line); path != "" {
				result.Files = append(result.Files, FileEdit{Path: path, Content: content})
				if firstFileLine == -1 || fenceLine < firstFileLine {
					firstFileLine = fenceLine
				}
			} else if path, stripped, ok := markerFromContent(content); ok {
				result.Files = append(result.Files, FileEdit{Path: path, Content: stripped})
				if firstFileLine == -1 || fenceLine < firstFileLine {
					firstFileLine = fenceLine
				}
			}
			// A fence with neither hint nor marker is inert.
			i = next
			continue
		}

		// 3. Inert line (prose).
		i++
	}

	if firstFileLine == -1 {
		result.Summary = strings.TrimSpace(raw)
	} else {
		result.Summary = strings.TrimSpace(strings.Join(lines[:firstFileLine], "\n"))
	}

	logging.Get(logging.CategoryParser).Debugf("parsed response: files=%d deps=%d summary=%d chars",
		len(result.Files), len(result.Dependencies), len(result.Summary))
	return result
}

// isFenceOpen reports whether a line opens a fenced code block.
func isFenceOpen(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "```")
}

// nextFence finds the next fence opening at or after start, skipping only
// blank lines. Returns the fence line index.
func nextFence(lines []string, start int) (int, bool) {
	for i := start; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "```") {
			return i, true
		}
		return 0, false
	}
	return 0, false
}

// consumeFence consumes a fenced block starting at the opening fence line.
// It returns the body and the index after the closing fence. An unterminated
// fence consumes to end of input.
func consumeFence(lines []string, open int) (string, int) {
	var body []string
	i := open + 1
	for ; i < len(lines); i++ {
		if strings.HasPrefix(strings.TrimSpace(lines[i]), "```") {
			return strings.Join(body, "\n"), i + 1
		}
		body = append(body, lines[i])
	}
	return strings.Join(body, "\n"), i
}

// hintFromFenceInfo extracts a file path from a fence info string such as
// "```tsx file=src/app/page.tsx".
func hintFromFenceInfo(fenceLine string) string {
	info := strings.TrimPrefix(strings.TrimSpace(fenceLine), "```")
	m := fenceHintRe.FindStringSubmatch(info)
	if m == nil {
		return ""
	}
	return cleanPath(m[1])
}

// markerFromContent looks for a file marker comment in the first few lines
// of a fence body. On a hit, the marker line is removed and leading blank
// lines after removal are trimmed.
func markerFromContent(content string) (path, stripped string, ok bool) {
	lines := strings.Split(content, "\n")
	limit := markerScanLines
	if len(lines) < limit {
		limit = len(lines)
	}
	for i := 0; i < limit; i++ {
		m := markerRe.FindStringSubmatch(lines[i])
		if m == nil {
			continue
		}
		path = cleanPath(m[1])
		if path == "" {
			continue
		}
		rest := append(append([]string{}, lines[:i]...), lines[i+1:]...)
		for len(rest) > 0 && strings.TrimSpace(rest[0]) == "" {
			rest = rest[1:]
		}
		return path, strings.Join(rest, "\n"), true
	}
	return "", "", false
}

// collectDependencyText gathers the dependency list text: the inline
// remainder of the declaration line plus, when the list is bracketed but
// unterminated or the remainder is empty, the following non-blank lines.
func collectDependencyText(inline string, lines []string, start int) (string, int) {
	text := strings.TrimSpace(inline)
	i := start

	needMore := text == "" || (strings.Contains(text, "[") && !strings.Contains(text, "]"))
	if !needMore {
		return text, i
	}

	for ; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" {
			break
		}
		// Do not swallow the start of a file declaration.
		if fileDeclRe.MatchString(lines[i]) || isFenceOpen(lines[i]) || headingPathRe.MatchString(lines[i]) {
			break
		}
		text += "\n" + lines[i]
		if strings.Contains(trimmed, "]") {
			i++
			break
		}
	}
	return text, i
}

// parseDependencyList turns dependency list text into names. JSON-array
// parsing is attempted first; on failure it falls back to stripping
// brackets and splitting by bulleted lines or commas.
func parseDependencyList(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	// JSON array attempt, on the bracketed region if present.
	if start := strings.Index(text, "["); start != -1 {
		if end := strings.LastIndex(text, "]"); end > start {
			var arr []string
			if err := json.Unmarshal([]byte(text[start:end+1]), &arr); err == nil {
				return trimItems(arr)
			}
		}
	}

	// Fallback: strip brackets and split.
	stripped := strings.Trim(text, "[]")
	lines := strings.Split(stripped, "\n")

	bulleted := 0
	for _, l := range lines {
		if bulletRe.MatchString(l) {
			bulleted++
		}
	}

	var items []string
	if bulleted >= 2 && !strings.Contains(stripped, ",") {
		for _, l := range lines {
			items = append(items, bulletRe.ReplaceAllString(l, ""))
		}
	} else {
		items = strings.Split(strings.ReplaceAll(stripped, "\n", ","), ",")
	}
	return trimItems(items)
}

// trimItems trims whitespace and surrounding quotes, dropping empties.
func trimItems(items []string) []string {
	var out []string
	for _, item := range items {
		item = strings.TrimSpace(item)
		item = strings.Trim(item, `"'`+"`")
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

// cleanPath normalizes a discovered path: bullet markers, surrounding
// quotes and a leading "./" are stripped.
func cleanPath(path string) string {
	path = strings.TrimSpace(path)
	path = bulletRe.ReplaceAllString(path, "")
	path = strings.Trim(path, `"'`+"`")
	path = strings.TrimPrefix(path, "./")
	return strings.TrimSpace(path)
}
