package parser

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParse_SummaryOnly(t *testing.T) {
	raw := "I looked at the project.\n\nNothing needs to change."
	res := Parse(raw)

	if len(res.Files) != 0 {
		t.Errorf("expected no files, got %d", len(res.Files))
	}
	if len(res.Dependencies) != 0 {
		t.Errorf("expected no dependencies, got %v", res.Dependencies)
	}
	if res.Summary != strings.TrimSpace(raw) {
		t.Errorf("summary mismatch: %q", res.Summary)
	}
}

func TestParse_RoundTrip(t *testing.T) {
	// Property: a summary paragraph + N well-formed File segments + a
	// Dependencies line round-trips exactly.
	summary := "Here is the contact page you asked for."
	edits := []FileEdit{
		{Path: "src/app/contact/page.tsx", Content: "export default function Contact() {\n  return <div>hi</div>;\n}"},
		{Path: "src/lib/email.ts", Content: "export const send = () => {};"},
	}

	var sb strings.Builder
	sb.WriteString(summary + "\n\n")
	for _, e := range edits {
		fmt.Fprintf(&sb, "File: %s\n```tsx\n%s\n```\n\n", e.Path, e.Content)
	}
	sb.WriteString(`Dependencies: ["lodash", "zod"]` + "\n")

	res := Parse(sb.String())

	if diff := cmp.Diff(edits, res.Files); diff != "" {
		t.Errorf("files mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"lodash", "zod"}, res.Dependencies); diff != "" {
		t.Errorf("dependencies mismatch (-want +got):\n%s", diff)
	}
	if res.Summary != summary {
		t.Errorf("summary = %q, want %q", res.Summary, summary)
	}
}

func TestParse_SurfaceFormEquivalence(t *testing.T) {
	// The four file-declaration surface forms must produce identical edits.
	path := "src/app/about/page.tsx"
	content := "export default function About() {\n  return null;\n}"

	inputs := map[string]string{
		"explicit":     fmt.Sprintf("File: %s\n```tsx\n%s\n```", path, content),
		"heading":      fmt.Sprintf("### %s\n```tsx\n%s\n```", path, content),
		"fence hint":   fmt.Sprintf("```tsx file=%s\n%s\n```", path, content),
		"inner marker": fmt.Sprintf("```tsx\n// %s\n%s\n```", path, content),
	}

	for name, raw := range inputs {
		t.Run(name, func(t *testing.T) {
			res := Parse(raw)
			want := []FileEdit{{Path: path, Content: content}}
			if diff := cmp.Diff(want, res.Files); diff != "" {
				t.Errorf("files mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParse_MarkerCommentStyles(t *testing.T) {
	path := "src/styles/globals.css"
	for _, marker := range []string{
		"/* " + path + " */",
		"# " + path,
		"<!-- " + path + " -->",
		path,
		"// File: " + path,
	} {
		t.Run(marker, func(t *testing.T) {
			raw := "```css\n" + marker + "\n\nbody { margin: 0; }\n```"
			res := Parse(raw)
			if len(res.Files) != 1 {
				t.Fatalf("expected 1 file, got %d", len(res.Files))
			}
			if res.Files[0].Path != path {
				t.Errorf("path = %q, want %q", res.Files[0].Path, path)
			}
			// Marker line stripped, leading blanks trimmed.
			if res.Files[0].Content != "body { margin: 0; }" {
				t.Errorf("content = %q", res.Files[0].Content)
			}
		})
	}
}

func TestParse_UnterminatedFence(t *testing.T) {
	raw := "File: src/x.ts\n```ts\nconst a = 1;\nconst b = 2;"
	res := Parse(raw)

	if len(res.Files) != 1 {
		t.Fatalf("expected 1 file, got %d", len(res.Files))
	}
	if res.Files[0].Content != "const a = 1;\nconst b = 2;" {
		t.Errorf("content = %q", res.Files[0].Content)
	}
}

func TestParse_PathNormalization(t *testing.T) {
	cases := map[string]string{
		"File: ./src/app/page.tsx":   "src/app/page.tsx",
		`File: "src/app/page.tsx"`:   "src/app/page.tsx",
		"- File: `src/app/page.tsx`": "src/app/page.tsx",
	}
	for decl, want := range cases {
		res := Parse(decl + "\n```tsx\nx\n```")
		if len(res.Files) != 1 {
			t.Fatalf("%q: expected 1 file", decl)
		}
		if res.Files[0].Path != want {
			t.Errorf("%q: path = %q, want %q", decl, res.Files[0].Path, want)
		}
	}
}

func TestParse_DependencyForms(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want []string
	}{
		{
			name: "inline json",
			raw:  `Dependencies: ["lodash", "axios"]`,
			want: []string{"lodash", "axios"},
		},
		{
			name: "inline comma",
			raw:  "Dependencies: lodash, axios",
			want: []string{"lodash", "axios"},
		},
		{
			name: "bulleted",
			raw:  "Dependencies:\n- lodash\n- axios",
			want: []string{"lodash", "axios"},
		},
		{
			name: "multiline array",
			raw:  "Dependencies: [\n  \"lodash\",\n  \"axios\"\n]",
			want: []string{"lodash", "axios"},
		},
		{
			name: "bulleted heading",
			raw:  "## Dependencies: `lodash`, 'axios'",
			want: []string{"lodash", "axios"},
		},
		{
			name: "deduplicated",
			raw:  "Dependencies: lodash, axios, lodash",
			want: []string{"lodash", "axios"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := Parse(tc.raw)
			if diff := cmp.Diff(tc.want, res.Dependencies); diff != "" {
				t.Errorf("dependencies mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParse_DuplicatePathsPreserved(t *testing.T) {
	raw := "File: a.ts\n```ts\nfirst\n```\nFile: a.ts\n```ts\nsecond\n```"
	res := Parse(raw)

	// Duplicates are kept in order; sequential application makes the last
	// write win.
	if len(res.Files) != 2 {
		t.Fatalf("expected 2 edits, got %d", len(res.Files))
	}
	if res.Files[1].Content != "second" {
		t.Errorf("last edit content = %q", res.Files[1].Content)
	}
}

func TestParse_SummaryStopsAtFirstTrigger(t *testing.T) {
	raw := "Adding the page.\n\n```tsx file=src/app/page.tsx\nexport default () => null;\n```\n\nDone, enjoy!"
	res := Parse(raw)

	if res.Summary != "Adding the page." {
		t.Errorf("summary = %q", res.Summary)
	}
}

func TestParse_AnonymousFenceIsInert(t *testing.T) {
	raw := "Run this:\n\n```bash\nnpm install\n```\n\nThen restart."
	res := Parse(raw)

	if len(res.Files) != 0 {
		t.Errorf("expected no files from anonymous fence, got %v", res.Files)
	}
	if res.Summary != strings.TrimSpace(raw) {
		t.Errorf("summary = %q", res.Summary)
	}
}
