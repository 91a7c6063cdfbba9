// Package rewrite holds the Next.js source-level corrections applied to
// model-generated files. The Change Applier runs them before writing and
// the Repair Pass runs them again before each preview start; both go
// through this package so the heuristics cannot drift apart.
package rewrite

import (
	"path"
	"regexp"
	"strings"
)

var (
	routerLinkImportRe = regexp.MustCompile(`import\s*\{[^}]*\bLink\b[^}]*\}\s*from\s*['"]react-router-dom['"];?`)
	linkToPropRe       = regexp.MustCompile(`(<Link\b[^>]*?)\bto=`)

	// A plain (value) import of the Metadata type, which breaks under
	// isolatedModules.
	metadataValueImportRe = regexp.MustCompile(`import\s*\{\s*Metadata\s*\}\s*from\s*(['"])next(['"])`)
	metadataImportLineRe  = regexp.MustCompile(`(?m)^import\s+(?:type\s*)?\{\s*(?:type\s+)?Metadata\s*\}\s*from\s*['"]next['"];?\s*\n?`)

	stylesheetImportRe = regexp.MustCompile(`(?m)^import\s+['"][^'"]*\.css['"];?\s*\n?`)

	useClientLineRe  = regexp.MustCompile(`(?m)^\s*['"]use client['"];?\s*\n?`)
	metadataExportRe = regexp.MustCompile(`(?m)^export\s+const\s+metadata\b`)
	generateMetaRe   = regexp.MustCompile(`(?m)^export\s+(?:async\s+)?function\s+generateMetadata\b`)
	inlineHandlerRe  = regexp.MustCompile(`\bon(?:Click|Change|Submit|Input)\s*=\s*\{`)
	nextNavImportRe  = regexp.MustCompile(`from\s*['"]next/navigation['"]`)
)

// clientHooks are the React hooks whose presence marks a component as
// client-side.
var clientHooks = []string{
	"useState", "useEffect", "useRef", "useContext", "useReducer",
	"useCallback", "useMemo", "useLayoutEffect", "useTransition",
	"useOptimistic", "useActionState",
}

// routerHooks are the Next.js navigation hooks, client-only as well.
var routerHooks = []string{
	"useRouter", "usePathname", "useSearchParams", "useParams",
	"useSelectedLayoutSegment", "useSelectedLayoutSegments",
}

// IsRoutedPage reports whether a framework-relative path is an app-router
// page file.
func IsRoutedPage(p string) bool {
	base := path.Base(p)
	switch base {
	case "page.tsx", "page.jsx", "page.ts", "page.js":
	default:
		return false
	}
	return strings.Contains(p, "app/")
}

// HasClientUsage applies the shared client-detection heuristic: React hook
// names, router hook names, a next/navigation import, or an inline handler
// prop. Used identically at apply time and repair time.
func HasClientUsage(content string) bool {
	for _, hook := range clientHooks {
		if strings.Contains(content, hook+"(") {
			return true
		}
	}
	for _, hook := range routerHooks {
		if strings.Contains(content, hook+"(") {
			return true
		}
	}
	if nextNavImportRe.MatchString(content) {
		return true
	}
	return inlineHandlerRe.MatchString(content)
}

// HasUseClientDirective reports a "use client" marker anywhere at line
// start. The directive is only legal as the first statement, but the model
// puts it in odd places; detection stays permissive.
func HasUseClientDirective(content string) bool {
	return useClientLineRe.MatchString(content)
}

// HasMetadataExport reports a page metadata export (constant or generator).
func HasMetadataExport(content string) bool {
	return metadataExportRe.MatchString(content) || generateMetaRe.MatchString(content)
}

// FixSource applies the corrective rewrites appropriate for a single file
// about to land in a Next.js project. It returns the fixed content and
// whether anything changed.
func FixSource(filePath, content string) (string, bool) {
	orig := content

	// The competing router's Link, the mistake the model makes most.
	content = routerLinkImportRe.ReplaceAllString(content, `import Link from "next/link";`)
	content = linkToPropRe.ReplaceAllString(content, "${1}href=")

	// Metadata must be a type-only import.
	content = metadataValueImportRe.ReplaceAllString(content, "import type { Metadata } from ${1}next${2}")

	if IsRoutedPage(filePath) {
		// Stylesheet imports belong in the root layout, not routed pages.
		content = stylesheetImportRe.ReplaceAllString(content, "")
		content, _ = ResolveClientMetadataConflict(content)
	}

	return content, content != orig
}

// ResolveClientMetadataConflict handles the illegal combination of a
// "use client" marker with a page metadata export. When the file shows no
// client-only usage the marker is dropped; otherwise the metadata export
// (and a now-unused Metadata type import) is stripped instead.
func ResolveClientMetadataConflict(content string) (string, bool) {
	if !HasUseClientDirective(content) || !HasMetadataExport(content) {
		return content, false
	}

	if !HasClientUsage(content) {
		content = useClientLineRe.ReplaceAllString(content, "")
		return strings.TrimLeft(content, "\n"), true
	}

	content = removeMetadataExports(content)
	if !strings.Contains(stripMetadataImports(content), "Metadata") {
		content = stripMetadataImports(content)
	}
	return content, true
}

// stripMetadataImports drops the Metadata type import line.
func stripMetadataImports(content string) string {
	return metadataImportLineRe.ReplaceAllString(content, "")
}

// removeMetadataExports removes "export const metadata = {...}" blocks
// (tracking brace balance across lines) and generateMetadata functions.
func removeMetadataExports(content string) string {
	lines := strings.Split(content, "\n")
	var out []string

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if !metadataExportRe.MatchString(line) && !generateMetaRe.MatchString(line) {
			out = append(out, line)
			continue
		}

		depth := 0
		opened := false
		for ; i < len(lines); i++ {
			for _, r := range lines[i] {
				switch r {
				case '{':
					depth++
					opened = true
				case '}':
					depth--
				}
			}
			if opened && depth <= 0 {
				break
			}
			// A single-line export with no braces ends immediately.
			if !opened && strings.HasSuffix(strings.TrimSpace(lines[i]), ";") {
				break
			}
		}
	}
	return strings.Join(out, "\n")
}

// FixFontImports rewrites the Geist font loaders, which are unavailable in
// the pinned framework version, to equivalent Google font loaders. CSS
// variable names are left untouched so the generated styles keep working.
func FixFontImports(content string) (string, bool) {
	if !strings.Contains(content, "next/font/google") || !strings.Contains(content, "Geist") {
		return content, false
	}
	content = regexp.MustCompile(`\bGeist_Mono\b`).ReplaceAllString(content, "Roboto_Mono")
	content = regexp.MustCompile(`\bGeist\b`).ReplaceAllString(content, "Inter")
	return content, true
}

// generatorScopeImportRe matches imports from the UI-generator package
// scopes that do not exist on the registry.
var generatorScopeImportRe = regexp.MustCompile(`(['"])(?:@shadcn/ui|shadcn/ui|@shadcn)(/[^'"]*)?(['"])`)

// FixGeneratorImports points imports of the nonexistent component-generator
// scope at the local synthesized stubs instead.
func FixGeneratorImports(content string) (string, bool) {
	orig := content
	content = generatorScopeImportRe.ReplaceAllString(content, `${1}@/components/ui${2}${3}`)
	return content, content != orig
}
