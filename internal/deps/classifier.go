// Package deps classifies and installs npm dependencies requested by the
// model. Classification is a pure function of the name's shape plus a small
// deny/allow list — registry reachability is a later, separate failure mode
// handled by the installer.
package deps

import (
	"strings"

	"webforge/internal/logging"
)

// Context carries what the classifier needs to know about the target.
type Context struct {
	// TargetIsWebFramework is true when the project is a Next.js app.
	TargetIsWebFramework bool
}

// denyList holds exact tokens the model keeps hallucinating as packages:
// Tailwind's internal layer paths, UI-generator tool names and one scoped
// package that has never existed on the registry.
var denyList = map[string]bool{
	"tailwindcss/base":       true,
	"tailwindcss/components": true,
	"tailwindcss/utilities":  true,
	"shadcn":                 true,
	"shadcn-ui":              true,
	"shadcn/ui":              true,
	"v0":                     true,
	"create-next-app":        true,
	"@next/navigation":       true,
}

// nextInternals are framework import paths that look like packages but are
// not installable; they ship inside the next package itself.
var nextInternals = map[string]bool{
	"next/router":     true,
	"next/link":       true,
	"next/image":      true,
	"next/head":       true,
	"next/server":     true,
	"next/navigation": true,
	"next/font":       true,
	"next/script":     true,
	"next/dynamic":    true,
}

// tailwindPluginAllowList are the real packages under the Tailwind plugin
// scope. Anything else under @tailwindcss/ is an invented name.
var tailwindPluginAllowList = map[string]bool{
	"@tailwindcss/forms":             true,
	"@tailwindcss/typography":        true,
	"@tailwindcss/aspect-ratio":      true,
	"@tailwindcss/container-queries": true,
	"@tailwindcss/postcss":           true,
	"@tailwindcss/vite":              true,
}

// FilterValid returns the installable subset of names, order preserved.
func FilterValid(names []string, ctx Context) []string {
	valid, _ := Partition(names, ctx)
	return valid
}

// Partition splits names into installable and blocked, both order
// preserving. Classification runs before any install attempt so "skipped
// due to invalidity" reports separately from "skipped due to install
// failure".
func Partition(names []string, ctx Context) (valid, blocked []string) {
	for _, name := range names {
		if IsValid(name, ctx) {
			valid = append(valid, name)
		} else {
			logging.DepsWarn("blocked dependency request: %q", name)
			blocked = append(blocked, name)
		}
	}
	return valid, blocked
}

// IsValid applies the rejection rules to a single requested name.
func IsValid(name string, ctx Context) bool {
	if name == "" {
		return false
	}

	// Whitespace means it was never a package name.
	if strings.ContainsAny(name, " \t\r\n") {
		return false
	}

	if denyList[name] || nextInternals[name] {
		return false
	}

	// The framework-internal scope wholesale.
	if strings.HasPrefix(name, "@next/") {
		return false
	}

	if isVCSSpecifier(name) {
		return false
	}

	// Next.js has its own routing; a request for the competing client-side
	// router signals a modeling mistake, not a real need.
	if ctx.TargetIsWebFramework {
		if name == "react-router-dom" || strings.HasPrefix(name, "react-router-dom@") {
			return false
		}
	}

	// Unscoped sub-path imports ("lodash/merge") are import specifiers,
	// never declarations.
	if strings.Contains(name, "/") && !strings.HasPrefix(name, "@") {
		return false
	}

	if strings.HasPrefix(name, "@tailwindcss/") && !tailwindPluginAllowList[name] {
		return false
	}

	return true
}

// isVCSSpecifier reports URL-or-VCS-style specifiers, which are never
// legitimate here: the model should request registry names only.
func isVCSSpecifier(name string) bool {
	switch {
	case strings.HasPrefix(name, "git+"),
		strings.HasPrefix(name, "git://"),
		strings.HasPrefix(name, "ssh://"),
		strings.HasPrefix(name, "github:"),
		strings.Contains(name, "github.com/"),
		strings.HasSuffix(name, ".git"):
		return true
	}
	return false
}

// IsDevDependency reports whether a package conventionally belongs in the
// dev bucket: type declarations and the TypeScript compiler itself.
func IsDevDependency(name string) bool {
	return strings.HasPrefix(name, "@types/") || name == "typescript"
}
