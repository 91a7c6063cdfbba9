// Package repair hardens a generated Next.js project immediately before a
// preview start. Every fixup targets a known class of model-generated
// mistake, runs best-effort, and is idempotent: a second pass over an
// already-repaired tree changes nothing.
package repair

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"webforge/internal/logging"
	"webforge/internal/project"
	"webforge/internal/rewrite"
)

// Result reports what the pass did.
type Result struct {
	// ReinstallNeeded is set when the manifest changed and node_modules
	// no longer matches it.
	ReinstallNeeded bool

	// Applied lists human-readable descriptions of the fixups that
	// changed something, in execution order.
	Applied []string
}

// corePins are the known-good versions added when the manifest is missing
// the framework runtime entirely.
var corePins = map[string]string{
	"next":      "15.1.6",
	"react":     "^19.0.0",
	"react-dom": "^19.0.0",
}

// tailwindV4Pins must agree with a v4 stylesheet syntax when one is found.
var tailwindV4Pins = map[string]string{
	"tailwindcss":          "^4",
	"@tailwindcss/postcss": "^4",
}

// optionalPostcssPlugins are integrations the model likes to reference in
// postcss config without declaring them. An undeclared reference breaks the
// dev server at startup, so it gets neutralized rather than installed.
var optionalPostcssPlugins = []string{"autoprefixer", "cssnano", "tailwindcss-animate"}

var (
	nextConfigTypeImportRe = regexp.MustCompile(`(?m)^import\s+(?:type\s+)?\{\s*NextConfig\s*\}\s+from\s+['"]next['"];?\s*\n?`)
	nextConfigAnnotationRe = regexp.MustCompile(`:\s*NextConfig\b`)
	exportAssignRe         = regexp.MustCompile(`(?m)^export\s*=\s*`)

	tailwindV4ImportRe = regexp.MustCompile(`@import\s+['"]tailwindcss['"]`)

	uiPrimitiveImportRe = regexp.MustCompile(`from\s+['"]@/components/ui/([\w-]+)['"]`)

	deprecatedLayoutRe = regexp.MustCompile(`Component,\s*pageProps|<Outlet\b|from\s+['"]react-router`)
)

// pass carries shared state across fixups. The manifest loads once and
// saves once so fixups cannot clobber each other's edits.
type pass struct {
	dir           string
	manifest      *project.Manifest
	manifestErr   error
	manifestDirty bool
	result        Result
}

// Repair runs all fixups against a project directory. Individual fixup
// failures are logged and swallowed; the pass always completes.
func Repair(projectDir string) Result {
	p := &pass{dir: projectDir}

	fixups := []struct {
		name string
		fn   func(*pass) error
	}{
		{"config file format", (*pass).fixConfigFormat},
		{"styling version coherence", (*pass).fixTailwindVersion},
		{"core runtime packages", (*pass).fixCoreManifest},
		{"undeclared postcss plugin", (*pass).fixUndeclaredPostcssPlugin},
		{"root layout", (*pass).fixRootLayout},
		{"font loader imports", (*pass).fixFontImports},
		{"client marker vs metadata", (*pass).fixClientMetadataConflicts},
		{"generator package imports", (*pass).fixGeneratorImports},
		{"missing ui primitives", (*pass).fixMissingPrimitives},
	}

	for _, f := range fixups {
		if err := f.fn(p); err != nil {
			logging.RepairWarn("%s fixup failed: %v", f.name, err)
		}
	}

	if p.manifestDirty {
		if err := p.manifest.Save(p.dir); err != nil {
			logging.RepairWarn("failed to save package.json: %v", err)
		} else {
			p.result.ReinstallNeeded = true
		}
	}
	return p.result
}

func (p *pass) applied(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	logging.Repair("%s", msg)
	p.result.Applied = append(p.result.Applied, msg)
}

// loadManifest loads package.json once. A missing manifest is an error for
// the fixups that need it; they skip rather than fabricate a project.
func (p *pass) loadManifest() (*project.Manifest, error) {
	if p.manifest == nil && p.manifestErr == nil {
		p.manifest, p.manifestErr = project.LoadManifest(p.dir)
	}
	return p.manifest, p.manifestErr
}

// pinDependency sets a package version, updating whichever bucket already
// declares it, otherwise adding to the requested one.
func (p *pass) pinDependency(name, version string, dev bool) bool {
	m, err := p.loadManifest()
	if err != nil {
		return false
	}
	if v, ok := m.Dependencies[name]; ok {
		if v == version {
			return false
		}
		m.Dependencies[name] = version
	} else if v, ok := m.DevDependencies[name]; ok {
		if v == version {
			return false
		}
		m.DevDependencies[name] = version
	} else if dev {
		m.DevDependencies[name] = version
	} else {
		m.Dependencies[name] = version
	}
	p.manifestDirty = true
	return true
}

// fixConfigFormat handles next.config.ts, which Next.js only accepts on
// newer releases. When a supported-format config already exists the
// TypeScript one is renamed aside; otherwise it is transpiled by hand
// (strip the NextConfig type plumbing, normalize the export) into
// next.config.mjs and the original renamed aside.
func (p *pass) fixConfigFormat() error {
	tsPath := filepath.Join(p.dir, "next.config.ts")
	if _, err := os.Stat(tsPath); errors.Is(err, fs.ErrNotExist) {
		return nil
	} else if err != nil {
		return err
	}

	for _, alt := range []string{"next.config.mjs", "next.config.js"} {
		if _, err := os.Stat(filepath.Join(p.dir, alt)); err == nil {
			if err := os.Rename(tsPath, tsPath+".bak"); err != nil {
				return err
			}
			p.applied("renamed next.config.ts aside, %s already present", alt)
			return nil
		}
	}

	data, err := os.ReadFile(tsPath)
	if err != nil {
		return err
	}
	js := nextConfigTypeImportRe.ReplaceAllString(string(data), "")
	js = nextConfigAnnotationRe.ReplaceAllString(js, "")
	js = exportAssignRe.ReplaceAllString(js, "export default ")

	if err := os.WriteFile(filepath.Join(p.dir, "next.config.mjs"), []byte(js), 0644); err != nil {
		return err
	}
	if err := os.Rename(tsPath, tsPath+".bak"); err != nil {
		return err
	}
	p.applied("converted next.config.ts to next.config.mjs")
	return nil
}

// fixTailwindVersion aligns the postcss plugin reference and the manifest
// pins with the major version the stylesheet syntax implies. Only the v4
// direction needs handling: `@import "tailwindcss"` paired with v3 tooling
// fails at server start.
func (p *pass) fixTailwindVersion() error {
	css, _ := p.findGlobalStylesheet()
	if css == "" || !tailwindV4ImportRe.MatchString(css) {
		return nil
	}

	for name, version := range tailwindV4Pins {
		if cur, ok := p.versionOf(name); ok && majorOf(cur) == "4" {
			continue
		}
		if p.pinDependency(name, version, true) {
			p.applied("pinned %s to %s for the v4 stylesheet syntax", name, version)
		}
	}

	return p.ensurePostcssV4()
}

func (p *pass) versionOf(name string) (string, bool) {
	m, err := p.loadManifest()
	if err != nil {
		return "", false
	}
	return m.DependencyVersion(name)
}

// majorOf extracts the major version from a range like "^3.4.1".
func majorOf(v string) string {
	v = strings.TrimLeft(v, "^~>=< v")
	if i := strings.IndexAny(v, ".-"); i >= 0 {
		v = v[:i]
	}
	return v
}

const postcssV4Config = `const config = {
  plugins: ["@tailwindcss/postcss"],
};

export default config;
`

// ensurePostcssV4 makes sure the postcss config routes through the v4
// plugin package. A missing config is written fresh; a v3-style config is
// replaced wholesale.
func (p *pass) ensurePostcssV4() error {
	path, data := p.findPostcssConfig()
	if path == "" {
		path = filepath.Join(p.dir, "postcss.config.mjs")
		if err := os.WriteFile(path, []byte(postcssV4Config), 0644); err != nil {
			return err
		}
		p.applied("wrote postcss.config.mjs for tailwind v4")
		return nil
	}
	if strings.Contains(string(data), "@tailwindcss/postcss") {
		return nil
	}
	if err := os.WriteFile(path, []byte(postcssV4Config), 0644); err != nil {
		return err
	}
	p.applied("replaced %s with a tailwind v4 plugin config", filepath.Base(path))
	return nil
}

// fixCoreManifest adds the framework and its rendering libraries at pinned
// versions when they are missing outright.
func (p *pass) fixCoreManifest() error {
	if _, err := p.loadManifest(); err != nil {
		return nil // no manifest, nothing to repair
	}
	for name, version := range corePins {
		if _, ok := p.versionOf(name); ok {
			continue
		}
		if p.pinDependency(name, version, false) {
			p.applied("added missing core package %s@%s", name, version)
		}
	}
	return nil
}

// fixUndeclaredPostcssPlugin neutralizes a postcss config that references
// an optional plugin the manifest never declares. The server refuses to
// start on an unresolvable plugin, so the whole config is replaced with a
// minimal one instead.
func (p *pass) fixUndeclaredPostcssPlugin() error {
	path, data := p.findPostcssConfig()
	if path == "" {
		return nil
	}
	m, err := p.loadManifest()
	if err != nil {
		return nil
	}

	for _, plugin := range optionalPostcssPlugins {
		if !strings.Contains(string(data), `"`+plugin+`"`) &&
			!strings.Contains(string(data), `'`+plugin+`'`) {
			continue
		}
		if m.HasDependency(plugin) {
			continue
		}

		replacement := "const config = {\n  plugins: {},\n};\n\nexport default config;\n"
		if css, _ := p.findGlobalStylesheet(); tailwindV4ImportRe.MatchString(css) {
			replacement = postcssV4Config
		}
		if err := os.WriteFile(path, []byte(replacement), 0644); err != nil {
			return err
		}
		p.applied("neutralized undeclared postcss plugin %s", plugin)
		return nil
	}
	return nil
}

const minimalLayout = `export default function RootLayout({
  children,
}: {
  children: React.ReactNode;
}) {
  return (
    <html lang="en">
      <body>{children}</body>
    </html>
  );
}
`

// fixRootLayout replaces a root layout written against a deprecated or
// foreign API shape (pages-router _app signature, react-router outlet) with
// a minimal valid one. Partial patching is hopeless here; the shapes are
// too different.
func (p *pass) fixRootLayout() error {
	for _, rel := range []string{
		"src/app/layout.tsx", "src/app/layout.jsx",
		"app/layout.tsx", "app/layout.jsx",
	} {
		abs := filepath.Join(p.dir, filepath.FromSlash(rel))
		data, err := os.ReadFile(abs)
		if err != nil {
			continue
		}
		if !deprecatedLayoutRe.Match(data) {
			continue
		}

		content := minimalLayout
		if _, err := os.Stat(filepath.Join(filepath.Dir(abs), "globals.css")); err == nil {
			content = "import \"./globals.css\";\n\n" + content
		}
		if err := os.WriteFile(abs, []byte(content), 0644); err != nil {
			return err
		}
		p.applied("replaced invalid root layout %s with a minimal one", rel)
		return nil
	}
	return nil
}

func (p *pass) fixFontImports() error {
	return p.rewriteSources("rewrote incompatible font imports in %s", rewrite.FixFontImports)
}

// fixClientMetadataConflicts applies the same conflict resolution the
// applier runs at write time, catching edits that reached disk some other
// way.
func (p *pass) fixClientMetadataConflicts() error {
	return p.walkSources(func(abs, rel string, data []byte) error {
		if !rewrite.IsRoutedPage(rel) {
			return nil
		}
		fixed, changed := rewrite.ResolveClientMetadataConflict(string(data))
		if !changed {
			return nil
		}
		if err := os.WriteFile(abs, []byte(fixed), 0644); err != nil {
			return err
		}
		p.applied("resolved client marker / metadata conflict in %s", rel)
		return nil
	})
}

func (p *pass) fixGeneratorImports() error {
	return p.rewriteSources("redirected generator package imports in %s", rewrite.FixGeneratorImports)
}

// fixMissingPrimitives synthesizes a stub for every @/components/ui import
// that has no backing file, so the module graph resolves and the page can
// at least render.
func (p *pass) fixMissingPrimitives() error {
	referenced := map[string]bool{}
	err := p.walkSources(func(abs, rel string, data []byte) error {
		for _, m := range uiPrimitiveImportRe.FindAllSubmatch(data, -1) {
			referenced[string(m[1])] = true
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(referenced) == 0 {
		return nil
	}

	uiDir := filepath.Join(p.dir, "components", "ui")
	if _, err := os.Stat(filepath.Join(p.dir, "src")); err == nil {
		uiDir = filepath.Join(p.dir, "src", "components", "ui")
	}

	for name := range referenced {
		if primitiveExists(uiDir, name) {
			continue
		}
		if err := os.MkdirAll(uiDir, 0755); err != nil {
			return err
		}
		stub := primitiveStub(name)
		if err := os.WriteFile(filepath.Join(uiDir, name+".tsx"), []byte(stub), 0644); err != nil {
			return err
		}
		p.applied("synthesized missing ui primitive components/ui/%s.tsx", name)
	}
	return nil
}

func primitiveExists(uiDir, name string) bool {
	for _, ext := range []string{".tsx", ".ts", ".jsx", ".js"} {
		if _, err := os.Stat(filepath.Join(uiDir, name+ext)); err == nil {
			return true
		}
	}
	_, err := os.Stat(filepath.Join(uiDir, name, "index.tsx"))
	return err == nil
}

// primitiveStub builds a minimal placeholder component. The tag follows the
// primitive's name when it maps to a native element.
func primitiveStub(name string) string {
	tag := "div"
	selfClosing := false
	switch name {
	case "button":
		tag = "button"
	case "input":
		tag, selfClosing = "input", true
	case "textarea":
		tag = "textarea"
	case "label":
		tag = "label"
	}

	component := pascalCase(name)
	if selfClosing {
		return fmt.Sprintf(`export function %s(props: any) {
  return <%s {...props} />;
}

export default %s;
`, component, tag, component)
	}
	return fmt.Sprintf(`export function %s({ children, ...props }: any) {
  return <%s {...props}>{children}</%s>;
}

export default %s;
`, component, tag, tag, component)
}

func pascalCase(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool { return r == '-' || r == '_' })
	var b strings.Builder
	for _, part := range parts {
		b.WriteString(strings.ToUpper(part[:1]))
		b.WriteString(part[1:])
	}
	return b.String()
}

// rewriteSources applies a content transform to every source file, writing
// back and logging per changed file.
func (p *pass) rewriteSources(logFormat string, fix func(string) (string, bool)) error {
	return p.walkSources(func(abs, rel string, data []byte) error {
		fixed, changed := fix(string(data))
		if !changed {
			return nil
		}
		if err := os.WriteFile(abs, []byte(fixed), 0644); err != nil {
			return err
		}
		p.applied(logFormat, rel)
		return nil
	})
}

var skipDirs = map[string]bool{
	"node_modules": true,
	".next":        true,
	".git":         true,
	"dist":         true,
	"build":        true,
}

// walkSources visits every JS/TS source file under the project, skipping
// build output. Per-file callback errors are logged, not fatal.
func (p *pass) walkSources(visit func(abs, rel string, data []byte) error) error {
	return filepath.WalkDir(p.dir, func(abs string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		switch filepath.Ext(abs) {
		case ".tsx", ".ts", ".jsx", ".js":
		default:
			return nil
		}

		rel, err := filepath.Rel(p.dir, abs)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		data, err := os.ReadFile(abs)
		if err != nil {
			logging.RepairWarn("failed to read %s: %v", rel, err)
			return nil
		}
		if err := visit(abs, rel, data); err != nil {
			logging.RepairWarn("fixup failed on %s: %v", rel, err)
		}
		return nil
	})
}

var stylesheetCandidates = []string{
	"src/app/globals.css",
	"app/globals.css",
	"src/styles/globals.css",
	"styles/globals.css",
}

// findGlobalStylesheet returns the content and path of the project's global
// stylesheet, empty when none exists.
func (p *pass) findGlobalStylesheet() (content, path string) {
	for _, rel := range stylesheetCandidates {
		abs := filepath.Join(p.dir, filepath.FromSlash(rel))
		if data, err := os.ReadFile(abs); err == nil {
			return string(data), abs
		}
	}
	return "", ""
}

func (p *pass) findPostcssConfig() (path string, data []byte) {
	for _, name := range []string{"postcss.config.mjs", "postcss.config.js", "postcss.config.cjs"} {
		abs := filepath.Join(p.dir, name)
		if d, err := os.ReadFile(abs); err == nil {
			return abs, d
		}
	}
	return "", nil
}
