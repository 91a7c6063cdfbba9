package repair

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func write(t *testing.T, dir, rel, content string) {
	t.Helper()
	abs := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(abs, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func read(t *testing.T, dir, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
	if err != nil {
		t.Fatalf("read %s: %v", rel, err)
	}
	return string(data)
}

func exists(dir, rel string) bool {
	_, err := os.Stat(filepath.Join(dir, filepath.FromSlash(rel)))
	return err == nil
}

func TestRepair_ConvertsTypescriptConfig(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "next.config.ts", `import type { NextConfig } from "next";

const nextConfig: NextConfig = {
  reactStrictMode: true,
};

export default nextConfig;
`)

	Repair(dir)

	if exists(dir, "next.config.ts") {
		t.Error("next.config.ts should be renamed aside")
	}
	if !exists(dir, "next.config.ts.bak") {
		t.Error("original should survive as next.config.ts.bak")
	}
	out := read(t, dir, "next.config.mjs")
	if strings.Contains(out, "NextConfig") {
		t.Errorf("type plumbing survived:\n%s", out)
	}
	if !strings.Contains(out, "export default nextConfig") {
		t.Errorf("export lost:\n%s", out)
	}
	if !strings.Contains(out, "reactStrictMode: true") {
		t.Errorf("config body lost:\n%s", out)
	}
}

func TestRepair_DiscardsTypescriptConfigWhenSupportedExists(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "next.config.ts", "export default {};\n")
	write(t, dir, "next.config.mjs", "export default { distDir: \"out\" };\n")

	Repair(dir)

	if exists(dir, "next.config.ts") {
		t.Error("next.config.ts should be renamed aside")
	}
	if got := read(t, dir, "next.config.mjs"); !strings.Contains(got, "distDir") {
		t.Errorf("existing supported config was overwritten:\n%s", got)
	}
}

func TestRepair_TailwindV4Coherence(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "package.json", `{
  "dependencies": {"next": "15.1.6"},
  "devDependencies": {"tailwindcss": "^3.4.1"}
}`)
	write(t, dir, "src/app/globals.css", "@import \"tailwindcss\";\n")
	write(t, dir, "postcss.config.mjs", `const config = {
  plugins: { tailwindcss: {} },
};

export default config;
`)

	res := Repair(dir)

	if !res.ReinstallNeeded {
		t.Error("manifest changed, reinstall should be flagged")
	}
	manifest := read(t, dir, "package.json")
	if !strings.Contains(manifest, `"tailwindcss": "^4"`) {
		t.Errorf("tailwindcss not pinned to v4:\n%s", manifest)
	}
	if !strings.Contains(manifest, `"@tailwindcss/postcss": "^4"`) {
		t.Errorf("postcss companion not pinned:\n%s", manifest)
	}
	if got := read(t, dir, "postcss.config.mjs"); !strings.Contains(got, "@tailwindcss/postcss") {
		t.Errorf("postcss config not upgraded:\n%s", got)
	}
}

func TestRepair_TailwindV3StylesheetLeftAlone(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "package.json", `{"devDependencies": {"tailwindcss": "^3.4.1"}}`)
	write(t, dir, "src/app/globals.css", "@tailwind base;\n@tailwind components;\n@tailwind utilities;\n")

	Repair(dir)

	if got := read(t, dir, "package.json"); strings.Contains(got, `"^4"`) {
		t.Errorf("v3 project was upgraded:\n%s", got)
	}
}

func TestRepair_AddsMissingCorePackages(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "package.json", `{"name": "demo", "dependencies": {"lodash": "^4.17.21"}}`)

	res := Repair(dir)

	if !res.ReinstallNeeded {
		t.Error("reinstall should be flagged after adding core packages")
	}
	manifest := read(t, dir, "package.json")
	for _, want := range []string{`"next": "15.1.6"`, `"react": "^19.0.0"`, `"react-dom": "^19.0.0"`} {
		if !strings.Contains(manifest, want) {
			t.Errorf("manifest missing %s:\n%s", want, manifest)
		}
	}
	if !strings.Contains(manifest, "lodash") {
		t.Errorf("existing dependency lost:\n%s", manifest)
	}
}

func TestRepair_NeutralizesUndeclaredPostcssPlugin(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "package.json", `{"dependencies": {"next": "15.1.6"}}`)
	write(t, dir, "postcss.config.js", `module.exports = {
  plugins: { "autoprefixer": {} },
};
`)

	Repair(dir)

	got := read(t, dir, "postcss.config.js")
	if strings.Contains(got, "autoprefixer") {
		t.Errorf("undeclared plugin reference survived:\n%s", got)
	}
}

func TestRepair_DeclaredPluginKept(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "package.json", `{"devDependencies": {"autoprefixer": "^10.0.0"}}`)
	config := "module.exports = {\n  plugins: { \"autoprefixer\": {} },\n};\n"
	write(t, dir, "postcss.config.js", config)

	Repair(dir)

	if got := read(t, dir, "postcss.config.js"); got != config {
		t.Errorf("declared plugin config was touched:\n%s", got)
	}
}

func TestRepair_ReplacesDeprecatedRootLayout(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "src/app/globals.css", "body {}\n")
	write(t, dir, "src/app/layout.tsx", `export default function App({ Component, pageProps }) {
  return <Component {...pageProps} />;
}
`)

	Repair(dir)

	out := read(t, dir, "src/app/layout.tsx")
	if strings.Contains(out, "pageProps") {
		t.Errorf("deprecated layout survived:\n%s", out)
	}
	if !strings.Contains(out, "<html") || !strings.Contains(out, "{children}") {
		t.Errorf("replacement is not a valid root layout:\n%s", out)
	}
	if !strings.Contains(out, `import "./globals.css"`) {
		t.Errorf("stylesheet import missing from replacement:\n%s", out)
	}
}

func TestRepair_RewritesFontImports(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "app/layout.tsx", `import { Geist, Geist_Mono } from "next/font/google";

const sans = Geist({ variable: "--font-geist-sans" });
const mono = Geist_Mono({ variable: "--font-geist-mono" });
`)

	Repair(dir)

	out := read(t, dir, "app/layout.tsx")
	if strings.Contains(out, "Geist") {
		t.Errorf("incompatible font loader survived:\n%s", out)
	}
	if !strings.Contains(out, "Inter") || !strings.Contains(out, "Roboto_Mono") {
		t.Errorf("replacement loaders missing:\n%s", out)
	}
	if !strings.Contains(out, "--font-geist-sans") {
		t.Errorf("CSS variable names must be preserved:\n%s", out)
	}
}

func TestRepair_ResolvesClientMetadataConflict(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "app/contact/page.tsx", `"use client";

export const metadata = { title: "Contact" };

export default function Contact() {
  return <div>hi</div>;
}
`)

	Repair(dir)

	out := read(t, dir, "app/contact/page.tsx")
	if strings.Contains(out, "use client") {
		t.Errorf("marker should be dropped when nothing client-only is used:\n%s", out)
	}
	if !strings.Contains(out, "export const metadata") {
		t.Errorf("metadata export should remain:\n%s", out)
	}
}

func TestRepair_SynthesizesMissingPrimitive(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "src/app/page.tsx", `import { Button } from "@/components/ui/button";

export default function Home() {
  return <Button>go</Button>;
}
`)

	Repair(dir)

	stub := read(t, dir, "src/components/ui/button.tsx")
	if !strings.Contains(stub, "export function Button") {
		t.Errorf("stub has wrong export:\n%s", stub)
	}
	if !strings.Contains(stub, "<button") {
		t.Errorf("button primitive should render a button element:\n%s", stub)
	}
}

func TestRepair_ExistingPrimitiveNotOverwritten(t *testing.T) {
	dir := t.TempDir()
	real := "export function Card() { return <div className=\"card\" />; }\n"
	write(t, dir, "components/ui/card.tsx", real)
	write(t, dir, "app/page.tsx", `import { Card } from "@/components/ui/card";
export default function Home() { return <Card />; }
`)

	Repair(dir)

	if got := read(t, dir, "components/ui/card.tsx"); got != real {
		t.Errorf("existing primitive was overwritten:\n%s", got)
	}
}

func TestRepair_RedirectsGeneratorImports(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "app/page.tsx", `import { Badge } from "@shadcn/ui/badge";
export default function Home() { return <Badge /> }
`)

	Repair(dir)

	out := read(t, dir, "app/page.tsx")
	if !strings.Contains(out, `"@/components/ui/badge"`) {
		t.Errorf("generator import not redirected:\n%s", out)
	}
	// The redirected import then gets a stub in the same pass.
	if !exists(dir, "components/ui/badge.tsx") {
		t.Error("stub for the redirected import missing")
	}
}

func TestRepair_Idempotent(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "package.json", `{"devDependencies": {"tailwindcss": "^3.4.1"}}`)
	write(t, dir, "next.config.ts", "export default {};\n")
	write(t, dir, "src/app/globals.css", "@import \"tailwindcss\";\n")
	write(t, dir, "src/app/layout.tsx", `import { Geist } from "next/font/google";
const sans = Geist({});
export default function RootLayout({ children }) { return <html><body>{children}</body></html>; }
`)
	write(t, dir, "src/app/page.tsx", `"use client";
export const metadata = { title: "Home" };
import { Button } from "@/components/ui/button";
export default function Home() { return <Button /> }
`)

	first := Repair(dir)
	if len(first.Applied) == 0 {
		t.Fatal("first pass should fix things")
	}

	second := Repair(dir)
	if len(second.Applied) != 0 {
		t.Errorf("second pass changed things again: %v", second.Applied)
	}
	if second.ReinstallNeeded {
		t.Error("second pass flagged reinstall with nothing to change")
	}
}
