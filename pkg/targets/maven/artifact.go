package maven

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/getsentry/craft/pkg/craft/errs"
)

// Kind distinguishes a BOM (deploy the POM only) from an ordinary module
// (deploy the primary artifact plus its side artifacts).
type Kind int

const (
	Ordinary Kind = iota
	BOM
)

// distKind is the Gradle/Android/Kotlin-Multiplatform flavor of an Ordinary
// module, which determines how its side-artifact vector is built.
type distKind int

const (
	distJavaGradle distKind = iota
	distAndroid
	distKMPRoot
	distKMPApple
	distKMPKlibOnly
)

var (
	kmpAppleDir    = regexp.MustCompile(`(?i)(ios|macos|tvos|watchos|apple)`)
	cinteropKlibRe = regexp.MustCompile(`^cinterop-(.+)\.klib$`)
)

// Module is one extracted per-module directory from an artifact zip, ready
// to classify and deploy.
type Module struct {
	Dir         string
	PackageName string
	Kind        Kind

	// Ordinary-only fields.
	Primary     string
	Files       []string
	Classifiers []string
	Types       []string
}

// ExtractArtifactZip unpacks zipPath (named "<pkg>-<version>.zip") into a
// fresh subdirectory of destDir and returns the package name (the zip's
// basename with the trailing "-<version>.zip" stripped) and the extraction
// directory.
func ExtractArtifactZip(zipPath, destDir string) (packageName, dir string, err error) {
	base := filepath.Base(zipPath)
	packageName = stripVersionSuffix(base)

	dir = filepath.Join(destDir, strings.TrimSuffix(base, ".zip"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", errs.Wrap(errs.Transient, "create extraction dir", err)
	}

	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return "", "", errs.Wrap(errs.Transient, "open "+zipPath, err)
	}
	defer r.Close()

	for _, f := range r.File {
		target := filepath.Join(dir, f.Name)
		if !strings.HasPrefix(target, filepath.Clean(dir)+string(os.PathSeparator)) {
			return "", "", errs.Newf(errs.Upstream, "zip entry %q escapes extraction directory", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return "", "", errs.Wrap(errs.Transient, "create dir "+target, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return "", "", errs.Wrap(errs.Transient, "create dir "+filepath.Dir(target), err)
		}
		if err := extractOne(f, target); err != nil {
			return "", "", err
		}
	}
	return packageName, dir, nil
}

func extractOne(f *zip.File, target string) error {
	src, err := f.Open()
	if err != nil {
		return errs.Wrap(errs.Transient, "open zip entry "+f.Name, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
	if err != nil {
		return errs.Wrap(errs.Transient, "create "+target, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return errs.Wrap(errs.Transient, "write "+target, err)
	}
	return nil
}

func stripVersionSuffix(base string) string {
	re := regexp.MustCompile(`-\d[^-]*\.zip$`)
	return re.ReplaceAllString(base, "")
}

// Classify inspects an extracted module directory's files and decides
// whether it is a BOM or an Ordinary module, and for Ordinary modules which
// distribution-type side-artifact vector applies.
func Classify(dir, packageName string) (Module, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Module{}, errs.Wrap(errs.Transient, "read extracted module dir", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}

	pom := findPOM(names)
	if pom == "" {
		return Module{}, errs.Newf(errs.Upstream, "module %s has neither pom-default.xml nor a BOM pom", dir)
	}

	if isBOM(names) {
		return Module{Dir: dir, PackageName: packageName, Kind: BOM, Primary: filepath.Join(dir, pom)}, nil
	}

	return classifyOrdinary(dir, packageName, names)
}

func findPOM(names []string) string {
	for _, n := range names {
		if n == "pom-default.xml" || (strings.HasSuffix(n, ".pom") && !strings.Contains(n, "-javadoc") && !strings.Contains(n, "-sources")) {
			return n
		}
	}
	return ""
}

// isBOM treats a module as a BOM when its only JAR-like member is the POM
// itself: no .jar, .aar or .klib artifact present.
func isBOM(names []string) bool {
	for _, n := range names {
		if strings.HasSuffix(n, ".jar") || strings.HasSuffix(n, ".aar") || strings.HasSuffix(n, ".klib") {
			return false
		}
	}
	return true
}

func classifyOrdinary(dir, packageName string, names []string) (Module, error) {
	base := filepath.Base(dir)

	switch {
	case kmpAppleDir.MatchString(base):
		return classifyKMPApple(dir, packageName, names)
	case hasSuffix(names, ".klib") && !hasAny(names, ".jar", ".aar"):
		return classifyKMPKlibOnly(dir, packageName, names)
	case hasSuffix(names, "-all.jar"):
		return classifyKMPRoot(dir, packageName, names)
	case hasSuffix(names, ".aar"):
		return classifyAndroid(dir, packageName, names)
	default:
		return classifyJavaGradle(dir, packageName, names)
	}
}

func classifyJavaGradle(dir, packageName string, names []string) (Module, error) {
	primary := ""
	for _, n := range names {
		if strings.HasSuffix(n, ".jar") && !strings.HasSuffix(n, "-javadoc.jar") && !strings.HasSuffix(n, "-sources.jar") {
			primary = n
			break
		}
	}
	if primary == "" {
		primary = firstSuffix(names, ".jar")
	}
	if primary == "" {
		return Module{}, errs.Newf(errs.Upstream, "module %s has no primary .jar", dir)
	}
	m := Module{Dir: dir, PackageName: packageName, Kind: Ordinary, Primary: filepath.Join(dir, primary)}

	if js := firstSuffix(names, "-javadoc.jar"); js != "" {
		m.Files = append(m.Files, filepath.Join(dir, js))
		m.Classifiers = append(m.Classifiers, "javadoc")
		m.Types = append(m.Types, "jar")
	}
	if src := firstSuffix(names, "-sources.jar"); src != "" {
		m.Files = append(m.Files, filepath.Join(dir, src))
		m.Classifiers = append(m.Classifiers, "sources")
		m.Types = append(m.Types, "jar")
	}
	if mod := firstSuffix(names, ".module"); mod != "" {
		m.Files = append(m.Files, filepath.Join(dir, mod))
		m.Classifiers = append(m.Classifiers, "")
		m.Types = append(m.Types, "module")
	}
	return m, nil
}

func classifyAndroid(dir, packageName string, names []string) (Module, error) {
	m, err := classifyJavaGradle(dir, packageName, names)
	if err != nil {
		return Module{}, err
	}
	if release := firstSuffix(names, "-release.aar"); release != "" {
		m.Primary = filepath.Join(dir, release)
	} else if aar := firstSuffix(names, ".aar"); aar != "" {
		m.Primary = filepath.Join(dir, aar)
	}
	return m, nil
}

func classifyKMPRoot(dir, packageName string, names []string) (Module, error) {
	primary := firstSuffix(names, "-all.jar")
	m := Module{Dir: dir, PackageName: packageName, Kind: Ordinary, Primary: filepath.Join(dir, primary)}

	if meta := firstSuffix(names, "kotlin-tooling-metadata.json"); meta != "" {
		m.Files = append(m.Files, filepath.Join(dir, meta))
		m.Classifiers = append(m.Classifiers, "")
		m.Types = append(m.Types, "json")
	}
	if mod := firstSuffix(names, ".module"); mod != "" {
		m.Files = append(m.Files, filepath.Join(dir, mod))
		m.Classifiers = append(m.Classifiers, "")
		m.Types = append(m.Types, "module")
	}
	return m, nil
}

func classifyKMPApple(dir, packageName string, names []string) (Module, error) {
	primary := firstSuffix(names, "-all.jar")
	if primary == "" {
		return Module{}, errs.Newf(errs.Upstream, "Apple KMP module %s has no -all.jar", dir)
	}
	m := Module{Dir: dir, PackageName: packageName, Kind: Ordinary, Primary: filepath.Join(dir, primary)}

	for _, n := range names {
		match := cinteropKlibRe.FindStringSubmatch(n)
		if match == nil {
			continue
		}
		m.Files = append(m.Files, filepath.Join(dir, n))
		m.Classifiers = append(m.Classifiers, "cinterop-"+match[1])
		m.Types = append(m.Types, "klib")
	}
	if meta := firstSuffix(names, "metadata.jar"); meta != "" {
		m.Files = append(m.Files, filepath.Join(dir, meta))
		m.Classifiers = append(m.Classifiers, "metadata")
		m.Types = append(m.Types, "jar")
	}
	return m, nil
}

func classifyKMPKlibOnly(dir, packageName string, names []string) (Module, error) {
	primary := firstSuffix(names, ".klib")
	if primary == "" {
		return Module{}, errs.Newf(errs.Upstream, "klib-only module %s has no .klib", dir)
	}
	return Module{Dir: dir, PackageName: packageName, Kind: Ordinary, Primary: filepath.Join(dir, primary)}, nil
}

func hasSuffix(names []string, suffix string) bool { return firstSuffix(names, suffix) != "" }

func firstSuffix(names []string, suffix string) string {
	for _, n := range names {
		if strings.HasSuffix(n, suffix) {
			return n
		}
	}
	return ""
}

func hasAny(names []string, suffixes ...string) bool {
	for _, s := range suffixes {
		if hasSuffix(names, s) {
			return true
		}
	}
	return false
}
