// Package gem implements the RubyGems publish target (spec §4.4): "gem
// push" per matched .gem file, and a bumpVersion hook that rewrites
// gemspecs and their associated lib/**/version.rb files.
package gem

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/getsentry/craft/pkg/constants"
	"github.com/getsentry/craft/pkg/craft"
	"github.com/getsentry/craft/pkg/craft/errs"
	"github.com/getsentry/craft/pkg/logger"
	"github.com/getsentry/craft/pkg/procutil"
	"github.com/getsentry/craft/pkg/retry"
	"github.com/getsentry/craft/pkg/targetdef"
	"github.com/getsentry/craft/pkg/targets/common"
)

var log = logger.New("target:gem")

var alreadyPublished = regexp.MustCompile(`(?i)repushing of gem versions is not allowed`)

func init() {
	targetdef.Register(targetdef.Registration{
		Name:        string(constants.TargetGem),
		New:         New,
		BumpVersion: BumpVersion,
	})
}

// Target publishes .gem files to RubyGems.
type Target struct {
	bin string
}

// New constructs a Gem Target. Config key: "bin" (default "gem").
func New(cfg craft.TargetConfig) (targetdef.Target, error) {
	return &Target{bin: cfg.StringDefault("bin", constants.DefaultGemBin)}, nil
}

// Publish runs "gem push <file>" for each matched .gem archive.
func (t *Target) Publish(ctx context.Context, req targetdef.PublishRequest) error {
	downloaded, err := common.SelectAndDownload(ctx, req.Artifacts, req.Revision, req.Config, req.WorkDir, 0)
	if err != nil {
		return err
	}
	if len(downloaded) == 0 {
		log.Printf("no matching .gem archives for revision %s", req.Revision)
		return nil
	}

	key := os.Getenv("RUBYGEMS_API_KEY")
	if key == "" {
		return errs.Configurationf("RUBYGEMS_API_KEY", "RUBYGEMS_API_KEY must be set to publish to RubyGems")
	}
	host := req.Config.StringDefault("host", constants.DefaultRubyGemsHost)
	env := []string{"GEM_HOST_API_KEY=" + key}

	for _, d := range downloaded {
		args := []string{"push", d.Path, "--host", host}
		if req.DryRun {
			log.Printf("dry-run: would run %s %v", t.bin, args)
			continue
		}
		if _, err := procutil.RunRetrying(ctx, retry.SpawnProcess, nil, alreadyPublished, req.WorkDir, env, t.bin, args...); err != nil {
			return errs.Wrap(errs.Transient, "gem push "+d.Artifact.Filename, err)
		}
	}
	return nil
}

var versionAssignment = regexp.MustCompile(`(?m)^(\s*s\.version\s*=\s*)(["'])[^"']*(["'])`)
var versionRbAssignment = regexp.MustCompile(`(?m)^(\s*VERSION\s*=\s*)(["'])[^"']*(["'])`)

// BumpVersion finds every *.gemspec up to two directory levels below
// rootDir, respecting .gitignore, and rewrites its "s.version = ..."
// assignment plus every lib/**/version.rb VERSION constant relative to it.
func BumpVersion(rootDir string, version craft.Version) (bool, error) {
	ignore := loadGitignore(rootDir)

	gemspecs, err := findGemspecs(rootDir, ignore)
	if err != nil {
		return false, errs.Wrap(errs.Transient, "search for gemspecs", err)
	}
	if len(gemspecs) == 0 {
		return false, nil
	}

	changed := false
	for _, spec := range gemspecs {
		ok, err := rewriteFile(spec, versionAssignment, version.String())
		if err != nil {
			return changed, err
		}
		changed = changed || ok

		base := filepath.Dir(spec)
		versionFiles, err := findVersionRb(base)
		if err != nil {
			return changed, errs.Wrap(errs.Transient, "search for version.rb", err)
		}
		for _, vf := range versionFiles {
			ok, err := rewriteFile(vf, versionRbAssignment, version.String())
			if err != nil {
				return changed, err
			}
			changed = changed || ok
		}
	}
	return changed, nil
}

func rewriteFile(path string, pattern *regexp.Regexp, newVersion string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, errs.Wrap(errs.Transient, "read "+path, err)
	}
	if !pattern.Match(data) {
		return false, nil
	}
	updated := pattern.ReplaceAll(data, []byte(fmt.Sprintf(`${1}${2}%s${3}`, newVersion)))
	if string(updated) == string(data) {
		return false, nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return false, errs.Wrap(errs.Transient, "stat "+path, err)
	}
	if err := os.WriteFile(path, updated, info.Mode()); err != nil {
		return false, errs.Wrap(errs.Transient, "write "+path, err)
	}
	return true, nil
}

// findGemspecs walks rootDir and its immediate and grand-children
// directories (two levels) for *.gemspec files not excluded by ignore.
func findGemspecs(rootDir string, ignore *ignoreSet) ([]string, error) {
	var out []string
	err := walkLevels(rootDir, 2, func(path string, isDir bool) error {
		if isDir {
			return nil
		}
		if filepath.Ext(path) != ".gemspec" {
			return nil
		}
		if ignore.Matches(rootDir, path) {
			return nil
		}
		out = append(out, path)
		return nil
	})
	return out, err
}

// findVersionRb looks for lib/**/version.rb under base (the gemspec's
// directory), with no depth limit since version.rb is conventionally
// nested under lib/<gem_name>/.
func findVersionRb(base string) ([]string, error) {
	var out []string
	libDir := filepath.Join(base, "lib")
	if _, err := os.Stat(libDir); err != nil {
		return nil, nil
	}
	err := filepath.Walk(libDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && info.Name() == "version.rb" {
			out = append(out, path)
		}
		return nil
	})
	return out, err
}

// walkLevels walks rootDir up to maxDepth directory levels deep (0 = just
// rootDir's own files), calling fn for every entry visited.
func walkLevels(rootDir string, maxDepth int, fn func(path string, isDir bool) error) error {
	rootDepth := strings.Count(filepath.Clean(rootDir), string(filepath.Separator))
	return filepath.Walk(rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		depth := strings.Count(filepath.Clean(path), string(filepath.Separator)) - rootDepth
		if !info.IsDir() {
			// A file sits at its containing directory's level.
			depth--
		}
		if depth > maxDepth {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		return fn(path, info.IsDir())
	})
}

// ignoreSet is a minimal .gitignore matcher: plain glob patterns matched
// against the path relative to the repository root, one per line,
// skipping blanks, comments, and negated ("!") patterns. It does not
// implement gitignore's full precedence rules (directory-only patterns,
// anchored vs. unanchored, re-inclusion) since bumpVersion only needs to
// skip vendored/generated gemspecs, not reproduce git's ignore engine.
type ignoreSet struct {
	patterns []string
}

func loadGitignore(rootDir string) *ignoreSet {
	data, err := os.ReadFile(filepath.Join(rootDir, ".gitignore"))
	if err != nil {
		return &ignoreSet{}
	}
	var patterns []string
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}
		patterns = append(patterns, strings.Trim(line, "/"))
	}
	return &ignoreSet{patterns: patterns}
}

func (s *ignoreSet) Matches(rootDir, path string) bool {
	if s == nil {
		return false
	}
	rel, err := filepath.Rel(rootDir, path)
	if err != nil {
		return false
	}
	for _, p := range s.patterns {
		if ok, _ := filepath.Match(p, filepath.Base(rel)); ok {
			return true
		}
		if ok, _ := filepath.Match(p, rel); ok {
			return true
		}
		if strings.HasPrefix(rel, p+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
