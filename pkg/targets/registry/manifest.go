package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/getsentry/craft/pkg/checksum"
	"github.com/getsentry/craft/pkg/craft"
	"github.com/getsentry/craft/pkg/craft/errs"
	"github.com/getsentry/craft/pkg/targetdef"
	"github.com/getsentry/craft/pkg/targets/common"
)

const manifestChecksumConcurrency = 4

// writeEntry publishes one package's version manifest into cloneDir,
// returning whether it made any on-disk change. It never commits; the
// caller commits once after every entry has been written.
func (t *Target) writeEntry(ctx context.Context, cloneDir string, e Entry, req targetdef.PublishRequest) (bool, error) {
	packageDir := filepath.Join(cloneDir, "packages", e.Type, e.Canonical)
	if err := os.MkdirAll(packageDir, 0o755); err != nil {
		return false, errs.Wrap(errs.Transient, "create package directory", err)
	}

	versionPath := filepath.Join(packageDir, req.Version.String()+".json")
	if _, err := os.Stat(versionPath); err == nil {
		return false, errs.Newf(errs.PreconditionFailed, "registry manifest %s already exists", versionPath)
	} else if !os.IsNotExist(err) {
		return false, errs.Wrap(errs.Transient, "stat "+versionPath, err)
	}

	previous, err := readManifest(filepath.Join(packageDir, "latest.json"))
	if err != nil {
		return false, err
	}

	manifest := previous
	manifest.Canonical = e.Canonical
	manifest.Version = req.Version.String()
	manifest.CreatedAt = time.Now().UTC()
	if e.RepoURL != "" {
		manifest.RepoURL = e.RepoURL
	}
	if e.Name != "" {
		manifest.Name = e.Name
	}
	if e.PackageURL != "" {
		manifest.PackageURL = e.PackageURL
	}
	if e.MainDocsURL != "" {
		manifest.MainDocsURL = e.MainDocsURL
	}
	if e.APIDocsURL != "" {
		manifest.APIDocsURL = e.APIDocsURL
	}
	manifest.Files = nil
	manifest.FileURLs = nil

	needsArtifacts := len(e.Checksums) > 0 || (e.Type == "app" && e.URLTemplate != "")
	var downloaded []common.Downloaded
	if needsArtifacts {
		downloaded, err = common.SelectAndDownload(ctx, req.Artifacts, req.Revision, entryConfig(e), req.WorkDir, 0)
		if err != nil {
			return false, err
		}
	}

	if e.Type == "app" && e.URLTemplate != "" {
		urls, err := fileURLs(e, downloaded, req)
		if err != nil {
			return false, err
		}
		manifest.FileURLs = urls
	}

	if len(e.Checksums) > 0 {
		files, err := fileChecksums(ctx, e, downloaded, manifest.FileURLs)
		if err != nil {
			return false, err
		}
		manifest.Files = files
	}

	if err := writeManifestFile(versionPath, manifest); err != nil {
		return false, err
	}

	if err := writeManifestFile(filepath.Join(packageDir, "latest.json"), manifest); err != nil {
		return false, err
	}
	if err := updateSeriesSymlinks(packageDir, req.Version, previous.Version); err != nil {
		return false, err
	}

	log.Printf("wrote registry manifest %s", versionPath)
	return true, nil
}

func readManifest(path string) (craft.RegistryManifest, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return craft.RegistryManifest{}, nil
	}
	if err != nil {
		return craft.RegistryManifest{}, errs.Wrap(errs.Transient, "read "+path, err)
	}
	var m craft.RegistryManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return craft.RegistryManifest{}, errs.Wrap(errs.Transient, "parse "+path, err)
	}
	return m, nil
}

func writeManifestFile(path string, m craft.RegistryManifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errs.Wrap(errs.Transient, "encode "+path, err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errs.Wrap(errs.Transient, "write "+path, err)
	}
	return nil
}

// fileURLs renders the legacy app-type file_urls map: one entry per
// downloaded artifact, keyed by filename, valued by e.URLTemplate rendered
// with the release version and revision.
func fileURLs(e Entry, downloaded []common.Downloaded, req targetdef.PublishRequest) (map[string]string, error) {
	out := make(map[string]string, len(downloaded))
	for _, d := range downloaded {
		rendered := strings.ReplaceAll(e.URLTemplate, "{{version}}", req.Version.String())
		rendered = strings.ReplaceAll(rendered, "{{revision}}", req.Revision.String())
		rendered = strings.ReplaceAll(rendered, "{{filename}}", d.Artifact.Filename)
		out[d.Artifact.Filename] = rendered
	}
	return out, nil
}

// fileChecksums computes every configured checksum spec for every
// downloaded artifact, bounded by manifestChecksumConcurrency in flight.
func fileChecksums(ctx context.Context, e Entry, downloaded []common.Downloaded, urls map[string]string) (map[string]craft.RegistryManifestFile, error) {
	if len(downloaded) == 0 {
		return nil, nil
	}

	out := make(map[string]craft.RegistryManifestFile, len(downloaded))
	cache := checksum.NewCache()
	p := pool.New().WithErrors().WithContext(ctx).WithCancelOnError().WithMaxGoroutines(manifestChecksumConcurrency)
	var mu sync.Mutex
	for _, d := range downloaded {
		d := d
		p.Go(func(ctx context.Context) error {
			sums := make(map[string]string, len(e.Checksums))
			for _, spec := range e.Checksums {
				sum, err := cache.Get(d.Path, spec.Algorithm, spec.Format)
				if err != nil {
					return errs.Wrap(errs.Transient, "checksum "+d.Artifact.Filename, err)
				}
				sums[spec.Key()] = sum
			}
			mu.Lock()
			out[d.Artifact.Filename] = craft.RegistryManifestFile{URL: urls[d.Artifact.Filename], Checksums: sums}
			mu.Unlock()
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// updateSeriesSymlinks repoints the "<major>.json" and "<major>.<minor>.json"
// series symlinks at the newly written version. A missing symlink is
// created; an existing one is replaced only when it points at the previous
// version this entry published or at the new version itself, or when no
// previous version is known (a symlink left pointing at some other, later
// version was updated by a different, newer release and must not be
// clobbered). A path there that is not a symlink is left alone.
func updateSeriesSymlinks(packageDir string, version craft.Version, previousVersion string) error {
	targets := []string{
		fmt.Sprintf("%d.json", version.Major()),
		fmt.Sprintf("%d.%d.json", version.Major(), version.Minor()),
	}
	versionFile := version.String() + ".json"

	for _, name := range targets {
		linkPath := filepath.Join(packageDir, name)
		existing, err := os.Readlink(linkPath)
		if err != nil {
			if os.IsNotExist(err) {
				if err := os.Symlink(versionFile, linkPath); err != nil {
					return errs.Wrap(errs.Transient, "create symlink "+name, err)
				}
				continue
			}
			// Not a symlink (e.g. a stray regular file); leave it alone.
			continue
		}
		if previousVersion == "" || existing == previousVersion+".json" || existing == versionFile {
			if err := os.Remove(linkPath); err != nil {
				return errs.Wrap(errs.Transient, "remove stale symlink "+name, err)
			}
			if err := os.Symlink(versionFile, linkPath); err != nil {
				return errs.Wrap(errs.Transient, "create symlink "+name, err)
			}
		}
	}
	return nil
}
