// Package nuget implements the NuGet publish target (spec §4.4):
// "dotnet nuget push" per matched package, in download order, and a
// bumpVersion hook that prefers dotnet-setversion and falls back to
// rewriting <Version> directly. DiscoverWorkspaces and TopoSort parse a .sln
// and order its projects by inter-project references; neither Publish nor
// BumpVersion calls them, and no workspaces config key is read.
package nuget

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
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

var log = logger.New("target:nuget")

var alreadyPublished = regexp.MustCompile(`(?i)already exists and cannot be modified`)

func init() {
	targetdef.Register(targetdef.Registration{
		Name:        string(constants.TargetNuget),
		New:         New,
		BumpVersion: BumpVersion,
	})
}

// Target publishes .nupkg files to a NuGet-compatible source.
type Target struct {
	bin    string
	source string
}

// New constructs a Nuget Target. Config keys: "bin" (default "dotnet"),
// "serverUrl" (default api.nuget.org).
func New(cfg craft.TargetConfig) (targetdef.Target, error) {
	return &Target{
		bin:    cfg.StringDefault("bin", constants.DefaultDotnetBin),
		source: cfg.StringDefault("serverUrl", constants.DefaultNugetSourceURL),
	}, nil
}

// Publish pushes every matched .nupkg via "dotnet nuget push".
func (t *Target) Publish(ctx context.Context, req targetdef.PublishRequest) error {
	downloaded, err := common.SelectAndDownload(ctx, req.Artifacts, req.Revision, req.Config, req.WorkDir, 0)
	if err != nil {
		return err
	}
	if len(downloaded) == 0 {
		log.Printf("no matching .nupkg artifacts for revision %s", req.Revision)
		return nil
	}

	apiKey := os.Getenv("NUGET_API_TOKEN")
	if apiKey == "" {
		return errs.Configurationf("NUGET_API_TOKEN", "NUGET_API_TOKEN must be set to publish to NuGet")
	}

	for _, d := range downloaded {
		args := []string{"nuget", "push", d.Path, "--api-key", apiKey, "--source", t.source}
		if req.DryRun {
			log.Printf("dry-run: would run %s %v", t.bin, args)
			continue
		}
		if _, err := procutil.RunRetrying(ctx, retry.SpawnProcess, nil, alreadyPublished, req.WorkDir, nil, t.bin, args...); err != nil {
			return errs.Wrap(errs.Transient, "dotnet nuget push "+d.Artifact.Filename, err)
		}
	}
	return nil
}

var versionElement = regexp.MustCompile(`(?s)<Version>[^<]*</Version>`)

// BumpVersion prefers the dotnet-setversion tool if present on PATH,
// otherwise rewrites every <Version> element in .csproj/Directory.Build.props
// files under rootDir. It always rewrites every project it finds and does
// not consult DiscoverWorkspaces or TopoSort.
func BumpVersion(rootDir string, version craft.Version) (bool, error) {
	if path, err := exec.LookPath("dotnet-setversion"); err == nil {
		if _, err := procutil.Run(context.Background(), rootDir, nil, path, version.String()); err != nil {
			return false, errs.Wrap(errs.Transient, "dotnet-setversion", err)
		}
		return true, nil
	}

	changed := false
	err := filepath.Walk(rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if filepath.Ext(path) != ".csproj" && info.Name() != "Directory.Build.props" {
			return nil
		}
		ok, werr := rewriteVersionElement(path, version)
		if werr != nil {
			return werr
		}
		changed = changed || ok
		return nil
	})
	if err != nil {
		return changed, errs.Wrap(errs.Transient, "walk for csproj/Directory.Build.props", err)
	}
	return changed, nil
}

func rewriteVersionElement(path string, version craft.Version) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, errs.Wrap(errs.Transient, "read "+path, err)
	}
	if !versionElement.Match(data) {
		return false, nil
	}
	updated := versionElement.ReplaceAll(data, []byte("<Version>"+version.String()+"</Version>"))
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

// Project is one .sln-discovered package in workspaces mode.
type Project struct {
	Name         string
	Path         string // absolute path to the .csproj
	Dependencies []string
}

var slnProjectLine = regexp.MustCompile(`Project\("\{[0-9A-Fa-f-]+\}"\)\s*=\s*"([^"]+)",\s*"([^"]+)"`)
var projectReference = regexp.MustCompile(`<ProjectReference\s+Include="([^"]+)"`)

// DiscoverWorkspaces parses slnPath for its listed .csproj projects and each
// project's <ProjectReference> dependencies.
func DiscoverWorkspaces(slnPath string) ([]Project, error) {
	data, err := os.ReadFile(slnPath)
	if err != nil {
		return nil, errs.Wrap(errs.Transient, "read "+slnPath, err)
	}
	slnDir := filepath.Dir(slnPath)

	var projects []Project
	for _, m := range slnProjectLine.FindAllStringSubmatch(string(data), -1) {
		name, relPath := m[1], m[2]
		if !strings.HasSuffix(relPath, ".csproj") {
			continue
		}
		absPath := filepath.Join(slnDir, filepath.FromSlash(strings.ReplaceAll(relPath, `\`, "/")))
		deps, err := readProjectReferences(absPath)
		if err != nil {
			return nil, err
		}
		projects = append(projects, Project{Name: name, Path: absPath, Dependencies: deps})
	}
	return projects, nil
}

func readProjectReferences(csprojPath string) ([]string, error) {
	data, err := os.ReadFile(csprojPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.Transient, "read "+csprojPath, err)
	}
	dir := filepath.Dir(csprojPath)
	var deps []string
	for _, m := range projectReference.FindAllStringSubmatch(string(data), -1) {
		ref := filepath.Join(dir, filepath.FromSlash(strings.ReplaceAll(m[1], `\`, "/")))
		deps = append(deps, filepath.Base(filepath.Dir(ref)))
	}
	return deps, nil
}

// TopoSort orders projects so that every project appears after the
// projects it depends on, per spec's "workspaces mode topologically sorts
// packages by declared project-to-project dependencies". Returns a
// PreconditionFailed error if the dependency graph has a cycle.
func TopoSort(projects []Project) ([]Project, error) {
	byName := make(map[string]Project, len(projects))
	for _, p := range projects {
		byName[p.Name] = p
	}

	const (
		unvisited = iota
		visiting
		visited
	)
	state := make(map[string]int, len(projects))
	var order []Project

	var visit func(name string) error
	visit = func(name string) error {
		p, ok := byName[name]
		if !ok {
			return nil
		}
		switch state[name] {
		case visited:
			return nil
		case visiting:
			return errs.New(errs.PreconditionFailed, "cyclic project reference involving "+name)
		}
		state[name] = visiting
		deps := append([]string(nil), p.Dependencies...)
		sort.Strings(deps)
		for _, dep := range deps {
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[name] = visited
		order = append(order, p)
		return nil
	}

	names := make([]string, 0, len(projects))
	for _, p := range projects {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return order, nil
}
