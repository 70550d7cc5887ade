package craft

import (
	"fmt"
	"regexp"
	"time"

	"github.com/getsentry/craft/pkg/gitutil"
)

// Revision is an opaque 40-hex VCS SHA identifying the source tree for a
// release. It is immutable once constructed.
type Revision string

// Valid reports whether r looks like a 40-character hex commit SHA.
func (r Revision) Valid() bool {
	return len(r) == 40 && gitutil.IsHexString(string(r))
}

func (r Revision) String() string { return string(r) }

// StoredFile describes a downloaded artifact's on-disk location.
type StoredFile struct {
	DownloadFilepath string
	Filename         string
	Size             int64
}

// RemoteArtifact is a handle to a file produced by CI and discovered via the
// Artifact Provider. Filename is unique within a release bundle.
type RemoteArtifact struct {
	ID         int64
	Filename   string
	MimeType   string
	StoredFile *StoredFile // nil until downloaded
}

// ChecksumAlgorithm enumerates the hash functions craft can compute.
type ChecksumAlgorithm string

const (
	SHA1   ChecksumAlgorithm = "sha1"
	SHA256 ChecksumAlgorithm = "sha256"
	SHA384 ChecksumAlgorithm = "sha384"
	SHA512 ChecksumAlgorithm = "sha512"
	MD5    ChecksumAlgorithm = "md5"
)

// ChecksumFormat enumerates the encodings a computed checksum can be
// rendered in.
type ChecksumFormat string

const (
	Hex       ChecksumFormat = "hex"
	Base64    ChecksumFormat = "base64"
	Base64URL ChecksumFormat = "base64url"
)

// ChecksumSpec names one checksum to compute for registry manifests. Both
// fields are required; the zero value is never valid config.
type ChecksumSpec struct {
	Algorithm ChecksumAlgorithm
	Format    ChecksumFormat
}

// Key returns the "<alg>-<fmt>" string used as the manifest files[name].checksums key.
func (c ChecksumSpec) Key() string {
	return fmt.Sprintf("%s-%s", c.Algorithm, c.Format)
}

// ArtifactFilter selects artifacts for a revision: an optional workflow-run
// name pattern plus one or more required artifact-name patterns. It must
// have at least one artifact pattern.
type ArtifactFilter struct {
	WorkflowPattern *regexp.Regexp // nil matches any workflow run
	ArtifactNames   []*regexp.Regexp
}

// Matches reports whether name matches any of the filter's artifact patterns.
func (f ArtifactFilter) Matches(name string) bool {
	for _, re := range f.ArtifactNames {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

// TargetConfig is one entry of .craft.yml's "targets" list. Name identifies
// the target kind; (Name, ID) is unique per release. Extra holds
// target-specific fields not promoted to a named field, keyed as parsed
// from YAML.
type TargetConfig struct {
	Name         string
	ID           string
	IncludeNames string // regex/glob/exact-string source, compiled via pkg/filter
	ExcludeNames string
	Extra        map[string]interface{}
}

// Key returns the (name, id) pair used for target-set uniqueness checks.
func (t TargetConfig) Key() string {
	if t.ID == "" {
		return t.Name
	}
	return t.Name + "#" + t.ID
}

// String looks up a string-typed extra field, returning ("", false) if it
// is absent or not a string.
func (t TargetConfig) String(key string) (string, bool) {
	v, ok := t.Extra[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// StringDefault is String but returns def instead of ("", false).
func (t TargetConfig) StringDefault(key, def string) string {
	if s, ok := t.String(key); ok {
		return s
	}
	return def
}

// Bool looks up a bool-typed extra field, returning (false, false) if
// absent or not a bool.
func (t TargetConfig) Bool(key string) (bool, bool) {
	v, ok := t.Extra[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// BoolDefault is Bool but returns def instead of (false, false).
func (t TargetConfig) BoolDefault(key string, def bool) bool {
	if b, ok := t.Bool(key); ok {
		return b
	}
	return def
}

// IntDefault looks up an int-typed extra field, returning def if absent.
// YAML decoders commonly hand back an int directly for unsuffixed integer
// scalars; both int and float64 (the JSON-decode shape) are accepted.
func (t TargetConfig) IntDefault(key string, def int) int {
	v, ok := t.Extra[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return def
	}
}

// StringSlice looks up a []string-typed extra field (decoded from a YAML
// sequence of scalars).
func (t TargetConfig) StringSlice(key string) []string {
	v, ok := t.Extra[key]
	if !ok {
		return nil
	}
	switch s := v.(type) {
	case []string:
		return s
	case []interface{}:
		out := make([]string, 0, len(s))
		for _, e := range s {
			if str, ok := e.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}

// NexusState is a Sonatype staging repository's lifecycle state.
type NexusState string

const (
	NexusOpen     NexusState = "open"
	NexusClosed   NexusState = "closed"
	NexusReleased NexusState = "released"
)

// NexusRepository is a staging repository resource, progressing
// monotonically open -> closed -> released.
type NexusRepository struct {
	RepositoryID string
	DeploymentID string
	State        NexusState
}

// RegistryManifestFile is one entry of a RegistryManifest's "files" map.
type RegistryManifestFile struct {
	URL       string            `json:"url,omitempty"`
	Checksums map[string]string `json:"checksums,omitempty"`
}

// RegistryManifest is the JSON document craft reads, merges, and writes
// back per release-registry entry (packages/{sdk,app}/<canonical>/<version>.json).
type RegistryManifest struct {
	Canonical   string                          `json:"canonical"`
	Version     string                          `json:"version"`
	CreatedAt   time.Time                       `json:"created_at"`
	Files       map[string]RegistryManifestFile `json:"files,omitempty"`
	FileURLs    map[string]string               `json:"file_urls,omitempty"`
	RepoURL     string                          `json:"repo_url,omitempty"`
	Name        string                          `json:"name,omitempty"`
	PackageURL  string                          `json:"package_url,omitempty"`
	MainDocsURL string                          `json:"main_docs_url,omitempty"`
	APIDocsURL  string                          `json:"api_docs_url,omitempty"`
}

// ReleaseContext carries every value needed for one "craft publish"
// invocation. All fields must be set before publish begins; it is
// immutable for the lifetime of the invocation.
type ReleaseContext struct {
	Version    Version
	Revision   Revision
	GitHubRepo string // "owner/repo"
	DryRun     bool
	Targets    []TargetConfig
}
