// Package gcs implements the Google Cloud Storage publish target (spec
// §4.5): render one or more path templates per downloaded artifact and
// upload them to a bucket, sequentially per template (to localize
// failures) but concurrently within a template.
package gcs

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"

	"gocloud.dev/blob"
	"gocloud.dev/blob/gcsblob"
	"gocloud.dev/gcp"
	"golang.org/x/oauth2/google"

	"github.com/getsentry/craft/pkg/constants"
	"github.com/getsentry/craft/pkg/craft"
	"github.com/getsentry/craft/pkg/craft/errs"
	"github.com/getsentry/craft/pkg/logger"
	"github.com/getsentry/craft/pkg/targetdef"
	"github.com/getsentry/craft/pkg/targets/common"
	"github.com/getsentry/craft/pkg/template"

	"github.com/sourcegraph/conc/pool"
)

var log = logger.New("target:gcs")

func init() {
	targetdef.Register(targetdef.Registration{
		Name: string(constants.TargetGCS),
		New:  New,
	})
}

// Target uploads artifacts to a GCS bucket under one or more path templates.
type Target struct {
	bucket    string
	templates []string
	gzip      bool
	metadata  map[string]string
}

// New constructs a GCS Target. Config keys: "bucket" (required), "paths"
// (required, []string of "{{version}}/{{revision}}"-style templates),
// "gzip" (bool, default false), "metadata" (map[string]string, default
// cacheControl "public, max-age=<default>").
func New(cfg craft.TargetConfig) (targetdef.Target, error) {
	bucket, ok := cfg.String("bucket")
	if !ok || bucket == "" {
		return nil, errs.Configurationf("bucket", "gcs target requires \"bucket\"")
	}
	paths := cfg.StringSlice("paths")
	if len(paths) == 0 {
		return nil, errs.Configurationf("paths", "gcs target requires at least one path template")
	}

	metadata := map[string]string{"cacheControl": "public, max-age=3600"}
	if raw, ok := cfg.Extra["metadata"]; ok {
		if m, ok := raw.(map[string]interface{}); ok {
			for k, v := range m {
				if s, ok := v.(string); ok {
					metadata[k] = s
				}
			}
		}
	}

	return &Target{
		bucket:    bucket,
		templates: paths,
		gzip:      cfg.BoolDefault("gzip", false),
		metadata:  metadata,
	}, nil
}

// Publish downloads the revision's artifacts (per cfg's includeNames/
// excludeNames), then for each path template, renders it per artifact and
// uploads every rendered path concurrently before moving to the next
// template.
func (t *Target) Publish(ctx context.Context, req targetdef.PublishRequest) error {
	downloaded, err := common.SelectAndDownload(ctx, req.Artifacts, req.Revision, req.Config, req.WorkDir, 0)
	if err != nil {
		return err
	}
	if len(downloaded) == 0 {
		log.Printf("no matching artifacts for revision %s", req.Revision)
		return nil
	}

	if req.DryRun {
		for _, tmpl := range t.templates {
			dir, err := renderPath(tmpl, req.Version, req.Revision)
			if err != nil {
				return err
			}
			for _, d := range downloaded {
				log.Printf("dry-run: would upload %s to gs://%s%s", d.Path, t.bucket, joinKey(dir, d.Artifact.Filename))
			}
		}
		return nil
	}

	bucket, err := openBucket(ctx, t.bucket)
	if err != nil {
		return err
	}
	defer bucket.Close()

	for _, tmpl := range t.templates {
		if err := t.uploadTemplate(ctx, bucket, tmpl, req, downloaded); err != nil {
			return err
		}
	}
	return nil
}

func (t *Target) uploadTemplate(ctx context.Context, bucket *blob.Bucket, tmpl string, req targetdef.PublishRequest, downloaded []common.Downloaded) error {
	p := pool.New().WithErrors().WithContext(ctx).WithCancelOnError().WithMaxGoroutines(constants.DefaultArtifactDownloadConcurrency)
	for _, d := range downloaded {
		d := d
		p.Go(func(ctx context.Context) error {
			dir, err := renderPath(tmpl, req.Version, req.Revision)
			if err != nil {
				return err
			}
			key := joinKey(dir, d.Artifact.Filename)
			return t.uploadOne(ctx, bucket, key, d.Path)
		})
	}
	return p.Wait()
}

func renderPath(tmpl string, version craft.Version, revision craft.Revision) (string, error) {
	vars := map[string]interface{}{
		"version":  version.String(),
		"revision": revision.String(),
	}
	rendered, err := template.Render(tmpl, vars)
	if err != nil {
		return "", errs.Wrap(errs.Configuration, "render GCS path template "+tmpl, err)
	}
	return template.EnsureLeadingSlash(rendered), nil
}

// joinKey appends filename to the rendered directory-like path dir,
// inserting exactly one "/" between them.
func joinKey(dir, filename string) string {
	if len(dir) > 0 && dir[len(dir)-1] == '/' {
		return dir + filename
	}
	return dir + "/" + filename
}

func (t *Target) uploadOne(ctx context.Context, bucket *blob.Bucket, key, localPath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return errs.Wrap(errs.Transient, "read "+localPath, err)
	}

	opts := &blob.WriterOptions{
		CacheControl: t.metadata["cacheControl"],
		Metadata:     t.metadata,
	}
	if t.gzip {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write(data); err != nil {
			return errs.Wrap(errs.Transient, "gzip "+localPath, err)
		}
		if err := gz.Close(); err != nil {
			return errs.Wrap(errs.Transient, "gzip "+localPath, err)
		}
		data = buf.Bytes()
		opts.ContentEncoding = "gzip"
	}

	w, err := bucket.NewWriter(ctx, key[1:], opts)
	if err != nil {
		return errs.Wrap(errs.Transient, "open GCS writer for "+key, err)
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return errs.Wrap(errs.Transient, "upload "+key, err)
	}
	if err := w.Close(); err != nil {
		return errs.Wrap(errs.Transient, "finalize upload "+key, err)
	}
	log.Printf("uploaded %s to gs://%s%s", localPath, "", key)
	return nil
}

// openBucket builds a *blob.Bucket from env-referenced JSON credentials,
// supporting both the current and legacy variable names.
func openBucket(ctx context.Context, bucketName string) (*blob.Bucket, error) {
	jsonCreds, err := loadCredentialsJSON()
	if err != nil {
		return nil, err
	}

	creds, err := google.CredentialsFromJSON(ctx, jsonCreds, "https://www.googleapis.com/auth/cloud-platform")
	if err != nil {
		return nil, errs.Wrap(errs.Configuration, "parse GCS credentials", err)
	}

	client, err := gcp.NewHTTPClient(gcp.DefaultTransport(), gcp.CredentialsTokenSource(creds))
	if err != nil {
		return nil, errs.Wrap(errs.Transient, "build GCS HTTP client", err)
	}

	bucket, err := gcsblob.OpenBucket(ctx, client, bucketName, nil)
	if err != nil {
		return nil, errs.Wrap(errs.Transient, "open GCS bucket "+bucketName, err)
	}
	return bucket, nil
}

// loadCredentialsJSON reads service-account JSON from either a direct
// content env var or a path env var, current name first, then the legacy
// alias.
func loadCredentialsJSON() ([]byte, error) {
	for _, name := range []string{"CRAFT_GCS_TARGET_CREDS_JSON", "CRAFT_GCS_CREDENTIALS_JSON"} {
		if v := os.Getenv(name); v != "" {
			return []byte(v), nil
		}
	}
	for _, name := range []string{"CRAFT_GCS_TARGET_CREDS_PATH", "CRAFT_GCS_CREDENTIALS_PATH"} {
		if path := os.Getenv(name); path != "" {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, errs.Wrap(errs.Configuration, fmt.Sprintf("read credentials file %s", path), err)
			}
			return data, nil
		}
	}
	return nil, errs.Configurationf("CRAFT_GCS_TARGET_CREDS_JSON", "GCS credentials must be set via CRAFT_GCS_TARGET_CREDS_JSON(_PATH) (or the legacy CRAFT_GCS_CREDENTIALS_JSON(_PATH))")
}
