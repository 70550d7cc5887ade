package git

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/getsentry/craft/pkg/craft/errs"
)

// untar extracts tarPath into destDir, stripping the leading stripComponents
// path segments from each entry's name (entries that have stripComponents
// or fewer segments are skipped), mirroring "tar --strip-components".
func untar(tarPath, destDir string, stripComponents int) error {
	f, err := os.Open(tarPath)
	if err != nil {
		return errs.Wrap(errs.Transient, "open "+tarPath, err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(tarPath, ".gz") || strings.HasSuffix(tarPath, ".tgz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return errs.Wrap(errs.Transient, "open gzip stream for "+tarPath, err)
		}
		defer gz.Close()
		r = gz
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errs.Wrap(errs.Transient, "read tar entry from "+tarPath, err)
		}

		name, ok := stripPrefix(hdr.Name, stripComponents)
		if !ok {
			continue
		}
		target := filepath.Join(destDir, name)
		if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) && target != filepath.Clean(destDir) {
			return errs.Newf(errs.Upstream, "tar entry %q escapes destination directory", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return errs.Wrap(errs.Transient, "create dir "+target, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return errs.Wrap(errs.Transient, "create dir "+filepath.Dir(target), err)
			}
			if err := writeTarFile(tr, target, os.FileMode(hdr.Mode)); err != nil {
				return err
			}
		default:
			// Skip symlinks and other special entries; release tarballs
			// don't carry them.
		}
	}
}

func writeTarFile(r io.Reader, target string, mode os.FileMode) error {
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return errs.Wrap(errs.Transient, "create "+target, err)
	}
	defer out.Close()
	if _, err := io.Copy(out, r); err != nil {
		return errs.Wrap(errs.Transient, "write "+target, err)
	}
	return nil
}

// stripPrefix removes the first n "/"-separated components of name,
// returning ok=false if name has n or fewer components (nothing left after
// stripping).
func stripPrefix(name string, n int) (string, bool) {
	if n <= 0 {
		return name, name != ""
	}
	parts := strings.Split(strings.Trim(name, "/"), "/")
	if len(parts) <= n {
		return "", false
	}
	return filepath.Join(parts[n:]...), true
}
