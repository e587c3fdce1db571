// Package provision fetches and unpacks the acoustic model archive on first
// run. It is idempotent: a readiness marker inside the model directory is the
// only on-disk contract, and once present the provisioner does nothing.
package provision

import (
	"archive/tar"
	"compress/bzip2"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/verba-labs/verba-core/internal/config"
)

// Ensure makes the model artifacts available under cfg.Dir. Every failure is
// returned to the caller and must be treated as startup-fatal; a partially
// provisioned model directory never gets a readiness marker.
func Ensure(ctx context.Context, cfg config.ModelConfig, log *slog.Logger) error {
	marker := filepath.Join(cfg.Dir, cfg.MarkerFile)
	if _, err := os.Stat(marker); err == nil {
		log.Info("model already provisioned", slog.String("dir", cfg.Dir))
		return nil
	}

	if cfg.SourceURL == "" {
		return fmt.Errorf("model not provisioned in %q and no model.source_url configured", cfg.Dir)
	}

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}

	log.Info("downloading model archive", slog.String("url", cfg.SourceURL))
	archive, size, err := download(ctx, cfg.SourceURL)
	if err != nil {
		return err
	}
	defer os.Remove(archive)
	log.Info("model archive downloaded", slog.Int64("bytes", size))

	log.Info("extracting model archive", slog.String("dir", cfg.Dir))
	if err := extract(archive, cfg.SourceURL, cfg.Dir); err != nil {
		return err
	}

	if err := flattenSingleDir(cfg.Dir); err != nil {
		return err
	}

	if err := os.WriteFile(marker, []byte("done\n"), 0o644); err != nil {
		return fmt.Errorf("write readiness marker: %w", err)
	}
	log.Info("model provisioned", slog.String("dir", cfg.Dir))
	return nil
}

// download streams the archive to a temp file and returns its path. The file
// is written fully before anything touches the model directory.
func download(ctx context.Context, url string) (string, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", 0, fmt.Errorf("build download request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("download model archive: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("download model archive: HTTP %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp("", "verba_model_*")
	if err != nil {
		return "", 0, fmt.Errorf("create archive temp file: %w", err)
	}
	written, err := io.Copy(tmp, resp.Body)
	closeErr := tmp.Close()
	if err != nil {
		os.Remove(tmp.Name())
		return "", 0, fmt.Errorf("write archive: %w", err)
	}
	if closeErr != nil {
		os.Remove(tmp.Name())
		return "", 0, fmt.Errorf("close archive: %w", closeErr)
	}
	return tmp.Name(), written, nil
}

func extract(archive, url, dest string) error {
	f, err := os.Open(archive)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	var reader io.Reader
	switch {
	case strings.HasSuffix(url, ".tar.bz2"), strings.HasSuffix(url, ".tbz2"):
		reader = bzip2.NewReader(f)
	case strings.HasSuffix(url, ".tar.gz"), strings.HasSuffix(url, ".tgz"):
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("open gzip stream: %w", err)
		}
		defer gz.Close()
		reader = gz
	default:
		return fmt.Errorf("unsupported archive format in %q", url)
	}

	tr := tar.NewReader(reader)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read archive: %w", err)
		}

		target, err := securePath(dest, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create dir %q: %w", hdr.Name, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("create parent dir for %q: %w", hdr.Name, err)
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode)&0o777)
			if err != nil {
				return fmt.Errorf("create file %q: %w", hdr.Name, err)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return fmt.Errorf("extract %q: %w", hdr.Name, err)
			}
			if err := out.Close(); err != nil {
				return fmt.Errorf("close %q: %w", hdr.Name, err)
			}
		default:
			// Symlinks and specials are not part of model archives.
		}
	}
}

// securePath rejects entries that would escape the destination directory.
func securePath(dest, name string) (string, error) {
	target := filepath.Join(dest, filepath.Clean(name))
	if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive entry %q escapes destination", name)
	}
	return target, nil
}

// flattenSingleDir moves the contents of a lone top-level directory (the
// usual release-archive layout) directly into the model directory.
func flattenSingleDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read model dir: %w", err)
	}
	if len(entries) != 1 || !entries[0].IsDir() {
		return nil
	}

	inner := filepath.Join(dir, entries[0].Name())
	children, err := os.ReadDir(inner)
	if err != nil {
		return fmt.Errorf("read extracted dir: %w", err)
	}
	for _, child := range children {
		from := filepath.Join(inner, child.Name())
		to := filepath.Join(dir, child.Name())
		if err := os.Rename(from, to); err != nil {
			return fmt.Errorf("flatten %q: %w", child.Name(), err)
		}
	}
	if err := os.Remove(inner); err != nil {
		return fmt.Errorf("remove extracted dir: %w", err)
	}
	return nil
}
