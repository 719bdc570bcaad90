package fetcher

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Acquirer downloads the required raster set from configured mirror base
// URLs. Files already present and non-empty are skipped unless force is
// set, and forced refreshes over HTTP are conditional on the ETag
// recorded at download time.
type Acquirer struct {
	dispatcher *Dispatcher
	dataDir    string
	mirrors    []string
	force      bool
}

// NewAcquirer builds an Acquirer writing into dataDir, trying mirrors in
// the order given.
func NewAcquirer(d *Dispatcher, dataDir string, mirrors []string, force bool) *Acquirer {
	return &Acquirer{dispatcher: d, dataDir: dataDir, mirrors: mirrors, force: force}
}

// AcquireReport summarizes one acquisition pass.
type AcquireReport struct {
	Downloaded []string
	Skipped    []string
	Failed     map[string]error
}

// Acquire ensures every named file exists under the data directory,
// trying each mirror in order until one serves it. Per-file failures
// land in the report; the returned error summarizes them.
func (a *Acquirer) Acquire(ctx context.Context, files []string) (*AcquireReport, error) {
	if len(a.mirrors) == 0 {
		return nil, eris.New("fetcher: no mirrors configured")
	}
	if err := os.MkdirAll(a.dataDir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "fetcher: create data dir %s", a.dataDir)
	}

	report := &AcquireReport{Failed: make(map[string]error)}
	for _, name := range files {
		if err := ctx.Err(); err != nil {
			return report, eris.Wrap(err, "fetcher: acquisition interrupted")
		}

		dest := filepath.Join(a.dataDir, name)
		if !a.force && fileNonEmpty(dest) {
			report.Skipped = append(report.Skipped, name)
			zap.L().Debug("raster already present", zap.String("file", name))
			continue
		}

		outcome, err := a.fetchFromMirrors(ctx, name, dest)
		switch {
		case err != nil:
			report.Failed[name] = err
			zap.L().Error("every mirror failed", zap.String("file", name), zap.Error(err))
		case outcome.unchanged:
			report.Skipped = append(report.Skipped, name)
			zap.L().Info("raster unchanged on mirror", zap.String("file", name))
		default:
			report.Downloaded = append(report.Downloaded, name)
			zap.L().Info("raster downloaded",
				zap.String("file", name),
				zap.String("url", outcome.url),
				zap.Int64("bytes", outcome.bytes),
			)
		}
	}

	if len(report.Failed) > 0 {
		return report, eris.Errorf("fetcher: %d of %d required files could not be downloaded",
			len(report.Failed), len(files))
	}
	return report, nil
}

type fetchOutcome struct {
	url       string
	bytes     int64
	unchanged bool
}

func (a *Acquirer) fetchFromMirrors(ctx context.Context, name, dest string) (fetchOutcome, error) {
	var lastErr error
	for _, base := range a.mirrors {
		rawURL := mirrorURL(base, name)

		outcome, err := a.fetchOne(ctx, rawURL, dest)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return fetchOutcome{}, lastErr
			}
			zap.L().Warn("mirror failed, trying next",
				zap.String("url", rawURL), zap.Error(err))
			continue
		}
		outcome.url = rawURL
		return outcome, nil
	}
	return fetchOutcome{}, lastErr
}

func (a *Acquirer) fetchOne(ctx context.Context, rawURL, dest string) (fetchOutcome, error) {
	f, err := a.dispatcher.ForURL(rawURL)
	if err != nil {
		return fetchOutcome{}, err
	}

	hf, ok := f.(*HTTPFetcher)
	if !ok {
		// FTP has no conditional transfer; retrieve into staging and
		// promote.
		part := dest + ".partial"
		n, err := f.DownloadToFile(ctx, rawURL, part)
		if err != nil {
			_ = os.Remove(part)
			return fetchOutcome{}, err
		}
		n, err = promote(part, dest, n)
		if err != nil {
			return fetchOutcome{}, err
		}
		return fetchOutcome{bytes: n}, nil
	}

	// Over HTTP, a forced refresh of a file we already hold sends the
	// recorded ETag and accepts 304 as current.
	etag := ""
	if fileNonEmpty(dest) {
		etag = readETag(dest)
	}
	body, newETag, changed, err := hf.DownloadIfChanged(ctx, rawURL, etag)
	if err != nil {
		return fetchOutcome{}, err
	}
	if !changed {
		if !fileNonEmpty(dest) {
			return fetchOutcome{}, eris.Errorf(
				"fetcher: %s reported not modified for a file we do not hold", rawURL)
		}
		return fetchOutcome{unchanged: true}, nil
	}
	defer body.Close() //nolint:errcheck

	n, err := writeAtomic(dest, body)
	if err != nil {
		return fetchOutcome{}, err
	}
	rememberETag(dest, newETag)
	return fetchOutcome{bytes: n}, nil
}

// writeAtomic streams r into a staging file next to dest and renames it
// into place, so an interrupted transfer never leaves a half-written
// raster under the final name.
func writeAtomic(dest string, r io.Reader) (int64, error) {
	part := dest + ".partial"

	file, err := os.Create(part)
	if err != nil {
		return 0, eris.Wrapf(err, "fetcher: create %s", part)
	}
	n, err := io.Copy(file, r)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(part)
		return 0, eris.Wrapf(err, "fetcher: write %s", part)
	}

	return promote(part, dest, n)
}

func promote(part, dest string, n int64) (int64, error) {
	if n == 0 {
		_ = os.Remove(part)
		return 0, eris.Errorf("fetcher: mirror served empty file for %s", filepath.Base(dest))
	}
	if err := os.Rename(part, dest); err != nil {
		_ = os.Remove(part)
		return 0, eris.Wrapf(err, "fetcher: promote %s", filepath.Base(dest))
	}
	return n, nil
}

func mirrorURL(base, name string) string {
	return strings.TrimRight(base, "/") + "/" + name
}

func fileNonEmpty(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}

func etagPath(dest string) string { return dest + ".etag" }

func readETag(dest string) string {
	b, err := os.ReadFile(etagPath(dest))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

func rememberETag(dest, etag string) {
	if etag == "" {
		_ = os.Remove(etagPath(dest))
		return
	}
	if err := os.WriteFile(etagPath(dest), []byte(etag+"\n"), 0o644); err != nil {
		zap.L().Debug("could not record etag", zap.String("file", dest), zap.Error(err))
	}
}
