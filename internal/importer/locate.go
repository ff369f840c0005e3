package importer

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrNoDumpFound means no snapshot file exists locally or remotely within
// the lookback window. Fatal for the run.
var ErrNoDumpFound = errors.New("no snapshot file found in lookback window")

const (
	lookbackDays = 7
	// A remote file modified this recently is treated as still being
	// written; the archived listing is preferred instead.
	freshWindow = 10 * time.Minute
)

// Source identifies one located daily snapshot: either already on disk
// (LocalPath set) or downloadable (URL set).
type Source struct {
	Name      string
	LocalPath string
	URL       string
}

// Locator finds the most recent daily snapshot, checking the local cache
// before probing remote listings day by day.
type Locator struct {
	BaseURL  string
	CacheDir string

	client *resty.Client
	now    func() time.Time // overridable in tests
}

// NewLocator creates a locator against the given listing base URL.
func NewLocator(baseURL, cacheDir string) *Locator {
	return &Locator{
		BaseURL:  baseURL,
		CacheDir: cacheDir,
		client:   resty.New().SetTimeout(30 * time.Second),
		now:      time.Now,
	}
}

func dumpName(day time.Time) string {
	return "stations-" + day.UTC().Format("2006-01-02") + ".jsonl.gz"
}

// Locate returns the newest usable snapshot within the lookback window.
func (l *Locator) Locate(ctx context.Context) (*Source, error) {
	today := l.now().UTC()

	// Local cache first: an extracted .jsonl beats a .gz of the same day.
	for d := 0; d < lookbackDays; d++ {
		name := dumpName(today.AddDate(0, 0, -d))
		extracted := filepath.Join(l.CacheDir, name[:len(name)-3])
		if _, err := os.Stat(extracted); err == nil {
			slog.Info("using cached snapshot", "path", extracted)
			return &Source{Name: name, LocalPath: extracted}, nil
		}
		compressed := filepath.Join(l.CacheDir, name)
		if _, err := os.Stat(compressed); err == nil {
			slog.Info("using cached archive", "path", compressed)
			return &Source{Name: name, LocalPath: compressed}, nil
		}
	}

	// Remote listings, newest first.
	for d := 0; d < lookbackDays; d++ {
		name := dumpName(today.AddDate(0, 0, -d))
		url := l.BaseURL + "/" + name

		resp, err := l.client.R().SetContext(ctx).Head(url)
		if err != nil || resp.StatusCode() != http.StatusOK {
			continue
		}

		if l.stillBeingWritten(resp) {
			// Fall back to the dated archive listing for the same day.
			archived := l.BaseURL + "/archive/" + name
			aresp, aerr := l.client.R().SetContext(ctx).Head(archived)
			if aerr == nil && aresp.StatusCode() == http.StatusOK {
				slog.Info("live listing still being written, using archive", "file", name)
				return &Source{Name: name, URL: archived}, nil
			}
			slog.Info("live listing still being written, skipping", "file", name)
			continue
		}
		return &Source{Name: name, URL: url}, nil
	}

	return nil, ErrNoDumpFound
}

func (l *Locator) stillBeingWritten(resp *resty.Response) bool {
	lm, err := http.ParseTime(resp.Header().Get("Last-Modified"))
	if err != nil {
		return false
	}
	return l.now().Sub(lm) < freshWindow
}

// Fetch makes sure the source is extracted on disk, downloading first if
// needed, and returns the path of the uncompressed JSON-lines file.
// Failures here are fatal for the run.
func (l *Locator) Fetch(ctx context.Context, src *Source) (string, error) {
	gzPath := src.LocalPath
	if gzPath == "" {
		if err := os.MkdirAll(l.CacheDir, 0o755); err != nil {
			return "", err
		}
		gzPath = filepath.Join(l.CacheDir, src.Name)
		if err := l.download(ctx, src.URL, gzPath); err != nil {
			return "", fmt.Errorf("download %s: %w", src.URL, err)
		}
	}
	if filepath.Ext(gzPath) != ".gz" {
		return gzPath, nil // already extracted
	}
	return extract(gzPath)
}

// download streams the artifact to disk with coarse progress reporting.
func (l *Locator) download(ctx context.Context, url, dest string) error {
	resp, err := l.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(url)
	if err != nil {
		return err
	}
	body := resp.RawBody()
	defer body.Close()
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode())
	}

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	total := resp.RawResponse.ContentLength
	var written int64
	buf := make([]byte, 1<<20)
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return werr
			}
			written += int64(n)
			if written%(256<<20) < 1<<20 { // roughly every 256 MB
				slog.Info("downloading", "bytes", written, "total", total)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return rerr
		}
	}
	slog.Info("download complete", "path", dest, "bytes", written)
	return nil
}

// extract gunzips next to the archive and deletes the archive on success.
func extract(gzPath string) (string, error) {
	in, err := os.Open(gzPath)
	if err != nil {
		return "", err
	}
	defer in.Close()

	zr, err := gzip.NewReader(in)
	if err != nil {
		return "", fmt.Errorf("open archive %s: %w", gzPath, err)
	}
	defer zr.Close()

	dest := gzPath[:len(gzPath)-3]
	out, err := os.Create(dest)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, zr); err != nil {
		out.Close()
		os.Remove(dest)
		return "", fmt.Errorf("extract %s: %w", gzPath, err)
	}
	if err := out.Close(); err != nil {
		return "", err
	}

	os.Remove(gzPath)
	slog.Info("extracted snapshot", "path", dest)
	return dest, nil
}
