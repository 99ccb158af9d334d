package media

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/sync/singleflight"

	"github.com/signcast/api/internal/config"
	"github.com/signcast/api/internal/model"
)

// Normalizer turns a clip reference into a local MP4 inside dir
type Normalizer interface {
	Fetch(ctx context.Context, ref model.ClipRef, dir string) (string, error)
}

// PageFunc returns the origin page a clip for token is published on
type PageFunc func(token string) string

// Fetcher downloads clips the way a browser on the origin page would: same
// cookie jar, browser User-Agent and Referer. HLS manifests are handed to
// ffmpeg with the same headers.
type Fetcher struct {
	tool       *Tool
	httpClient *http.Client
	jar        http.CookieJar
	userAgent  string
	pageURL    PageFunc

	mu      sync.Mutex
	warmed  map[string]bool
	warming singleflight.Group
}

// NewFetcher creates a fetcher sharing one cookie jar across all requests
func NewFetcher(tool *Tool, userAgent string, pageURL PageFunc, timeout time.Duration) (*Fetcher, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	if userAgent == "" {
		userAgent = config.DefaultUserAgent
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Fetcher{
		tool:       tool,
		httpClient: &http.Client{Timeout: timeout, Jar: jar},
		jar:        jar,
		userAgent:  userAgent,
		pageURL:    pageURL,
		warmed:     make(map[string]bool),
	}, nil
}

// KindOf classifies a clip URL as HLS when its path names an m3u8 manifest
func KindOf(rawURL string) model.SourceKind {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	if strings.Contains(strings.ToLower(p), ".m3u8") {
		return model.SourceHLS
	}
	return model.SourceProgressive
}

// Fetch writes ref as a local MP4 into dir. Nothing is left in dir on error.
func (f *Fetcher) Fetch(ctx context.Context, ref model.ClipRef, dir string) (string, error) {
	referer := f.warm(ctx, ref.Token)

	if KindOf(ref.URL) == model.SourceHLS {
		out := filepath.Join(dir, uuid.NewString()+".mp4")
		if err := f.tool.Transcode(ctx, ref.URL, out, f.ffmpegHeaders(ref.URL, referer)); err != nil {
			os.Remove(out)
			return "", fmt.Errorf("hls %s: %w", ref.URL, err)
		}
		return out, nil
	}

	downloaded, err := f.download(ctx, ref.URL, referer, dir)
	if err != nil {
		return "", err
	}

	ext := strings.ToLower(filepath.Ext(downloaded))
	if ext == ".mp4" || ext == ".mov" {
		return downloaded, nil
	}

	out := filepath.Join(dir, uuid.NewString()+".mp4")
	err = f.tool.Transcode(ctx, downloaded, out, "")
	os.Remove(downloaded)
	if err != nil {
		os.Remove(out)
		return "", fmt.Errorf("convert %s: %w", ref.URL, err)
	}
	return out, nil
}

// warm visits the origin page for token so its cookies are replayed on
// media requests, and returns the Referer to send. Concurrent callers for
// the same page wait for one visit; a failed visit is retried by the next
// caller.
func (f *Fetcher) warm(ctx context.Context, token string) string {
	if f.pageURL == nil || token == "" {
		return ""
	}
	page := f.pageURL(token)
	if f.isWarm(page) {
		return page
	}

	_, err, _ := f.warming.Do(page, func() (interface{}, error) {
		if f.isWarm(page) {
			return nil, nil
		}
		if err := f.visit(ctx, page); err != nil {
			return nil, err
		}
		f.mu.Lock()
		f.warmed[page] = true
		f.mu.Unlock()
		return nil, nil
	})
	if err != nil {
		log.Printf("[media] session warm-up failed for %s: %v", page, err)
	}
	return page
}

func (f *Fetcher) isWarm(page string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.warmed[page]
}

func (f *Fetcher) visit(ctx context.Context, page string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, page, nil)
	if err != nil {
		return err
	}
	f.setHeaders(req, "")
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 400 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func (f *Fetcher) download(ctx context.Context, rawURL, referer, dir string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	f.setHeaders(req, referer)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("download %s: status %d", rawURL, resp.StatusCode)
	}

	tmp, err := os.CreateTemp(dir, "dl-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	_, copyErr := io.Copy(tmp, resp.Body)
	closeErr := tmp.Close()
	if copyErr != nil || closeErr != nil {
		os.Remove(tmpPath)
		if copyErr == nil {
			copyErr = closeErr
		}
		return "", fmt.Errorf("download %s: %w", rawURL, copyErr)
	}

	ext := containerExt(rawURL, tmpPath)
	final := tmpPath + ext
	if err := os.Rename(tmpPath, final); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("rename download: %w", err)
	}
	return final, nil
}

// containerExt picks the extension from the URL path, falling back to the
// sniffed content type.
func containerExt(rawURL, localPath string) string {
	if u, err := url.Parse(rawURL); err == nil {
		switch ext := strings.ToLower(path.Ext(u.Path)); ext {
		case ".mp4", ".mov", ".webm", ".mkv", ".m4v":
			return ext
		}
	}
	mt, err := mimetype.DetectFile(localPath)
	if err != nil || mt.Extension() == "" {
		return ".bin"
	}
	return mt.Extension()
}

func (f *Fetcher) setHeaders(req *http.Request, referer string) {
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "*/*")
	if referer != "" {
		req.Header.Set("Referer", referer)
	}
}

// ffmpegHeaders renders the request headers for ffmpeg's -headers option,
// including cookies the jar holds for the target.
func (f *Fetcher) ffmpegHeaders(rawURL, referer string) string {
	var b strings.Builder
	b.WriteString("User-Agent: " + f.userAgent + "\r\n")
	b.WriteString("Accept: */*\r\n")
	if referer != "" {
		b.WriteString("Referer: " + referer + "\r\n")
	}
	if u, err := url.Parse(rawURL); err == nil {
		var pairs []string
		for _, c := range f.jar.Cookies(u) {
			pairs = append(pairs, c.Name+"="+c.Value)
		}
		if len(pairs) > 0 {
			b.WriteString("Cookie: " + strings.Join(pairs, "; ") + "\r\n")
		}
	}
	return b.String()
}
