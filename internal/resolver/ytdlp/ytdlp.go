// Package ytdlp implements a resolver backend that extracts video metadata
// with the yt-dlp binary and fetches the resulting direct media URLs itself.
package ytdlp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"tubefetch/internal/config"
	"tubefetch/internal/depmanager"
	"tubefetch/internal/errs"
	"tubefetch/internal/proxymgr"
	"tubefetch/internal/resolver"
	"tubefetch/pkg/maths"
	"tubefetch/pkg/ptr"

	"github.com/lrstanley/go-ytdlp"
)

// Error categories reported to metrics.
const (
	CategoryRestricted = "restricted"
	CategoryInvalidURL = "invalid_url"
	CategoryBinary     = "binary"
	CategoryExtractor  = "extractor"
)

// Binaries locates installed tool binaries.
type Binaries interface {
	GetInstalledPath(name depmanager.BinaryName) string
}

// Backend resolves videos by running yt-dlp.
type Backend struct {
	log      *slog.Logger
	cfg      *config.Config
	bins     Binaries
	proxyMgr *proxymgr.Manager
	client   *http.Client
}

var (
	_ resolver.Backend    = (*Backend)(nil)
	_ resolver.Classifier = (*Backend)(nil)
)

// New creates a new Backend. bins may be nil, in which case yt-dlp is looked up in PATH.
func New(log *slog.Logger, cfg *config.Config, bins Binaries, proxyMgr *proxymgr.Manager) *Backend {
	transport := http.DefaultTransport.(*http.Transport).Clone() //nolint:forcetypeassert

	return &Backend{
		log:      log.With(slog.String("package", "resolver"), slog.String("backend", config.ResolverBackendYTdlp)),
		cfg:      cfg,
		bins:     bins,
		proxyMgr: proxyMgr,
		client:   &http.Client{Transport: proxyMgr.RoundTripper(transport)},
	}
}

// Name returns the backend identifier.
func (b *Backend) Name() string { return config.ResolverBackendYTdlp }

// Lookup runs yt-dlp without downloading and converts its JSON dump.
func (b *Backend) Lookup(ctx context.Context, rawURL string) (*resolver.Video, error) {
	log := b.log.With(slog.String("url", rawURL))

	command := ytdlp.New().
		SkipDownload().
		PrintJSON().
		NoPlaylist()

	if bin := b.binary(); bin != "" {
		command = command.SetExecutable(bin)
	}

	if b.cfg.Resolver.CacheDir != "" {
		command = command.CacheDir(b.cfg.Resolver.CacheDir)
	}

	if b.cfg.Resolver.CookieFile != "" {
		command = command.Cookies(b.cfg.Resolver.CookieFile)
	}

	proxyURL := b.proxyMgr.GetRandomProxy()
	if proxyURL != "" {
		command = command.Proxy(proxyURL)
	}

	start := time.Now()

	res, err := command.Run(ctx, rawURL)
	if err != nil {
		if proxyURL != "" && ctx.Err() == nil {
			b.proxyMgr.MarkFailed(proxyURL)
		}

		log.ErrorContext(ctx, "ytdlp run", slog.Any("error", err), slog.Any("result", Result{res}))

		if res != nil && res.Stderr != "" {
			return nil, fmt.Errorf("ytdlp run: %w: %s", err, lastLine(res.Stderr))
		}

		return nil, fmt.Errorf("ytdlp run: %w", err)
	}

	if proxyURL != "" {
		b.proxyMgr.MarkSuccess(proxyURL)
	}

	info, err := videoInfo(res)
	if err != nil {
		log.ErrorContext(ctx, "ytdlp parse", slog.Any("error", err), slog.Any("result", Result{res}))

		return nil, err
	}

	log.DebugContext(ctx, "ytdlp done",
		slog.String("id", info.ID),
		slog.Int("formats", len(info.Formats)),
		slog.Duration("took", time.Since(start)))

	return b.toVideo(info), nil
}

// Classify maps yt-dlp failures to metric categories.
func (b *Backend) Classify(err error) string {
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, errs.ErrBinaryNotFound) {
		return CategoryBinary
	}

	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "private video"),
		strings.Contains(msg, "sign in"),
		strings.Contains(msg, "members-only"),
		strings.Contains(msg, "not available"):
		return CategoryRestricted
	case strings.Contains(msg, "unsupported url"),
		strings.Contains(msg, "is not a valid url"),
		strings.Contains(msg, "incomplete youtube id"):
		return CategoryInvalidURL
	default:
		return CategoryExtractor
	}
}

// videoInfo returns the first single video among the objects yt-dlp printed.
func videoInfo(res *ytdlp.Result) (*ytdlp.ExtractedInfo, error) {
	infos, err := res.GetExtractedInfo()
	if err != nil {
		return nil, fmt.Errorf("ytdlp extracted info: %w", err)
	}

	for _, info := range infos {
		if info.Type == typeVideo {
			return info, nil
		}
	}

	return nil, errs.ErrNoVideo
}

func (b *Backend) toVideo(info *ytdlp.ExtractedInfo) *resolver.Video {
	author := ptr.Deref(info.Uploader)
	if author == "" {
		author = ptr.Deref(info.Channel)
	}

	video := &resolver.Video{
		ID:        info.ID,
		URL:       ptr.Deref(info.WebpageURL),
		Title:     ptr.Deref(info.Title),
		Author:    author,
		Duration:  time.Duration(ptr.Deref(info.Duration) * float64(time.Second)),
		Thumbnail: ptr.Deref(info.Thumbnail),
		Streams:   make([]resolver.Stream, 0, len(info.Formats)),
	}

	for _, f := range info.Formats {
		if f == nil || !fetchable(f) {
			continue
		}

		if !hasVideo(f) && !hasAudio(f) {
			continue
		}

		size := approxSize(f)

		video.Streams = append(video.Streams, resolver.Stream{
			Token:         ptr.Deref(f.FormatID),
			QualityLabel:  qualityLabel(f),
			MimeType:      mimeType(f),
			Container:     extension(f),
			HasVideo:      hasVideo(f),
			HasAudio:      hasAudio(f),
			Height:        maths.RoundFloat64ToInt(ptr.Deref(f.Height)),
			AudioBitrate:  maths.RoundFloat64ToInt(ptr.Deref(f.ABR) * 1000),
			ContentLength: size,
			Open:          b.opener(f, size),
		})
	}

	return video
}

// fetchable reports whether f is a plain file behind a single URL.
// Manifests and storyboards cannot be fetched as one body.
func fetchable(f *ytdlp.ExtractedFormat) bool {
	protocol := ptr.Deref(f.Protocol)

	return f.URL != "" && (protocol == "https" || protocol == "http")
}

func (b *Backend) opener(f *ytdlp.ExtractedFormat, approx int64) resolver.OpenFunc {
	return func(ctx context.Context) (io.ReadCloser, int64, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
		if err != nil {
			return nil, 0, fmt.Errorf("new request: %w", err)
		}

		for k, v := range f.HTTPHeaders {
			req.Header.Set(k, v)
		}

		resp, err := b.client.Do(req)
		if err != nil {
			return nil, 0, fmt.Errorf("get format %s: %w", ptr.Deref(f.FormatID), err)
		}

		if resp.StatusCode != http.StatusOK {
			_ = resp.Body.Close()

			return nil, 0, fmt.Errorf("get format %s: unexpected status %s", ptr.Deref(f.FormatID), resp.Status)
		}

		size := resp.ContentLength
		if size <= 0 {
			size = approx
		}

		return resp.Body, size, nil
	}
}

func (b *Backend) binary() string {
	if b.bins == nil {
		return ""
	}

	return b.bins.GetInstalledPath(depmanager.BinaryYTdlp)
}

// qualityLabel builds a label like "1080p" or "1080p60" for video formats.
func qualityLabel(f *ytdlp.ExtractedFormat) string {
	height := maths.RoundFloat64ToInt(ptr.Deref(f.Height))
	if !hasVideo(f) || height <= 0 {
		return ""
	}

	if fps := maths.RoundFloat64ToInt(ptr.Deref(f.FPS)); fps > 30 {
		return fmt.Sprintf("%dp%d", height, fps)
	}

	return fmt.Sprintf("%dp", height)
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}

	return s
}
