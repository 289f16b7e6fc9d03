// Package youtube implements the default resolver backend on top of the
// kkdai/youtube client. Streams are fetched in-process with chunked range
// requests.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"tubefetch/internal/config"
	"tubefetch/internal/proxymgr"
	"tubefetch/internal/resolver"

	yt "github.com/kkdai/youtube/v2"
)

// Error categories reported to metrics.
const (
	CategoryRestricted = "restricted"
	CategoryInvalidURL = "invalid_url"
	CategoryNetwork    = "network"
)

// Backend resolves videos with the kkdai/youtube client.
type Backend struct {
	log    *slog.Logger
	client *yt.Client
}

var (
	_ resolver.Backend    = (*Backend)(nil)
	_ resolver.Classifier = (*Backend)(nil)
)

// New creates a new Backend. Requests go through proxyMgr when it has proxies.
func New(log *slog.Logger, proxyMgr *proxymgr.Manager) *Backend {
	transport := http.DefaultTransport.(*http.Transport).Clone() //nolint:forcetypeassert

	return &Backend{
		log: log.With(slog.String("package", "resolver"), slog.String("backend", config.ResolverBackendYouTube)),
		client: &yt.Client{
			HTTPClient: &http.Client{Transport: proxyMgr.RoundTripper(transport)},
		},
	}
}

// Name returns the backend identifier.
func (b *Backend) Name() string { return config.ResolverBackendYouTube }

// Lookup fetches video metadata and its format list.
func (b *Backend) Lookup(ctx context.Context, rawURL string) (*resolver.Video, error) {
	video, err := b.client.GetVideoContext(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("get video: %w", err)
	}

	b.log.DebugContext(ctx, "video fetched",
		slog.String("id", video.ID),
		slog.Int("formats", len(video.Formats)))

	return b.convert(video), nil
}

// Classify maps client errors to metric categories.
func (b *Backend) Classify(err error) string {
	switch {
	case errors.Is(err, yt.ErrLoginRequired),
		errors.Is(err, yt.ErrVideoPrivate),
		errors.Is(err, yt.ErrNotPlayableInEmbed):
		return CategoryRestricted
	case errors.Is(err, yt.ErrInvalidCharactersInVideoID),
		errors.Is(err, yt.ErrVideoIDMinLength):
		return CategoryInvalidURL
	}

	var statusErr *yt.ErrPlayabiltyStatus
	if errors.As(err, &statusErr) {
		return CategoryRestricted
	}

	return CategoryNetwork
}

func (b *Backend) convert(video *yt.Video) *resolver.Video {
	out := &resolver.Video{
		ID:       video.ID,
		Title:    video.Title,
		Author:   video.Author,
		Duration: video.Duration,
		Streams:  make([]resolver.Stream, 0, len(video.Formats)),
	}

	// thumbnails are listed smallest first
	if n := len(video.Thumbnails); n > 0 {
		out.Thumbnail = video.Thumbnails[n-1].URL
	}

	for i := range video.Formats {
		format := &video.Formats[i]

		out.Streams = append(out.Streams, resolver.Stream{
			Token:         strconv.Itoa(format.ItagNo),
			QualityLabel:  format.QualityLabel,
			MimeType:      format.MimeType,
			HasVideo:      strings.HasPrefix(format.MimeType, "video/"),
			HasAudio:      format.AudioChannels > 0 || strings.HasPrefix(format.MimeType, "audio/"),
			Height:        int(format.Height),
			AudioBitrate:  audioBitrate(format),
			ContentLength: int64(format.ContentLength),
			Open:          b.opener(video, format),
		})
	}

	return out
}

func (b *Backend) opener(video *yt.Video, format *yt.Format) resolver.OpenFunc {
	return func(ctx context.Context) (io.ReadCloser, int64, error) {
		body, size, err := b.client.GetStreamContext(ctx, video, format)
		if err != nil {
			return nil, 0, fmt.Errorf("get stream itag %d: %w", format.ItagNo, err)
		}

		return body, size, nil
	}
}

func audioBitrate(format *yt.Format) int {
	if format.AverageBitrate > 0 {
		return format.AverageBitrate
	}

	return format.Bitrate
}
