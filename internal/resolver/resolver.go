// Package resolver wraps a video backend and normalizes its streams into
// format descriptors.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"strings"
	"time"

	"tubefetch/internal/config"
	"tubefetch/internal/consts"
	"tubefetch/internal/entity"
	"tubefetch/internal/errs"
	"tubefetch/internal/observability"
	"tubefetch/pkg/calc"
	"tubefetch/pkg/urls"
)

// OpenFunc opens the byte stream of a single format. It returns the body and
// its total size in bytes, or 0 when the size is unknown.
type OpenFunc func(ctx context.Context) (io.ReadCloser, int64, error)

// Stream is one upstream format as reported by a backend.
type Stream struct {
	Token         string // backend-specific id, stable for the same video
	QualityLabel  string // e.g. "720p", "1080p60"
	MimeType      string // e.g. `video/mp4; codecs="avc1.64001F, mp4a.40.2"`
	Container     string // optional, derived from MimeType when empty
	HasVideo      bool
	HasAudio      bool
	Height        int
	AudioBitrate  int   // bits per second
	ContentLength int64 // 0 when unknown
	Open          OpenFunc
}

// IsCombined reports whether s carries both video and audio.
func (s Stream) IsCombined() bool { return s.HasVideo && s.HasAudio }

// IsAudioOnly reports whether s carries audio and no video.
func (s Stream) IsAudioOnly() bool { return s.HasAudio && !s.HasVideo }

// Label returns the quality label, falling back to the height.
func (s Stream) Label() string {
	if s.QualityLabel != "" {
		return s.QualityLabel
	}

	if s.Height > 0 {
		return fmt.Sprintf("%dp", s.Height)
	}

	return ""
}

// ContainerName returns the container, e.g. "mp4" or "webm".
func (s Stream) ContainerName() string {
	if s.Container != "" {
		return s.Container
	}

	mediaType, _, err := mime.ParseMediaType(s.MimeType)
	if err != nil {
		return consts.DefaultContainer
	}

	_, subtype, ok := strings.Cut(mediaType, "/")
	if !ok || subtype == "" {
		return consts.DefaultContainer
	}

	return subtype
}

// ContentType returns the MIME type without codec parameters.
func (s Stream) ContentType() string {
	mediaType, _, err := mime.ParseMediaType(s.MimeType)
	if err != nil || mediaType == "" {
		if s.HasVideo {
			return "video/" + s.ContainerName()
		}

		return "audio/" + s.ContainerName()
	}

	return mediaType
}

// Video is the raw lookup result of a backend.
type Video struct {
	ID        string
	URL       string
	Title     string
	Author    string
	Duration  time.Duration
	Thumbnail string
	Streams   []Stream
}

// Backend looks up videos upstream.
type Backend interface {
	Name() string
	Lookup(ctx context.Context, url string) (*Video, error)
}

// Classifier is implemented by backends that can categorize their lookup
// errors for metrics.
type Classifier interface {
	Classify(err error) string
}

// Resolver validates URLs and delegates lookups to a backend.
type Resolver struct {
	log     *slog.Logger
	backend Backend
	metrics *observability.Metrics
	hosts   []string
	timeout time.Duration
}

// New creates a new Resolver.
func New(log *slog.Logger, cfg *config.Config, backend Backend, metrics *observability.Metrics) *Resolver {
	return &Resolver{
		log:     log.With(slog.String("package", "resolver"), slog.String("backend", backend.Name())),
		backend: backend,
		metrics: metrics,
		hosts:   cfg.Resolver.AllowedHosts,
		timeout: cfg.Resolver.Timeout,
	}
}

// Supported reports whether rawURL belongs to the supported host family.
func (r *Resolver) Supported(rawURL string) bool {
	return urls.HostAllowed(rawURL, r.hosts)
}

// Lookup fetches the raw streams of rawURL. Every failure wraps errs.ErrResolution;
// unsupported URLs additionally wrap errs.ErrInvalidURL.
func (r *Resolver) Lookup(ctx context.Context, rawURL string) (*Video, error) {
	rawURL = urls.Normalize(rawURL)
	if !r.Supported(rawURL) {
		return nil, fmt.Errorf("%w: %w", errs.ErrResolution, errs.ErrInvalidURL)
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	video, err := r.backend.Lookup(ctx, rawURL)
	if err == nil && video == nil {
		err = errs.ErrNoVideo
	}

	if err != nil {
		category := r.classify(err)
		r.metrics.RecordResolverRequest(r.backend.Name(), "error")
		r.metrics.RecordResolverError(r.backend.Name(), category)
		r.log.WarnContext(ctx, "lookup failed",
			slog.String("url", rawURL),
			slog.String("category", category),
			slog.Any("error", err))

		return nil, fmt.Errorf("%w: %w", errs.ErrResolution, err)
	}

	r.metrics.RecordResolverRequest(r.backend.Name(), "success")

	if video.URL == "" {
		video.URL = rawURL
	}

	r.log.DebugContext(ctx, "video looked up",
		slog.String("url", rawURL),
		slog.String("title", video.Title),
		slog.Int("streams", len(video.Streams)))

	return video, nil
}

// Resolve looks up rawURL and returns its normalized metadata.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) (entity.VideoInfo, error) {
	video, err := r.Lookup(ctx, rawURL)
	if err != nil {
		return entity.VideoInfo{}, err
	}

	return Info(video), nil
}

// Info converts a looked up video into its public metadata.
func Info(video *Video) entity.VideoInfo {
	return entity.VideoInfo{
		URL:             video.URL,
		Title:           video.Title,
		Author:          video.Author,
		Duration:        calc.DurationLabel(video.Duration),
		DurationSeconds: int64(video.Duration / time.Second),
		Thumbnail:       video.Thumbnail,
		Formats:         Normalize(video.Streams),
	}
}

func (r *Resolver) classify(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}

	if c, ok := r.backend.(Classifier); ok {
		return c.Classify(err)
	}

	return "lookup"
}
