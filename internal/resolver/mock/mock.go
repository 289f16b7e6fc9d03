// Package mock implements an offline resolver backend. It serves a fixed
// format list for any video id and streams zero bytes at a steady pace, which
// makes it usable for local runs and end-to-end tests.
package mock

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"tubefetch/internal/config"
	"tubefetch/internal/resolver"
)

const (
	steps = 10
	// UnavailableID makes Lookup fail as if the video were private.
	UnavailableID = "unavailable"
	// CategoryRestricted is reported for UnavailableID lookups.
	CategoryRestricted = "restricted"
)

var errUnavailable = errors.New("video unavailable")

type format struct {
	token   string
	label   string
	mime    string
	height  int
	bitrate int
	size    int64
}

var formats = []format{
	{token: "18", label: "360p", mime: `video/mp4; codecs="avc1.42001E, mp4a.40.2"`, height: 360, size: 2 << 20},
	{token: "22", label: "720p", mime: `video/mp4; codecs="avc1.64001F, mp4a.40.2"`, height: 720, size: 4 << 20},
	{token: "137", label: "1080p", mime: `video/mp4; codecs="avc1.640028"`, height: 1080, size: 8 << 20},
	{token: "139", mime: `audio/mp4; codecs="mp4a.40.5"`, bitrate: 48_000, size: 512 << 10},
	{token: "140", mime: `audio/mp4; codecs="mp4a.40.2"`, bitrate: 128_000, size: 1 << 20},
}

// Backend is a simulated resolver backend.
type Backend struct {
	log      *slog.Logger
	duration time.Duration
}

var (
	_ resolver.Backend    = (*Backend)(nil)
	_ resolver.Classifier = (*Backend)(nil)
)

// New creates a mock backend whose streams take duration to deliver.
func New(log *slog.Logger, duration time.Duration) *Backend {
	return &Backend{
		log:      log.With(slog.String("package", "resolver"), slog.String("backend", config.ResolverBackendMock)),
		duration: duration,
	}
}

// Name returns the backend identifier.
func (b *Backend) Name() string { return config.ResolverBackendMock }

// Lookup returns a simulated video for the id found in rawURL.
func (b *Backend) Lookup(ctx context.Context, rawURL string) (*resolver.Video, error) {
	id := videoID(rawURL)
	if id == "" {
		return nil, fmt.Errorf("no video id in %q", rawURL)
	}

	if id == UnavailableID {
		return nil, errUnavailable
	}

	b.log.DebugContext(ctx, "simulated lookup", slog.String("id", id))

	video := &resolver.Video{
		ID:        id,
		Title:     "Simulated video " + id,
		Author:    "tubefetch",
		Duration:  3*time.Minute + 33*time.Second,
		Thumbnail: "https://i.ytimg.com/vi/" + id + "/hqdefault.jpg",
		Streams:   make([]resolver.Stream, 0, len(formats)),
	}

	for _, f := range formats {
		video.Streams = append(video.Streams, resolver.Stream{
			Token:         f.token,
			QualityLabel:  f.label,
			MimeType:      f.mime,
			HasVideo:      strings.HasPrefix(f.mime, "video/"),
			HasAudio:      strings.Contains(f.mime, "mp4a"),
			Height:        f.height,
			AudioBitrate:  f.bitrate,
			ContentLength: f.size,
			Open:          b.opener(f.size),
		})
	}

	return video, nil
}

// Classify reports unavailable videos as restricted.
func (b *Backend) Classify(err error) string {
	if errors.Is(err, errUnavailable) {
		return CategoryRestricted
	}

	return "lookup"
}

func (b *Backend) opener(size int64) resolver.OpenFunc {
	return func(ctx context.Context) (io.ReadCloser, int64, error) {
		interval := max(b.duration/steps, time.Millisecond)

		return &pacedReader{
			ctx:       ctx,
			ticker:    time.NewTicker(interval),
			remaining: size,
			chunk:     max((size+steps-1)/steps, 1),
		}, size, nil
	}
}

// pacedReader releases one chunk of zero bytes per tick.
type pacedReader struct {
	ctx       context.Context
	ticker    *time.Ticker
	remaining int64
	chunk     int64
	pending   int64
}

func (r *pacedReader) Read(p []byte) (int, error) {
	if r.remaining == 0 {
		return 0, io.EOF
	}

	if r.pending == 0 {
		select {
		case <-r.ctx.Done():
			return 0, r.ctx.Err()
		case <-r.ticker.C:
			r.pending = min(r.chunk, r.remaining)
		}
	}

	n := min(int64(len(p)), r.pending)
	clear(p[:n])
	r.pending -= n
	r.remaining -= n

	return int(n), nil
}

func (r *pacedReader) Close() error {
	r.ticker.Stop()

	return nil
}

func videoID(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	if id := u.Query().Get("v"); id != "" {
		return id
	}

	return strings.Trim(u.Path, "/")
}
