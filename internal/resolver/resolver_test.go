package resolver_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"tubefetch/internal/config"
	"tubefetch/internal/consts"
	"tubefetch/internal/entity"
	"tubefetch/internal/errs"
	"tubefetch/internal/observability"
	"tubefetch/internal/resolver"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func combined(token, label string) resolver.Stream {
	return resolver.Stream{
		Token:        token,
		QualityLabel: label,
		MimeType:     `video/mp4; codecs="avc1.64001F, mp4a.40.2"`,
		HasVideo:     true,
		HasAudio:     true,
	}
}

func videoOnly(token, label string) resolver.Stream {
	return resolver.Stream{
		Token:        token,
		QualityLabel: label,
		MimeType:     `video/webm; codecs="vp9"`,
		HasVideo:     true,
	}
}

func audioOnly(token string, bitrate int) resolver.Stream {
	return resolver.Stream{
		Token:        token,
		MimeType:     `audio/mp4; codecs="mp4a.40.2"`,
		HasAudio:     true,
		AudioBitrate: bitrate,
	}
}

func qualities(formats []entity.FormatDescriptor) []string {
	out := make([]string, 0, len(formats))
	for _, f := range formats {
		out = append(out, f.Quality)
	}

	return out
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name       string
		streams    []resolver.Stream
		want       []string
		wantTokens []string
	}{
		{
			name: "combined and audio",
			streams: []resolver.Stream{
				combined("37", "1080p"),
				combined("22", "720p"),
				audioOnly("139", 128_000),
				audioOnly("140", 256_000),
			},
			want:       []string{"1080p", "720p", consts.AudioOnlyLabel},
			wantTokens: []string{"37", "22", "140"},
		},
		{
			name: "duplicate labels keep first seen",
			streams: []resolver.Stream{
				combined("22", "720p"),
				combined("999", "720p"),
				videoOnly("136", "720p"),
				audioOnly("140", 128_000),
			},
			want:       []string{"720p", consts.AudioOnlyLabel},
			wantTokens: []string{"22", "140"},
		},
		{
			name: "no audio-only stream",
			streams: []resolver.Stream{
				combined("18", "360p"),
				combined("22", "720p"),
			},
			want:       []string{"720p", "360p"},
			wantTokens: []string{"22", "18"},
		},
		{
			name: "adaptive only",
			streams: []resolver.Stream{
				videoOnly("137", "1080p"),
				videoOnly("248", "1080p"),
				videoOnly("136", "720p"),
				videoOnly("401", "2160p"),
				videoOnly("0", ""),
			},
			want:       []string{"2160p", "1080p", "720p"},
			wantTokens: []string{"401", "137", "136"},
		},
		{
			name: "unparseable labels sort last, audio still appended after them",
			streams: []resolver.Stream{
				combined("a", "hd"),
				combined("b", "480p"),
				combined("c", "1440p60"),
				audioOnly("140", 1),
			},
			want:       []string{"1440p60", "480p", "hd", consts.AudioOnlyLabel},
			wantTokens: []string{"c", "b", "a", "140"},
		},
		{
			name: "audio-only input",
			streams: []resolver.Stream{
				audioOnly("139", 48_000),
			},
			want:       []string{consts.AudioOnlyLabel},
			wantTokens: []string{"139"},
		},
		{
			name:       "no streams",
			streams:    nil,
			want:       []string{},
			wantTokens: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolver.Normalize(tt.streams)

			assert.NotNil(t, got)
			assert.Equal(t, tt.want, qualities(got))

			tokens := make([]string, 0, len(got))
			for _, f := range got {
				tokens = append(tokens, f.Token)
			}

			assert.Equal(t, tt.wantTokens, tokens)
		})
	}
}

func TestNormalizeDescriptorFields(t *testing.T) {
	hd := combined("22", "720p")
	hd.ContentLength = 12 * 1024 * 1024

	got := resolver.Normalize([]resolver.Stream{hd, audioOnly("251", 160_000)})
	require.Len(t, got, 2)

	assert.Equal(t, entity.FormatDescriptor{
		Quality:    "720p",
		Format:     "mp4",
		Size:       "~12 MB",
		ApproxSize: 12 * 1024 * 1024,
		Token:      "22",
	}, got[0])

	assert.Equal(t, "Unknown", got[1].Size)
	assert.Zero(t, got[1].ApproxSize)
	assert.Equal(t, "mp4", got[1].Format)
}

func TestParseHeight(t *testing.T) {
	tests := []struct {
		label  string
		want   int
		wantOK bool
	}{
		{"1080p", 1080, true},
		{"1080p60", 1080, true},
		{"720p HDR", 720, true},
		{"144p", 144, true},
		{"Audio Only", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		got, ok := resolver.ParseHeight(tt.label)
		assert.Equal(t, tt.want, got, tt.label)
		assert.Equal(t, tt.wantOK, ok, tt.label)
	}
}

func TestSelect(t *testing.T) {
	streams := []resolver.Stream{
		combined("37", "1080p"),
		combined("22", "720p"),
		videoOnly("136", "720p"),
		audioOnly("139", 48_000),
		audioOnly("140", 128_000),
	}

	tests := []struct {
		name      string
		token     string
		quality   string
		wantToken string
		wantErr   error
	}{
		{name: "token wins over quality", token: "136", quality: "1080p", wantToken: "136"},
		{name: "quality among combined", quality: "720p", wantToken: "22"},
		{name: "unknown token falls back to quality", token: "nope", quality: "1080p", wantToken: "37"},
		{name: "audio sentinel", quality: consts.AudioOnlyLabel, wantToken: "140"},
		{name: "missing quality", quality: "2160p", wantErr: errs.ErrFormatNotFound},
		{name: "nothing requested", wantErr: errs.ErrFormatNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolver.Select(streams, tt.token, tt.quality)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantToken, got.Token)
		})
	}

	_, err := resolver.Select([]resolver.Stream{combined("22", "720p")}, "", consts.AudioOnlyLabel)
	require.ErrorIs(t, err, errs.ErrFormatNotFound)
}

func TestStreamContainer(t *testing.T) {
	tests := []struct {
		stream        resolver.Stream
		wantContainer string
		wantType      string
	}{
		{combined("22", "720p"), "mp4", "video/mp4"},
		{videoOnly("248", "1080p"), "webm", "video/webm"},
		{resolver.Stream{HasVideo: true}, "mp4", "video/mp4"},
		{resolver.Stream{HasAudio: true, Container: "m4a"}, "m4a", "audio/m4a"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.wantContainer, tt.stream.ContainerName())
		assert.Equal(t, tt.wantType, tt.stream.ContentType())
	}
}

type fakeBackend struct {
	video *resolver.Video
	err   error
	calls int
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Lookup(_ context.Context, _ string) (*resolver.Video, error) {
	f.calls++

	return f.video, f.err
}

func newResolver(backend resolver.Backend, metrics *observability.Metrics) *resolver.Resolver {
	cfg := &config.Config{Resolver: config.Resolver{
		AllowedHosts: []string{"youtube.com", "youtu.be"},
		Timeout:      time.Second,
	}}

	return resolver.New(slog.New(slog.NewTextHandler(io.Discard, nil)), cfg, backend, metrics)
}

func TestResolve(t *testing.T) {
	backend := &fakeBackend{video: &resolver.Video{
		Title:     "Never Gonna Give You Up",
		Author:    "Rick Astley",
		Duration:  213 * time.Second,
		Thumbnail: "https://i.ytimg.com/vi/dQw4w9WgXcQ/maxresdefault.jpg",
		Streams:   []resolver.Stream{combined("22", "720p"), audioOnly("140", 128_000)},
	}}

	reg := prometheus.NewRegistry()
	metrics := observability.NewWithRegisterer(reg)
	res := newResolver(backend, metrics)

	info, err := res.Resolve(t.Context(), " https://youtu.be/dQw4w9WgXcQ ")
	require.NoError(t, err)

	assert.Equal(t, "https://youtu.be/dQw4w9WgXcQ", info.URL)
	assert.Equal(t, "00:03:33", info.Duration)
	assert.Equal(t, int64(213), info.DurationSeconds)
	assert.Equal(t, []string{"720p", consts.AudioOnlyLabel}, qualities(info.Formats))
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.ResolverRequestsTotal.WithLabelValues("fake", "success")), 0)
}

func TestResolveErrors(t *testing.T) {
	t.Run("unsupported host never reaches the backend", func(t *testing.T) {
		backend := &fakeBackend{}
		res := newResolver(backend, nil)

		_, err := res.Resolve(t.Context(), "https://vimeo.com/123")
		require.ErrorIs(t, err, errs.ErrInvalidURL)
		require.ErrorIs(t, err, errs.ErrResolution)
		assert.Zero(t, backend.calls)
	})

	t.Run("backend failure", func(t *testing.T) {
		upstream := errors.New("video is private")
		res := newResolver(&fakeBackend{err: upstream}, nil)

		_, err := res.Resolve(t.Context(), "https://www.youtube.com/watch?v=x")
		require.ErrorIs(t, err, errs.ErrResolution)
		require.ErrorIs(t, err, upstream)
		assert.NotErrorIs(t, err, errs.ErrInvalidURL)
	})

	t.Run("empty result", func(t *testing.T) {
		res := newResolver(&fakeBackend{}, nil)

		_, err := res.Resolve(t.Context(), "https://www.youtube.com/watch?v=x")
		require.ErrorIs(t, err, errs.ErrResolution)
		require.ErrorIs(t, err, errs.ErrNoVideo)
	})
}
