package youtube

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"tubefetch/internal/consts"
	"tubefetch/internal/resolver"

	yt "github.com/kkdai/youtube/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBackend() *Backend {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
}

func TestConvert(t *testing.T) {
	video := &yt.Video{
		ID:       "dQw4w9WgXcQ",
		Title:    "Never Gonna Give You Up",
		Author:   "Rick Astley",
		Duration: 213 * time.Second,
		Thumbnails: yt.Thumbnails{
			{URL: "https://i.ytimg.com/vi/dQw4w9WgXcQ/default.jpg", Width: 120, Height: 90},
			{URL: "https://i.ytimg.com/vi/dQw4w9WgXcQ/maxresdefault.jpg", Width: 1280, Height: 720},
		},
		Formats: yt.FormatList{
			{
				ItagNo:        22,
				QualityLabel:  "720p",
				MimeType:      `video/mp4; codecs="avc1.64001F, mp4a.40.2"`,
				AudioChannels: 2,
				Height:        720,
				Width:         1280,
				ContentLength: 12 * 1024 * 1024,
			},
			{
				ItagNo:       137,
				QualityLabel: "1080p",
				MimeType:     `video/mp4; codecs="avc1.640028"`,
				Height:       1080,
				Width:        1920,
			},
			{
				ItagNo:         140,
				MimeType:       `audio/mp4; codecs="mp4a.40.2"`,
				AudioChannels:  2,
				Bitrate:        130_000,
				AverageBitrate: 128_000,
			},
			{
				ItagNo:        251,
				MimeType:      `audio/webm; codecs="opus"`,
				AudioChannels: 2,
				Bitrate:       160_000,
			},
		},
	}

	got := newBackend().convert(video)

	assert.Equal(t, "dQw4w9WgXcQ", got.ID)
	assert.Equal(t, "Rick Astley", got.Author)
	assert.Equal(t, 213*time.Second, got.Duration)
	assert.Equal(t, "https://i.ytimg.com/vi/dQw4w9WgXcQ/maxresdefault.jpg", got.Thumbnail)
	require.Len(t, got.Streams, 4)

	hd := got.Streams[0]
	assert.Equal(t, "22", hd.Token)
	assert.True(t, hd.IsCombined())
	assert.Equal(t, int64(12*1024*1024), hd.ContentLength)
	assert.NotNil(t, hd.Open)

	assert.True(t, got.Streams[1].HasVideo)
	assert.False(t, got.Streams[1].HasAudio)

	assert.True(t, got.Streams[2].IsAudioOnly())
	assert.Equal(t, 128_000, got.Streams[2].AudioBitrate)
	assert.Equal(t, 160_000, got.Streams[3].AudioBitrate)

	formats := resolver.Normalize(got.Streams)
	require.Len(t, formats, 3)
	assert.Equal(t, "1080p", formats[0].Quality)
	assert.Equal(t, "720p", formats[1].Quality)
	assert.Equal(t, consts.AudioOnlyLabel, formats[2].Quality)
	assert.Equal(t, "251", formats[2].Token)
	assert.Equal(t, "webm", formats[2].Format)
}

func TestClassify(t *testing.T) {
	b := newBackend()

	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("get video: %w", yt.ErrLoginRequired), CategoryRestricted},
		{yt.ErrVideoPrivate, CategoryRestricted},
		{yt.ErrNotPlayableInEmbed, CategoryRestricted},
		{&yt.ErrPlayabiltyStatus{Status: "UNPLAYABLE", Reason: "blocked"}, CategoryRestricted},
		{yt.ErrInvalidCharactersInVideoID, CategoryInvalidURL},
		{yt.ErrVideoIDMinLength, CategoryInvalidURL},
		{errors.New("connection reset by peer"), CategoryNetwork},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, b.Classify(tt.err), tt.err.Error())
	}
}
