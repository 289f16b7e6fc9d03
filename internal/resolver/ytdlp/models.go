package ytdlp

import (
	"fmt"
	"log/slog"
	"strings"

	"tubefetch/internal/consts"
	"tubefetch/pkg/ptr"
	"tubefetch/pkg/shellquote"

	"github.com/lrstanley/go-ytdlp"
)

// Result wraps ytdlp.Result for custom logging.
type Result struct {
	*ytdlp.Result
}

// LogValue implements the slog.LogValuer interface.
func (r Result) LogValue() slog.Value {
	if r.Result == nil {
		return slog.GroupValue(slog.String("error", "nil result"))
	}

	var logs strings.Builder
	for _, l := range r.OutputLogs {
		fmt.Fprintf(&logs, "%v\n", l)
	}

	return slog.GroupValue(
		slog.String("command", shellquote.Join(r.Executable, r.Args)),
		slog.String("stderr", r.Stderr),
		slog.String("output_logs", logs.String()),
	)
}

// typeVideo is the "_type" yt-dlp prints for a single video. go-ytdlp has no
// constant for it.
const typeVideo ytdlp.ExtractedType = "video"

func hasVideo(f *ytdlp.ExtractedFormat) bool { return hasCodec(f.VCodec) }

func hasAudio(f *ytdlp.ExtractedFormat) bool { return hasCodec(f.ACodec) }

func hasCodec(codec *string) bool {
	c := ptr.Deref(codec)

	return c != "" && c != "none"
}

func extension(f *ytdlp.ExtractedFormat) string {
	if ext := ptr.Deref(f.Extension); ext != "" {
		return ext
	}

	return consts.DefaultContainer
}

func mimeType(f *ytdlp.ExtractedFormat) string {
	kind := "audio"
	if hasVideo(f) {
		kind = "video"
	}

	return kind + "/" + extension(f)
}

// approxSize prefers the exact size and falls back to yt-dlp's estimate.
func approxSize(f *ytdlp.ExtractedFormat) int64 {
	if size := ptr.Deref(f.FileSize); size > 0 {
		return int64(size)
	}

	return int64(ptr.Deref(f.FileSizeApprox))
}
