// Package downloader copies media streams and reports transfer progress.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"tubefetch/internal/config"
	"tubefetch/internal/errs"
	"tubefetch/internal/observability"
	"tubefetch/pkg/calc"
)

const (
	defaultProgressFreq = 200 * time.Millisecond
	defaultBufferSize   = 256 * 1024
)

// Progress is a single transfer progress event.
type Progress struct {
	Downloaded int64         // bytes received so far
	Total      int64         // 0 when unknown
	Chunk      int64         // bytes received since the previous event
	Elapsed    time.Duration // time since the previous event
}

// Percent returns the floored completion percentage, if the total is known.
func (p Progress) Percent() (int, bool) {
	return calc.Progress(p.Downloaded, p.Total)
}

// Rate returns the transfer rate of the last chunk in bytes per second.
func (p Progress) Rate() float64 {
	return calc.Rate(p.Chunk, p.Elapsed)
}

// ETA estimates the time to receive the rest of the stream.
func (p Progress) ETA() time.Duration {
	if p.Total <= 0 {
		return 0
	}

	return calc.ETA(p.Total-p.Downloaded, p.Rate())
}

// LogValue implements the slog.LogValuer interface.
func (p Progress) LogValue() slog.Value {
	percent, _ := p.Percent()

	return slog.GroupValue(
		slog.Int64("downloaded_bytes", p.Downloaded),
		slog.Int64("total_bytes", p.Total),
		slog.Int("progress", percent),
		slog.String("rate", calc.RateLabel(p.Rate())),
		slog.String("eta", calc.ETALabel(p.ETA())),
	)
}

// ProgressFunc receives progress events. It is called from the transferring goroutine.
type ProgressFunc func(Progress)

// Downloader copies streams in fixed size chunks.
type Downloader struct {
	log      *slog.Logger
	metrics  *observability.Metrics
	bufSize  int
	progFreq time.Duration
}

// New creates a new Downloader.
func New(log *slog.Logger, cfg *config.Config, metrics *observability.Metrics) *Downloader {
	bufSize := cfg.Job.BufferSize
	if bufSize <= 0 {
		bufSize = defaultBufferSize
	}

	return &Downloader{
		log:      log.With(slog.String("package", "downloader")),
		metrics:  metrics,
		bufSize:  bufSize,
		progFreq: defaultProgressFreq,
	}
}

// Transfer copies src into dst until EOF and returns the number of bytes written.
//
// onProgress, if set, is called whenever the completion percentage changes and
// otherwise at most every 200ms. Read and write failures wrap errs.ErrStream;
// cancellation of ctx is returned as ctx.Err().
func (d *Downloader) Transfer(
	ctx context.Context,
	dst io.Writer,
	src io.Reader,
	total int64,
	onProgress ProgressFunc,
) (int64, error) {
	var (
		buf         = make([]byte, d.bufSize)
		written     int64
		chunk       int64
		last        = time.Now()
		lastPercent = -1
	)

	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return written, fmt.Errorf("%w: write: %w", errs.ErrStream, err)
			}

			written += int64(n)
			chunk += int64(n)
			d.metrics.RecordDownloadBytes(n)

			now := time.Now()
			percent, known := calc.Progress(written, total)

			if onProgress != nil && ((known && percent != lastPercent) || now.Sub(last) >= d.progFreq) {
				onProgress(Progress{Downloaded: written, Total: total, Chunk: chunk, Elapsed: now.Sub(last)})

				last, chunk, lastPercent = now, 0, percent
			}
		}

		switch {
		case errors.Is(readErr, io.EOF):
			return written, nil
		case readErr != nil:
			if err := ctx.Err(); err != nil {
				return written, err
			}

			d.log.DebugContext(ctx, "stream read failed",
				slog.Int64("written", written),
				slog.Any("error", readErr))

			return written, fmt.Errorf("%w: %w", errs.ErrStream, readErr)
		}
	}
}
