// Package entity defines the core entities used in the application.
package entity

import (
	"log/slog"
	"time"
)

// JobStatus represents the status of a download job.
type JobStatus string

const (
	// JobStatusPending indicates that the job is stored but its download is not launched yet.
	JobStatusPending JobStatus = "pending"
	// JobStatusDownloading indicates that the job is in progress.
	JobStatusDownloading JobStatus = "downloading"
	// JobStatusCompleted indicates that the job has finished successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates that the job has encountered an error.
	JobStatusFailed JobStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusDownloading, JobStatusCompleted, JobStatusFailed:
		return true
	default:
		return false
	}
}

// CanTransition reports whether a job may move from s to next.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusDownloading || next == JobStatusFailed
	case JobStatusDownloading:
		return next == JobStatusDownloading || next == JobStatusCompleted || next == JobStatusFailed
	default:
		return false
	}
}

// Job represents a download job.
type Job struct {
	ID          int64  `json:"id"`
	URL         string `json:"url"`
	Title       string `json:"title"`
	Author      string `json:"author,omitempty"`
	Duration    string `json:"duration,omitempty"`
	Thumbnail   string `json:"thumbnail,omitempty"`
	Quality     string `json:"quality"`
	Format      string `json:"format"`
	FormatToken string `json:"formatToken,omitempty"`
	FileSize    string `json:"fileSize,omitempty"` // size label advertised when the format was picked

	Status        JobStatus `json:"status"`
	Progress      int       `json:"progress"`
	DownloadSpeed string    `json:"downloadSpeed,omitempty"`
	TimeRemaining string    `json:"timeRemaining,omitempty"`
	FinalSize     string    `json:"finalSize,omitempty"`
	Error         string    `json:"error,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// LogValue implements the slog.LogValuer interface for structured logging.
func (j Job) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("id", j.ID),
		slog.String("url", j.URL),
		slog.String("quality", j.Quality),
		slog.String("status", string(j.Status)),
		slog.Int("progress", j.Progress),
		slog.String("download_speed", j.DownloadSpeed),
		slog.String("time_remaining", j.TimeRemaining),
		slog.String("error", j.Error),
	)
}

// JobSpec holds the immutable fields a job is created with.
type JobSpec struct {
	URL         string
	Title       string
	Author      string
	Duration    string
	Thumbnail   string
	Quality     string
	Format      string
	FormatToken string
	FileSize    string
}

// NewJob builds a pending job from spec.
func NewJob(id int64, spec JobSpec, now time.Time) Job {
	return Job{
		ID:          id,
		URL:         spec.URL,
		Title:       spec.Title,
		Author:      spec.Author,
		Duration:    spec.Duration,
		Thumbnail:   spec.Thumbnail,
		Quality:     spec.Quality,
		Format:      spec.Format,
		FormatToken: spec.FormatToken,
		FileSize:    spec.FileSize,
		Status:      JobStatusPending,
		Progress:    0,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// JobPatch is a partial update. Nil fields are left untouched; a pointer to
// an empty string clears the label.
type JobPatch struct {
	Status        *JobStatus
	Progress      *int
	DownloadSpeed *string
	TimeRemaining *string
	FinalSize     *string
	Error         *string
}

// Apply merges p into j and reports whether j changed.
//
// A terminal job never changes. A patch carrying a forbidden status
// transition is rejected as a whole. Progress is clamped to [0, 100] and
// never decreases. Completion forces progress to 100; leaving downloading
// clears the advisory rate and ETA labels.
func (j *Job) Apply(p JobPatch, now time.Time) bool {
	if j.Status.IsTerminal() {
		return false
	}

	next := j.Status
	if p.Status != nil {
		if !j.Status.CanTransition(*p.Status) {
			return false
		}

		next = *p.Status
	}

	changed := next != j.Status
	j.Status = next

	if p.Progress != nil {
		progress := min(max(*p.Progress, 0), 100)
		if progress > j.Progress {
			j.Progress = progress
			changed = true
		}
	}

	changed = setIfDiff(&j.DownloadSpeed, p.DownloadSpeed) || changed
	changed = setIfDiff(&j.TimeRemaining, p.TimeRemaining) || changed
	changed = setIfDiff(&j.Error, p.Error) || changed

	switch j.Status {
	case JobStatusCompleted:
		j.Progress = 100
		changed = setIfDiff(&j.FinalSize, p.FinalSize) || changed
		j.DownloadSpeed, j.TimeRemaining = "", ""
	case JobStatusFailed:
		j.DownloadSpeed, j.TimeRemaining = "", ""
	}

	if changed {
		j.UpdatedAt = now
	}

	return changed
}

func setIfDiff(dst *string, src *string) bool {
	if src == nil || *dst == *src {
		return false
	}

	*dst = *src

	return true
}

// FormatDescriptor is one selectable quality of a video.
type FormatDescriptor struct {
	Quality    string `json:"quality"`              // e.g. "1080p" or "Audio Only"
	Format     string `json:"format"`               // container, e.g. "mp4"
	Size       string `json:"size"`                 // "~12 MB" or "Unknown"
	ApproxSize int64  `json:"approxSize,omitempty"` // bytes, 0 when unknown
	Token      string `json:"token"`
}

// LogValue implements the slog.LogValuer interface for structured logging.
func (f FormatDescriptor) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("quality", f.Quality),
		slog.String("format", f.Format),
		slog.Int64("approx_size", f.ApproxSize),
		slog.String("token", f.Token),
	)
}

// VideoInfo is the normalized metadata of a resolved video.
type VideoInfo struct {
	URL             string             `json:"url"`
	Title           string             `json:"title"`
	Author          string             `json:"author"`
	Duration        string             `json:"duration"` // HH:MM:SS
	DurationSeconds int64              `json:"durationSeconds"`
	Thumbnail       string             `json:"thumbnail"`
	Formats         []FormatDescriptor `json:"formats"`
}
