// Package request holds HTTP request payloads and their validation.
package request

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"tubefetch/internal/consts"
	"tubefetch/internal/entity"
	"tubefetch/internal/errs"
	"tubefetch/pkg/urls"
)

// Resolve is the body of a video resolve request.
type Resolve struct {
	URL string `json:"url"`
}

// Validate checks the request shape.
func (r *Resolve) Validate() error {
	r.URL = urls.Normalize(r.URL)
	if !urls.IsURLValid(r.URL) {
		return errs.ErrInvalidURL
	}

	return nil
}

// StartJob is the body of a start download request.
type StartJob struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Author      string `json:"author"`
	Duration    string `json:"duration"`
	Thumbnail   string `json:"thumbnail"`
	Quality     string `json:"quality"`
	Format      string `json:"format"` // container, defaults to mp4
	FormatToken string `json:"formatToken"`
	FileSize    string `json:"fileSize"`
}

// Validate checks the request shape and fills defaults.
func (s *StartJob) Validate() error {
	s.URL = urls.Normalize(s.URL)
	if !urls.IsURLValid(s.URL) {
		return errs.ErrInvalidURL
	}

	s.Title = strings.TrimSpace(s.Title)
	if s.Title == "" {
		return errs.ErrTitleRequired
	}

	s.Quality = strings.TrimSpace(s.Quality)
	if s.Quality == "" {
		return errs.ErrQualityRequired
	}

	if s.Format == "" {
		s.Format = consts.DefaultContainer
	}

	return nil
}

// Spec converts the request into a job spec.
func (s *StartJob) Spec() entity.JobSpec {
	return entity.JobSpec{
		URL:         s.URL,
		Title:       s.Title,
		Author:      s.Author,
		Duration:    s.Duration,
		Thumbnail:   s.Thumbnail,
		Quality:     s.Quality,
		Format:      s.Format,
		FormatToken: s.FormatToken,
		FileSize:    s.FileSize,
	}
}

// JobID parses the {id} path value.
func JobID(r *http.Request) (int64, error) {
	raw := r.PathValue("id")

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q", errs.ErrInvalidJobID, raw)
	}

	return id, nil
}
