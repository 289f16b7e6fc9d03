// Package errs defines common error variables used across the application.
package errs

import "errors"

var (
	// ErrServiceClosed indicates that the service is closed and cannot start new jobs.
	ErrServiceClosed = errors.New("service is closed")
	// ErrInvalidRequestBody indicates that the request body is invalid or cannot be parsed.
	ErrInvalidRequestBody = errors.New("invalid request body")
)

// Valid request errors.
var (
	// ErrInvalidURL indicates that the URL is malformed or outside the supported host family.
	ErrInvalidURL = errors.New("invalid url")
	// ErrTitleRequired indicates that the title field in the request is empty.
	ErrTitleRequired = errors.New("title is required")
	// ErrQualityRequired indicates that the quality field in the request is empty.
	ErrQualityRequired = errors.New("quality is required")
	// ErrInvalidJobID indicates that the job id is not a positive integer.
	ErrInvalidJobID = errors.New("invalid job id")
)

// Job and storage errors.
var (
	// ErrJobNotFound indicates that the job is not found in storage.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobTerminal indicates that the job already reached completed or failed.
	ErrJobTerminal = errors.New("job already finished")
	// ErrJobCancelled indicates that the job was cancelled.
	ErrJobCancelled = errors.New("job cancelled")
	// ErrJobTimeout indicates that the job exceeded its time limit.
	ErrJobTimeout = errors.New("job timed out")
	// ErrJobInterrupted indicates that the process stopped while the job was running.
	ErrJobInterrupted = errors.New("job interrupted")
	// ErrNotReady indicates that the artifact was requested before the job completed.
	ErrNotReady = errors.New("download not completed")
)

// Resolver and transfer errors.
var (
	// ErrResolution indicates that upstream metadata could not be fetched or parsed.
	ErrResolution = errors.New("video resolution failed")
	// ErrNoVideo indicates that a backend finished without describing a video.
	ErrNoVideo = errors.New("no video in lookup result")
	// ErrFormatNotFound indicates that no stream matches the requested token or quality.
	ErrFormatNotFound = errors.New("requested format not found")
	// ErrFormatUnavailable indicates that a completed job's format can no longer be located upstream.
	ErrFormatUnavailable = errors.New("format no longer available")
	// ErrStream indicates that the transfer was aborted mid-flight.
	ErrStream = errors.New("stream failed")
	// ErrBinaryNotFound indicates that the required binary was not found.
	ErrBinaryNotFound = errors.New("binary not found")
	// ErrUnsupportedPlatform indicates that the current platform is not supported.
	ErrUnsupportedPlatform = errors.New("unsupported platform")
)

