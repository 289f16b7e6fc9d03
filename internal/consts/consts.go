// Package consts defines application-wide constants.
package consts

import "time"

const (
	// DefaultSimulateTime is the default time the mock backend takes to stream a format.
	DefaultSimulateTime = 1 * time.Second
	// AudioOnlyLabel is the quality label of the synthetic best-audio format.
	AudioOnlyLabel = "Audio Only"
	// DefaultContainer is used when a stream does not advertise its container.
	DefaultContainer = "mp4"
	// FullProgress is the progress of a completed job.
	FullProgress = 100
)

// HTTP response messages.
const (
	// RespInvalidRequestBody is returned when the request body is invalid.
	RespInvalidRequestBody = "invalid request body"
	// RespInvalidJobID is returned when the job id path value is not a positive integer.
	RespInvalidJobID = "invalid job id"
	// RespVideoResolved is returned when video info is resolved.
	RespVideoResolved = "video resolved"
	// RespVideoResolveFail is returned when video info cannot be resolved.
	RespVideoResolveFail = "video resolve failed"
	// RespJobStarted is returned when a download job is started.
	RespJobStarted = "download started"
	// RespJobStartFail is returned when a download job cannot be started.
	RespJobStartFail = "download start failed"
	// RespGetJobsFail is returned when fetching all jobs fails.
	RespGetJobsFail = "get all jobs failed"
	// RespGetJobFail is returned when fetching a specific job fails.
	RespGetJobFail = "get job failed"
	// RespJobRetrieved is returned when a job is successfully retrieved.
	RespJobRetrieved = "job retrieved"
	// RespJobsRetrieved is returned when jobs are successfully retrieved.
	RespJobsRetrieved = "jobs retrieved"
	// RespJobNotFound is returned when a job is not found.
	RespJobNotFound = "job not found"
	// RespJobDeleteFail is returned when a job cannot be deleted.
	RespJobDeleteFail = "delete job failed"
	// RespJobsCleared is returned when the download history is cleared.
	RespJobsCleared = "download history cleared"
	// RespJobsClearFail is returned when the download history is only partially cleared.
	RespJobsClearFail = "clear download history failed"
	// RespJobCancelled is returned when a running job is cancelled.
	RespJobCancelled = "job cancelled"
	// RespJobCancelFail is returned when a job cannot be cancelled.
	RespJobCancelFail = "job cancel failed"
	// RespJobNotReady is returned when an artifact is requested before the job completed.
	RespJobNotReady = "download not completed"
	// RespFormatUnavailable is returned when the job's format can no longer be located upstream.
	RespFormatUnavailable = "format no longer available"
	// RespArtifactFail is returned when the artifact stream cannot be opened.
	RespArtifactFail = "artifact stream failed"
)
