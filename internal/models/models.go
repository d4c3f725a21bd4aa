package models

import (
	"time"
)

type (
	Config struct {
		// Remote endpoint
		Endpoint       string `toml:"Endpoint"`
		DomainToken    string `toml:"DomainToken"`    // Token every submitted link must contain
		TimeoutSec     int    `toml:"TimeoutSec"`     // Per-attempt timeout
		MaxRetries     int    `toml:"MaxRetries"`     // Additional attempts after the first one
		RetryDelayMs   int    `toml:"RetryDelayMs"`   // Fixed backoff between attempts
		LogApiRequests bool   `toml:"LogApiRequests"` // Dump requests/responses to api.log

		// Progress estimation
		ProgressTickMs  int     `toml:"ProgressTickMs"`
		ProgressStep    float64 `toml:"ProgressStep"`    // Upper bound of a single random increment
		ProgressCeiling float64 `toml:"ProgressCeiling"` // Estimated progress never passes this

		// Paths
		SavePath       string `toml:"SavePath"`
		DatabasePath   string `toml:"DatabasePath"`
		BleveIndexPath string `toml:"BleveIndexPath"`

		// Acquisition / preview
		MaxPreviewBytes   int64  `toml:"MaxPreviewBytes"`
		AcquireTimeoutSec int    `toml:"AcquireTimeoutSec"` // Bound on fetching the media itself
		PreviewAddr       string `toml:"PreviewAddr"`

		// History
		HistoryCapacity int `toml:"HistoryCapacity"`
	}

	// DownloadRequest is one user submission. It is not modified once the
	// controller accepts it.
	DownloadRequest struct {
		SourceURL string `json:"url"`
	}

	// RemoteResult is the body returned by the resolve endpoint on success.
	RemoteResult struct {
		DownloadURL string `json:"downloadUrl"`
		Filename    string `json:"filename,omitempty"`
		Title       string `json:"title,omitempty"`
	}

	// AttemptState describes the attempt currently owned by the controller.
	AttemptState struct {
		Phase         Phase       `json:"phase"`
		Failure       FailureKind `json:"failure,omitempty"`
		AttemptNumber int         `json:"attemptNumber"`
		Progress      float64     `json:"progress"`
		StartedAt     time.Time   `json:"startedAt"`
	}

	// HistoryEntry is one past successful acquisition. The JSON field names
	// are the persisted schema.
	HistoryEntry struct {
		SourceURL   string    `json:"url"`
		DownloadURL string    `json:"downloadUrl"`
		DisplayName string    `json:"name"`
		CreatedAt   time.Time `json:"date"`
	}

	// Artifact is what the user can actually obtain after a successful
	// resolve: an in-memory blob or the remote link itself.
	Artifact struct {
		Kind           ArtifactKind `json:"kind"`
		Handle         string       `json:"handle,omitempty"`   // Registry handle, blob only
		LocalURL       string       `json:"localUrl,omitempty"` // Preview URL, blob only
		RemoteURL      string       `json:"remoteUrl"`
		Filename       string       `json:"filename"`
		ContentType    string       `json:"contentType,omitempty"`
		Size           uint64       `json:"size,omitempty"`
		Checksum       string       `json:"checksum,omitempty"` // BLAKE3, hex
		FallbackReason string       `json:"fallbackReason,omitempty"`
	}

	// Update is the single message type pushed to the presentation layer.
	Update struct {
		Kind     NotificationKind
		State    AttemptState
		Message  string
		Err      error
		Result   *RemoteResult
		Artifact *Artifact
	}
)

// Phase is the lifecycle position of the current attempt.
type Phase string

const (
	PhaseIdle       Phase = "Idle"
	PhaseValidating Phase = "Validating"
	PhaseInFlight   Phase = "InFlight"
	PhaseSucceeded  Phase = "Succeeded"
	PhaseFailed     Phase = "Failed"
	PhaseAborted    Phase = "Aborted"
)

func (p Phase) String() string {
	return string(p)
}

// IsTerminal reports whether no further automatic transition can happen.
func (p Phase) IsTerminal() bool {
	return p == PhaseSucceeded || p == PhaseFailed || p == PhaseAborted
}

// FailureKind classifies why an attempt (or a validation) failed.
type FailureKind string

const (
	FailureEmpty              FailureKind = "Empty"
	FailureInvalidDomain      FailureKind = "InvalidDomain"
	FailureTimeout            FailureKind = "Timeout"
	FailureServerError        FailureKind = "ServerError"
	FailureTransportError     FailureKind = "TransportError"
	FailureMissingDownloadURL FailureKind = "MissingDownloadUrl"
)

func (k FailureKind) String() string {
	return string(k)
}

// Retryable reports whether the controller may schedule another attempt.
func (k FailureKind) Retryable() bool {
	return k == FailureServerError || k == FailureTransportError
}

type ArtifactKind string

const (
	ArtifactBlob ArtifactKind = "blob"
	ArtifactLink ArtifactKind = "link"
)

type NotificationKind string

const (
	NotifyProgress   NotificationKind = "progress"
	NotifyValidation NotificationKind = "validation"
	NotifyRetry      NotificationKind = "retry"
	NotifyTimeout    NotificationKind = "timeout"
	NotifyFailure    NotificationKind = "failure"
	NotifySuccess    NotificationKind = "success"
	NotifyAborted    NotificationKind = "aborted"
	NotifyFallback   NotificationKind = "fallback"
)

// DefaultFilename is used when the endpoint gives neither a title nor a filename.
const DefaultFilename = "tiktok-video.mp4"

// DisplayName picks the history name for a result: title, then filename,
// then DefaultFilename.
func (r RemoteResult) DisplayName() string {
	if r.Title != "" {
		return r.Title
	}
	if r.Filename != "" {
		return r.Filename
	}
	return DefaultFilename
}
