package platform

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// SubcodeTemporary is the provider's error subcode for temporary /
// rate-limited failures. Requests failing with it are safe to retry.
const SubcodeTemporary = 99

// Class is the retry verdict for a failed remote call.
type Class int

const (
	ClassTransient Class = iota
	ClassFatal
)

func (c Class) String() string {
	if c == ClassTransient {
		return "transient"
	}
	return "fatal"
}

// RequestError is a request-level failure reported by the provider. It
// carries the retry metadata the provider exposes alongside the raw body.
type RequestError struct {
	Method    string
	Status    int
	Subcode   int
	Transient bool
	Body      string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request error: method=%s status=%d subcode=%d transient=%t body=%s",
		e.Method, e.Status, e.Subcode, e.Transient, e.Body)
}

// BadObjectError is a structural error from the provider client: the
// response parsed as JSON but did not have the expected object shape.
type BadObjectError struct {
	Reason string
}

func (e *BadObjectError) Error() string {
	return fmt.Sprintf("bad object from provider: %s", e.Reason)
}

// MalformedResponseError is returned when the provider sends non-object
// JSON where an object was expected. Observed intermittently under
// provider-side load, so it is treated as retryable.
type MalformedResponseError struct {
	Raw string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed JSON response from provider: %q", e.Raw)
}

// JobPhase names the report-job lifecycle boundary a timeout fired on.
type JobPhase string

const (
	JobPhaseStart  JobPhase = "start"
	JobPhaseFinish JobPhase = "finish"
)

// JobTimeoutError is raised when an async report job does not start or
// does not finish within its wait budget. These are intermittent and may
// resolve on a fresh submission, so they classify as transient.
type JobTimeoutError struct {
	JobID   string
	Phase   JobPhase
	Elapsed time.Duration
	Limit   time.Duration
}

func (e *JobTimeoutError) Error() string {
	switch e.Phase {
	case JobPhaseStart:
		return fmt.Sprintf("report job %s did not start after %s", e.JobID, e.Limit)
	default:
		return fmt.Sprintf("report job %s did not finish after %s", e.JobID, e.Limit)
	}
}

// JobFailedError is a terminal failure reported by the remote job itself.
type JobFailedError struct {
	JobID string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("report job %s failed remotely", e.JobID)
}

// Classify maps a remote-call failure to a retry verdict. The rules, in
// order: malformed-response and bad-object shapes are transient; request
// errors are transient when the provider flags them transient, the subcode
// is the known temporary subcode, or the status is 500; job timeouts are
// transient; everything else is fatal.
func Classify(err error) Class {
	var malformed *MalformedResponseError
	if errors.As(err, &malformed) {
		return ClassTransient
	}

	var bad *BadObjectError
	if errors.As(err, &bad) {
		return ClassTransient
	}

	var req *RequestError
	if errors.As(err, &req) {
		if req.Transient || req.Subcode == SubcodeTemporary || req.Status == http.StatusInternalServerError {
			return ClassTransient
		}
		return ClassFatal
	}

	var timeout *JobTimeoutError
	if errors.As(err, &timeout) {
		return ClassTransient
	}

	return ClassFatal
}

// Info is the diagnostic context attached to fatal errors so operators can
// tell which entity type, account and identifiers a failure hit.
type Info struct {
	Timestamp     int64  `json:"timestamp"`
	Type          string `json:"type"`
	Action        string `json:"action"`
	User          string `json:"user"`
	Account       string `json:"account"`
	ProcessingIDs string `json:"processing_id,omitempty"`
}

func NewInfo(streamName, action, user, account string) Info {
	return Info{
		Timestamp: time.Now().Unix(),
		Type:      streamName,
		Action:    action,
		User:      user,
		Account:   account,
	}
}

// SyncError wraps a fatal remote error with its diagnostic context.
type SyncError struct {
	Info Info
	Err  error
}

func (e *SyncError) Error() string {
	bs, _ := json.Marshal(e.Info)
	return fmt.Sprintf("sync error %s: %v", bs, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}
