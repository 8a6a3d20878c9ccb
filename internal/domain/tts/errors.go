package tts

import (
	stderrors "errors"
	"fmt"

	"narrator-server-go/internal/platform/errors"
)

// SynthesisError is the only error shape that leaves the synthesizer. Transient
// failures exhausted their retries; permanent ones were never retried.
type SynthesisError struct {
	Transient  bool
	StatusCode int
	Attempts   int
	ChunkIndex int
	Message    string
}

func (e *SynthesisError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("chunk %d: %s synthesis failure after %d attempt(s): status %d: %s",
			e.ChunkIndex, kind, e.Attempts, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("chunk %d: %s synthesis failure after %d attempt(s): %s",
		e.ChunkIndex, kind, e.Attempts, e.Message)
}

// Unwrap exposes the platform error kind without leaking the provider error.
func (e *SynthesisError) Unwrap() error {
	return errors.New(errors.KindSynthesis, "tts.synthesize", e.Message)
}

// Recoverable 是否可由用户重试
func (e *SynthesisError) Recoverable() bool {
	return e.Transient
}

func (e *SynthesisError) withChunk(index int) *SynthesisError {
	clone := *e
	clone.ChunkIndex = index
	return &clone
}

// AsSynthesisError extracts a *SynthesisError from err.
func AsSynthesisError(err error) (*SynthesisError, bool) {
	var se *SynthesisError
	if stderrors.As(err, &se) {
		return se, true
	}
	return nil, false
}
