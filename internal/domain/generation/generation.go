package generation

import (
	"time"
)

// Kind enumerates supported generation categories.
type Kind string

const (
	KindImage Kind = "IMAGE"
	KindVideo Kind = "VIDEO"
)

// Phase enumerates lifecycle states of a generation request. The operation
// value moves through them strictly forward; every terminal phase is final.
type Phase string

const (
	PhaseSubmitted Phase = "SUBMITTED"
	PhasePolling   Phase = "POLLING"
	PhaseCompleted Phase = "COMPLETED"
	PhaseFailed    Phase = "FAILED"
	PhaseTimedOut  Phase = "TIMED_OUT"
	PhaseCanceled  Phase = "CANCELED"
)

// Terminal reports whether the phase permits no further transitions.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseCompleted, PhaseFailed, PhaseTimedOut, PhaseCanceled:
		return true
	}
	return false
}

// CanTransition reports whether moving from p to next is a legal step.
func (p Phase) CanTransition(next Phase) bool {
	if p.Terminal() {
		return false
	}
	switch p {
	case PhaseSubmitted:
		return next == PhasePolling || next.Terminal()
	case PhasePolling:
		return next.Terminal()
	}
	return false
}

// Request carries the user-facing inputs of one generation call. It is
// constructed per HTTP request and discarded after the response.
type Request struct {
	UserID      string
	Kind        Kind
	ModelID     string
	Prompt      string
	Dialogue    string
	AspectRatio string

	// Optional conditioning inputs.
	ImageURL    string
	ImageData   []byte
	ImageMIME   string
	TemplateID  string
	TemplateURL string
	InputVideo  string
	Strength    float64

	SubjectLock   bool
	Outfit        string
	SemanticRemix bool
}

// Operation is the lifecycle value passed between pipeline stages. The
// provider reference is persisted as soon as the submit call returns so a
// restarted process can resume polling instead of orphaning the job.
type Operation struct {
	RequestID   string
	ChargeToken string
	ModelID     string
	Phase       Phase
	ProviderRef string
	SubmittedAt time.Time
	Attempts    int
}

// Advance returns a copy of the operation in the next phase. Illegal
// transitions are ignored and the receiver is returned unchanged; the caller
// is expected to have checked CanTransition when the distinction matters.
func (o Operation) Advance(next Phase) Operation {
	if !o.Phase.CanTransition(next) {
		return o
	}
	o.Phase = next
	return o
}

// Result is the provider's final output before re-hosting.
type Result struct {
	MediaURL string
	Data     []byte
	MIME     string
	Width    int
	Height   int
	Raw      []byte
}
