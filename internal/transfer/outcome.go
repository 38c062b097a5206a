package transfer

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Kind classifies how a transfer ended.
type Kind string

const (
	Success          Kind = "success"
	TransportError   Kind = "transport_error"
	NonSuccessStatus Kind = "non_success_status"
	WriteError       Kind = "write_error"
	DecodeError      Kind = "decode_error"
	FilterSkip       Kind = "filter_skip"
)

// Failed is true for every kind except Success and FilterSkip.
func (k Kind) Failed() bool {
	return k != Success && k != FilterSkip
}

type EntryOutcome struct {
	Name        string
	Destination string
	Kind        Kind
	Bytes       int64
	Err         error
}

// Outcome is the result of one Fetch or Extract invocation. It is reported
// independently of the trigger acknowledgement, which always succeeds.
type Outcome struct {
	InvocationID string
	Operation    string
	Kind         Kind
	Source       string
	Destination  string
	StatusCode   int
	ContentType  string
	Bytes        int64
	Entries      []EntryOutcome
	Err          error
	Started      time.Time
	Finished     time.Time
}

func newOutcome(operation, source string) *Outcome {
	return &Outcome{
		InvocationID: uuid.NewString(),
		Operation:    operation,
		Kind:         Success,
		Source:       source,
		Started:      time.Now(),
	}
}

func (o *Outcome) fail(kind Kind, err error) {
	o.Kind = kind
	o.Err = err
}

// result finalizes the outcome and wraps failures in *Error.
func (o *Outcome) result() (*Outcome, error) {
	o.Finished = time.Now()
	if o.Kind.Failed() {
		return o, &Error{Outcome: o}
	}
	return o, nil
}

// Written counts entries committed to storage.
func (o *Outcome) Written() int {
	n := 0
	for _, e := range o.Entries {
		if e.Kind == Success {
			n++
		}
	}
	return n
}

func (o *Outcome) FailedEntries() int {
	n := 0
	for _, e := range o.Entries {
		if e.Kind.Failed() {
			n++
		}
	}
	return n
}

// Error carries a failed Outcome through the error chain.
type Error struct {
	Outcome *Outcome
}

func (e *Error) Error() string {
	o := e.Outcome
	if o.Err != nil {
		return fmt.Sprintf("%s %s: %s: %v", o.Operation, o.Source, o.Kind, o.Err)
	}
	return fmt.Sprintf("%s %s: %s", o.Operation, o.Source, o.Kind)
}

func (e *Error) Unwrap() error {
	return e.Outcome.Err
}

type Reporter interface {
	Report(o *Outcome)
}

// LogReporter emits one structured event per outcome.
type LogReporter struct{}

func (LogReporter) Report(o *Outcome) {
	level := zerolog.InfoLevel
	switch {
	case o.Kind.Failed():
		level = zerolog.ErrorLevel
	case o.FailedEntries() > 0:
		level = zerolog.WarnLevel
	case o.Kind == FilterSkip:
		level = zerolog.DebugLevel
	}
	ev := log.WithLevel(level).
		Str("op", "transfer/outcome").
		Str("invocation", o.InvocationID).
		Str("operation", o.Operation).
		Str("kind", string(o.Kind)).
		Str("source", o.Source).
		Str("destination", o.Destination).
		Int64("bytes", o.Bytes).
		Dur("elapsed", o.Finished.Sub(o.Started))
	if o.StatusCode != 0 {
		ev = ev.Int("status", o.StatusCode)
	}
	if len(o.Entries) > 0 {
		ev = ev.Int("entries", len(o.Entries)).Int("written", o.Written()).Int("failed", o.FailedEntries())
	}
	if o.Err != nil {
		ev = ev.Err(o.Err)
	}
	ev.Msg("transfer outcome")
}

// Recorder keeps outcomes in memory.
type Recorder struct {
	mu       sync.Mutex
	outcomes []*Outcome
}

func (r *Recorder) Report(o *Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}

func (r *Recorder) Outcomes() []*Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Outcome(nil), r.outcomes...)
}

// Reporters fans one outcome out to several reporters.
type Reporters []Reporter

func (rs Reporters) Report(o *Outcome) {
	for _, r := range rs {
		r.Report(o)
	}
}
