// Copyright (c) 2024 The Viper Contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package diag implements the backend's structured diagnostic sink: a
// collector of severity-tagged records with a single escape hatch for
// fatal errors. The pipeline stops at the first Fatal; everything else
// is collected and surfaced at the end of a run.
package diag

import (
	"fmt"
	"sync"
)

// Severity classifies how a Record affects the pipeline.
type Severity int

const (
	// SeverityDiagnostic is a non-fatal warning. Collected, never aborts.
	SeverityDiagnostic Severity = iota
	// SeverityError is fatal but expected (bad input).
	SeverityError
	// SeverityFatal is an internal invariant violation.
	SeverityFatal
)

func (s Severity) String() string {
	switch s {
	case SeverityDiagnostic:
		return "diagnostic"
	case SeverityError:
		return "error"
	case SeverityFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Kind further categorizes a Record, per spec §7.
type Kind int

const (
	KindInvalidIL Kind = iota
	KindUnsupported
	KindInternal
	KindDiagnostic
)

func (k Kind) String() string {
	switch k {
	case KindInvalidIL:
		return "invalid-il"
	case KindUnsupported:
		return "unsupported"
	case KindInternal:
		return "internal"
	case KindDiagnostic:
		return "diagnostic"
	default:
		return "unknown"
	}
}

// Pos is a source location carried from IL metadata, if any.
type Pos struct {
	File string
	Line int
}

func (p Pos) String() string {
	if p.File == "" {
		return "<unknown>"
	}
	return fmt.Sprintf("%s:%d", p.File, p.Line)
}

// Record is one diagnostic: a severity, a kind, the stage that raised
// it, a message, and an optional location and MIR context dump.
type Record struct {
	Severity Severity
	Kind     Kind
	Stage    string
	Message  string
	Pos      Pos
	Context  string // e.g. a MIR function dump, attached to Internal errors
}

func (r Record) String() string {
	s := fmt.Sprintf("[%s/%s] %s: %s", r.Severity, r.Kind, r.Stage, r.Message)
	if r.Pos.File != "" {
		s += " (" + r.Pos.String() + ")"
	}
	if r.Context != "" {
		s += "\n" + r.Context
	}
	return s
}

// Fatal wraps the Record that terminated the pipeline; it is the value
// recovered at the top of pipeline.CompileModule.
type Fatal struct {
	Record Record
}

func (f *Fatal) Error() string { return f.Record.String() }

// Sink collects diagnostics for one compilation. The zero value is
// ready to use. A Sink may be shared across goroutines lowering
// different functions concurrently (spec §5); all methods are safe for
// concurrent use.
type Sink struct {
	mu      sync.Mutex
	records []Record
}

// NewSink returns a ready-to-use Sink.
func NewSink() *Sink {
	return &Sink{}
}

// Report records a diagnostic. If its severity is Error or Fatal,
// Report panics with *Fatal; callers at stage boundaries do not need to check a
// return value, matching the teacher's utils.Assert/Fatal panic idiom.
func (s *Sink) Report(r Record) {
	s.mu.Lock()
	s.records = append(s.records, r)
	s.mu.Unlock()
	if r.Severity == SeverityFatal || r.Severity == SeverityError {
		panic(&Fatal{Record: r})
	}
}

// Warn records a non-fatal diagnostic (spec §7's "large frame detected"
// class of warning).
func (s *Sink) Warn(stage, format string, args ...interface{}) {
	s.Report(Record{
		Severity: SeverityDiagnostic,
		Kind:     KindDiagnostic,
		Stage:    stage,
		Message:  fmt.Sprintf(format, args...),
	})
}

// InvalidIL reports a fatal InvalidIL diagnostic at pos.
func (s *Sink) InvalidIL(stage string, pos Pos, format string, args ...interface{}) {
	s.Report(Record{
		Severity: SeverityFatal,
		Kind:     KindInvalidIL,
		Stage:    stage,
		Message:  fmt.Sprintf(format, args...),
		Pos:      pos,
	})
}

// Unsupported reports a fatal Unsupported diagnostic.
func (s *Sink) Unsupported(stage string, format string, args ...interface{}) {
	s.Report(Record{
		Severity: SeverityFatal,
		Kind:     KindUnsupported,
		Stage:    stage,
		Message:  fmt.Sprintf(format, args...),
	})
}

// Internal reports a fatal Internal diagnostic carrying MIR context.
func (s *Sink) Internal(stage, context string, format string, args ...interface{}) {
	s.Report(Record{
		Severity: SeverityFatal,
		Kind:     KindInternal,
		Stage:    stage,
		Message:  fmt.Sprintf(format, args...),
		Context:  context,
	})
}

// Records returns every diagnostic collected so far, including the one
// that (if any) triggered a Fatal panic.
func (s *Sink) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}
