// Package transcript merges the text fragments of one recognition session
// into a single transcript.
package transcript

import (
	"strings"
	"unicode/utf8"

	"github.com/lexiqai/speech-bridge/internal/protocol"
)

// Outcome is the terminal state of a session.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
)

// minFragmentRunes is the shortest fragment kept; anything shorter is noise.
const minFragmentRunes = 2

// Aggregator accumulates fragments for a single session. It is not safe for
// concurrent use; the session controller owns it.
type Aggregator struct {
	seen      map[string]struct{}
	ordered   []string
	finals    []string
	completed bool
	errored   bool
}

// NewAggregator returns an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		seen: make(map[string]struct{}),
	}
}

// IsServerFinal reports whether the message marks completion of the session.
func IsServerFinal(r *protocol.ServerResult) bool {
	return r != nil && r.Type == protocol.TypeFinal
}

// isFinalMarked reports whether fragments in r belong on the final list.
func isFinalMarked(r *protocol.ServerResult) bool {
	return r.Type == protocol.TypeFinal || r.Type == protocol.TypeUtteranceEnd
}

// IsError reports whether the message carries an error tag, or a non-success
// status on a message that is not server-final.
func IsError(r *protocol.ServerResult) bool {
	if r == nil {
		return false
	}
	if r.Type == protocol.TypeError {
		return true
	}
	if IsServerFinal(r) {
		return false
	}
	code, ok := r.StatusCode()
	return ok && !protocol.IsSuccessStatus(code)
}

// Ingest records the fragments carried by r and reports whether anything new
// was recorded. A fragment already seen is ignored, even when the server
// echoes it back final-marked.
func (a *Aggregator) Ingest(r *protocol.ServerResult) bool {
	if r == nil {
		return false
	}
	if IsServerFinal(r) {
		a.completed = true
	}

	final := isFinalMarked(r)
	changed := false

	for _, candidate := range r.Result.Candidates {
		text := strings.TrimSpace(candidate.Text)
		if utf8.RuneCountInString(text) < minFragmentRunes {
			continue
		}

		if _, ok := a.seen[text]; ok {
			continue
		}
		a.seen[text] = struct{}{}
		a.ordered = append(a.ordered, text)
		if final {
			a.finals = append(a.finals, text)
		}
		changed = true
	}

	return changed
}

// RecordError notes that the session saw an error.
func (a *Aggregator) RecordError() {
	a.errored = true
}

// Completed reports whether a server-final message was ingested.
func (a *Aggregator) Completed() bool {
	return a.completed
}

// Errored reports whether RecordError was called.
func (a *Aggregator) Errored() bool {
	return a.errored
}

// Latest returns the most recently recorded fragment, or "".
func (a *Aggregator) Latest() string {
	if len(a.ordered) == 0 {
		return ""
	}
	return a.ordered[len(a.ordered)-1]
}

// Fragments returns a copy of the ordered fragment list.
func (a *Aggregator) Fragments() []string {
	return append([]string(nil), a.ordered...)
}

// Finals returns a copy of the final-marked fragment list.
func (a *Aggregator) Finals() []string {
	return append([]string(nil), a.finals...)
}

// Resolve picks the transcript:
//  1. the longest final-marked fragment
//  2. otherwise the most recent fragment
//  3. otherwise "" with success if the server signalled completion
//  4. otherwise an error outcome
func (a *Aggregator) Resolve() (string, Outcome) {
	if len(a.finals) > 0 {
		best := a.finals[0]
		bestLen := utf8.RuneCountInString(best)
		for _, f := range a.finals[1:] {
			if n := utf8.RuneCountInString(f); n > bestLen {
				best, bestLen = f, n
			}
		}
		return best, OutcomeSuccess
	}

	if len(a.ordered) > 0 {
		return a.ordered[len(a.ordered)-1], OutcomeSuccess
	}

	if a.completed {
		return "", OutcomeSuccess
	}

	return "", OutcomeError
}
