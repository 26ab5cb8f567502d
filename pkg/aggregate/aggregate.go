// Package aggregate folds a heterogeneous frame sequence into one sealed,
// typed result.
//
// The aggregator is the consuming end of both delivery modes: a buffered
// gateway payload decoded in one pass, or a live SSE stream decoded line by
// line. Either way it sees an ordered frame sequence and folds it
// monotonically — text deltas concatenate, code blocks and execution results
// append — until a completion signal seals the result. Sealed results are
// never mutated.
package aggregate

import (
	"strings"

	"github.com/glimpse-ai/glimpse/pkg/frame"
)

// Result is the sealed outcome of one logical exchange.
type Result struct {
	Success      bool     `json:"success"`
	Text         string   `json:"text"`
	Code         []string `json:"code"`
	CodeResults  []string `json:"codeResults"`
	ParsedData   any      `json:"parsedData"`
	ErrorMessage string   `json:"error,omitempty"`
}

// Aggregator folds frames into a Result. It is single-exchange, single
// goroutine state: one aggregator per exchange, fed one frame at a time.
// The zero value is not usable; call New.
type Aggregator struct {
	text        strings.Builder
	code        []string
	codeResults []string
	sealed      bool
	result      Result
}

// New returns an empty aggregator for one exchange.
func New() *Aggregator {
	return &Aggregator{}
}

// Fold applies one frame. Content frames append to the accumulating state;
// TurnComplete and StreamEnd seal the result. Frames folded after sealing
// are ignored. AudioChunk frames carry no aggregate content and only
// confirm liveness of the stream.
func (a *Aggregator) Fold(f frame.Frame) {
	if a.sealed {
		return
	}
	switch fr := f.(type) {
	case frame.TextDelta:
		a.text.WriteString(fr.Text)
	case frame.CodeBlock:
		a.code = append(a.code, fr.Code)
	case frame.ExecutionResult:
		a.codeResults = append(a.codeResults, fr.Output)
	case frame.TurnComplete, frame.StreamEnd:
		a.seal()
	}
}

// Sealed reports whether a completion signal has been observed.
func (a *Aggregator) Sealed() bool { return a.sealed }

// Fail seals the aggregator as a transport failure. Frames already folded
// are discarded rather than reported as a partial success — partial
// structured output cannot be trusted as complete.
func (a *Aggregator) Fail(msg string) Result {
	a.sealed = true
	a.result = Result{Success: false, ErrorMessage: msg}
	return a.result
}

// Result returns the sealed result, sealing first if no completion signal
// arrived (transport close without an explicit marker is treated as
// completion).
func (a *Aggregator) Result() Result {
	if !a.sealed {
		a.seal()
	}
	return a.result
}

func (a *Aggregator) seal() {
	a.sealed = true
	text := a.text.String()
	parsed, _ := ExtractJSON(text)
	a.result = Result{
		Success:     true,
		Text:        text,
		Code:        a.code,
		CodeResults: a.codeResults,
		ParsedData:  parsed,
	}
}

// Aggregate drains frames from ch and returns the sealed result. It returns
// as soon as a completion frame is folded; a closed channel without one is
// treated as completion-on-transport-close.
func Aggregate(ch <-chan frame.Frame) Result {
	a := New()
	for f := range ch {
		a.Fold(f)
		if a.Sealed() {
			break
		}
	}
	return a.Result()
}
