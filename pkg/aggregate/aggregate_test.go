package aggregate_test

import (
	"testing"

	"github.com/glimpse-ai/glimpse/pkg/aggregate"
	"github.com/glimpse-ai/glimpse/pkg/frame"
)

func TestFoldConcatenatesInArrivalOrder(t *testing.T) {
	t.Parallel()

	// The same logical text split differently across frames must yield an
	// identical final result.
	chunkings := [][]string{
		{"Hello, world"},
		{"Hello", ", ", "world"},
		{"H", "e", "l", "l", "o", ",", " ", "w", "o", "r", "l", "d"},
	}

	for _, chunks := range chunkings {
		a := aggregate.New()
		for _, c := range chunks {
			a.Fold(frame.TextDelta{Text: c})
		}
		a.Fold(frame.TurnComplete{})

		res := a.Result()
		if res.Text != "Hello, world" {
			t.Errorf("chunking %v: text = %q, want %q", chunks, res.Text, "Hello, world")
		}
		if !res.Success {
			t.Errorf("chunking %v: success = false", chunks)
		}
	}
}

func TestFoldStreamingScenario(t *testing.T) {
	t.Parallel()

	// data: {"chunk":"He"} then data: {"chunk":"llo"} then data: [DONE]
	a := aggregate.New()
	for _, line := range []string{
		`data: {"chunk":"He"}`,
		`data: {"chunk":"llo"}`,
		`data: [DONE]`,
	} {
		for _, f := range frame.DecodeLine(line) {
			a.Fold(f)
		}
	}

	res := a.Result()
	if res.Text != "Hello" {
		t.Fatalf("text = %q, want %q", res.Text, "Hello")
	}
	if !a.Sealed() {
		t.Fatal("aggregator not sealed after [DONE]")
	}
}

func TestFoldCodeAndResults(t *testing.T) {
	t.Parallel()

	a := aggregate.New()
	a.Fold(frame.TextDelta{Text: "Running analysis. "})
	a.Fold(frame.CodeBlock{Code: "x = 1"})
	a.Fold(frame.ExecutionResult{Output: "ok"})
	a.Fold(frame.TextDelta{Text: "Done."})
	a.Fold(frame.CodeBlock{Code: "y = 2"})
	a.Fold(frame.TurnComplete{})

	res := a.Result()
	if res.Text != "Running analysis. Done." {
		t.Errorf("text = %q", res.Text)
	}
	if len(res.Code) != 2 || res.Code[0] != "x = 1" || res.Code[1] != "y = 2" {
		t.Errorf("code = %#v", res.Code)
	}
	if len(res.CodeResults) != 1 || res.CodeResults[0] != "ok" {
		t.Errorf("codeResults = %#v", res.CodeResults)
	}
}

func TestFoldIgnoresAudioChunks(t *testing.T) {
	t.Parallel()

	a := aggregate.New()
	a.Fold(frame.TextDelta{Text: "hi"})
	a.Fold(frame.AudioChunk{PCM: []byte{1, 2, 3}})
	a.Fold(frame.TurnComplete{})

	if res := a.Result(); res.Text != "hi" {
		t.Fatalf("text = %q, want %q", res.Text, "hi")
	}
}

func TestSealedResultIsImmutable(t *testing.T) {
	t.Parallel()

	a := aggregate.New()
	a.Fold(frame.TextDelta{Text: "before"})
	a.Fold(frame.TurnComplete{})

	a.Fold(frame.TextDelta{Text: " after"})
	a.Fold(frame.CodeBlock{Code: "late"})

	res := a.Result()
	if res.Text != "before" {
		t.Errorf("text mutated after sealing: %q", res.Text)
	}
	if len(res.Code) != 0 {
		t.Errorf("code mutated after sealing: %#v", res.Code)
	}
}

func TestFailDiscardsPartialFolds(t *testing.T) {
	t.Parallel()

	a := aggregate.New()
	a.Fold(frame.TextDelta{Text: "partial "})
	a.Fold(frame.CodeBlock{Code: "x = 1"})
	a.Fold(frame.ExecutionResult{Output: "1"})

	res := a.Fail("connection reset")
	if res.Success {
		t.Error("success = true after Fail")
	}
	if res.ErrorMessage != "connection reset" {
		t.Errorf("errorMessage = %q", res.ErrorMessage)
	}
	if res.Text != "" || len(res.Code) != 0 || len(res.CodeResults) != 0 {
		t.Errorf("partial data leaked into failed result: %+v", res)
	}

	// The failure is terminal; a later completion must not overwrite it.
	a.Fold(frame.TurnComplete{})
	if res := a.Result(); res.Success {
		t.Error("failed result overwritten by later completion")
	}
}

func TestResultSealsOnTransportClose(t *testing.T) {
	t.Parallel()

	// No explicit completion frame: calling Result() is the
	// completion-on-transport-close path and still succeeds.
	a := aggregate.New()
	a.Fold(frame.TextDelta{Text: "unfinished"})

	res := a.Result()
	if !res.Success {
		t.Error("success = false on transport-close completion")
	}
	if res.Text != "unfinished" {
		t.Errorf("text = %q", res.Text)
	}
}

func TestAggregateChannel(t *testing.T) {
	t.Parallel()

	ch := make(chan frame.Frame, 4)
	ch <- frame.TextDelta{Text: "a"}
	ch <- frame.TextDelta{Text: "b"}
	ch <- frame.StreamEnd{}
	close(ch)

	res := aggregate.Aggregate(ch)
	if res.Text != "ab" || !res.Success {
		t.Fatalf("result = %+v", res)
	}
}
