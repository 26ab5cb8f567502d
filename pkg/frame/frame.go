// Package frame defines the typed units of incremental model output and the
// decoders that produce them from raw transport payloads.
//
// A Frame is one unit of a logical turn: narrative text, generated code, the
// observed result of executing that code, raw audio samples, or a control
// signal. Frames carry no ordering metadata — arrival order is the only
// ordering signal, and consumers must preserve it.
package frame

// Frame is one typed unit of incremental output from the model.
//
// Within one logical turn, frames are causally ordered by arrival:
// concatenating TextDelta frames in arrival order reconstructs the full
// narrative text, and concatenating AudioChunk frames in arrival order
// reconstructs the playable audio. Reordering corrupts output.
type Frame interface {
	frameKind() string
}

// TextDelta carries an incremental piece of narrative output.
type TextDelta struct {
	Text string
}

func (TextDelta) frameKind() string { return "text_delta" }

// CodeBlock carries one complete unit of generated executable code.
type CodeBlock struct {
	Code string
}

func (CodeBlock) frameKind() string { return "code_block" }

// ExecutionResult carries the observed output of running a CodeBlock.
type ExecutionResult struct {
	Output string
}

func (ExecutionResult) frameKind() string { return "execution_result" }

// AudioChunk carries raw, uncompressed PCM samples. Sequence reflects the
// position at which the chunk was received; it exists for diagnostics only
// and must never be used to reorder.
type AudioChunk struct {
	PCM      []byte
	Sequence int
}

func (AudioChunk) frameKind() string { return "audio_chunk" }

// TurnComplete marks that no more frames will arrive for this logical turn.
type TurnComplete struct{}

func (TurnComplete) frameKind() string { return "turn_complete" }

// StreamEnd marks that the transport itself has closed. It is distinct from
// TurnComplete: in streaming mode the transport may close without the
// payload ever carrying an explicit completion field, in which case the
// consumer treats transport close as completion.
type StreamEnd struct{}

func (StreamEnd) frameKind() string { return "stream_end" }
