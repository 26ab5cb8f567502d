package frame

import (
	"encoding/json"
	"strings"
)

// doneMarker is the literal SSE payload that marks physical stream end. It
// signals only that the transport will carry no further chunks — logical
// turn completion is a separate, payload-level signal.
const doneMarker = "[DONE]"

// bufferedResponse is the gateway's non-streaming payload shape.
type bufferedResponse struct {
	Text        string   `json:"text"`
	Code        []string `json:"code"`
	CodeResults []string `json:"codeResults"`
}

// streamPayload is the gateway's per-event streaming payload shape. Exactly
// one of Chunk, Code, or Result is expected to be set; Done, when present,
// marks logical turn completion.
type streamPayload struct {
	Chunk  *string `json:"chunk"`
	Code   *string `json:"code"`
	Result *string `json:"result"`
	Done   bool    `json:"done"`
}

// DecodeResponse decodes one complete buffered gateway payload into its
// frame sequence: one TextDelta per text segment, one CodeBlock per snippet,
// one ExecutionResult per observed output, followed by TurnComplete.
//
// A payload that fails to parse yields no frames. Decoding never fails;
// malformed input is dropped so the caller can keep making progress.
func DecodeResponse(payload []byte) []Frame {
	var resp bufferedResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil
	}

	frames := make([]Frame, 0, 1+len(resp.Code)+len(resp.CodeResults)+1)
	if resp.Text != "" {
		frames = append(frames, TextDelta{Text: resp.Text})
	}
	for _, code := range resp.Code {
		frames = append(frames, CodeBlock{Code: code})
	}
	for _, out := range resp.CodeResults {
		frames = append(frames, ExecutionResult{Output: out})
	}
	return append(frames, TurnComplete{})
}

// DecodeLine decodes one line of a push stream into zero or more frames.
//
// Only lines carrying the "data: " event prefix are significant; everything
// else (blank separators, comments, unknown fields) yields no frames. The
// literal [DONE] marker yields StreamEnd. Data lines whose payload fails to
// parse are skipped, not fatal.
func DecodeLine(line string) []Frame {
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")

	data, ok := strings.CutPrefix(line, "data: ")
	if !ok {
		return nil
	}
	if data == doneMarker {
		return []Frame{StreamEnd{}}
	}

	var p streamPayload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil
	}

	var frames []Frame
	switch {
	case p.Chunk != nil:
		frames = append(frames, TextDelta{Text: *p.Chunk})
	case p.Code != nil:
		frames = append(frames, CodeBlock{Code: *p.Code})
	case p.Result != nil:
		frames = append(frames, ExecutionResult{Output: *p.Result})
	}
	if p.Done {
		frames = append(frames, TurnComplete{})
	}
	return frames
}
