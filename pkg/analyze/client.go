// Package analyze is the client side of the vision gateway's analysis API.
//
// One call sends an image plus a natural-language instruction upstream and
// folds the gateway's heterogeneous event stream — narrative text, generated
// code, execution results — into a single sealed result. Delivery is either
// buffered (one JSON payload) or incremental (SSE lines); both paths run
// through the same frame decoder and aggregator, so the final result is
// independent of how the transport chunked the content.
package analyze

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/glimpse-ai/glimpse/pkg/aggregate"
	"github.com/glimpse-ai/glimpse/pkg/frame"
)

const defaultRequestTimeout = 120 * time.Second

// ErrNoCredential is returned when the client was built without an API key.
var ErrNoCredential = errors.New("analyze: missing API key")

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for gateway calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// Client issues analysis exchanges against the vision gateway. It performs
// no retries: transport failures seal the exchange as failed and retry
// policy stays with the caller.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a Client for the gateway at baseURL.
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// gatewayRequest is the JSON body posted to the gateway's analyze endpoint.
type gatewayRequest struct {
	Image         string `json:"image"` // base64-encoded
	MIMEType      string `json:"mimeType"`
	Instruction   string `json:"instruction"`
	ThinkingLevel string `json:"thinkingLevel"`
	Stream        bool   `json:"stream"`
}

// Analyze runs one exchange and returns its sealed result.
//
// Precondition violations (no image, no credential, bad thinking level) are
// rejected as errors before any transport call. Transport failures are not
// errors at this level: they seal and return a failed result with
// ErrorMessage set, discarding any partially folded frames. Context
// cancellation tears down the transport and is returned as an error.
func (c *Client) Analyze(ctx context.Context, req Request) (aggregate.Result, error) {
	if c.apiKey == "" {
		return aggregate.Result{}, ErrNoCredential
	}
	image, mime, err := req.resolveImage()
	if err != nil {
		return aggregate.Result{}, err
	}
	if req.Thinking != "" && !req.Thinking.IsValid() {
		return aggregate.Result{}, fmt.Errorf("analyze: invalid thinking level %q", req.Thinking)
	}

	exchangeID := uuid.NewString()
	log := slog.Default().With("exchange_id", exchangeID, "streaming", req.Streaming)
	log.Debug("analysis exchange starting", "mime", mime, "thinking", req.thinking())

	body, err := json.Marshal(gatewayRequest{
		Image:         base64.StdEncoding.EncodeToString(image),
		MIMEType:      mime,
		Instruction:   req.Instruction,
		ThinkingLevel: string(req.thinking()),
		Stream:        req.Streaming,
	})
	if err != nil {
		return aggregate.Result{}, fmt.Errorf("analyze: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return aggregate.Result{}, fmt.Errorf("analyze: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	if req.Streaming {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return aggregate.Result{}, ctx.Err()
		}
		log.Warn("gateway unreachable", "err", err)
		return aggregate.New().Fail(fmt.Sprintf("gateway unreachable: %v", err)), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := readErrorBody(resp)
		log.Warn("gateway rejected request", "status", resp.StatusCode, "err", msg)
		return aggregate.New().Fail(fmt.Sprintf("gateway returned %d: %s", resp.StatusCode, msg)), nil
	}

	if req.Streaming {
		return c.aggregateStream(ctx, resp.Body, log)
	}
	return c.aggregateBuffered(resp.Body, log)
}

// aggregateBuffered decodes one complete payload into frames and folds them.
func (c *Client) aggregateBuffered(body io.Reader, log *slog.Logger) (aggregate.Result, error) {
	payload, err := io.ReadAll(body)
	if err != nil {
		return aggregate.New().Fail(fmt.Sprintf("read response: %v", err)), nil
	}

	agg := aggregate.New()
	frames := frame.DecodeResponse(payload)
	if len(frames) == 0 {
		log.Warn("buffered payload did not decode")
		return agg.Fail("unparseable gateway response"), nil
	}
	for _, f := range frames {
		agg.Fold(f)
	}

	res := agg.Result()
	log.Debug("analysis exchange sealed", "code_blocks", len(res.Code), "parsed", res.ParsedData != nil)
	return res, nil
}

// aggregateStream reads SSE lines from body, decoding each into frames on a
// producer goroutine and folding them here, one at a time, in arrival
// order. A mid-stream read failure discards everything already folded; a
// clean close without an explicit completion payload seals the result as
// complete.
func (c *Client) aggregateStream(ctx context.Context, body io.Reader, log *slog.Logger) (aggregate.Result, error) {
	g, ctx := errgroup.WithContext(ctx)
	frames := make(chan frame.Frame, 16)

	g.Go(func() error {
		defer close(frames)
		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			for _, f := range frame.DecodeLine(scanner.Text()) {
				select {
				case frames <- f:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
		return scanner.Err()
	})

	// Fold one frame at a time in arrival order. Once a completion payload
	// seals the result, trailing frames (and the [DONE] marker) are no-ops,
	// so the channel is simply drained until the producer exits.
	agg := aggregate.New()
	for f := range frames {
		agg.Fold(f)
	}

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil && !agg.Sealed() {
			return aggregate.Result{}, ctx.Err()
		}
		if !agg.Sealed() {
			log.Warn("stream broke mid-exchange", "err", err)
			return agg.Fail(fmt.Sprintf("stream interrupted: %v", err)), nil
		}
	}

	res := agg.Result()
	log.Debug("analysis exchange sealed", "code_blocks", len(res.Code), "parsed", res.ParsedData != nil)
	return res, nil
}

// readErrorBody extracts a short diagnostic from a non-2xx response.
func readErrorBody(resp *http.Response) string {
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil || len(bytes.TrimSpace(data)) == 0 {
		return resp.Status
	}

	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		return payload.Error
	}
	return string(bytes.TrimSpace(data))
}
