// Package app wires the Glimpse subsystems into the two user-facing flows:
// analyze (image → aggregated result) and narrate (image → analysis text →
// live audio session → WAV artifact).
//
// Each flow invocation is one independent exchange owning its own result or
// session; the app holds no mutable state shared across exchanges, so
// concurrent invocations are safe without locking.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/glimpse-ai/glimpse/internal/config"
	"github.com/glimpse-ai/glimpse/internal/observe"
	"github.com/glimpse-ai/glimpse/pkg/aggregate"
	"github.com/glimpse-ai/glimpse/pkg/analyze"
	"github.com/glimpse-ai/glimpse/pkg/live"
	"github.com/glimpse-ai/glimpse/pkg/wav"
)

// narrationSystemPrompt steers the live model toward narrating the analysis
// text rather than conversing about it.
const narrationSystemPrompt = "You are a narrator. Read the provided analysis " +
	"aloud in a clear, natural voice. Do not add commentary of your own."

// ErrAnalysisFailed wraps a sealed failed analysis result so callers can
// distinguish it from precondition errors.
var ErrAnalysisFailed = errors.New("app: analysis failed")

// App owns the clients for both transport shapes and runs exchanges on
// request. Create with New; inject test doubles via options.
type App struct {
	cfg     *config.Config
	client  *analyze.Client
	live    *live.Controller
	metrics *observe.Metrics
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithAnalyzeClient injects an analysis client instead of building one from
// config.
func WithAnalyzeClient(c *analyze.Client) Option {
	return func(a *App) { a.client = c }
}

// WithLiveController injects a live session controller instead of building
// one from config.
func WithLiveController(c *live.Controller) Option {
	return func(a *App) { a.live = c }
}

// WithMetrics injects a metrics instance instead of the package default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App from cfg, building real clients for anything not
// injected through options.
func New(cfg *config.Config, opts ...Option) *App {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.client == nil {
		a.client = analyze.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.APIKey,
			analyze.WithHTTPClient(observe.NewHTTPClient(a.metrics)))
	}
	if a.live == nil {
		a.live = live.New(cfg.Gateway.APIKey,
			live.WithModel(cfg.Live.Model),
			live.WithVoice(cfg.Live.Voice),
			live.WithFormat(wav.Format{
				SampleRate: cfg.Live.SampleRate,
				Channels:   cfg.Live.Channels,
				BitDepth:   cfg.Live.BitDepth,
			}),
		)
	}
	return a
}

// Analyze runs one analysis exchange and returns its sealed result.
func (a *App) Analyze(ctx context.Context, req analyze.Request) (aggregate.Result, error) {
	mode := "buffered"
	if req.Streaming {
		mode = "streaming"
	}

	ctx, span := observe.StartSpan(ctx, "glimpse.analyze")
	defer span.End()
	start := time.Now()

	res, err := a.client.Analyze(ctx, req)
	status := "ok"
	if err != nil || !res.Success {
		status = "failed"
	}
	a.metrics.RecordExchange(ctx, mode, status, time.Since(start).Seconds())
	if err == nil && !res.Success {
		a.metrics.TransportErrors.Add(ctx, 1,
			metric.WithAttributes(attribute.String("mode", mode)))
	}
	return res, err
}

// Narrate runs the two-stage narration flow: analyze the image, then have
// the live model read the analysis aloud, framing the received PCM into a
// WAV container written to persistent storage. It returns the artifact
// path.
//
// The stages fail independently: an analysis failure aborts before any live
// connection, and a session failure aborts before any file is written — an
// incomplete WAV is never left on disk.
func (a *App) Narrate(ctx context.Context, image []byte, imageID, instruction string) (string, error) {
	if instruction == "" {
		instruction = "Describe this image."
	}

	res, err := a.Analyze(ctx, analyze.Request{Image: image, Instruction: instruction})
	if err != nil {
		return "", err
	}
	if !res.Success {
		return "", fmt.Errorf("%w: %s", ErrAnalysisFailed, res.ErrorMessage)
	}

	session, err := a.runNarration(ctx, image, res.Text)
	if err != nil {
		return "", err
	}

	container, err := wav.Encode(session.Chunks(), session.Format())
	if err != nil {
		return "", fmt.Errorf("app: encode wav: %w", err)
	}

	path := a.artifactPath(imageID)
	if err := os.WriteFile(path, container, 0o644); err != nil {
		return "", fmt.Errorf("app: write artifact: %w", err)
	}
	a.metrics.ArtifactsWritten.Add(ctx, 1)

	observe.Logger(ctx).Info("narration artifact written",
		"path", path,
		"chunks", len(session.Chunks()),
		"bytes", len(container),
	)
	return path, nil
}

// runNarration executes the live stage of the narrate flow.
func (a *App) runNarration(ctx context.Context, image []byte, text string) (*live.Session, error) {
	ctx, span := observe.StartSpan(ctx, "glimpse.narrate.live")
	defer span.End()
	start := time.Now()

	a.metrics.ActiveSessions.Add(ctx, 1)
	defer a.metrics.ActiveSessions.Add(ctx, -1)

	mime := http.DetectContentType(image)
	if !strings.HasPrefix(mime, "image/") {
		mime = "image/png"
	}
	session, err := a.live.RunSession(ctx,
		live.Media{MIMEType: mime, Data: image},
		"Narrate the following analysis of the image:\n\n"+text,
		narrationSystemPrompt,
	)

	status := "ok"
	if err != nil {
		status = "failed"
		a.metrics.TransportErrors.Add(ctx, 1,
			metric.WithAttributes(attribute.String("mode", "live")))
	}
	a.metrics.RecordExchange(ctx, "live", status, time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	var total int64
	for _, c := range session.Chunks() {
		total += int64(len(c))
	}
	a.metrics.AudioBytes.Add(ctx, total)
	return session, nil
}

// artifactPath derives the WAV artifact path from the source image's
// identifier: the image extension is replaced with .wav, and the file is
// placed in the configured output directory when one is set.
func (a *App) artifactPath(imageID string) string {
	base := strings.TrimSuffix(filepath.Base(imageID), filepath.Ext(imageID)) + ".wav"
	dir := a.cfg.Output.Dir
	if dir == "" {
		dir = filepath.Dir(imageID)
	}
	return filepath.Join(dir, base)
}
