package app_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/glimpse-ai/glimpse/internal/app"
	"github.com/glimpse-ai/glimpse/internal/config"
	"github.com/glimpse-ai/glimpse/internal/observe"
	"github.com/glimpse-ai/glimpse/pkg/analyze"
	"github.com/glimpse-ai/glimpse/pkg/live"
	"github.com/glimpse-ai/glimpse/pkg/wav"
)

var testImage = []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a}

// startGateway serves the buffered analysis endpoint with a fixed response.
func startGateway(t *testing.T, response map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(response)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// startLiveServer accepts one WebSocket session, drains the three client
// messages (setup, media, turn), streams the given PCM chunks and completes
// the turn.
func startLiveServer(t *testing.T, chunks [][]byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		for range 3 {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
		for _, pcm := range chunks {
			writeServerJSON(t, conn, map[string]any{
				"serverContent": map[string]any{
					"modelTurn": map[string]any{
						"parts": []map[string]any{
							{"inlineData": map[string]any{
								"mimeType": "audio/pcm;rate=24000",
								"data":     base64.StdEncoding.EncodeToString(pcm),
							}},
						},
					},
				},
			})
		}
		writeServerJSON(t, conn, map[string]any{
			"serverContent": map[string]any{"turnComplete": true},
		})
		<-conn.CloseRead(context.Background()).Done()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeServerJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("write: %v (may be expected on close)", err)
	}
}

func newTestMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { provider.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(provider)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func newTestApp(t *testing.T, gateway, liveSrv *httptest.Server, outDir string) (*app.App, *sdkmetric.ManualReader) {
	t.Helper()
	m, reader := newTestMetrics(t)
	cfg := &config.Config{
		Output: config.OutputConfig{Dir: outDir},
	}
	opts := []app.Option{
		app.WithMetrics(m),
		app.WithAnalyzeClient(analyze.NewClient(gateway.URL, "test-key")),
	}
	if liveSrv != nil {
		liveURL := "ws" + strings.TrimPrefix(liveSrv.URL, "http")
		opts = append(opts, app.WithLiveController(live.New("test-key", live.WithBaseURL(liveURL))))
	}
	return app.New(cfg, opts...), reader
}

func TestAnalyzeRecordsExchange(t *testing.T) {
	t.Parallel()

	gw := startGateway(t, map[string]any{"text": "a quiet street"})
	a, reader := newTestApp(t, gw, nil, "")

	res, err := a.Analyze(context.Background(), analyze.Request{Image: testImage})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !res.Success || res.Text != "a quiet street" {
		t.Fatalf("result = %+v", res)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var found bool
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name == "glimpse.exchanges" {
				found = true
			}
		}
	}
	if !found {
		t.Error("exchange metric not recorded")
	}
}

func TestNarrateWritesArtifact(t *testing.T) {
	t.Parallel()

	gw := startGateway(t, map[string]any{"text": "a red kite over the beach"})
	ls := startLiveServer(t, [][]byte{{0x01, 0x02}, {0x03, 0x04}})
	outDir := t.TempDir()
	a, _ := newTestApp(t, gw, ls, outDir)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	path, err := a.Narrate(ctx, testImage, "/photos/kite.png", "")
	if err != nil {
		t.Fatalf("Narrate: %v", err)
	}

	if filepath.Dir(path) != outDir {
		t.Errorf("artifact dir = %q, want %q", filepath.Dir(path), outDir)
	}
	if filepath.Base(path) != "kite.wav" {
		t.Errorf("artifact name = %q, want kite.wav", filepath.Base(path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	h, err := wav.ReadHeader(data)
	if err != nil {
		t.Fatalf("artifact is not a WAV container: %v", err)
	}
	if h.Subchunk2Size != 4 {
		t.Errorf("payload length = %d, want 4", h.Subchunk2Size)
	}
	if h.SampleRate != 24000 {
		t.Errorf("sample rate = %d, want 24000", h.SampleRate)
	}
}

func TestNarrateDefaultsToSiblingDirectory(t *testing.T) {
	t.Parallel()

	gw := startGateway(t, map[string]any{"text": "analysis"})
	ls := startLiveServer(t, nil)

	dir := t.TempDir()
	a, _ := newTestApp(t, gw, ls, "")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	path, err := a.Narrate(ctx, testImage, filepath.Join(dir, "shot.jpeg"), "describe")
	if err != nil {
		t.Fatalf("Narrate: %v", err)
	}
	if want := filepath.Join(dir, "shot.wav"); path != want {
		t.Errorf("path = %q, want %q", path, want)
	}

	// Zero audio chunks still yield a valid header-only container.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if len(data) != wav.HeaderSize {
		t.Errorf("artifact length = %d, want %d", len(data), wav.HeaderSize)
	}
}

func TestNarrateAnalysisFailureWritesNothing(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	outDir := t.TempDir()
	a, _ := newTestApp(t, srv, nil, outDir)

	_, err := a.Narrate(context.Background(), testImage, "pic.png", "")
	if !errors.Is(err, app.ErrAnalysisFailed) {
		t.Fatalf("err = %v, want ErrAnalysisFailed", err)
	}
	assertEmptyDir(t, outDir)
}

func TestNarrateSessionFailureWritesNothing(t *testing.T) {
	t.Parallel()

	gw := startGateway(t, map[string]any{"text": "analysis"})

	// Live endpoint that drops the connection before turn completion.
	ls := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		for range 3 {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
		conn.Close(websocket.StatusInternalError, "going away")
	}))
	t.Cleanup(ls.Close)

	outDir := t.TempDir()
	a, _ := newTestApp(t, gw, ls, outDir)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := a.Narrate(ctx, testImage, "pic.png", ""); err == nil {
		t.Fatal("Narrate succeeded despite session failure")
	}
	assertEmptyDir(t, outDir)
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("unexpected files written: %v", entries)
	}
}
