// Command glimpse sends an image plus an instruction to a multimodal vision
// gateway and either prints the aggregated analysis or narrates it as audio,
// writing a WAV artifact next to the source image.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/glimpse-ai/glimpse/internal/app"
	"github.com/glimpse-ai/glimpse/internal/config"
	"github.com/glimpse-ai/glimpse/internal/health"
	"github.com/glimpse-ai/glimpse/internal/observe"
	"github.com/glimpse-ai/glimpse/pkg/analyze"
)

const usage = `usage: glimpse <command> [flags]

commands:
  analyze   send an image to the gateway and print the aggregated analysis
  narrate   analyze an image and write a spoken-narration WAV next to it

run "glimpse <command> -h" for the command's flags
`

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}

	switch os.Args[1] {
	case "analyze":
		return runFlow(os.Args[2:], false)
	case "narrate":
		return runFlow(os.Args[2:], true)
	case "-h", "--help", "help":
		fmt.Print(usage)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "glimpse: unknown command %q\n\n%s", os.Args[1], usage)
		return 2
	}
}

func runFlow(args []string, narrate bool) int {
	name := "analyze"
	if narrate {
		name = "narrate"
	}

	fs := flag.NewFlagSet("glimpse "+name, flag.ExitOnError)
	configPath := fs.String("config", "glimpse.yaml", "path to the YAML configuration file")
	imagePath := fs.String("image", "", "path to the image to analyze")
	instruction := fs.String("instruction", "", "natural-language instruction for the model")
	wait := fs.Duration("wait", 0, "delay before reading the image (time to arrange a capture)")
	var stream bool
	var thinking string
	if !narrate {
		fs.BoolVar(&stream, "stream", false, "use incremental SSE delivery")
		fs.StringVar(&thinking, "thinking", "", "thinking level: minimal, low, medium, high")
	}
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "glimpse: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "glimpse: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if cfg.Gateway.APIKey == "" {
		fmt.Fprintln(os.Stderr, "glimpse: no API key configured; set gateway.api_key or GLIMPSE_API_KEY")
		return 1
	}
	if *imagePath == "" {
		fmt.Fprintln(os.Stderr, "glimpse: -image is required")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "glimpse"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "glimpse: init telemetry: %v\n", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()

	g, ctx := errgroup.WithContext(ctx)
	if cfg.Debug.ListenAddr != "" {
		srv := debugServer(cfg)
		g.Go(func() error {
			slog.Info("debug listener up", "addr", cfg.Debug.ListenAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		defer srv.Close()
	}

	if *wait > 0 {
		slog.Info("waiting before capture", "delay", *wait)
		select {
		case <-time.After(*wait):
		case <-ctx.Done():
			return 1
		}
	}

	image, err := os.ReadFile(*imagePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "glimpse: read image: %v\n", err)
		return 1
	}
	if len(image) == 0 {
		fmt.Fprintf(os.Stderr, "glimpse: image %q is empty\n", *imagePath)
		return 1
	}

	application := app.New(cfg)

	var code int
	if narrate {
		code = doNarrate(ctx, application, image, *imagePath, *instruction)
	} else {
		code = doAnalyze(ctx, application, cfg, image, *instruction, stream, thinking)
	}

	stop()
	if err := g.Wait(); err != nil {
		slog.Warn("debug listener", "err", err)
	}
	return code
}

func doAnalyze(ctx context.Context, application *app.App, cfg *config.Config, image []byte, instruction string, stream bool, thinking string) int {
	if thinking == "" {
		thinking = cfg.Gateway.ThinkingLevel
	}
	res, err := application.Analyze(ctx, analyze.Request{
		Image:       image,
		Instruction: instruction,
		Thinking:    analyze.ThinkingLevel(thinking),
		Streaming:   stream || cfg.Gateway.Streaming,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "glimpse: %v\n", err)
		return 1
	}
	if !res.Success {
		fmt.Fprintf(os.Stderr, "glimpse: analysis failed: %s\n", res.ErrorMessage)
		return 1
	}

	if res.ParsedData != nil {
		out, err := json.MarshalIndent(res.ParsedData, "", "  ")
		if err == nil {
			fmt.Println(string(out))
		} else {
			fmt.Println(res.Text)
		}
	} else {
		fmt.Println(res.Text)
	}

	for i, code := range res.Code {
		fmt.Printf("\n--- code block %d ---\n%s\n", i+1, code)
		if i < len(res.CodeResults) {
			fmt.Printf("--- output ---\n%s\n", res.CodeResults[i])
		}
	}
	return 0
}

func doNarrate(ctx context.Context, application *app.App, image []byte, imageID, instruction string) int {
	path, err := application.Narrate(ctx, image, imageID, instruction)
	if err != nil {
		fmt.Fprintf(os.Stderr, "glimpse: %v\n", err)
		return 1
	}
	fmt.Println(path)
	return 0
}

// debugServer builds the optional diagnostics listener: Prometheus metrics
// plus liveness and readiness probes.
func debugServer(cfg *config.Config) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	health.New(
		health.CredentialChecker(cfg.Gateway.APIKey),
		health.GatewayChecker(&http.Client{Timeout: 5 * time.Second}, cfg.Gateway.BaseURL),
	).Register(mux)

	return &http.Server{
		Addr:              cfg.Debug.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// newLogger builds a text slog logger at the configured level.
func newLogger(level config.LogLevel) *slog.Logger {
	var l slog.Level
	switch level {
	case config.LogDebug:
		l = slog.LevelDebug
	case config.LogWarn:
		l = slog.LevelWarn
	case config.LogError:
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
