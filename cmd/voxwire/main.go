// Command voxwire is a realtime voice dialogue client. It captures
// microphone audio, streams it to the dialogue service, and plays the
// assistant's synthesized replies, printing recognized speech and chat text
// as the conversation flows.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxwire/voxwire/internal/app"
	"github.com/voxwire/voxwire/internal/config"
	"github.com/voxwire/voxwire/internal/observe"
	"github.com/voxwire/voxwire/pkg/audio"
	"github.com/voxwire/voxwire/pkg/dialog"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	inputPath := flag.String("input", "", "raw 16-bit mono PCM file to stream instead of the microphone")
	linger := flag.Duration("linger", 5*time.Second, "how long to wait for the reply after a PCM file ends")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxwire: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxwire: %v\n", err)
		}
		return 1
	}

	slog.SetDefault(newLogger(cfg.Server.LogLevel))
	slog.Info("voxwire starting",
		"config", *configPath,
		"url", cfg.Connection.URL,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("telemetry init failed", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	if addr := cfg.Server.MetricsAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: addr, Handler: mux}
		go func() {
			slog.Info("metrics endpoint listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server error", "err", err)
			}
		}()
		defer srv.Close()
	}

	inRate := cfg.Audio.InputSampleRate
	if inRate == 0 {
		inRate = 16000
	}
	outRate := cfg.Audio.OutputSampleRate
	if outRate == 0 {
		outRate = 24000
	}
	chunkMillis := cfg.Audio.ChunkMillis
	if chunkMillis == 0 {
		chunkMillis = 100
	}

	handlers := app.Handlers{
		OnText: printText,
	}

	micMode := *inputPath == ""
	var spk *speaker
	if micMode {
		if err := portaudio.Initialize(); err != nil {
			slog.Error("portaudio init failed", "err", err)
			return 1
		}
		defer func() {
			if err := portaudio.Terminate(); err != nil {
				slog.Warn("portaudio terminate error", "err", err)
			}
		}()

		spk, err = openSpeaker(outRate, outRate/100)
		if err != nil {
			slog.Error("speaker open failed", "err", err)
			return 1
		}
		defer spk.Close()

		handlers.OnAudio = spk.Play
		handlers.OnInterrupt = func() {
			slog.Debug("barge-in, dropping queued playback")
			spk.Flush()
		}
	} else {
		var received int
		handlers.OnAudio = func(c dialog.AudioChunk) { received += len(c.Data) }
		defer func() { slog.Info("synthesized audio received", "bytes", received) }()
	}

	a := app.New(cfg, handlers)

	if micMode {
		mic, err := openMicrophone(inRate, inRate*chunkMillis/1000, a.Input())
		if err != nil {
			slog.Error("microphone open failed", "err", err)
			return 1
		}
		defer mic.Close()

		go func() {
			<-ctx.Done()
			a.CloseInput()
		}()
		slog.Info("conversation running — press Ctrl+C to hang up")
	} else {
		go func() {
			if err := streamFile(ctx, a, *inputPath, inRate, chunkMillis, *linger); err != nil {
				slog.Error("input streaming failed", "err", err)
			}
			a.CloseInput()
		}()
	}

	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye", "dialog_id", a.DialogID())
	return 0
}

// streamFile paces a raw PCM file into the session at real time, then leaves
// the conversation open briefly so the reply can arrive.
func streamFile(ctx context.Context, a *app.App, path string, rate, chunkMillis int, linger time.Duration) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	chunkLen := audio.ChunkBytes(rate, chunkMillis)
	ticker := time.NewTicker(time.Duration(chunkMillis) * time.Millisecond)
	defer ticker.Stop()

	for {
		buf := make([]byte, chunkLen)
		n, err := io.ReadFull(f, buf)
		if n > 0 {
			select {
			case a.Input() <- buf[:n]:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return err
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	select {
	case <-time.After(linger):
	case <-ctx.Done():
	}
	return nil
}

func printText(msg dialog.TextMessage) {
	switch msg.Source {
	case dialog.TextSourceASR:
		fmt.Printf("you: %s\n", msg.Text)
	default:
		fmt.Printf("bot: %s\n", msg.Text)
	}
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
