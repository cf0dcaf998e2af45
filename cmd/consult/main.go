// Command consult runs a live voice consultation from a terminal, using
// ffmpeg for the microphone and ffplay for the speaker.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	localaudio "github.com/mediconnect/server/adapters/audio"
	"github.com/mediconnect/server/adapters/llm"
	"github.com/mediconnect/server/domain/repositories"
	"github.com/mediconnect/server/internal/audio"
	"github.com/mediconnect/server/internal/config"
	"github.com/mediconnect/server/internal/consultation"
	"github.com/mediconnect/server/internal/transcript"
	"github.com/mediconnect/server/usecase"
)

// consoleListener prints controller events. It runs under the controller
// lock and only writes to stdout.
type consoleListener struct{}

func (consoleListener) OnStatus(state consultation.State, status consultation.Status) {
	fmt.Printf("[%s] %s\n", state, status.Text)
}

func (consoleListener) OnTranscript(speaker consultation.Speaker, fragment string) {
	if speaker == consultation.SpeakerUser {
		fmt.Printf("  umurwayi> %s\n", fragment)
		return
	}
	fmt.Printf("  muganga> %s\n", fragment)
}

func (consoleListener) OnTurn(turn transcript.Turn) {
	fmt.Printf("--- %q / %q\n", turn.User, turn.Model)
}

// newLogger stays silent unless debug output is requested, since the
// console listener owns stdout.
func newLogger(debug bool) (*zap.Logger, error) {
	if !debug {
		return zap.NewNop(), nil
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	return logger, nil
}

func main() {
	mock := flag.Bool("mock", false, "use the mock live model instead of Gemini")
	voice := flag.String("voice", "", "prebuilt voice name (default from GEMINI_VOICE)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, err := newLogger(*debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var model repositories.LiveModel
	if *mock || cfg.GeminiAPIKey == "" {
		model = llm.NewMockLive(logger)
	} else {
		client, err := llm.NewGeminiClient(ctx, cfg.GeminiAPIKey)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		model = llm.NewGeminiLive(client, logger)
	}

	if *voice == "" {
		*voice = cfg.GeminiVoice
	}

	controller := consultation.NewController(
		model,
		localaudio.NewFFmpegMicrophone(audio.InputSampleRate, logger),
		localaudio.NewFFplayOutputFactory(logger),
		consoleListener{},
		consultation.Options{Live: usecase.LiveTriageConfig(cfg.GeminiLiveModel, *voice)},
		logger,
	)
	defer controller.Stop()

	fmt.Println("Kanda Enter gutangira cyangwa guhagarika, 'q' gusohoka.")

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok || line == "q" {
				return
			}
			if controller.State() != consultation.StateIdle {
				controller.Stop()
				continue
			}
			// Start blocks until the microphone answers.
			go func() {
				if err := controller.Start(ctx); err != nil && !errors.Is(err, consultation.ErrCancelled) {
					logger.Debug("Start failed", zap.Error(err))
				}
			}()
		}
	}
}
