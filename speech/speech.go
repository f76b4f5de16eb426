// Package speech drives the text-to-speech engines used by the reaction
// cycle. Every Speaker blocks until the engine reports completion or a
// length-based estimate runs out.
package speech

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os/exec"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/onnwee/commentcast/ack"
	"github.com/onnwee/commentcast/config"
)

// MaxWait caps how long a Speaker waits for completion.
const MaxWait = 10 * time.Second

// Speaker speaks text and returns once speaking finished.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// Announcer pushes a speak request to attached overlay pages.
type Announcer interface {
	AnnounceSpeech(text string)
}

// EstimateDuration approximates how long text takes to read aloud.
func EstimateDuration(text string) time.Duration {
	d := 500*time.Millisecond + time.Duration(utf8.RuneCountInString(text))*150*time.Millisecond
	if d > MaxWait {
		return MaxWait
	}
	return d
}

// New builds the Speaker selected by cfg.SpeechEngine. It returns nil for
// the none engine.
func New(cfg *config.Config, latch *ack.Latch, announcer Announcer) (Speaker, error) {
	switch cfg.SpeechEngine {
	case "", config.SpeechNone:
		return nil, nil
	case config.SpeechTamiyasu:
		if cfg.TamiyasuPath == "" {
			return nil, &config.ConfigError{Field: "tamiyasu_path", Reason: "required for the tamiyasu engine"}
		}
		return &Tamiyasu{Path: cfg.TamiyasuPath, Ack: latch}, nil
	case config.SpeechBouyomi:
		return &Bouyomi{
			Addr:   net.JoinHostPort(cfg.BouyomiHost, strconv.Itoa(cfg.BouyomiPort)),
			Volume: cfg.BouyomiVolume,
			Prefix: cfg.BouyomiPrefix,
		}, nil
	case config.SpeechBrowser:
		if announcer == nil {
			return nil, fmt.Errorf("browser speech needs a broadcast target")
		}
		return &Browser{Announcer: announcer, Ack: latch}, nil
	default:
		return nil, &config.ConfigError{Field: "speech_engine", Reason: "unknown engine " + strconv.Quote(cfg.SpeechEngine)}
	}
}

// Tamiyasu launches the external reader executable with the text as its only
// argument.
type Tamiyasu struct {
	Path string
	// Ack, when set, ends the wait early.
	Ack *ack.Latch
}

// Speak implements Speaker.
func (t *Tamiyasu) Speak(ctx context.Context, text string) error {
	if t.Ack != nil {
		t.Ack.Reset()
	}
	cmd := exec.Command(t.Path, text)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", t.Path, err)
	}
	go func() {
		if err := cmd.Wait(); err != nil {
			slog.Debug("speech process exited", slog.String("component", "speech"), slog.Any("err", err))
		}
	}()
	wait(ctx, t.Ack, EstimateDuration(text))
	return nil
}

// Browser asks overlay pages to speak with the Web Speech API and waits for
// their acknowledgment.
type Browser struct {
	Announcer Announcer
	Ack       *ack.Latch
}

// Speak implements Speaker.
func (b *Browser) Speak(ctx context.Context, text string) error {
	if b.Ack != nil {
		b.Ack.Reset()
	}
	b.Announcer.AnnounceSpeech(text)
	wait(ctx, b.Ack, EstimateDuration(text))
	return nil
}

func wait(ctx context.Context, latch *ack.Latch, estimate time.Duration) {
	if latch != nil {
		latch.Wait(ctx, estimate)
		return
	}
	t := time.NewTimer(estimate)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
