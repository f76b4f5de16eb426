package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/onnwee/commentcast/comment"
	"github.com/onnwee/commentcast/config"
	"github.com/onnwee/commentcast/render"
	"github.com/onnwee/commentcast/telemetry"
	"github.com/onnwee/commentcast/translate"
)

// TranslationDelay is the pause between translation ticks.
const TranslationDelay = 500 * time.Millisecond

// translateTimeout bounds one translation round trip.
const translateTimeout = 15 * time.Second

// NeedsTranslation reports whether text should be translated into target.
// A Japanese target only translates text without any Japanese script; any
// other target translates everything.
func NeedsTranslation(text, target string, hasTargetScript comment.ScriptClassifier) bool {
	if target != "ja" {
		return true
	}
	if hasTargetScript == nil {
		hasTargetScript = comment.ContainsJapanese
	}
	return !hasTargetScript(text)
}

// TranslationScheduler translates one queued comment per tick and shows the
// result in the translation overlay.
type TranslationScheduler struct {
	Queue      *comment.Queue
	Config     func() *config.Config
	Translator translate.Translator
	Sink       TranslationSink
	// Classifier detects the target script, ContainsJapanese by default.
	Classifier comment.ScriptClassifier

	logger *slog.Logger
}

func (t *TranslationScheduler) log() *slog.Logger {
	if t.logger == nil {
		t.logger = slog.Default().With(slog.String("component", "translator"))
	}
	return t.logger
}

// Run ticks every TranslationDelay until ctx is done or generation id is no
// longer active.
func (t *TranslationScheduler) Run(ctx context.Context, gen *RunGeneration, id uint64) {
	for gen.Alive(id) && ctx.Err() == nil {
		t.Tick(ctx)
		if !sleep(ctx, TranslationDelay) {
			return
		}
	}
}

// Tick handles at most one queued comment and returns the outcome recorded
// for it: translated, skipped, error, or "" when the queue was empty.
func (t *TranslationScheduler) Tick(ctx context.Context) (outcome string) {
	c, ok := t.Queue.DrainOne()
	if !ok {
		return ""
	}
	defer func() {
		if r := recover(); r != nil {
			telemetry.IncPanic("translator")
			t.log().Error("translation tick panicked", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
			outcome = "error"
		}
		telemetry.IncTranslation(outcome)
	}()

	cfg := t.Config()
	target := cfg.Translate.TargetLang
	if !NeedsTranslation(c.Text, target, t.Classifier) {
		return "skipped"
	}
	source := render.TranslationSource(c.Text)
	if source == "" {
		return "skipped"
	}

	tctx, cancel := context.WithTimeout(ctx, translateTimeout)
	defer cancel()
	translated, err := t.Translator.Translate(tctx, comment.Unescape(source), target)
	sink := t.Sink
	if sink == nil {
		sink = discard{}
	}
	switch {
	case errors.Is(err, translate.ErrEmptyResult):
		return "skipped"
	case err != nil:
		if ctx.Err() != nil {
			return "skipped"
		}
		t.log().Warn("translation failed", slog.String("target", target), slog.Any("err", err))
		sink.ShowTranslation(cfg, render.TranslationError)
		return "error"
	}
	original := c
	original.Text = source
	sink.ShowTranslation(cfg, render.Translation(original, comment.Escape(translated), render.OptionsFrom(cfg)))
	return "translated"
}
