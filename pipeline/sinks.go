package pipeline

import (
	"context"

	"github.com/onnwee/commentcast/comment"
	"github.com/onnwee/commentcast/config"
	"github.com/onnwee/commentcast/sound"
	"github.com/onnwee/commentcast/speech"
)

// Broadcast message types.
const (
	MessageAdd   = "add"
	MessageReset = "reset"
)

// Message is one update pushed to broadcast listeners.
type Message struct {
	Type   string `json:"type"`
	Markup string `json:"message"`
}

// Broadcaster delivers messages to every attached broadcast listener.
type Broadcaster interface {
	Broadcast(msg Message)
}

// OverlaySink shows rendered comments in the local overlay.
type OverlaySink interface {
	ShowOverlay(cfg *config.Config, markup string)
}

// TranslationSink shows rendered translations in the translation overlay.
type TranslationSink interface {
	ShowTranslation(cfg *config.Config, markup string)
}

// Sinks are the presentation targets of a session.
type Sinks struct {
	Broadcast   Broadcaster
	Overlay     OverlaySink
	Translation TranslationSink
}

// Announcer pushes speech and sound requests to overlay pages.
type Announcer interface {
	speech.Announcer
	sound.Announcer
}

// SoundPlayer plays the new-comment sound effect. *sound.Library implements it.
type SoundPlayer interface {
	Available() bool
	PlayRandom(ctx context.Context) error
}

// Archiver stores presented comments.
type Archiver interface {
	Archive(ctx context.Context, threadURL string, cs []comment.Comment) error
}

type discard struct{}

func (discard) Broadcast(Message)                      {}
func (discard) ShowOverlay(*config.Config, string)     {}
func (discard) ShowTranslation(*config.Config, string) {}

func (s Sinks) withDefaults() Sinks {
	if s.Broadcast == nil {
		s.Broadcast = discard{}
	}
	if s.Overlay == nil {
		s.Overlay = discard{}
	}
	if s.Translation == nil {
		s.Translation = discard{}
	}
	return s
}
