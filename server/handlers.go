package server

import (
	"context"

	"github.com/onnwee/commentcast/ack"
	"github.com/onnwee/commentcast/board"
	"github.com/onnwee/commentcast/db"
	"github.com/onnwee/commentcast/pipeline"
)

// History lists archived comments.
type History interface {
	Recent(ctx context.Context, limit int) ([]db.Record, error)
	Ping(ctx context.Context) error
}

// Deps are the collaborators the HTTP surface drives.
type Deps struct {
	Session   *pipeline.Session
	Hub       *Hub
	Fetcher   board.Fetcher
	SpeechAck *ack.Latch
	SoundAck  *ack.Latch
	// History is nil when the archive is disabled.
	History History
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	ctx  context.Context
	deps Deps
}

// NewHandlers creates a Handlers instance. ctx outlives single requests and
// bounds sessions started over HTTP.
func NewHandlers(ctx context.Context, deps Deps) *Handlers {
	if deps.Fetcher == nil {
		deps.Fetcher = board.NewClient()
	}
	if deps.SpeechAck == nil {
		deps.SpeechAck = ack.New()
	}
	if deps.SoundAck == nil {
		deps.SoundAck = ack.New()
	}
	return &Handlers{ctx: ctx, deps: deps}
}
