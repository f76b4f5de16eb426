package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/commentcast/comment"
	"github.com/onnwee/commentcast/twitchapi"
)

// ircClient is the part of the go-twitch-irc client the adapter uses.
type ircClient interface {
	OnConnect(func())
	OnPrivateMessage(func(twitch.PrivateMessage))
	Join(channels ...string)
	Connect() error
	Disconnect() error
}

// streamChecker reports whether a channel is live.
type streamChecker interface {
	GetStreams(ctx context.Context, login string) ([]twitchapi.Stream, error)
}

// TwitchOptions configure the Twitch source.
type TwitchOptions struct {
	Channel        string
	EmoteAnimation bool
	EmoteSize      int
	// Helix, when set, is polled for live state every LiveCheckInterval.
	Helix             streamChecker
	LiveCheckInterval time.Duration
}

// Twitch reads a channel's chat anonymously over IRC.
type Twitch struct {
	base
	opts      TwitchOptions
	newClient func() ircClient
}

// NewTwitch builds the Twitch source.
func NewTwitch(opts TwitchOptions) *Twitch {
	if opts.LiveCheckInterval <= 0 {
		opts.LiveCheckInterval = time.Minute
	}
	a := &Twitch{
		opts:      opts,
		newClient: func() ircClient { return twitch.NewAnonymousClient() },
	}
	a.init(comment.SourceTwitch)
	return a
}

// Start implements Adapter.
func (a *Twitch) Start(ctx context.Context) error {
	channel := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(a.opts.Channel), "#"))
	if channel == "" {
		return errors.New("twitch: channel not configured")
	}
	a.status(CategoryStatus, StatusWaitLive)
	a.run(ctx, func(ctx context.Context) {
		if a.opts.Helix != nil {
			go a.watchLive(ctx, channel)
		}
		a.read(ctx, channel)
	})
	return nil
}

func (a *Twitch) read(ctx context.Context, channel string) {
	wait := time.Second
	for ctx.Err() == nil {
		client := a.newClient()
		client.OnConnect(func() {
			a.logger.Info("twitch chat connected", slog.String("channel", channel))
			a.status(CategoryStatus, StatusOK)
		})
		client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
			a.status(CategoryStatus, StatusOK)
			a.comment(a.normalize(msg))
		})
		client.Join(channel)

		stop := context.AfterFunc(ctx, func() { _ = client.Disconnect() })
		err := client.Connect()
		stop()
		if ctx.Err() != nil {
			return
		}
		if err != nil && !errors.Is(err, twitch.ErrClientDisconnected) {
			a.fail(fmt.Errorf("twitch connect: %w", err))
		}
		if !sleepCtx(ctx, wait) {
			return
		}
		wait = backoff(wait, 30*time.Second)
	}
}

func (a *Twitch) watchLive(ctx context.Context, channel string) {
	live := ""
	for {
		streams, err := a.opts.Helix.GetStreams(ctx, channel)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			a.logger.Debug("twitch live check failed", slog.Any("err", err))
		case len(streams) == 0:
			if live != "" {
				live = ""
				a.status(CategoryLiveID, "none")
				a.status(CategoryStatus, StatusWaitLive)
			}
		case streams[0].ID != live:
			live = streams[0].ID
			a.status(CategoryLiveID, live)
			a.status(CategoryTitle, streams[0].Title)
		}
		if !sleepCtx(ctx, a.opts.LiveCheckInterval) {
			return
		}
	}
}

func (a *Twitch) normalize(msg twitch.PrivateMessage) comment.Comment {
	name := msg.User.DisplayName
	if name == "" {
		name = msg.User.Name
	}
	c := comment.New(comment.SourceTwitch, name, "")
	c.Text = RenderTwitchMessage(msg.Message, msg.Emotes, a.opts.EmoteAnimation, a.opts.EmoteSize)
	c.ID = msg.User.ID
	if !msg.Time.IsZero() {
		c.Date = msg.Time.Local().Format("2006/01/02 15:04:05")
	}
	return c
}

// EmoteURL returns the CDN URL of an emote image. size is 1 to 3.
func EmoteURL(id string, animated bool, size int) string {
	if size < 1 || size > 3 {
		size = 1
	}
	if animated {
		return fmt.Sprintf("https://static-cdn.jtvnw.net/emoticons/v2/%s/default/light/%d.0", id, size)
	}
	return fmt.Sprintf("https://static-cdn.jtvnw.net/emoticons/v1/%s/%d.0", id, size)
}

// RenderTwitchMessage escapes text and replaces emote positions with image
// tags. Positions are rune offsets, end inclusive.
func RenderTwitchMessage(text string, emotes []*twitch.Emote, animated bool, size int) string {
	type span struct {
		start, end int
		id         string
	}
	runes := []rune(text)
	var spans []span
	for _, e := range emotes {
		if e == nil {
			continue
		}
		for _, p := range e.Positions {
			if p.Start < 0 || p.End < p.Start || p.End >= len(runes) {
				continue
			}
			spans = append(spans, span{p.Start, p.End, e.ID})
		}
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	var b strings.Builder
	pos := 0
	for _, s := range spans {
		if s.start < pos {
			continue
		}
		b.WriteString(comment.Escape(string(runes[pos:s.start])))
		fmt.Fprintf(&b, `<img class="emote" src="%s" />`, EmoteURL(s.id, animated, size))
		pos = s.end + 1
	}
	b.WriteString(comment.Escape(string(runes[pos:])))
	return b.String()
}
