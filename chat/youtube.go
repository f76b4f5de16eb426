package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/onnwee/commentcast/comment"
	"github.com/onnwee/commentcast/youtubeapi"
)

// liveChatAPI is implemented by *youtubeapi.LiveChat.
type liveChatAPI interface {
	ResolveLive(ctx context.Context, channelID, liveID string) (youtubeapi.Live, error)
	ListMessages(ctx context.Context, chatID, pageToken string) (*youtubeapi.Page, error)
}

// YouTube polls the live chat of a channel's current broadcast, or of a
// fixed live id.
type YouTube struct {
	base
	api       liveChatAPI
	channelID string
	liveID    string

	// RetryInterval is the wait between live lookups while offline.
	RetryInterval time.Duration
}

// NewYouTube builds the YouTube source.
func NewYouTube(api liveChatAPI, channelID, liveID string) *YouTube {
	a := &YouTube{api: api, channelID: channelID, liveID: liveID, RetryInterval: 30 * time.Second}
	a.init(comment.SourceYouTube)
	return a
}

// Start implements Adapter.
func (a *YouTube) Start(ctx context.Context) error {
	if a.api == nil {
		return errors.New("youtube: api client not configured")
	}
	if a.channelID == "" && a.liveID == "" {
		return errors.New("youtube: channel id or live id required")
	}
	a.status(CategoryStatus, StatusWaitLive)
	a.run(ctx, a.loop)
	return nil
}

func (a *YouTube) loop(ctx context.Context) {
	for ctx.Err() == nil {
		live, err := a.api.ResolveLive(ctx, a.channelID, a.liveID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, youtubeapi.ErrNotLive) {
				a.status(CategoryStatus, StatusWaitLive)
			} else {
				a.fail(err)
			}
			if !sleepCtx(ctx, a.RetryInterval) {
				return
			}
			continue
		}
		a.logger.Info("youtube live chat found", slog.String("video", live.VideoID))
		a.status(CategoryLiveID, live.VideoID)
		if live.Title != "" {
			a.status(CategoryTitle, live.Title)
		}
		a.status(CategoryStatus, StatusOK)

		if err := a.follow(ctx, live.ChatID); err != nil && ctx.Err() == nil {
			a.fail(err)
			a.status(CategoryLiveID, "none")
		}
		if !sleepCtx(ctx, a.RetryInterval) {
			return
		}
	}
}

// follow polls one chat until it fails. The newest message of the first page
// goes to the overlay as context; later messages are queued.
func (a *YouTube) follow(ctx context.Context, chatID string) error {
	token := ""
	first := true
	for {
		page, err := a.api.ListMessages(ctx, chatID, token)
		if err != nil {
			return err
		}
		if first {
			if n := len(page.Messages); n > 0 {
				a.backlog(NormalizeYouTube(page.Messages[n-1]))
			}
			first = false
		} else {
			for _, m := range page.Messages {
				a.comment(NormalizeYouTube(m))
			}
		}
		if len(page.Messages) > 0 {
			a.status(CategoryStatus, StatusOK)
		}
		token = page.NextPageToken
		if !sleepCtx(ctx, page.PollInterval) {
			return nil
		}
	}
}

// NormalizeYouTube converts a chat message into a comment; emoji runs become
// 24px images.
func NormalizeYouTube(m youtubeapi.Message) comment.Comment {
	c := comment.New(comment.SourceYouTube, m.Author, "")
	var b strings.Builder
	for _, r := range m.Runs {
		if r.EmojiURL != "" {
			fmt.Fprintf(&b, `<img class="emoji" src="%s" width="24" height="24" />`, comment.Escape(r.EmojiURL))
			continue
		}
		b.WriteString(comment.Escape(r.Text))
	}
	c.Text = b.String()
	if m.IconURL != "" {
		c.ImageURL = m.IconURL
	}
	c.ID = m.AuthorChannelID
	if !m.PublishedAt.IsZero() {
		c.Date = m.PublishedAt.Local().Format("2006/01/02 15:04:05")
	}
	return c
}
