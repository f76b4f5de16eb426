// Package youtubeapi reads YouTube live chat through the YouTube Data API.
// Requests are authenticated with an API key or, when a client id, secret and
// refresh token are configured, with an OAuth2 token source.
package youtubeapi

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/onnwee/commentcast/config"
	"github.com/onnwee/commentcast/telemetry"
)

// ReadOnlyScope is the OAuth2 scope needed to list live chat messages.
const ReadOnlyScope = "https://www.googleapis.com/auth/youtube.readonly"

// DefaultPollInterval is used when the API does not suggest one.
const DefaultPollInterval = 5 * time.Second

var (
	// ErrNoCredentials means neither an API key nor OAuth2 credentials are set.
	ErrNoCredentials = errors.New("youtube: no api key or oauth credentials configured")
	// ErrNotLive means the channel has no live broadcast with an active chat.
	ErrNotLive = errors.New("youtube: no active live chat")
)

// Live identifies a running broadcast and its chat.
type Live struct {
	VideoID string
	ChatID  string
	Title   string
}

// Run is one piece of a chat message: plain text or an emoji image.
type Run struct {
	Text     string
	EmojiURL string
}

// Message is a live chat message reduced to what the chat source renders.
type Message struct {
	ID              string
	Author          string
	AuthorChannelID string
	IconURL         string
	Runs            []Run
	PublishedAt     time.Time
	Kind            string
}

// Page is one poll result.
type Page struct {
	Messages      []Message
	NextPageToken string
	PollInterval  time.Duration
}

// LiveChat wraps the YouTube Data API service.
type LiveChat struct {
	svc *yt.Service
}

// ClientOptions derives API client options from cfg.
func ClientOptions(ctx context.Context, cfg *config.Config) ([]option.ClientOption, error) {
	if cfg.YouTubeClientID != "" && cfg.YouTubeClientSecret != "" && cfg.YouTubeRefreshToken != "" {
		oc := &oauth2.Config{
			ClientID:     cfg.YouTubeClientID,
			ClientSecret: cfg.YouTubeClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{ReadOnlyScope},
		}
		ts := oc.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.YouTubeRefreshToken})
		return []option.ClientOption{option.WithTokenSource(ts)}, nil
	}
	if cfg.YouTubeAPIKey != "" {
		return []option.ClientOption{option.WithAPIKey(cfg.YouTubeAPIKey)}, nil
	}
	return nil, ErrNoCredentials
}

// New builds a LiveChat client from cfg; extra options are appended, which
// lets tests point the client at a local server.
func New(ctx context.Context, cfg *config.Config, extra ...option.ClientOption) (*LiveChat, error) {
	opts, err := ClientOptions(ctx, cfg)
	if err != nil {
		return nil, err
	}
	svc, err := yt.NewService(ctx, append(opts, extra...)...)
	if err != nil {
		return nil, fmt.Errorf("create youtube service: %w", err)
	}
	return &LiveChat{svc: svc}, nil
}

// ResolveLive finds the chat of liveID, or of the channel's current live
// broadcast when liveID is empty.
func (c *LiveChat) ResolveLive(ctx context.Context, channelID, liveID string) (Live, error) {
	if liveID == "" {
		if channelID == "" {
			return Live{}, errors.New("youtube: channel id or live id required")
		}
		res, err := c.svc.Search.List([]string{"id"}).
			ChannelId(channelID).
			EventType("live").
			Type("video").
			MaxResults(1).
			Context(ctx).Do()
		if err != nil {
			return Live{}, fmt.Errorf("search live video: %w", err)
		}
		if len(res.Items) == 0 || res.Items[0].Id == nil || res.Items[0].Id.VideoId == "" {
			return Live{}, ErrNotLive
		}
		liveID = res.Items[0].Id.VideoId
	}

	res, err := c.svc.Videos.List([]string{"snippet", "liveStreamingDetails"}).Id(liveID).Context(ctx).Do()
	if err != nil {
		return Live{}, fmt.Errorf("get video %s: %w", liveID, err)
	}
	if len(res.Items) == 0 {
		return Live{}, ErrNotLive
	}
	v := res.Items[0]
	if v.LiveStreamingDetails == nil || v.LiveStreamingDetails.ActiveLiveChatId == "" {
		return Live{}, ErrNotLive
	}
	live := Live{VideoID: liveID, ChatID: v.LiveStreamingDetails.ActiveLiveChatId}
	if v.Snippet != nil {
		live.Title = v.Snippet.Title
	}
	return live, nil
}

// ListMessages fetches the chat page after pageToken. An empty token returns
// the most recent backlog.
func (c *LiveChat) ListMessages(ctx context.Context, chatID, pageToken string) (*Page, error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerName, "youtube.list_messages", telemetry.SourceAttr("youtube"))
	defer span.End()

	call := c.svc.LiveChatMessages.List(chatID, []string{"snippet", "authorDetails"}).Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	res, err := call.Do()
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("list live chat messages: %w", err)
	}
	telemetry.SetSpanSuccess(span)
	page := &Page{
		NextPageToken: res.NextPageToken,
		PollInterval:  time.Duration(res.PollingIntervalMillis) * time.Millisecond,
	}
	if page.PollInterval <= 0 {
		page.PollInterval = DefaultPollInterval
	}
	for _, item := range res.Items {
		if m, ok := convert(item); ok {
			page.Messages = append(page.Messages, m)
		}
	}
	return page, nil
}

func convert(item *yt.LiveChatMessage) (Message, bool) {
	if item == nil || item.Snippet == nil {
		return Message{}, false
	}
	m := Message{ID: item.Id, Kind: item.Snippet.Type}
	if t, err := time.Parse(time.RFC3339, item.Snippet.PublishedAt); err == nil {
		m.PublishedAt = t
	}
	if a := item.AuthorDetails; a != nil {
		m.Author = a.DisplayName
		m.AuthorChannelID = a.ChannelId
		m.IconURL = a.ProfileImageUrl
	}
	text := item.Snippet.DisplayMessage
	if text == "" && item.Snippet.TextMessageDetails != nil {
		text = item.Snippet.TextMessageDetails.MessageText
	}
	if text == "" && item.Snippet.SuperChatDetails != nil {
		text = item.Snippet.SuperChatDetails.UserComment
	}
	if text == "" {
		return Message{}, false
	}
	// the Data API flattens emoji into text
	m.Runs = []Run{{Text: text}}
	return m, true
}
