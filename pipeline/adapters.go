package pipeline

import (
	"context"
	"fmt"

	"github.com/onnwee/commentcast/chat"
	"github.com/onnwee/commentcast/config"
	"github.com/onnwee/commentcast/twitchapi"
	"github.com/onnwee/commentcast/youtubeapi"
)

// LiveAdapters builds the live chat sources cfg configures. The bbs source is
// owned by the session and not included.
func LiveAdapters(ctx context.Context, cfg *config.Config) ([]chat.Adapter, error) {
	var out []chat.Adapter
	if cfg.TwitchChannel != "" {
		opts := chat.TwitchOptions{
			Channel:        cfg.TwitchChannel,
			EmoteAnimation: cfg.EmoteAnimation,
			EmoteSize:      cfg.EmoteSize,
		}
		if cfg.TwitchClientID != "" && cfg.TwitchClientSecret != "" {
			opts.Helix = &twitchapi.HelixClient{
				ClientID:       cfg.TwitchClientID,
				AppTokenSource: &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret},
			}
		}
		out = append(out, chat.NewTwitch(opts))
	}
	if cfg.YouTubeChannelID != "" || cfg.YouTubeLiveID != "" {
		api, err := youtubeapi.New(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("youtube: %w", err)
		}
		out = append(out, chat.NewYouTube(api, cfg.YouTubeChannelID, cfg.YouTubeLiveID))
	}
	if cfg.NiconicoID != "" {
		out = append(out, chat.NewNiconico(cfg.NiconicoID))
	}
	if cfg.JpnknBoardID != "" {
		out = append(out, chat.NewJpnkn(cfg.JpnknBoardID))
	}
	return out, nil
}
