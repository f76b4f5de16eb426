// Package config loads commentcast settings through viper and provides the
// immutable Config snapshot every session runs against.
// Defaults cover every key so the binary starts with nothing but a thread URL.
// Use Validate before starting a session.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override (COMMENTCAST_THREAD_URL, ...).
const EnvPrefix = "COMMENTCAST"

const (
	ProcessBatch  = "batch"
	ProcessSingle = "single"

	DisplayList    = "list"
	DisplayCaption = "caption"

	SpeechNone     = "none"
	SpeechTamiyasu = "tamiyasu"
	SpeechBouyomi  = "bouyomi"
	SpeechBrowser  = "browser"
)

// ThumbnailMode selects where image thumbnails are appended.
type ThumbnailMode int

const (
	ThumbnailNone ThumbnailMode = iota
	ThumbnailOverlay
	ThumbnailEverywhere
)

type AAMode struct {
	Enable    bool   `mapstructure:"enable" json:"enable"`
	SpeakWord string `mapstructure:"speak_word" json:"speakWord"`
}

type Translate struct {
	Enable     bool   `mapstructure:"enable" json:"enable"`
	TargetLang string `mapstructure:"target_lang" json:"targetLang"`
	APIKey     string `mapstructure:"api_key" json:"apiKey,omitempty"`
}

type Config struct {
	// Thread and server
	ThreadURL   string        `mapstructure:"thread_url" json:"threadUrl"`
	Port        int           `mapstructure:"port" json:"port"`
	Interval    time.Duration `mapstructure:"interval" json:"interval"`
	InitMessage string        `mapstructure:"init_message" json:"initMessage"`

	// Presentation
	NewestFirst        bool          `mapstructure:"newest_first" json:"newestFirst"`
	NewLine            bool          `mapstructure:"new_line" json:"newLine"`
	ShowIcon           bool          `mapstructure:"show_icon" json:"showIcon"`
	ShowNumber         bool          `mapstructure:"show_number" json:"showNumber"`
	ShowName           bool          `mapstructure:"show_name" json:"showName"`
	ShowTime           bool          `mapstructure:"show_time" json:"showTime"`
	WordBreak          bool          `mapstructure:"word_break" json:"wordBreak"`
	Thumbnail          ThumbnailMode `mapstructure:"thumbnail" json:"thumbnail"`
	HideImgURL         bool          `mapstructure:"hide_img_url" json:"hideImgUrl"`
	CommentProcessType string        `mapstructure:"comment_process_type" json:"commentProcessType"`
	DisplayType        string        `mapstructure:"display_type" json:"displayType"`
	MinDisplayTime     time.Duration `mapstructure:"min_display_time" json:"minDisplayTime"`
	AAMode             AAMode        `mapstructure:"aa_mode" json:"aaMode"`

	// Sound
	SEPath             string   `mapstructure:"se_path" json:"sePath"`
	PlaySE             bool     `mapstructure:"play_se" json:"playSe"`
	PlaySEVolume       int      `mapstructure:"play_se_volume" json:"playSeVolume"`
	AudioOutputDevices []string `mapstructure:"audio_output_devices" json:"audioOutputDevices"`
	SoundPlayer        string   `mapstructure:"sound_player" json:"soundPlayer"`

	// Speech
	SpeechEngine         string            `mapstructure:"speech_engine" json:"speechEngine"`
	TamiyasuPath         string            `mapstructure:"tamiyasu_path" json:"tamiyasuPath"`
	BouyomiHost          string            `mapstructure:"bouyomi_host" json:"bouyomiHost"`
	BouyomiPort          int               `mapstructure:"bouyomi_port" json:"bouyomiPort"`
	BouyomiVolume        int               `mapstructure:"bouyomi_volume" json:"bouyomiVolume"`
	BouyomiPrefix        string            `mapstructure:"bouyomi_prefix" json:"bouyomiPrefix"`
	SpeechReplaceNewline bool              `mapstructure:"speech_replace_newline" json:"speechReplaceNewline"`
	SpeechReadResNumber  bool              `mapstructure:"speech_read_res_number" json:"speechReadResNumber"`
	SpeechSourceLabels   map[string]string `mapstructure:"speech_source_labels" json:"speechSourceLabels"`

	// Thread maintenance
	NotifyThreadConnectionErrorLimit int  `mapstructure:"notify_thread_connection_error_limit" json:"notifyThreadConnectionErrorLimit"`
	NotifyThreadResLimit             int  `mapstructure:"notify_thread_res_limit" json:"notifyThreadResLimit"`
	MoveThread                       bool `mapstructure:"move_thread" json:"moveThread"`

	Translate Translate `mapstructure:"translate" json:"translate"`

	// YouTube
	YouTubeChannelID    string `mapstructure:"youtube_channel_id" json:"youtubeChannelId"`
	YouTubeLiveID       string `mapstructure:"youtube_live_id" json:"youtubeLiveId"`
	YouTubeAPIKey       string `mapstructure:"youtube_api_key" json:"youtubeApiKey,omitempty"`
	YouTubeClientID     string `mapstructure:"youtube_client_id" json:"youtubeClientId,omitempty"`
	YouTubeClientSecret string `mapstructure:"youtube_client_secret" json:"youtubeClientSecret,omitempty"`
	YouTubeRefreshToken string `mapstructure:"youtube_refresh_token" json:"youtubeRefreshToken,omitempty"`

	// Twitch
	TwitchChannel      string `mapstructure:"twitch_channel" json:"twitchChannel"`
	TwitchClientID     string `mapstructure:"twitch_client_id" json:"twitchClientId,omitempty"`
	TwitchClientSecret string `mapstructure:"twitch_client_secret" json:"twitchClientSecret,omitempty"`
	EmoteAnimation     bool   `mapstructure:"emote_animation" json:"emoteAnimation"`
	EmoteSize          int    `mapstructure:"emote_size" json:"emoteSize"`

	NiconicoID   string `mapstructure:"niconico_id" json:"niconicoId"`
	JpnknBoardID string `mapstructure:"jpnkn_board_id" json:"jpnknBoardId"`

	// Database (archive disabled when empty)
	DBDsn string `mapstructure:"db_dsn" json:"dbDsn,omitempty"`

	OpenBrowser bool `mapstructure:"open_browser" json:"openBrowser"`
}

// SetDefaults registers the default for every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("thread_url", "")
	v.SetDefault("port", 3000)
	v.SetDefault("interval", 10*time.Second)
	v.SetDefault("init_message", "スレッド読み込みを開始しました")
	v.SetDefault("newest_first", true)
	v.SetDefault("new_line", true)
	v.SetDefault("show_icon", true)
	v.SetDefault("show_number", true)
	v.SetDefault("show_name", false)
	v.SetDefault("show_time", false)
	v.SetDefault("word_break", true)
	v.SetDefault("thumbnail", int(ThumbnailNone))
	v.SetDefault("hide_img_url", false)
	v.SetDefault("comment_process_type", ProcessBatch)
	v.SetDefault("display_type", DisplayList)
	v.SetDefault("min_display_time", time.Duration(0))
	v.SetDefault("aa_mode.enable", false)
	v.SetDefault("aa_mode.speak_word", "アスキーアート")

	v.SetDefault("se_path", "")
	v.SetDefault("play_se", false)
	v.SetDefault("play_se_volume", 100)
	v.SetDefault("audio_output_devices", []string{})
	v.SetDefault("sound_player", "ffplay")

	v.SetDefault("speech_engine", SpeechNone)
	v.SetDefault("tamiyasu_path", "")
	v.SetDefault("bouyomi_host", "127.0.0.1")
	v.SetDefault("bouyomi_port", 50001)
	v.SetDefault("bouyomi_volume", 50)
	v.SetDefault("bouyomi_prefix", "")
	v.SetDefault("speech_replace_newline", false)
	v.SetDefault("speech_read_res_number", false)
	v.SetDefault("speech_source_labels", map[string]string{"twitch": "twitchからカキコ"})

	v.SetDefault("notify_thread_connection_error_limit", 0)
	v.SetDefault("notify_thread_res_limit", 0)
	v.SetDefault("move_thread", false)

	v.SetDefault("translate.enable", false)
	v.SetDefault("translate.target_lang", "ja")
	v.SetDefault("translate.api_key", "")

	v.SetDefault("youtube_channel_id", "")
	v.SetDefault("youtube_live_id", "")
	v.SetDefault("youtube_api_key", "")
	v.SetDefault("youtube_client_id", "")
	v.SetDefault("youtube_client_secret", "")
	v.SetDefault("youtube_refresh_token", "")

	v.SetDefault("twitch_channel", "")
	v.SetDefault("twitch_client_id", "")
	v.SetDefault("twitch_client_secret", "")
	v.SetDefault("emote_animation", false)
	v.SetDefault("emote_size", 1)

	v.SetDefault("niconico_id", "")
	v.SetDefault("jpnkn_board_id", "")
	v.SetDefault("db_dsn", "")
	v.SetDefault("open_browser", false)
}

// Load reads the global viper instance, which the CLI has already bound to
// flags and an optional config file.
func Load() (*Config, error) { return LoadFrom(viper.GetViper()) }

// LoadFrom applies defaults and environment overrides to v and decodes it.
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.ThreadURL = strings.TrimSpace(cfg.ThreadURL)
	return cfg, nil
}

// Default returns a Config holding only default values.
func Default() *Config {
	cfg, err := LoadFrom(viper.New())
	if err != nil {
		// defaults always decode
		panic(err)
	}
	return cfg
}

// Clone returns a deep copy, so callers can derive a new snapshot without
// touching one a session may be reading.
func (c *Config) Clone() *Config {
	out := *c
	if c.AudioOutputDevices != nil {
		out.AudioOutputDevices = append([]string(nil), c.AudioOutputDevices...)
	}
	if c.SpeechSourceLabels != nil {
		out.SpeechSourceLabels = make(map[string]string, len(c.SpeechSourceLabels))
		for k, v := range c.SpeechSourceLabels {
			out.SpeechSourceLabels[k] = v
		}
	}
	return &out
}

// WithThreadURL returns a copy pointing at another thread.
func (c *Config) WithThreadURL(threadURL string) *Config {
	out := c.Clone()
	out.ThreadURL = threadURL
	return out
}

// Redacted returns a copy with credentials cleared, safe to serve over HTTP.
func (c *Config) Redacted() *Config {
	out := c.Clone()
	out.Translate.APIKey = ""
	out.YouTubeAPIKey = ""
	out.YouTubeClientID = ""
	out.YouTubeClientSecret = ""
	out.YouTubeRefreshToken = ""
	out.TwitchClientID = ""
	out.TwitchClientSecret = ""
	out.DBDsn = ""
	return out
}

// Caption reports whether the display shows one caption at a time.
func (c *Config) Caption() bool { return c.DisplayType == DisplayCaption }

// ConfigError reports a setting that prevents a session from starting.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config %s: %s", e.Field, e.Reason)
}

// Validate checks everything a session needs before it starts.
func (c *Config) Validate() error {
	if c.ThreadURL == "" {
		return &ConfigError{Field: "thread_url", Reason: "required"}
	}
	if c.Port == 0 {
		return &ConfigError{Field: "port", Reason: "required"}
	}
	return c.ValidateOptions()
}

// ValidateOptions checks ranges and enumerations without requiring a thread.
func (c *Config) ValidateOptions() error {
	if c.ThreadURL != "" {
		u, err := url.Parse(c.ThreadURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return &ConfigError{Field: "thread_url", Reason: "must be an http(s) URL"}
		}
	}
	if c.Port < 0 || c.Port > 65535 {
		return &ConfigError{Field: "port", Reason: "out of range"}
	}
	if c.Interval <= 0 {
		return &ConfigError{Field: "interval", Reason: "must be positive"}
	}
	if c.MinDisplayTime < 0 {
		return &ConfigError{Field: "min_display_time", Reason: "must not be negative"}
	}
	switch c.CommentProcessType {
	case ProcessBatch, ProcessSingle:
	default:
		return &ConfigError{Field: "comment_process_type", Reason: fmt.Sprintf("unknown value %q", c.CommentProcessType)}
	}
	switch c.DisplayType {
	case DisplayList, DisplayCaption:
	default:
		return &ConfigError{Field: "display_type", Reason: fmt.Sprintf("unknown value %q", c.DisplayType)}
	}
	switch c.SpeechEngine {
	case SpeechNone, SpeechTamiyasu, SpeechBouyomi, SpeechBrowser:
	default:
		return &ConfigError{Field: "speech_engine", Reason: fmt.Sprintf("unknown value %q", c.SpeechEngine)}
	}
	if c.SpeechEngine == SpeechTamiyasu && c.TamiyasuPath == "" {
		return &ConfigError{Field: "tamiyasu_path", Reason: "required for tamiyasu"}
	}
	if c.Thumbnail < ThumbnailNone || c.Thumbnail > ThumbnailEverywhere {
		return &ConfigError{Field: "thumbnail", Reason: "must be 0, 1 or 2"}
	}
	if c.PlaySEVolume < 0 || c.PlaySEVolume > 100 {
		return &ConfigError{Field: "play_se_volume", Reason: "must be 0-100"}
	}
	if c.BouyomiVolume < -1 || c.BouyomiVolume > 100 {
		return &ConfigError{Field: "bouyomi_volume", Reason: "must be -1-100"}
	}
	if c.EmoteSize < 1 || c.EmoteSize > 3 {
		return &ConfigError{Field: "emote_size", Reason: "must be 1-3"}
	}
	if c.Translate.Enable && strings.TrimSpace(c.Translate.TargetLang) == "" {
		return &ConfigError{Field: "translate.target_lang", Reason: "required when translation is enabled"}
	}
	return nil
}
