// Package sound plays the new-comment sound effect.
package sound

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/onnwee/commentcast/ack"
	"github.com/onnwee/commentcast/config"
)

// Player plays one clip on one output device and returns when it finishes.
type Player interface {
	Play(ctx context.Context, path string, volume int, device string) error
}

// CommandPlayer runs an external player such as ffplay once per playback.
type CommandPlayer struct {
	// Command is the executable, ffplay by default.
	Command string
}

// Args builds the player arguments for one playback.
func (p *CommandPlayer) Args(path string, volume int) []string {
	return []string{"-nodisp", "-autoexit", "-loglevel", "quiet", "-volume", strconv.Itoa(volume), path}
}

// Play implements Player.
func (p *CommandPlayer) Play(ctx context.Context, path string, volume int, device string) error {
	name := p.Command
	if name == "" {
		name = "ffplay"
	}
	cmd := exec.CommandContext(ctx, name, p.Args(path, volume)...)
	if device != "" {
		// SDL based players pick the output device from AUDIODEV
		cmd.Env = append(os.Environ(), "AUDIODEV="+device)
	}
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("play %s: %w", filepath.Base(path), err)
	}
	return nil
}

var clipExt = map[string]bool{".wav": true, ".mp3": true, ".ogg": true}

// IsClip reports whether name has a playable clip extension.
func IsClip(name string) bool { return clipExt[strings.ToLower(filepath.Ext(name))] }

// FindClips lists the playable clips directly under dir in name order.
func FindClips(dir string) ([]string, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read sound dir: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !IsClip(e.Name()) {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

// Library is a set of clips with the player that renders them.
type Library struct {
	Clips   []string
	Player  Player
	Volume  int
	Devices []string
	logger  *slog.Logger
}

// NewLibrary loads the clips found in dir.
func NewLibrary(dir string, player Player, volume int, devices []string) (*Library, error) {
	clips, err := FindClips(dir)
	if err != nil {
		return nil, err
	}
	return &Library{
		Clips:   clips,
		Player:  player,
		Volume:  volume,
		Devices: devices,
		logger:  slog.Default().With(slog.String("component", "sound")),
	}, nil
}

// Available reports whether there is anything to play.
func (l *Library) Available() bool { return l != nil && len(l.Clips) > 0 && l.Player != nil }

// PlayRandom picks one clip at random and plays it on every device,
// returning once all playbacks have finished.
func (l *Library) PlayRandom(ctx context.Context) error {
	if !l.Available() {
		return nil
	}
	clip := l.Clips[rand.Intn(len(l.Clips))]
	if l.logger != nil {
		l.logger.Debug("playing sound effect", slog.String("clip", filepath.Base(clip)), slog.Int("devices", len(l.Devices)))
	}
	return PlayAll(ctx, l.Player, clip, l.Volume, l.Devices)
}

// PlayAll plays path concurrently on each device. An empty device list plays
// once on the system default.
func PlayAll(ctx context.Context, p Player, path string, volume int, devices []string) error {
	if len(devices) == 0 {
		devices = []string{""}
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, dev := range devices {
		dev := dev
		g.Go(func() error {
			return p.Play(gctx, path, volume, dev)
		})
	}
	return g.Wait()
}

// Announcer pushes a play request to attached overlay pages.
type Announcer interface {
	AnnounceSound(clip string, volume int)
}

// MaxWait caps how long a BrowserPlayer waits for the page to report the end
// of playback.
const MaxWait = 10 * time.Second

// BrowserPlayer has overlay pages play the clip and waits for their
// acknowledgment. Pages load clips from the /se/ route by file name.
type BrowserPlayer struct {
	Announcer Announcer
	Ack       *ack.Latch
}

// Play implements Player. device is ignored; the page plays on its own output.
func (p *BrowserPlayer) Play(ctx context.Context, path string, volume int, _ string) error {
	p.Ack.Reset()
	p.Announcer.AnnounceSound(filepath.Base(path), volume)
	p.Ack.Wait(ctx, MaxWait)
	return nil
}

// New builds the library selected by cfg. It returns nil when the sound
// effect is disabled.
func New(cfg *config.Config, latch *ack.Latch, announcer Announcer) (*Library, error) {
	if !cfg.PlaySE || cfg.SEPath == "" {
		return nil, nil
	}
	var player Player = &CommandPlayer{Command: cfg.SoundPlayer}
	devices := cfg.AudioOutputDevices
	if cfg.SoundPlayer == "browser" {
		if announcer == nil {
			return nil, fmt.Errorf("browser sound needs a broadcast target")
		}
		player = &BrowserPlayer{Announcer: announcer, Ack: latch}
		devices = nil
	}
	return NewLibrary(cfg.SEPath, player, cfg.PlaySEVolume, devices)
}
