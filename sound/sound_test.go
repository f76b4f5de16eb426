package sound

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/onnwee/commentcast/ack"
	"github.com/onnwee/commentcast/config"
)

type fakePlayer struct {
	mu      sync.Mutex
	played  []string
	failFor string
}

func (f *fakePlayer) Play(_ context.Context, path string, volume int, device string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if device == f.failFor && device != "" {
		return errors.New("device busy")
	}
	f.played = append(f.played, device+"|"+filepath.Base(path))
	return nil
}

func TestFindClips(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.mp3", "a.WAV", "c.ogg", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o600))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.wav"), 0o700))

	clips, err := FindClips(dir)
	require.NoError(t, err)
	require.Equal(t, []string{
		filepath.Join(dir, "a.WAV"),
		filepath.Join(dir, "b.mp3"),
		filepath.Join(dir, "c.ogg"),
	}, clips)

	none, err := FindClips("")
	require.NoError(t, err)
	require.Empty(t, none)

	_, err = FindClips(filepath.Join(dir, "missing"))
	require.Error(t, err)
}

func TestPlayAll(t *testing.T) {
	p := &fakePlayer{}
	require.NoError(t, PlayAll(context.Background(), p, "/se/ding.wav", 80, []string{"speakers", "headset"}))
	sort.Strings(p.played)
	require.Equal(t, []string{"headset|ding.wav", "speakers|ding.wav"}, p.played)

	p = &fakePlayer{}
	require.NoError(t, PlayAll(context.Background(), p, "/se/ding.wav", 80, nil))
	require.Equal(t, []string{"|ding.wav"}, p.played)

	p = &fakePlayer{failFor: "headset"}
	require.Error(t, PlayAll(context.Background(), p, "/se/ding.wav", 80, []string{"speakers", "headset"}))
}

func TestLibrary(t *testing.T) {
	var empty *Library
	require.False(t, empty.Available())
	require.NoError(t, empty.PlayRandom(context.Background()))

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "only.wav"), nil, 0o600))
	p := &fakePlayer{}
	lib, err := NewLibrary(dir, p, 50, []string{"dev"})
	require.NoError(t, err)
	require.True(t, lib.Available())
	require.NoError(t, lib.PlayRandom(context.Background()))
	require.Equal(t, []string{"dev|only.wav"}, p.played)
}

func TestCommandPlayerArgs(t *testing.T) {
	p := &CommandPlayer{}
	require.Equal(t,
		[]string{"-nodisp", "-autoexit", "-loglevel", "quiet", "-volume", "40", "/a.wav"},
		p.Args("/a.wav", 40))
}

func TestCommandPlayerMissingBinary(t *testing.T) {
	p := &CommandPlayer{Command: "/nonexistent/player"}
	require.Error(t, p.Play(context.Background(), "/a.wav", 10, ""))
}

type announcer struct {
	latch *ack.Latch
	clips []string
}

func (a *announcer) AnnounceSound(clip string, volume int) {
	a.clips = append(a.clips, clip)
	a.latch.Signal()
}

func TestBrowserPlayerWaitsForAck(t *testing.T) {
	latch := ack.New()
	latch.Signal() // stale ack from an earlier playback
	a := &announcer{latch: latch}
	p := &BrowserPlayer{Announcer: a, Ack: latch}

	start := time.Now()
	require.NoError(t, p.Play(context.Background(), "/se/ding.wav", 70, "ignored"))
	require.Less(t, time.Since(start), MaxWait)
	require.Equal(t, []string{"ding.wav"}, a.clips)
}

func TestNew(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.mp3"), nil, 0o600))

	cfg := config.Default()
	lib, err := New(cfg, ack.New(), nil)
	require.NoError(t, err)
	require.Nil(t, lib)

	cfg.PlaySE = true
	cfg.SEPath = dir
	cfg.AudioOutputDevices = []string{"hw:1"}
	lib, err = New(cfg, ack.New(), nil)
	require.NoError(t, err)
	require.IsType(t, &CommandPlayer{}, lib.Player)
	require.Equal(t, []string{"hw:1"}, lib.Devices)

	cfg.SoundPlayer = "browser"
	_, err = New(cfg, ack.New(), nil)
	require.Error(t, err)

	lib, err = New(cfg, ack.New(), &announcer{latch: ack.New()})
	require.NoError(t, err)
	require.IsType(t, &BrowserPlayer{}, lib.Player)
	require.Empty(t, lib.Devices)
}
