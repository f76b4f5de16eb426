package speech

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/onnwee/commentcast/ack"
	"github.com/onnwee/commentcast/config"
)

func TestEstimateDuration(t *testing.T) {
	require.Equal(t, 500*time.Millisecond, EstimateDuration(""))
	require.Equal(t, 950*time.Millisecond, EstimateDuration("あいう"))
	require.Equal(t, MaxWait, EstimateDuration(strings.Repeat("長", 500)))
}

func TestNew(t *testing.T) {
	latch := ack.New()
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		want    any
		wantErr bool
	}{
		{name: "none", mutate: func(c *config.Config) { c.SpeechEngine = config.SpeechNone }, want: nil},
		{name: "tamiyasu", mutate: func(c *config.Config) {
			c.SpeechEngine = config.SpeechTamiyasu
			c.TamiyasuPath = "/opt/tamiyasu"
		}, want: &Tamiyasu{}},
		{name: "tamiyasu without path", mutate: func(c *config.Config) { c.SpeechEngine = config.SpeechTamiyasu }, wantErr: true},
		{name: "bouyomi", mutate: func(c *config.Config) { c.SpeechEngine = config.SpeechBouyomi }, want: &Bouyomi{}},
		{name: "browser", mutate: func(c *config.Config) { c.SpeechEngine = config.SpeechBrowser }, want: &Browser{}},
		{name: "unknown", mutate: func(c *config.Config) { c.SpeechEngine = "robot" }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)
			sp, err := New(cfg, latch, &recordingAnnouncer{})
			if tt.wantErr {
				var ce *config.ConfigError
				require.True(t, errors.As(err, &ce))
				return
			}
			require.NoError(t, err)
			if tt.want == nil {
				require.Nil(t, sp)
				return
			}
			require.IsType(t, tt.want, sp)
		})
	}
}

func TestNewBouyomiAddress(t *testing.T) {
	cfg := config.Default()
	cfg.SpeechEngine = config.SpeechBouyomi
	cfg.BouyomiHost = "192.168.0.2"
	cfg.BouyomiPort = 50080
	sp, err := New(cfg, nil, nil)
	require.NoError(t, err)
	require.Equal(t, "192.168.0.2:50080", sp.(*Bouyomi).Addr)
}

type recordingAnnouncer struct {
	mu    sync.Mutex
	texts []string
	latch *ack.Latch
}

func (r *recordingAnnouncer) AnnounceSpeech(text string) {
	r.mu.Lock()
	r.texts = append(r.texts, text)
	r.mu.Unlock()
	if r.latch != nil {
		go r.latch.Signal()
	}
}

func TestBrowserWaitsForAck(t *testing.T) {
	latch := ack.New()
	latch.Signal() // stale ack from a previous item
	ann := &recordingAnnouncer{latch: latch}
	b := &Browser{Announcer: ann, Ack: latch}

	start := time.Now()
	require.NoError(t, b.Speak(context.Background(), strings.Repeat("あ", 40)))
	require.Less(t, time.Since(start), 3*time.Second)
	require.Equal(t, []string{strings.Repeat("あ", 40)}, ann.texts)
}

func TestBrowserHonoursContext(t *testing.T) {
	b := &Browser{Announcer: &recordingAnnouncer{}, Ack: ack.New()}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	require.NoError(t, b.Speak(ctx, strings.Repeat("あ", 40)))
	require.Less(t, time.Since(start), time.Second)
}

func TestTamiyasuStartFailure(t *testing.T) {
	tm := &Tamiyasu{Path: "/nonexistent/tamiyasu-reader"}
	require.Error(t, tm.Speak(context.Background(), "hi"))
}

func TestTamiyasuRunsProcess(t *testing.T) {
	path, err := exec.LookPath("true")
	if err != nil {
		t.Skip("true not available")
	}
	latch := ack.New()
	tm := &Tamiyasu{Path: path, Ack: latch}
	go func() {
		time.Sleep(10 * time.Millisecond)
		latch.Signal()
	}()
	require.NoError(t, tm.Speak(context.Background(), strings.Repeat("読", 60)))
}

// fakeBouyomi accepts one command per connection like the real server.
type fakeBouyomi struct {
	ln      net.Listener
	talked  chan string
	volume  atomic.Int32
	playing atomic.Int32
}

func newFakeBouyomi(t *testing.T) *fakeBouyomi {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	f := &fakeBouyomi{ln: ln, talked: make(chan string, 4)}
	t.Cleanup(func() { _ = ln.Close() })
	go f.serve()
	return f
}

func (f *fakeBouyomi) serve() {
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			return
		}
		go f.handle(conn)
	}
}

func (f *fakeBouyomi) handle(conn net.Conn) {
	defer func() { _ = conn.Close() }()
	var cmd int16
	if err := binary.Read(conn, binary.LittleEndian, &cmd); err != nil {
		return
	}
	switch cmd {
	case cmdTalk:
		var hdr struct {
			Speed, Tone, Volume, Voice int16
			Code                       byte
			Len                        int32
		}
		if err := binary.Read(conn, binary.LittleEndian, &hdr); err != nil {
			return
		}
		msg := make([]byte, hdr.Len)
		if _, err := io.ReadFull(conn, msg); err != nil {
			return
		}
		f.volume.Store(int32(hdr.Volume))
		// reading takes two polls
		f.playing.Store(2)
		f.talked <- string(msg)
	case cmdNowPlaying:
		var b byte
		if f.playing.Load() > 0 {
			b = 1
			f.playing.Add(-1)
		}
		_ = binary.Write(conn, binary.LittleEndian, b)
	case cmdTaskCount:
		_ = binary.Write(conn, binary.LittleEndian, int32(0))
	}
}

func TestBouyomiSpeak(t *testing.T) {
	f := newFakeBouyomi(t)
	b := &Bouyomi{Addr: f.ln.Addr().String(), Volume: 70, Prefix: "》", PollInterval: 5 * time.Millisecond}

	require.NoError(t, b.Speak(context.Background(), "こんにちは"))
	select {
	case got := <-f.talked:
		require.Equal(t, "》こんにちは", got)
	case <-time.After(time.Second):
		t.Fatal("talk command not received")
	}
	require.Equal(t, int32(70), f.volume.Load())
}

func TestBouyomiUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	b := &Bouyomi{Addr: addr}
	require.Error(t, b.Speak(context.Background(), "x"))
}
