package speech

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"
)

// Bouyomi command codes.
const (
	cmdTalk       int16 = 0x0001
	cmdNowPlaying int16 = 0x0120
	cmdTaskCount  int16 = 0x0130
)

// Bouyomi talks to a BouyomiChan instance over its TCP control port. Each
// command uses its own connection, which the server closes after replying.
type Bouyomi struct {
	Addr   string
	Volume int
	Prefix string

	// PollInterval is how often completion is polled; zero means 200ms.
	PollInterval time.Duration
	Dialer       net.Dialer
}

// Speak implements Speaker.
func (b *Bouyomi) Speak(ctx context.Context, text string) error {
	if err := b.Talk(ctx, b.Prefix+text); err != nil {
		return err
	}
	deadline := time.Now().Add(MaxWait)
	interval := b.PollInterval
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	for time.Now().Before(deadline) {
		busy, err := b.Busy(ctx)
		if err != nil {
			// completion cannot be observed; fall back to the estimate
			wait(ctx, nil, EstimateDuration(text))
			return nil
		}
		if !busy {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
	return nil
}

// Talk queues text for reading with the default speed, tone and voice.
func (b *Bouyomi) Talk(ctx context.Context, text string) error {
	msg := []byte(text)
	var buf bytes.Buffer
	for _, v := range []any{
		cmdTalk,
		int16(-1), // speed
		int16(-1), // tone
		int16(b.Volume),
		int16(0), // voice
		byte(0),  // UTF-8
		int32(len(msg)),
	} {
		_ = binary.Write(&buf, binary.LittleEndian, v)
	}
	buf.Write(msg)

	conn, err := b.dial(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()
	if _, err := conn.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("bouyomi talk: %w", err)
	}
	return nil
}

// Busy reports whether the server is reading or still has queued tasks.
func (b *Bouyomi) Busy(ctx context.Context) (bool, error) {
	var playing byte
	if err := b.query(ctx, cmdNowPlaying, &playing); err != nil {
		return false, err
	}
	if playing != 0 {
		return true, nil
	}
	var tasks int32
	if err := b.query(ctx, cmdTaskCount, &tasks); err != nil {
		return false, err
	}
	return tasks > 0, nil
}

func (b *Bouyomi) query(ctx context.Context, cmd int16, out any) error {
	conn, err := b.dial(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()
	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
	if err := binary.Write(conn, binary.LittleEndian, cmd); err != nil {
		return fmt.Errorf("bouyomi command %#04x: %w", cmd, err)
	}
	if err := binary.Read(conn, binary.LittleEndian, out); err != nil && err != io.EOF {
		return fmt.Errorf("bouyomi reply %#04x: %w", cmd, err)
	}
	return nil
}

func (b *Bouyomi) dial(ctx context.Context) (net.Conn, error) {
	d := b.Dialer
	if d.Timeout == 0 {
		d.Timeout = 2 * time.Second
	}
	conn, err := d.DialContext(ctx, "tcp", b.Addr)
	if err != nil {
		return nil, fmt.Errorf("connect bouyomi %s: %w", b.Addr, err)
	}
	return conn, nil
}
