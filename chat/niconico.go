package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/websocket"

	"github.com/onnwee/commentcast/comment"
)

const (
	niconicoWatchBase = "https://live.nicovideo.jp/watch/"
	niconicoOrigin    = "https://live.nicovideo.jp"
	// niconicoProtocol is the comment server subprotocol.
	niconicoProtocol = "msg.nicovideo.jp#json"
)

var errProgramEnded = errors.New("niconico: program ended")

// NiconicoProgram is what the watch page tells about a program.
type NiconicoProgram struct {
	ID           string
	Title        string
	Status       string
	WebSocketURL string
}

// OnAir reports whether comments can be read now.
func (p NiconicoProgram) OnAir() bool { return p.Status == "ON_AIR" && p.WebSocketURL != "" }

// ParseWatchPage extracts the program data embedded in a watch page.
func ParseWatchPage(r io.Reader) (NiconicoProgram, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return NiconicoProgram{}, fmt.Errorf("parse watch page: %w", err)
	}
	raw, ok := doc.Find("#embedded-data").Attr("data-props")
	if !ok {
		return NiconicoProgram{}, errors.New("niconico: watch page has no embedded data")
	}
	var props struct {
		Site struct {
			Relive struct {
				WebSocketURL string `json:"webSocketUrl"`
			} `json:"relive"`
		} `json:"site"`
		Program struct {
			ID     string `json:"nicoliveProgramId"`
			Title  string `json:"title"`
			Status string `json:"status"`
		} `json:"program"`
	}
	if err := json.Unmarshal([]byte(raw), &props); err != nil {
		return NiconicoProgram{}, fmt.Errorf("decode embedded data: %w", err)
	}
	return NiconicoProgram{
		ID:           props.Program.ID,
		Title:        props.Program.Title,
		Status:       props.Program.Status,
		WebSocketURL: props.Site.Relive.WebSocketURL,
	}, nil
}

// Niconico reads comments of a niconico live program. The id may be a
// program (lv), community (co) or channel (ch) id; the watch page resolves
// the latter two to the current program.
type Niconico struct {
	base
	id string

	HTTPClient    *http.Client
	WatchBase     string
	RetryInterval time.Duration
}

// NewNiconico builds the niconico source.
func NewNiconico(id string) *Niconico {
	a := &Niconico{
		id:            strings.TrimSpace(id),
		HTTPClient:    &http.Client{Timeout: 15 * time.Second},
		WatchBase:     niconicoWatchBase,
		RetryInterval: 30 * time.Second,
	}
	a.init(comment.SourceNiconico)
	return a
}

// Start implements Adapter.
func (a *Niconico) Start(ctx context.Context) error {
	if a.id == "" {
		return errors.New("niconico: id not configured")
	}
	a.status(CategoryStatus, StatusWaiting)
	a.run(ctx, a.loop)
	return nil
}

func (a *Niconico) loop(ctx context.Context) {
	for ctx.Err() == nil {
		prog, err := a.program(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			a.fail(err)
		case !prog.OnAir():
			a.status(CategoryStatus, StatusWaitLive)
		default:
			a.status(CategoryLiveID, prog.ID)
			if prog.Title != "" {
				a.status(CategoryTitle, prog.Title)
			}
			err := a.watch(ctx, prog)
			if ctx.Err() != nil {
				return
			}
			if err != nil && !errors.Is(err, errProgramEnded) {
				a.fail(err)
			}
			a.status(CategoryLiveID, "none")
			a.status(CategoryStatus, StatusEnd)
		}
		if !sleepCtx(ctx, a.RetryInterval) {
			return
		}
	}
}

func (a *Niconico) program(ctx context.Context) (NiconicoProgram, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.WatchBase+a.id, nil)
	if err != nil {
		return NiconicoProgram{}, err
	}
	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return NiconicoProgram{}, fmt.Errorf("fetch watch page: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return NiconicoProgram{}, fmt.Errorf("fetch watch page: status %d", resp.StatusCode)
	}
	return ParseWatchPage(resp.Body)
}

type watchMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func startWatching() watchMessage {
	data, _ := json.Marshal(map[string]any{
		"stream": map[string]any{
			"quality":   "abr",
			"protocol":  "hls",
			"latency":   "low",
			"chasePlay": false,
		},
		"room": map[string]any{
			"protocol":    "webSocket",
			"commentable": true,
		},
		"reconnect": false,
	})
	return watchMessage{Type: "startWatching", Data: data}
}

// watch holds the watch session open and reads the comment server it names.
func (a *Niconico) watch(ctx context.Context, prog NiconicoProgram) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	ws, err := dialWebSocket(ctx, prog.WebSocketURL, "")
	if err != nil {
		return fmt.Errorf("connect watch server: %w", err)
	}
	defer func() { _ = ws.Close() }()
	stop := context.AfterFunc(ctx, func() { _ = ws.Close() })
	defer stop()

	if err := websocket.JSON.Send(ws, startWatching()); err != nil {
		return fmt.Errorf("start watching: %w", err)
	}

	var wg sync.WaitGroup
	defer func() {
		cancel(nil)
		wg.Wait()
	}()
	roomJoined := false
	for {
		var msg watchMessage
		if err := websocket.JSON.Receive(ws, &msg); err != nil {
			if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
				return cause
			}
			return err
		}
		switch msg.Type {
		case "ping":
			_ = websocket.JSON.Send(ws, watchMessage{Type: "pong"})
			_ = websocket.JSON.Send(ws, watchMessage{Type: "keepSeat"})
		case "seat":
			var seat struct {
				KeepIntervalSec int `json:"keepIntervalSec"`
			}
			_ = json.Unmarshal(msg.Data, &seat)
			if seat.KeepIntervalSec > 0 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					keepSeat(ctx, ws, time.Duration(seat.KeepIntervalSec)*time.Second)
				}()
			}
		case "room":
			if roomJoined {
				continue
			}
			var room struct {
				MessageServer struct {
					URI string `json:"uri"`
				} `json:"messageServer"`
				ThreadID string `json:"threadId"`
			}
			if err := json.Unmarshal(msg.Data, &room); err != nil || room.MessageServer.URI == "" {
				return fmt.Errorf("niconico: bad room message: %s", string(msg.Data))
			}
			roomJoined = true
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := a.readComments(ctx, room.MessageServer.URI, room.ThreadID)
				if err == nil {
					err = errProgramEnded
				}
				cancel(err)
			}()
		case "disconnect":
			return errProgramEnded
		}
	}
}

func keepSeat(ctx context.Context, ws *websocket.Conn, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := websocket.JSON.Send(ws, watchMessage{Type: "keepSeat"}); err != nil {
				return
			}
		}
	}
}

type nicoChat struct {
	Thread    string `json:"thread"`
	No        int    `json:"no"`
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	Content   string `json:"content"`
	Premium   int    `json:"premium"`
	Anonymity int    `json:"anonymity"`
	Date      int64  `json:"date"`
}

type nicoPacket struct {
	Thread *struct {
		ResultCode int `json:"resultcode"`
		LastRes    int `json:"last_res"`
	} `json:"thread"`
	Chat *nicoChat `json:"chat"`
	Ping *struct {
		Content string `json:"content"`
	} `json:"ping"`
}

func threadRequest(threadID string) []map[string]any {
	return []map[string]any{
		{"ping": map[string]any{"content": "rs:0"}},
		{"ping": map[string]any{"content": "ps:0"}},
		{"thread": map[string]any{
			"thread":      threadID,
			"version":     "20061206",
			"user_id":     "guest",
			"res_from":    -150,
			"with_global": 1,
			"scores":      1,
			"nicoru":      0,
		}},
		{"ping": map[string]any{"content": "pf:0"}},
		{"ping": map[string]any{"content": "rf:0"}},
	}
}

// readComments reads the comment server until it closes. Comments numbered
// at or below the thread's last_res are history; only the newest of them is
// shown as context.
func (a *Niconico) readComments(ctx context.Context, uri, threadID string) error {
	ws, err := dialWebSocket(ctx, uri, niconicoProtocol)
	if err != nil {
		return fmt.Errorf("connect comment server: %w", err)
	}
	defer func() { _ = ws.Close() }()
	stop := context.AfterFunc(ctx, func() { _ = ws.Close() })
	defer stop()

	if err := websocket.JSON.Send(ws, threadRequest(threadID)); err != nil {
		return fmt.Errorf("join thread: %w", err)
	}
	go func() {
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if err := websocket.Message.Send(ws, ""); err != nil {
					return
				}
			}
		}
	}()

	lastRes := -1
	var history *comment.Comment
	flush := func() {
		if history != nil {
			a.backlog(*history)
			history = nil
		}
	}
	for {
		var pkt nicoPacket
		if err := websocket.JSON.Receive(ws, &pkt); err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		switch {
		case pkt.Thread != nil:
			lastRes = pkt.Thread.LastRes
			a.logger.Debug("niconico thread joined", slog.Int("last_res", lastRes))
		case pkt.Ping != nil:
			if pkt.Ping.Content == "rf:0" {
				flush()
			}
		case pkt.Chat != nil:
			ch := pkt.Chat
			if ch.Premium >= 2 && strings.HasPrefix(ch.Content, "/") {
				if strings.HasPrefix(ch.Content, "/disconnect") {
					flush()
					return nil
				}
				continue
			}
			c := normalizeNiconico(*ch)
			if ch.No <= lastRes {
				history = &c
				continue
			}
			flush()
			a.status(CategoryStatus, "ok No="+strconv.Itoa(ch.No))
			a.comment(c)
		}
	}
}

// normalizeNiconico converts a comment server chat into a comment.
func normalizeNiconico(ch nicoChat) comment.Comment {
	c := comment.New(comment.SourceNiconico, ch.Name, ch.Content)
	c.Number = strconv.Itoa(ch.No)
	c.ID = ch.UserID
	if ch.Date > 0 {
		c.Date = time.Unix(ch.Date, 0).Local().Format("2006/01/02 15:04:05")
	}
	return c
}

func dialWebSocket(ctx context.Context, url, protocol string) (*websocket.Conn, error) {
	cfg, err := websocket.NewConfig(url, niconicoOrigin)
	if err != nil {
		return nil, err
	}
	if protocol != "" {
		cfg.Protocol = []string{protocol}
	}
	return cfg.DialContext(ctx)
}
