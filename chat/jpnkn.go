package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/onnwee/commentcast/comment"
)

// jpnkn fast publishes every new post of a board over MQTT with a public
// read-only account.
const (
	JpnknBroker   = "tcp://bbs.jpnkn.com:1883"
	jpnknUsername = "genkai"
	jpnknPassword = "7144"
)

// Jpnkn subscribes to the jpnkn fast feed of one board.
type Jpnkn struct {
	base
	boardID string

	Broker         string
	ConnectTimeout time.Duration
	newClient      func(*mqtt.ClientOptions) mqtt.Client
}

// NewJpnkn builds the jpnkn source.
func NewJpnkn(boardID string) *Jpnkn {
	a := &Jpnkn{
		boardID:        strings.TrimSpace(boardID),
		Broker:         JpnknBroker,
		ConnectTimeout: 10 * time.Second,
		newClient:      mqtt.NewClient,
	}
	a.init(comment.SourceJpnkn)
	return a
}

// Topic is the MQTT topic carrying the board's posts.
func (a *Jpnkn) Topic() string { return "bbs/" + a.boardID }

// Start implements Adapter.
func (a *Jpnkn) Start(ctx context.Context) error {
	if a.boardID == "" {
		return errors.New("jpnkn: board id not configured")
	}
	a.status(CategoryStatus, StatusWaiting)
	a.run(ctx, a.loop)
	return nil
}

func (a *Jpnkn) options() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(a.Broker)
	opts.SetClientID("commentcast-" + uuid.NewString()[:8])
	opts.SetUsername(jpnknUsername)
	opts.SetPassword(jpnknPassword)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		a.logger.Info("jpnkn connection established", slog.String("broker", a.Broker), slog.String("topic", a.Topic()))
		tok := c.Subscribe(a.Topic(), 0, func(_ mqtt.Client, m mqtt.Message) {
			a.receive(m.Payload())
		})
		go func() {
			if tok.WaitTimeout(5*time.Second) && tok.Error() == nil {
				a.status(CategoryStatus, StatusOK)
				return
			}
			a.fail(fmt.Errorf("jpnkn subscribe %s: %v", a.Topic(), tok.Error()))
		}()
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		a.logger.Warn("jpnkn connection lost, will auto-reconnect", slog.Any("err", err))
		a.status(CategoryStatus, StatusWaiting)
	}
	return opts
}

func (a *Jpnkn) loop(ctx context.Context) {
	client := a.newClient(a.options())
	tok := client.Connect()
	select {
	case <-ctx.Done():
	case <-tok.Done():
		if err := tok.Error(); err != nil {
			a.fail(fmt.Errorf("jpnkn connect: %w", err))
		}
	case <-time.After(a.ConnectTimeout):
		// SetConnectRetry keeps trying in the background.
		a.logger.Warn("jpnkn connect timeout, retrying", slog.String("broker", a.Broker))
	}
	<-ctx.Done()
	client.Disconnect(250)
}

func (a *Jpnkn) receive(payload []byte) {
	c, err := ParseJpnkn(payload)
	if err != nil {
		a.logger.Debug("jpnkn payload dropped", slog.Any("err", err))
		return
	}
	a.status(CategoryStatus, "ok No="+c.Number)
	a.comment(c)
}

// ParseJpnkn decodes one jpnkn fast message. body is a dat line
// (name<>mail<>date<>text<>) whose text is already board markup.
func ParseJpnkn(payload []byte) (comment.Comment, error) {
	var msg struct {
		Body string          `json:"body"`
		No   json.RawMessage `json:"no"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return comment.Comment{}, fmt.Errorf("jpnkn: decode payload: %w", err)
	}
	no, err := strconv.Atoi(string(bytes.Trim(msg.No, `"`)))
	if err != nil {
		return comment.Comment{}, fmt.Errorf("jpnkn: bad post number %q", msg.No)
	}
	f := strings.Split(msg.Body, "<>")
	if len(f) < 4 {
		return comment.Comment{}, fmt.Errorf("jpnkn: malformed body %q", msg.Body)
	}
	name := strings.TrimSpace(f[0])
	if name == "" {
		name = comment.DefaultName
	}
	return comment.Comment{
		Number:   strconv.Itoa(no),
		Name:     name,
		Email:    f[1],
		Date:     strings.TrimSpace(f[2]),
		Text:     strings.TrimSpace(f[3]),
		ImageURL: comment.DefaultIcon(comment.SourceJpnkn),
		Source:   comment.SourceJpnkn,
	}, nil
}
