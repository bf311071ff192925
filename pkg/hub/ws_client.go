package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/obytehq/walletsrv/pkg/config"
	"github.com/obytehq/walletsrv/pkg/joint"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const (
	// Disconnection timeout.
	wsPongLimit = 60 * time.Second

	// Ping period for connection liveness check.
	wsPingPeriod = wsPongLimit / 2

	// Write deadline.
	wsWriteLimit = wsPingPeriod / 2

	eventChCapacity = 1024
)

// wsMessage is the hub wire frame: a two-element array of kind and content.
type wsMessage struct {
	Kind    string
	Subject string
	Tag     string
	Body    json.RawMessage
}

// WSClient is a websocket implementation of the hub Client.
type WSClient struct {
	cfg     config.Hub
	log     *zap.Logger
	started *atomic.Bool

	connMtx sync.Mutex
	conn    *websocket.Conn

	respMtx sync.Mutex
	resps   map[string]chan json.RawMessage

	events chan Event
	stopCh chan struct{}
	done   chan struct{}
}

// NewWSClient creates a hub client for the configured endpoint.
func NewWSClient(cfg config.Hub, log *zap.Logger) *WSClient {
	return &WSClient{
		cfg:     cfg,
		log:     log,
		started: atomic.NewBool(false),
		resps:   make(map[string]chan json.RawMessage),
		events:  make(chan Event, eventChCapacity),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start connects to the hub and runs the read loop in a separate goroutine.
// The client only starts once, subsequent calls to Start are no-op.
func (c *WSClient) Start() {
	if !c.started.CAS(false, true) {
		return
	}
	c.log.Info("starting hub client", zap.String("endpoint", c.cfg.Endpoint))
	go c.readLoop()
}

// Shutdown stops the client and closes the event channel. It can only be
// called once.
func (c *WSClient) Shutdown() {
	if !c.started.CAS(true, false) {
		return
	}
	c.log.Info("stopping hub client")
	close(c.stopCh)
	c.connMtx.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.connMtx.Unlock()
	<-c.done
}

// Events implements the Client interface.
func (c *WSClient) Events() <-chan Event {
	return c.events
}

// BroadcastJoint implements the Client interface.
func (c *WSClient) BroadcastJoint(ctx context.Context, j *joint.Joint) error {
	resp, err := c.request(ctx, "post_joint", j)
	if err != nil {
		return err
	}
	var result string
	if err := json.Unmarshal(resp, &result); err == nil && result == "accepted" {
		return nil
	}
	var failure struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(resp, &failure); err == nil && failure.Error != "" {
		return fmt.Errorf("%w: %s", ErrBroadcastRejected, failure.Error)
	}
	return fmt.Errorf("unexpected hub response: %s", resp)
}

// WatchAddress implements the Client interface.
func (c *WSClient) WatchAddress(ctx context.Context, address string) error {
	_, err := c.request(ctx, "watch_address", address)
	return err
}

// request performs one tagged request/response round trip.
func (c *WSClient) request(ctx context.Context, command string, params any) (json.RawMessage, error) {
	tag := uuid.NewString()
	respCh := make(chan json.RawMessage, 1)
	c.respMtx.Lock()
	c.resps[tag] = respCh
	c.respMtx.Unlock()
	defer func() {
		c.respMtx.Lock()
		delete(c.resps, tag)
		c.respMtx.Unlock()
	}()

	body, err := json.Marshal(map[string]any{
		"command": command,
		"params":  params,
		"tag":     tag,
	})
	if err != nil {
		return nil, err
	}
	if err := c.writeFrame("request", body); err != nil {
		return nil, err
	}

	if c.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}
	select {
	case resp := <-respCh:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.stopCh:
		return nil, fmt.Errorf("hub client is shutting down")
	}
}

func (c *WSClient) writeFrame(kind string, body json.RawMessage) error {
	conn, err := c.getConn()
	if err != nil {
		return err
	}
	frame, err := json.Marshal([]any{kind, body})
	if err != nil {
		return err
	}
	c.connMtx.Lock()
	defer c.connMtx.Unlock()
	conn.SetWriteDeadline(time.Now().Add(wsWriteLimit))
	return conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *WSClient) getConn() (*websocket.Conn, error) {
	c.connMtx.Lock()
	defer c.connMtx.Unlock()
	if c.conn != nil {
		return c.conn, nil
	}
	conn, _, err := websocket.DefaultDialer.Dial(c.cfg.Endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial hub: %w", err)
	}
	conn.SetReadDeadline(time.Now().Add(wsPongLimit))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongLimit))
		return nil
	})
	c.conn = conn
	go c.pingLoop(conn)
	return conn, nil
}

func (c *WSClient) dropConn() {
	c.connMtx.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMtx.Unlock()
}

func (c *WSClient) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.connMtx.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteLimit))
			c.connMtx.Unlock()
			if err != nil {
				return
			}
		case <-c.stopCh:
			return
		}
	}
}

func (c *WSClient) readLoop() {
	defer close(c.done)
	defer close(c.events)
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}
		conn, err := c.getConn()
		if err != nil {
			c.log.Warn("hub connection failed, retrying",
				zap.Error(err),
				zap.Duration("interval", c.cfg.ReconnectInterval))
			select {
			case <-time.After(c.cfg.ReconnectInterval):
				continue
			case <-c.stopCh:
				return
			}
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.stopCh:
				return
			default:
			}
			c.log.Warn("hub read failed, reconnecting", zap.Error(err))
			c.dropConn()
			continue
		}
		msg, err := parseFrame(data)
		if err != nil {
			c.log.Debug("malformed hub frame", zap.Error(err))
			continue
		}
		c.dispatch(msg)
	}
}

func parseFrame(data []byte) (*wsMessage, error) {
	var frame []json.RawMessage
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, err
	}
	if len(frame) != 2 {
		return nil, fmt.Errorf("frame should have 2 elements, got %d", len(frame))
	}
	var kind string
	if err := json.Unmarshal(frame[0], &kind); err != nil {
		return nil, err
	}
	msg := &wsMessage{Kind: kind}
	switch kind {
	case "justsaying":
		var content struct {
			Subject string          `json:"subject"`
			Body    json.RawMessage `json:"body"`
		}
		if err := json.Unmarshal(frame[1], &content); err != nil {
			return nil, err
		}
		msg.Subject = content.Subject
		msg.Body = content.Body
	case "response":
		var content struct {
			Tag      string          `json:"tag"`
			Response json.RawMessage `json:"response"`
		}
		if err := json.Unmarshal(frame[1], &content); err != nil {
			return nil, err
		}
		msg.Tag = content.Tag
		msg.Body = content.Response
	default:
		return nil, fmt.Errorf("unknown frame kind %q", kind)
	}
	return msg, nil
}

func (c *WSClient) dispatch(msg *wsMessage) {
	if msg.Kind == "response" {
		c.respMtx.Lock()
		respCh := c.resps[msg.Tag]
		c.respMtx.Unlock()
		if respCh != nil {
			respCh <- msg.Body
		}
		return
	}
	ev, ok := c.parseEvent(msg)
	if !ok {
		return
	}
	select {
	case c.events <- ev:
	default:
		// The monitor fell behind; drop the oldest events first would
		// require a ring, dropping the newest is acceptable since the
		// monitor re-reconciles from the explorer.
		c.log.Warn("hub event channel full, dropping event", zap.String("subject", ev.Subject))
	}
}

func (c *WSClient) parseEvent(msg *wsMessage) (Event, bool) {
	switch msg.Subject {
	case EventNewJoint:
		var j joint.Joint
		if err := json.Unmarshal(msg.Body, &j); err != nil || j.Unit == nil {
			return Event{}, false
		}
		return Event{Subject: EventNewJoint, Joint: &j}, true
	case EventStableTxs:
		var units []string
		if err := json.Unmarshal(msg.Body, &units); err != nil {
			return Event{}, false
		}
		return Event{Subject: EventStableTxs, Units: units}, true
	case EventMCIStable:
		var body struct {
			MCI   uint64   `json:"mci"`
			Units []string `json:"units"`
		}
		if err := json.Unmarshal(msg.Body, &body); err != nil {
			return Event{}, false
		}
		return Event{Subject: EventMCIStable, Units: body.Units, MCI: body.MCI}, true
	}
	return Event{}, false
}
