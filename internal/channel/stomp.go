package channel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ErrHeartbeatTimeout ends a session when the broker stays silent past its heartbeat window.
var ErrHeartbeatTimeout = errors.New("channel: heartbeat missed")

const (
	connectTimeout = 10 * time.Second
	writeWait      = 5 * time.Second
)

// Stomp is a STOMP 1.2 client over a WebSocket, as exposed by Spring's /ws/websocket
// endpoint. One session at a time; a lost session is retried after ReconnectDelay, forever.
type Stomp struct {
	url    string
	host   string
	dialer *websocket.Dialer
	logger *slog.Logger

	reconnectDelay time.Duration
	heartbeat      time.Duration

	mu             sync.Mutex // guards conn, subscriptionID and every write on conn
	conn           *websocket.Conn
	subscriptionID string

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// NewStomp creates a STOMP channel for the WebSocket endpoint url. host is the STOMP
// virtual host sent in CONNECT.
func NewStomp(url, host string, logger *slog.Logger) *Stomp {
	return &Stomp{
		url:            url,
		host:           host,
		dialer:         &websocket.Dialer{HandshakeTimeout: connectTimeout},
		logger:         logger.With("component", "stomp_channel", "url", url),
		reconnectDelay: ReconnectDelay,
		heartbeat:      HeartbeatInterval,
		done:           make(chan struct{}),
	}
}

// Connect starts the connect/reconnect loop.
func (s *Stomp) Connect(ctx context.Context) <-chan Event {
	ctx, cancel := context.WithCancel(ctx)
	events := make(chan Event, eventBuffer)

	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	go s.run(ctx, events)
	return events
}

func (s *Stomp) run(ctx context.Context, events chan<- Event) {
	defer close(s.done)
	defer close(events)

	s.logger.Info("stomp_channel_starting")

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			if !sleep(ctx, s.reconnectDelay) {
				return
			}
			if !emit(ctx, events, Event{Kind: Retrying}) {
				return
			}
		}

		err := s.session(ctx, events)
		if ctx.Err() != nil {
			s.logger.Info("stomp_channel_stopping")
			return
		}

		s.logger.Warn("stomp_session_ended",
			"error", err,
			"attempt", attempt,
			"retry_in_ms", s.reconnectDelay.Milliseconds(),
		)
		if !emit(ctx, events, Event{Kind: Closed, Err: err}) {
			return
		}
	}
}

// session runs one connection from dial to disconnect.
func (s *Stomp) session(ctx context.Context, events chan<- Event) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.url, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	connect := frame.New(frame.CONNECT,
		frame.AcceptVersion, "1.2",
		frame.Host, s.host,
		frame.HeartBeat, formatHeartBeat(s.heartbeat, s.heartbeat),
	)
	if err := writeFrame(conn, connect); err != nil {
		return fmt.Errorf("send CONNECT: %w", err)
	}

	connected, err := s.awaitConnected(conn)
	if err != nil {
		if connected != nil && connected.Command == frame.ERROR {
			emit(ctx, events, Event{Kind: Failed, Err: err})
		}
		return err
	}

	outgoing, incoming := s.negotiate(connected.Header.Get(frame.HeartBeat))
	conn.SetReadDeadline(time.Time{})

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.subscriptionID = ""
		s.mu.Unlock()
	}()

	s.logger.Info("stomp_connected",
		"server", connected.Header.Get(frame.Server),
		"heartbeat_out_ms", outgoing.Milliseconds(),
		"heartbeat_in_ms", incoming.Milliseconds(),
	)

	if !emit(ctx, events, Event{Kind: Opened}) {
		return ctx.Err()
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if outgoing > 0 {
		go s.sendHeartbeats(sessionCtx, conn, outgoing)
	}

	for {
		frames, err := s.readFrames(conn, incoming)
		if err != nil {
			return err
		}

		for _, f := range frames {
			switch f.Command {
			case frame.MESSAGE:
				if !s.subscribed(f.Header.Get(frame.Subscription)) {
					continue
				}
				if !emit(ctx, events, Event{Kind: Message, Body: string(f.Body)}) {
					return ctx.Err()
				}
			case frame.ERROR:
				stompErr := fmt.Errorf("stomp error: %s", f.Header.Get(frame.Message))
				s.logger.Error("stomp_error_frame", "error", stompErr)
				if !emit(ctx, events, Event{Kind: Failed, Err: stompErr}) {
					return ctx.Err()
				}
			default:
				s.logger.Debug("stomp_frame_ignored", "command", f.Command)
			}
		}
	}
}

// awaitConnected reads until the broker answers CONNECT.
func (s *Stomp) awaitConnected(conn *websocket.Conn) (*frame.Frame, error) {
	deadline := time.Now().Add(connectTimeout)
	for {
		conn.SetReadDeadline(deadline)
		frames, err := s.readFrames(conn, 0)
		if err != nil {
			return nil, fmt.Errorf("await CONNECTED: %w", err)
		}
		if len(frames) == 0 {
			continue
		}

		f := frames[0]
		switch f.Command {
		case frame.CONNECTED:
			return f, nil
		case frame.ERROR:
			return f, fmt.Errorf("connect rejected: %s", f.Header.Get(frame.Message))
		default:
			return f, fmt.Errorf("unexpected %s frame before CONNECTED", f.Command)
		}
	}
}

// negotiate applies the STOMP heart-beat rules to the broker's "sx,sy" answer.
func (s *Stomp) negotiate(header string) (outgoing, incoming time.Duration) {
	sx, sy := parseHeartBeat(header)
	if sy > 0 {
		outgoing = max(s.heartbeat, sy)
	}
	if sx > 0 {
		incoming = max(s.heartbeat, sx)
	}
	return outgoing, incoming
}

func (s *Stomp) sendHeartbeats(ctx context.Context, conn *websocket.Conn, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.TextMessage, []byte{'\n'})
			s.mu.Unlock()
			if err != nil {
				s.logger.Debug("stomp_heartbeat_failed", "error", err)
				return
			}
		}
	}
}

// readFrames reads one WebSocket message and decodes the STOMP frames it carries.
// Heartbeat-only messages yield no frames. With incoming > 0 the read fails with
// ErrHeartbeatTimeout after two silent heartbeat periods.
func (s *Stomp) readFrames(conn *websocket.Conn, incoming time.Duration) ([]*frame.Frame, error) {
	if incoming > 0 {
		conn.SetReadDeadline(time.Now().Add(2 * incoming))
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() && incoming > 0 {
			return nil, ErrHeartbeatTimeout
		}
		return nil, err
	}

	var frames []*frame.Frame
	r := frame.NewReader(bytes.NewReader(data))
	for {
		f, err := r.Read()
		if errors.Is(err, io.EOF) {
			return frames, nil
		}
		if err != nil {
			s.logger.Warn("stomp_frame_malformed", "error", err, "size_bytes", len(data))
			return frames, nil
		}
		if f != nil {
			frames = append(frames, f)
		}
	}
}

// subscribed reports whether id names the active subscription. MESSAGE frames without a
// subscription header are rejected.
func (s *Stomp) subscribed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return id != "" && id == s.subscriptionID
}

// Subscribe sends SUBSCRIBE for topic on the open session.
func (s *Stomp) Subscribe(topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return ErrNotConnected
	}

	id := uuid.NewString()
	sub := frame.New(frame.SUBSCRIBE,
		frame.Id, id,
		frame.Destination, topic,
		frame.Ack, "auto",
	)
	if err := writeFrame(s.conn, sub); err != nil {
		return fmt.Errorf("send SUBSCRIBE: %w", err)
	}

	s.subscriptionID = id
	s.logger.Info("stomp_subscribed", "topic", topic, "subscription_id", id)
	return nil
}

// Close disconnects and stops reconnecting.
func (s *Stomp) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		if s.conn != nil {
			if err := writeFrame(s.conn, frame.New(frame.DISCONNECT)); err != nil {
				s.logger.Debug("stomp_disconnect_failed", "error", err)
			}
		}
		cancel := s.cancel
		s.mu.Unlock()

		if cancel != nil {
			cancel()
			<-s.done
		}
		s.logger.Info("stomp_channel_closed")
	})
	return nil
}

func writeFrame(conn *websocket.Conn, f *frame.Frame) error {
	var buf bytes.Buffer
	if err := frame.NewWriter(&buf).Write(f); err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, buf.Bytes())
}

func formatHeartBeat(send, receive time.Duration) string {
	return fmt.Sprintf("%d,%d", send.Milliseconds(), receive.Milliseconds())
}

// parseHeartBeat parses a "cx,cy" heart-beat header; malformed values mean no heartbeats.
func parseHeartBeat(header string) (send, receive time.Duration) {
	parts := strings.Split(header, ",")
	if len(parts) != 2 {
		return 0, 0
	}
	sx, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	sy, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil || sx < 0 || sy < 0 {
		return 0, 0
	}
	return time.Duration(sx) * time.Millisecond, time.Duration(sy) * time.Millisecond
}
