package stt

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// inboundKind classifies the result of a bounded receive.
type inboundKind int

const (
	inboundData inboundKind = iota
	inboundTimeout
	inboundClosed
	inboundTransportError
)

func (k inboundKind) String() string {
	switch k {
	case inboundData:
		return "data"
	case inboundTimeout:
		return "timeout"
	case inboundClosed:
		return "closed"
	case inboundTransportError:
		return "transport_error"
	default:
		return "unknown"
	}
}

type inbound struct {
	kind        inboundKind
	messageType int // websocket.BinaryMessage or websocket.TextMessage
	data        []byte
	err         error
}

// wsConn owns one WebSocket. A single reader goroutine feeds messages so
// receives can time out without a read deadline, which would leave the
// gorilla connection unusable. Writes must come from one goroutine.
type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	messages  chan inbound
	closing   chan struct{}
	closeOnce sync.Once
	stopWatch func() bool
}

// dialWS performs the handshake with the given upgrade headers. Cancelling
// ctx after a successful dial closes the socket.
func dialWS(ctx context.Context, url string, header http.Header, cfg SessionConfig) (*wsConn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("handshake rejected with status %d: %w", resp.StatusCode, err)
		}
		return nil, err
	}

	c := &wsConn{
		conn:         conn,
		writeTimeout: cfg.WriteTimeout,
		messages:     make(chan inbound, 32),
		closing:      make(chan struct{}),
	}
	c.stopWatch = context.AfterFunc(ctx, func() {
		c.conn.Close()
	})

	go c.readLoop()
	return c, nil
}

func (c *wsConn) readLoop() {
	defer close(c.messages)

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			msg := inbound{kind: inboundTransportError, err: err}
			if isCleanClose(err) {
				msg.kind = inboundClosed
			}
			select {
			case c.messages <- msg:
			case <-c.closing:
			}
			return
		}

		select {
		case c.messages <- inbound{kind: inboundData, messageType: messageType, data: data}:
		case <-c.closing:
			return
		}
	}
}

func isCleanClose(err error) bool {
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return true
	}
	return errors.Is(err, net.ErrClosed)
}

// recv waits up to timeout for the next inbound message. A non-positive
// timeout only returns what is already buffered.
func (c *wsConn) recv(ctx context.Context, timeout time.Duration) inbound {
	if timeout <= 0 {
		select {
		case msg, ok := <-c.messages:
			if !ok {
				return inbound{kind: inboundClosed}
			}
			return msg
		default:
			return inbound{kind: inboundTimeout}
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg, ok := <-c.messages:
		if !ok {
			return inbound{kind: inboundClosed}
		}
		return msg
	case <-timer.C:
		return inbound{kind: inboundTimeout}
	case <-ctx.Done():
		return inbound{kind: inboundTransportError, err: ctx.Err()}
	}
}

// send writes one binary frame within the write timeout.
func (c *wsConn) send(frame []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, frame)
}

// Close sends a close frame when possible and releases the socket. It is
// safe to call more than once.
func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.stopWatch()
		close(c.closing)

		deadline := time.Now().Add(time.Second)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, deadline)

		err = c.conn.Close()
	})
	return err
}
