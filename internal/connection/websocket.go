package connection

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	apperrors "github.com/UillB/appointmets-bot-sub003/internal/pkg/errors"
)

// NormalClosure is the close code that suppresses reconnect.
const NormalClosure = websocket.CloseNormalClosure

// Conn is one open push socket.
type Conn interface {
	// ReadMessage blocks for the next data frame. A close from the peer
	// is reported as *websocket.CloseError.
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	// Close sends a close frame with code and releases the socket.
	Close(code int, reason string) error
}

// Dialer opens push sockets.
type Dialer interface {
	Dial(ctx context.Context, uri string) (Conn, error)
}

// WebsocketDialer dials with gorilla/websocket.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
	Header http.Header
}

var _ Dialer = WebsocketDialer{}

// Dial implements Dialer.
func (d WebsocketDialer) Dial(ctx context.Context, uri string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	c, resp, err := dialer.DialContext(ctx, uri, d.Header)
	if err != nil {
		status := http.StatusBadGateway
		if resp != nil {
			status = resp.StatusCode
		}
		return nil, apperrors.Wrap(err, apperrors.CodeTransport, "dial push channel", status)
	}
	return &wsConn{c: c}, nil
}

type wsConn struct {
	c         *websocket.Conn
	closeOnce sync.Once
	closeErr  error
}

func (w *wsConn) ReadMessage() ([]byte, error) {
	for {
		mt, data, err := w.c.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt == websocket.TextMessage || mt == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (w *wsConn) WriteMessage(data []byte) error {
	return w.c.WriteMessage(websocket.TextMessage, data)
}

func (w *wsConn) Close(code int, reason string) error {
	w.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(code, reason)
		err := w.c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			w.closeErr = err
		}
		if cerr := w.c.Close(); cerr != nil && w.closeErr == nil {
			w.closeErr = cerr
		}
	})
	return w.closeErr
}

// closeCode extracts the peer close code from a read error.
func closeCode(err error) (int, bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, true
	}
	return 0, false
}
