// Package refreshchannel implements the WebSocket transport behind the
// abstract RefreshChannel collaborator (§6): a duplex UTF-8 text-frame
// stream recognizing reload/delete:<path>/shutdown frames. There is no
// direct teacher analogue (the teacher pushes catalog updates over
// grpc, communication/main.go); this is grounded on gorilla/websocket's
// own client idiom, which is already an indirect dependency of the
// teacher's go.mod promoted here to a direct one.
package refreshchannel

import (
	"strings"

	"github.com/gorilla/websocket"
)

// MessageKind tags one decoded frame.
type MessageKind int

const (
	KindUnknown MessageKind = iota
	KindReload
	KindDelete
	KindShutdown
)

// Message is a decoded refresh-channel frame.
type Message struct {
	Kind MessageKind
	Path string // set for KindDelete
	Raw  string
}

// ParseMessage decodes one UTF-8 text frame per the §6 contract.
func ParseMessage(raw string) Message {
	switch {
	case raw == "reload":
		return Message{Kind: KindReload, Raw: raw}
	case raw == "shutdown":
		return Message{Kind: KindShutdown, Raw: raw}
	case strings.HasPrefix(raw, "delete:"):
		return Message{Kind: KindDelete, Path: strings.TrimPrefix(raw, "delete:"), Raw: raw}
	default:
		return Message{Kind: KindUnknown, Raw: raw}
	}
}

// Channel is the abstract collaborator refresh.Controller consumes: a duplex stream of decoded messages plus a close.
type Channel interface {
	Messages() <-chan Message
	Errors() <-chan error
	Close() error
}

// WebSocketChannel is the concrete gorilla/websocket-backed Channel.
type WebSocketChannel struct {
	conn     *websocket.Conn
	messages chan Message
	errs     chan error
	done     chan struct{}
}

// Dial connects to url and starts the read loop.
func Dial(url string) (*WebSocketChannel, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}

	c := &WebSocketChannel{
		conn:     conn,
		messages: make(chan Message, 16),
		errs:     make(chan error, 1),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *WebSocketChannel) readLoop() {
	defer close(c.messages)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case c.errs <- err:
			default:
			}
			return
		}

		msg := ParseMessage(string(data))
		select {
		case c.messages <- msg:
		case <-c.done:
			return
		}
	}
}

// Messages returns the channel of decoded frames.
func (c *WebSocketChannel) Messages() <-chan Message { return c.messages }

// Errors returns the channel that carries the read loop's terminal
// error, if any.
func (c *WebSocketChannel) Errors() <-chan error { return c.errs }

// Close terminates the connection and read loop.
func (c *WebSocketChannel) Close() error {
	close(c.done)
	return c.conn.Close()
}
