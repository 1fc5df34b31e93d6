package realtime

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/styxchat/chat-service/internal/core/domain"
)

const (
	writeWait      = 10 * time.Second
	sendBufferSize = 256

	// A rune escaped as a JSON surrogate pair takes 12 bytes on the wire.
	bytesPerRune  = 12
	envelopeSlack = 4 << 10
)

// frameLimit is the largest inbound frame accepted for bodies of up to
// maxRunes. Anything within it reaches the pipeline, which answers an
// over-length body with an error event instead of a closed socket.
func frameLimit(maxRunes int) int64 {
	if maxRunes <= 0 {
		maxRunes = defaultMaxMessageLength
	}
	return int64(maxRunes)*bytesPerRune + envelopeSlack
}

// Client is one websocket connection. Outbound frames go through a bounded
// buffer drained by writePump; a full buffer marks the client as a slow
// consumer.
type Client struct {
	ID        string
	Principal domain.Principal

	conn    *websocket.Conn
	session *session
	send    chan []byte
	done    chan struct{}
	log     zerolog.Logger

	closeOnce   sync.Once
	closeCode   int
	closeReason string

	mu      sync.Mutex
	room    string
	syncing bool
	backlog [][]byte
	seqs    []int64
}

func newClient(conn *websocket.Conn, p domain.Principal, log zerolog.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		ID:        id,
		Principal: p,
		conn:      conn,
		send:      make(chan []byte, sendBufferSize),
		done:      make(chan struct{}),
		log:       log.With().Str("conn_id", id).Str("user_id", p.UserID).Logger(),
	}
}

// Room returns the room the client is currently bound to.
func (c *Client) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

func (c *Client) setRoom(id string) {
	c.mu.Lock()
	c.room = id
	c.mu.Unlock()
}

// deliver queues a frame. While a snapshot is being prepared frames are held
// back so the snapshot is always sent first. It returns false when the
// client cannot keep up.
func (c *Client) deliver(frame []byte, seq int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.syncing {
		if len(c.backlog) >= sendBufferSize {
			return false
		}
		c.backlog = append(c.backlog, frame)
		c.seqs = append(c.seqs, seq)
		return true
	}
	return c.enqueue(frame)
}

func (c *Client) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// beginSync starts holding back deliveries until endSync.
func (c *Client) beginSync() {
	c.mu.Lock()
	c.syncing = true
	c.backlog, c.seqs = nil, nil
	c.mu.Unlock()
}

// endSync sends the snapshot frames, then the held back frames that the
// snapshot does not already cover: chat messages up to lastSeq were part of
// the history and are skipped.
func (c *Client) endSync(snapshot [][]byte, lastSeq int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.syncing = false
	backlog, seqs := c.backlog, c.seqs
	c.backlog, c.seqs = nil, nil

	for _, frame := range snapshot {
		if !c.enqueue(frame) {
			return false
		}
	}
	for i, frame := range backlog {
		if seqs[i] != 0 && seqs[i] <= lastSeq {
			continue
		}
		if !c.enqueue(frame) {
			return false
		}
	}
	return true
}

// Close asks writePump to send a close frame with code and shut the
// connection. Only the first call has an effect.
func (c *Client) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode, c.closeReason = code, reason
		close(c.done)
	})
}

func (c *Client) writePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.Debug().Err(err).Msg("write failed")
				c.Close(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-c.done:
			if c.closeCode != websocket.CloseAbnormalClosure {
				msg := websocket.FormatCloseMessage(c.closeCode, c.closeReason)
				_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			}
			return
		}
	}
}

// readPump reads frames until the connection fails or the peer stops
// answering pings, calling handle for each text frame.
func (c *Client) readPump(readLimit int64, pongTimeout time.Duration, handle func([]byte)) error {
	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
		if kind == websocket.TextMessage {
			handle(data)
		}
	}
}
