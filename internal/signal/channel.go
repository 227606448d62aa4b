package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/callvault/callkit/internal/domain"
)

const (
	defaultPingInterval = 25 * time.Second
	writeWait           = 5 * time.Second
)

// Channel is the duplex signaling connection to the rendezvous service. It
// preserves per-channel delivery order and never queues outbound envelopes:
// Send on a channel that is not open fails fast with ErrChannelNotReady.
type Channel struct {
	url   string
	local domain.Party

	conn *websocket.Conn
	open atomic.Bool

	mu sync.Mutex // guards writes to conn

	// inbound pump: readLoop appends, deliverLoop drains to out. The queue
	// is unbounded so a slow consumer never stalls the websocket reader or
	// reorders envelopes.
	qmu   sync.Mutex
	queue []domain.Envelope
	qcond *sync.Cond

	out       chan domain.Envelope
	closed    chan struct{}
	closeOnce sync.Once

	pingInterval time.Duration
	log          zerolog.Logger
}

// NewChannel creates a signaling channel for the given party.
func NewChannel(url string, local domain.Party, logger zerolog.Logger) *Channel {
	c := &Channel{
		url:          url,
		local:        local,
		out:          make(chan domain.Envelope),
		closed:       make(chan struct{}),
		pingInterval: defaultPingInterval,
		log:          logger.With().Str("component", "signal").Str("party", local.String()).Logger(),
	}
	c.qcond = sync.NewCond(&c.qmu)
	return c
}

// Dial connects the websocket, registers the local party, and starts the
// read, delivery and ping loops.
func (c *Channel) Dial(ctx context.Context) error {
	c.log.Info().Str("url", c.url).Msg("connecting to signaling server")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	c.conn = conn
	c.open.Store(true)

	if err := c.Send(domain.Envelope{
		Type:      domain.EnvRegister,
		From:      c.local,
		Timestamp: time.Now().UnixMilli(),
	}); err != nil {
		c.Close()
		return fmt.Errorf("register: %w", err)
	}

	go c.readLoop()
	go c.deliverLoop()
	go c.pingLoop()

	return nil
}

// Recv is the ordered stream of incoming envelopes. The channel is closed
// when the signaling connection goes away.
func (c *Channel) Recv() <-chan domain.Envelope {
	return c.out
}

// Send marshals and writes one envelope. Fails fast when the channel is not
// open; the engine never silently queues at this layer.
func (c *Channel) Send(env domain.Envelope) error {
	if !c.open.Load() {
		return domain.ErrChannelNotReady
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write envelope: %w", err)
	}

	c.log.Trace().Str("type", string(env.Type)).Str("to", env.To.String()).Msg("sent")
	return nil
}

// Close shuts down the connection and the delivery pump. Idempotent.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		c.open.Store(false)
		close(c.closed)
		if c.conn != nil {
			c.conn.Close()
		}
		// the broadcast must happen under qmu: a deliverLoop between its
		// closed check and Wait would otherwise miss the wakeup
		c.qmu.Lock()
		c.qcond.Broadcast()
		c.qmu.Unlock()
	})
}

func (c *Channel) readLoop() {
	defer c.Close()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
			default:
				c.log.Warn().Err(err).Msg("read error")
			}
			return
		}

		var env domain.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Warn().Err(err).Msg("unmarshal error")
			continue
		}

		c.log.Trace().Str("type", string(env.Type)).Str("from", env.From.String()).Msg("received")

		c.qmu.Lock()
		c.queue = append(c.queue, env)
		c.qmu.Unlock()
		c.qcond.Signal()
	}
}

func (c *Channel) deliverLoop() {
	defer close(c.out)

	for {
		c.qmu.Lock()
		for len(c.queue) == 0 {
			select {
			case <-c.closed:
				c.qmu.Unlock()
				return
			default:
			}
			c.qcond.Wait()
		}
		env := c.queue[0]
		c.queue = c.queue[1:]
		c.qmu.Unlock()

		select {
		case c.out <- env:
		case <-c.closed:
			return
		}
	}
}

func (c *Channel) pingLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.mu.Lock()
			err := c.conn.WriteControl(
				websocket.PingMessage,
				[]byte{},
				time.Now().Add(writeWait),
			)
			c.mu.Unlock()
			if err != nil {
				select {
				case <-c.closed:
				default:
					c.log.Warn().Err(err).Msg("ping error")
				}
				return
			}
		}
	}
}
