// Package ws bridges the StateBus event stream (and, for subscribed
// clients, FFT power slices) to browser clients over WebSocket. It follows
// the same register/unregister/broadcast select-loop idiom as its upstream
// ancestor, generalized to a two-tier broadcast (everyone gets StateBus
// events; only fft_subscribe'd clients get fft_slice messages) and to
// handle the small inbound command vocabulary clients use.
package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/milesburton/night-watch/internal/statebus"
)

// inboundMessage is the shape of a client→server WebSocket frame.
type inboundMessage struct {
	Type string `json:"type"`
}

// outboundMessage is the shape of every server→client frame; Payload is
// type-specific per message type.
type outboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// initMessage is the connect-time frame: the full SystemState plus the FFT
// stream's status, so a client can render the waterfall panel's state
// without a separate round trip.
type initMessage struct {
	Type  string            `json:"type"`
	State statebus.SystemState `json:"state"`
	FFT   FFTStatus         `json:"fft"`
}

// FFTStatus mirrors FftStream's status for the init frame: whether the
// producer is running, its fixed config while running (nil otherwise), the
// last start error if any, and the current subscriber count.
type FFTStatus struct {
	Running     bool    `json:"running"`
	Config      any     `json:"config"`
	Error       *string `json:"error"`
	Subscribers int     `json:"subscribers"`
}

type client struct {
	conn          *websocket.Conn
	fftSubscribed bool
}

// Hub manages WebSocket client connections, relays StateBus events to all
// of them, and relays FFT slices only to clients that asked for them.
type Hub struct {
	bus    *statebus.Bus
	logger *log.Logger

	clients       map[*websocket.Conn]*client
	register      chan *websocket.Conn
	unregister    chan *websocket.Conn
	fftSubscribe  chan *websocket.Conn
	fftUnsub      chan *websocket.Conn
	broadcast     chan []byte
	fftBroadcast  chan []byte
	upgrader      websocket.Upgrader

	onFFTSubscribe   func()
	onFFTUnsubscribe func()
	fftStatus        func() FFTStatus
}

// NewHub allocates a hub bound to bus. Call Run in a goroutine to start the
// event loop, and call bus event forwarding via Run as well.
func NewHub(bus *statebus.Bus, logger *log.Logger) *Hub {
	return &Hub{
		bus:          bus,
		logger:       logger,
		clients:      make(map[*websocket.Conn]*client),
		register:     make(chan *websocket.Conn, 16),
		unregister:   make(chan *websocket.Conn, 16),
		fftSubscribe: make(chan *websocket.Conn, 16),
		fftUnsub:     make(chan *websocket.Conn, 16),
		broadcast:    make(chan []byte, 256),
		fftBroadcast: make(chan []byte, 256),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// SetFFTHooks wires the hub's fft_subscribe/fft_unsubscribe commands to the
// FftStream component. onSubscribe is called whenever the count of
// fft-subscribed clients transitions from zero to one or more;
// onUnsubscribe is called whenever it drops back to zero. status reports
// FftStream's current state for the init frame sent to newly connected
// clients.
func (h *Hub) SetFFTHooks(onSubscribe, onUnsubscribe func(), status func() FFTStatus) {
	h.onFFTSubscribe = onSubscribe
	h.onFFTUnsubscribe = onUnsubscribe
	h.fftStatus = status
}

// Run processes registrations, broadcasts, FFT subscription toggles, and
// keepalive pings in a single select loop, and relays StateBus events onto
// the broadcast channel. It returns when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	events, unsubscribe := h.bus.Subscribe()
	defer unsubscribe()

	ping := time.NewTicker(20 * time.Second)
	defer ping.Stop()

	fftSubscriberCount := 0

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				_ = c.Close()
			}
			return

		case ev, ok := <-events:
			if !ok {
				return
			}
			h.BroadcastJSON(outboundMessage{Type: string(ev.Type), Payload: ev})

		case c := <-h.register:
			h.clients[c] = &client{conn: c}
			h.sendInit(c)

		case c := <-h.unregister:
			if cl, ok := h.clients[c]; ok {
				if cl.fftSubscribed {
					fftSubscriberCount--
					if fftSubscriberCount == 0 && h.onFFTUnsubscribe != nil {
						h.onFFTUnsubscribe()
					}
				}
				delete(h.clients, c)
			}
			_ = c.Close()

		case c := <-h.fftSubscribe:
			if cl, ok := h.clients[c]; ok && !cl.fftSubscribed {
				cl.fftSubscribed = true
				fftSubscriberCount++
				if fftSubscriberCount == 1 && h.onFFTSubscribe != nil {
					h.onFFTSubscribe()
				}
				h.send(c, outboundMessage{Type: "fft_subscribed"})
			}

		case c := <-h.fftUnsub:
			if cl, ok := h.clients[c]; ok && cl.fftSubscribed {
				cl.fftSubscribed = false
				fftSubscriberCount--
				if fftSubscriberCount == 0 && h.onFFTUnsubscribe != nil {
					h.onFFTUnsubscribe()
				}
				h.send(c, outboundMessage{Type: "fft_unsubscribed"})
			}

		case msg := <-h.broadcast:
			for c := range h.clients {
				h.writeRaw(c, msg)
			}

		case msg := <-h.fftBroadcast:
			for c, cl := range h.clients {
				if cl.fftSubscribed {
					h.writeRaw(c, msg)
				}
			}

		case <-ping.C:
			for c := range h.clients {
				_ = c.SetWriteDeadline(time.Now().Add(2 * time.Second))
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					delete(h.clients, c)
					_ = c.Close()
				}
			}
		}
	}
}

func (h *Hub) writeRaw(c *websocket.Conn, msg []byte) {
	_ = c.SetWriteDeadline(time.Now().Add(3 * time.Second))
	if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
		delete(h.clients, c)
		_ = c.Close()
	}
}

func (h *Hub) send(c *websocket.Conn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	h.writeRaw(c, b)
}

// sendInit delivers the current full SystemState plus the FFT stream's
// status as the connect-time init message.
func (h *Hub) sendInit(c *websocket.Conn) {
	var fft FFTStatus
	if h.fftStatus != nil {
		fft = h.fftStatus()
	}
	h.send(c, initMessage{Type: "init", State: h.bus.GetState(), FFT: fft})
}

// Handler returns an http.Handler that upgrades incoming requests on /ws to
// WebSocket connections. Callers must ensure this handler is only mounted
// at /ws; any other path should be rejected by the router before it gets
// here.
func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			http.Error(w, "websocket upgrade failed", http.StatusBadRequest)
			return
		}
		h.register <- conn

		go h.readLoop(conn)
	})
}

// readLoop handles inbound client frames. Malformed JSON or an unrecognized
// type is logged and ignored — the connection stays open rather than
// dropping the client over a protocol error.
func (h *Hub) readLoop(conn *websocket.Conn) {
	defer func() { h.unregister <- conn }()
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var in inboundMessage
		if err := json.Unmarshal(raw, &in); err != nil {
			h.logger.Printf("ws: malformed client message, ignoring: %v", err)
			continue
		}

		switch in.Type {
		case "fft_subscribe":
			h.fftSubscribe <- conn
		case "fft_unsubscribe":
			h.fftUnsub <- conn
		default:
			h.logger.Printf("ws: unknown client message type %q, ignoring", in.Type)
		}
	}
}

// BroadcastJSON marshals v to JSON and queues it for delivery to every
// connected client. If the broadcast channel is full the message is
// dropped to avoid blocking the StateBus relay.
func (h *Hub) BroadcastJSON(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- b:
	default:
	}
}

// BroadcastFFT queues an fft_slice message for delivery to fft-subscribed
// clients only.
func (h *Hub) BroadcastFFT(slice any) {
	b, err := json.Marshal(outboundMessage{Type: "fft_slice", Payload: slice})
	if err != nil {
		return
	}
	select {
	case h.fftBroadcast <- b:
	default:
	}
}

// BroadcastError sends an error-kind event to every connected client.
func (h *Hub) BroadcastError(kind, message string) {
	h.BroadcastJSON(outboundMessage{Type: "error", Payload: map[string]string{
		"kind": kind, "message": message,
	}})
}
