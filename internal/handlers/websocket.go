package handlers

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/urbix/internal/common"
	"github.com/ternarybob/urbix/internal/interfaces"
	"github.com/ternarybob/urbix/internal/models"
	"github.com/ternarybob/urbix/internal/services/login"
	"golang.org/x/time/rate"
)

const (
	wsPrefix         = "/ws/otp/"
	clientSendBuffer = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Mobile clients connect from arbitrary origins
	},
}

// WSMessage is the envelope of every server to client frame
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// otpFrame is what a client sends: {"otp": "482913"}
type otpFrame struct {
	OTP string `json:"otp"`
}

type wsClient struct {
	id       string
	deviceID string
	conn     *websocket.Conn
	send     chan WSMessage
	limiter  *rate.Limiter
}

// WebSocketHandler connects the person holding a device's SIM to the login
// running for it: OTPs flow in, progress and the final result flow out.
type WebSocketHandler struct {
	login        interfaces.LoginService
	logger       arbor.ILogger
	rateInterval time.Duration
	burst        int
	writeTimeout time.Duration

	mu      sync.RWMutex
	clients map[string]map[*wsClient]struct{} // by device id
}

func NewWebSocketHandler(eventService interfaces.EventService, loginService interfaces.LoginService, config *common.WebSocketConfig, logger arbor.ILogger) *WebSocketHandler {
	h := &WebSocketHandler{
		login:        loginService,
		logger:       logger,
		rateInterval: common.ParseDurationOr(config.OTPRateInterval, 2*time.Second),
		burst:        config.OTPBurst,
		writeTimeout: common.ParseDurationOr(config.WriteTimeout, 10*time.Second),
		clients:      make(map[string]map[*wsClient]struct{}),
	}
	if h.burst < 1 {
		h.burst = 1
	}

	if eventService != nil {
		for _, eventType := range []interfaces.EventType{interfaces.EventLoginProgress, interfaces.EventLoginResult} {
			if err := eventService.Subscribe(eventType, h.forward); err != nil {
				logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("Failed to subscribe websocket handler")
			}
		}
	}

	return h
}

// forward queues a login event for every client of the event's device.
// Slow clients lose messages rather than stall the login worker.
func (h *WebSocketHandler) forward(ctx context.Context, event interfaces.Event) error {
	var deviceID string
	switch p := event.Payload.(type) {
	case models.LoginProgress:
		deviceID = p.DeviceID
	case models.LoginResult:
		deviceID = p.DeviceID
	default:
		return nil
	}

	msg := WSMessage{Type: string(event.Type), Payload: event.Payload}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[deviceID] {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn().
				Str("client_id", c.id).
				Str("device_id", deviceID).
				Str("event_type", string(event.Type)).
				Msg("WebSocket client too slow, message dropped")
		}
	}
	return nil
}

// ClientCount returns how many clients are connected for a device
func (h *WebSocketHandler) ClientCount(deviceID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[deviceID])
}

func (h *WebSocketHandler) register(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.deviceID]
	if !ok {
		set = make(map[*wsClient]struct{})
		h.clients[c.deviceID] = set
	}
	set[c] = struct{}{}
}

// unregister removes c and closes its send channel. forward holds the read
// lock while sending, so no send can race with the close.
func (h *WebSocketHandler) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.clients[c.deviceID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, c.deviceID)
		}
	}
	close(c.send)
}

// HandleOTPSocket handles GET /ws/otp/{deviceID}
func (h *WebSocketHandler) HandleOTPSocket(w http.ResponseWriter, r *http.Request) {
	deviceID := PathID(r.URL.Path, wsPrefix)
	if deviceID == "" {
		WriteError(w, http.StatusBadRequest, "Device ID is required")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	c := &wsClient{
		id:       uuid.New().String(),
		deviceID: deviceID,
		conn:     conn,
		send:     make(chan WSMessage, clientSendBuffer),
		limiter:  rate.NewLimiter(rate.Every(h.rateInterval), h.burst),
	}
	h.register(c)

	h.logger.Debug().
		Str("client_id", c.id).
		Str("device_id", deviceID).
		Msg("WebSocket client connected")

	done := make(chan struct{})
	common.SafeGo(h.logger, "ws-writer", func() {
		defer close(done)
		h.writeLoop(c)
	})

	c.send <- WSMessage{Type: "connected", Payload: map[string]string{"client_id": c.id, "device_id": deviceID}}

	h.readLoop(r.Context(), c)

	h.unregister(c)
	<-done
	conn.Close()

	h.logger.Debug().
		Str("client_id", c.id).
		Str("device_id", deviceID).
		Msg("WebSocket client disconnected")
}

func (h *WebSocketHandler) readLoop(ctx context.Context, c *wsClient) {
	for {
		var frame otpFrame
		if err := c.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn().Err(err).Str("client_id", c.id).Msg("WebSocket error")
			}
			return
		}

		if !c.limiter.Allow() {
			h.reply(c, WSMessage{Type: "error", Payload: map[string]string{"message": "Too many OTP submissions, wait and retry"}})
			continue
		}

		err := h.login.SubmitOTP(ctx, c.deviceID, frame.OTP)
		switch {
		case err == nil:
			h.reply(c, WSMessage{Type: "otp_received", Payload: map[string]string{"device_id": c.deviceID}})
		case errors.Is(err, login.ErrInvalidOTPFormat):
			h.reply(c, WSMessage{Type: "error", Payload: map[string]string{"message": "OTP is required"}})
		default:
			h.logger.Warn().Err(err).Str("device_id", c.deviceID).Msg("Failed to relay OTP from websocket")
			h.reply(c, WSMessage{Type: "error", Payload: map[string]string{"message": "Failed to deliver OTP"}})
		}
	}
}

func (h *WebSocketHandler) reply(c *wsClient, msg WSMessage) {
	select {
	case c.send <- msg:
	default:
	}
}

// writeLoop is the only writer on the connection
func (h *WebSocketHandler) writeLoop(c *wsClient) {
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
		if err := c.conn.WriteJSON(msg); err != nil {
			h.logger.Debug().Err(err).Str("client_id", c.id).Msg("WebSocket write failed")
			// Unblock the reader; the handler unregisters and drains from there
			c.conn.Close()
			for range c.send {
			}
			return
		}
	}
}
