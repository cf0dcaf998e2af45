package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/mediconnect/server/domain/repositories"
	"github.com/mediconnect/server/internal/audio"
	"github.com/mediconnect/server/internal/consultation"
	"github.com/mediconnect/server/internal/transcript"
	"github.com/mediconnect/server/usecase"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024

	// Time allowed for persisting a consultation update.
	recordWait = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// HubConfig configures the consultations run for websocket clients
type HubConfig struct {
	Live              repositories.LiveConfig
	MicrophoneTimeout time.Duration
}

// Hub maintains the set of connected patients. Each patient has at most one
// connection; a new connection replaces the old one.
type Hub struct {
	// Registered clients by patient ID.
	clients map[string]*Client

	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu sync.RWMutex

	live          repositories.LiveModel
	consultations *usecase.ConsultationService
	config        HubConfig

	logger *zap.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(live repositories.LiveModel, consultations *usecase.ConsultationService, config HubConfig, logger *zap.Logger) *Hub {
	if config.MicrophoneTimeout <= 0 {
		config.MicrophoneTimeout = 30 * time.Second
	}
	return &Hub{
		clients:       make(map[string]*Client),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		done:          make(chan struct{}),
		live:          live,
		consultations: consultations,
		config:        config,
		logger:        logger,
	}
}

// Run starts the hub's main loop and returns when ctx is cancelled
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, client := range h.clients {
				client.closeSend()
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			if previous, ok := h.clients[client.patientID]; ok {
				previous.closeSend()
			}
			h.clients[client.patientID] = client
			h.mu.Unlock()
			h.logger.Info("Client registered", zap.String("patientID", client.patientID))

		case client := <-h.unregister:
			h.mu.Lock()
			if current, ok := h.clients[client.patientID]; ok && current == client {
				delete(h.clients, client.patientID)
			}
			h.mu.Unlock()
			client.closeSend()
			h.logger.Info("Client unregistered", zap.String("patientID", client.patientID))
		}
	}
}

// ActiveClients returns the number of connected patients
func (h *Hub) ActiveClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

type WriteData struct {
	// MessageType is the type of the websocket message.
	// Expect websocket.TextMessage or websocket.BinaryMessage
	Type    int
	Payload []byte
}

// Client is a middleman between the websocket connection and the patient's
// consultation controller.
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send     chan WriteData
	sendMu   sync.Mutex
	sendDone bool

	patientID string
	logger    *zap.Logger
	validator *MessageValidator

	ctx    context.Context
	cancel context.CancelFunc

	mic        *remoteMicrophone
	controller *consultation.Controller

	// Persistence runs on its own goroutine so controller callbacks never
	// wait on storage.
	records     chan func(context.Context)
	recordMu    sync.Mutex
	recordsDone bool

	// Only touched from the records goroutine.
	consultationID string
}

func newClient(hub *Hub, conn *websocket.Conn, patientID string, logger *zap.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		hub:       hub,
		conn:      conn,
		send:      make(chan WriteData, 256),
		patientID: patientID,
		logger:    logger.With(zap.String("patientID", patientID)),
		validator: NewMessageValidator(),
		ctx:       ctx,
		cancel:    cancel,
		records:   make(chan func(context.Context), 64),
	}
	c.mic = newRemoteMicrophone(c, hub.config.MicrophoneTimeout)
	c.controller = consultation.NewController(
		hub.live,
		c.mic,
		func(sampleRate int) (audio.Output, error) { return newRemoteOutput(c, sampleRate), nil },
		c,
		consultation.Options{Live: hub.config.Live},
		c.logger,
	)
	return c
}

// HandleWebSocket upgrades the request and serves an authenticated patient.
func HandleWebSocket(hub *Hub, c echo.Context, patientID string, logger *zap.Logger) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	client := newClient(hub, conn, patientID, logger)
	select {
	case hub.register <- client:
	case <-hub.done:
		conn.Close()
		return errors.New("hub stopped")
	}

	go client.recordLoop()
	go client.writePump()
	go client.readPump()

	client.sendJSON(&StatusMessage{
		BaseMessage: newBase(MessageTypeStatus),
		State:       string(consultation.StatusIdle),
		Text:        consultation.NewStatus(consultation.StatusIdle).Text,
		Phase:       consultation.StateIdle.String(),
	})
	return nil
}

// readPump pumps messages from the websocket connection to the controller.
func (c *Client) readPump() {
	defer func() {
		c.controller.Stop()
		c.mic.stop()
		c.cancel()
		c.closeRecords()
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
			c.closeSend()
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			break
		}

		switch messageType {
		case websocket.TextMessage:
			c.processMessage(message)
		case websocket.BinaryMessage:
			if err := c.mic.feed(message); err != nil {
				c.logger.Debug("Dropped microphone block", zap.Int("size", len(message)), zap.Error(err))
			}
		default:
			c.logger.Warn("Received unknown message type", zap.Int("type", messageType))
		}
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// processMessage handles a control message from the patient
func (c *Client) processMessage(message []byte) {
	msg, err := c.validator.ValidateMessage(message)
	if err != nil {
		c.logger.Warn("Invalid message", zap.Error(err))
		c.sendJSON(CreateErrorMessage("invalid_message", "Invalid message", err.Error()))
		return
	}

	switch m := msg.(type) {
	case *ControlMessage:
		switch m.Type {
		case MessageTypeConsultationStart:
			// Start blocks on the microphone answer, which arrives through this
			// read loop.
			go c.startConsultation()
		case MessageTypeConsultationStop:
			c.controller.Stop()
		}
	case *MicrophoneResponseMessage:
		c.mic.respond(*m)
	case *PingMessage:
		c.sendJSON(CreatePongMessage(m.Data))
	}
}

func (c *Client) startConsultation() {
	err := c.controller.Start(c.ctx)
	switch {
	case err == nil:
	case errors.Is(err, consultation.ErrActive):
		c.sendJSON(CreateErrorMessage("already_active", "Consultation already active", ""))
	case errors.Is(err, consultation.ErrCancelled), errors.Is(err, context.Canceled):
	default:
		c.logger.Info("Consultation did not start", zap.Error(err))
	}
}

// sendJSON queues a message without blocking. It reports false when the
// message was dropped.
func (c *Client) sendJSON(v interface{}) bool {
	payload, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("Failed to marshal message", zap.Error(err))
		return false
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendDone {
		return false
	}
	select {
	case c.send <- WriteData{Type: websocket.TextMessage, Payload: payload}:
		return true
	default:
		c.logger.Warn("Send buffer full, dropping message")
		return false
	}
}

func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.sendDone {
		c.sendDone = true
		close(c.send)
	}
}

// record queues a persistence step. Steps run in order on recordLoop.
func (c *Client) record(step func(context.Context)) {
	c.recordMu.Lock()
	defer c.recordMu.Unlock()
	if c.recordsDone {
		return
	}
	select {
	case c.records <- step:
	default:
		c.logger.Warn("Record queue full, dropping update")
	}
}

func (c *Client) closeRecords() {
	c.recordMu.Lock()
	defer c.recordMu.Unlock()
	if !c.recordsDone {
		c.recordsDone = true
		close(c.records)
	}
}

func (c *Client) recordLoop() {
	for step := range c.records {
		ctx, cancel := context.WithTimeout(context.Background(), recordWait)
		step(ctx)
		cancel()
	}
}

// OnStatus implements consultation.Listener
func (c *Client) OnStatus(state consultation.State, status consultation.Status) {
	c.sendJSON(&StatusMessage{
		BaseMessage: newBase(MessageTypeStatus),
		State:       string(status.Kind),
		Text:        status.Text,
		Phase:       state.String(),
	})

	switch {
	case status.Kind == consultation.StatusListening:
		c.record(c.beginRecord)
	case state == consultation.StateIdle:
		reason := string(status.Kind)
		c.record(func(ctx context.Context) { c.endRecord(ctx, reason) })
	}
}

// OnTranscript implements consultation.Listener
func (c *Client) OnTranscript(speaker consultation.Speaker, fragment string) {
	c.sendJSON(&TranscriptMessage{
		BaseMessage: newBase(MessageTypeTranscript),
		Role:        string(speaker),
		Text:        fragment,
	})
}

// OnTurn implements consultation.Listener
func (c *Client) OnTurn(turn transcript.Turn) {
	c.sendJSON(&TurnMessage{
		BaseMessage: newBase(MessageTypeTurn),
		User:        turn.User,
		Model:       turn.Model,
	})
	c.record(func(ctx context.Context) {
		if c.consultationID == "" {
			return
		}
		if err := c.hub.consultations.RecordTurn(ctx, c.consultationID, turn); err != nil {
			c.logger.Error("Failed to record turn",
				zap.String("consultationID", c.consultationID),
				zap.Error(err))
		}
	})
}

func (c *Client) beginRecord(ctx context.Context) {
	record, err := c.hub.consultations.Start(ctx, c.patientID)
	if err != nil {
		c.logger.Error("Failed to create consultation record", zap.Error(err))
		return
	}
	c.consultationID = record.ID
	c.sendJSON(&ConsultationStartedMessage{
		BaseMessage:    newBase(MessageTypeConsultationStarted),
		ConsultationID: record.ID,
	})
}

func (c *Client) endRecord(ctx context.Context, reason string) {
	if c.consultationID == "" {
		return
	}
	if err := c.hub.consultations.End(ctx, c.consultationID, reason); err != nil {
		c.logger.Error("Failed to end consultation record",
			zap.String("consultationID", c.consultationID),
			zap.Error(err))
	}
	c.consultationID = ""
}
