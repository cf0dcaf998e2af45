package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap/zaptest"

	"github.com/mediconnect/server/adapters"
	"github.com/mediconnect/server/domain/entities"
	"github.com/mediconnect/server/domain/repositories"
	"github.com/mediconnect/server/internal/audio"
	"github.com/mediconnect/server/usecase"
)

type testSession struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (s *testSession) SendAudio(data []byte, mimeType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, data)
	return nil
}

func (s *testSession) State() repositories.SessionState { return repositories.SessionOpen }

func (s *testSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *testSession) frameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

type testLiveModel struct {
	mu      sync.Mutex
	handler repositories.LiveHandler
	session *testSession
}

func (m *testLiveModel) Open(ctx context.Context, config repositories.LiveConfig, handler repositories.LiveHandler) (repositories.LiveSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = handler
	m.session = &testSession{}
	go handler.OnOpen()
	return m.session, nil
}

func (m *testLiveModel) current() (repositories.LiveHandler, *testSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handler, m.session
}

type testServer struct {
	server *httptest.Server
	hub    *Hub
	live   *testLiveModel
	repo   *adapters.MemoryConsultationRepository
	cancel context.CancelFunc
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zaptest.NewLogger(t)

	live := &testLiveModel{}
	repo := adapters.NewMemoryConsultationRepository()
	consultations := usecase.NewConsultationService(repo, usecase.NewChatService(nil, logger), logger)
	hub := NewHub(live, consultations, HubConfig{
		Live:              usecase.LiveTriageConfig("", ""),
		MicrophoneTimeout: 2 * time.Second,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	e := echo.New()
	e.GET("/ws", func(c echo.Context) error {
		return HandleWebSocket(hub, c, c.QueryParam("patient"), logger)
	})
	server := httptest.NewServer(e)

	ts := &testServer{server: server, hub: hub, live: live, repo: repo, cancel: cancel}
	t.Cleanup(func() {
		server.Close()
		cancel()
	})
	return ts
}

func (ts *testServer) dial(t *testing.T, patientID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.server.URL, "http") + "/ws?patient=" + patientID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial websocket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads text messages until one of the given type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, want MessageType) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		conn.SetReadDeadline(deadline)
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("Waiting for %s: %v", want, err)
		}
		var msg map[string]interface{}
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("Invalid message %s: %v", data, err)
		}
		if msg["type"] == string(want) {
			return msg
		}
	}
}

func writeJSON(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("Failed to write message: %v", err)
	}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHub_ConsultationFlow(t *testing.T) {
	ts := setupTestServer(t)
	conn := ts.dial(t, "patient-1")

	status := readUntil(t, conn, MessageTypeStatus)
	if status["state"] != "idle" {
		t.Errorf("Expected idle status, got %v", status["state"])
	}

	writeJSON(t, conn, map[string]interface{}{"type": "consultation_start"})
	status = readUntil(t, conn, MessageTypeStatus)
	if status["state"] != "connecting" {
		t.Errorf("Expected connecting status, got %v", status["state"])
	}
	readUntil(t, conn, MessageTypeMicrophoneRequest)

	writeJSON(t, conn, map[string]interface{}{
		"type": "microphone_response", "granted": true, "supported": true, "sample_rate": 16000,
	})
	status = readUntil(t, conn, MessageTypeStatus)
	if status["state"] != "listening" || status["text"] != "Wavuga... Ndi kukumva." {
		t.Errorf("Expected listening status, got %v", status)
	}
	started := readUntil(t, conn, MessageTypeConsultationStarted)
	consultationID, _ := started["consultation_id"].(string)
	if consultationID == "" {
		t.Fatal("Expected consultation ID")
	}

	block := make([]float32, audio.BlockSize)
	block[0] = 0.5
	if err := conn.WriteMessage(websocket.BinaryMessage, audio.Float32ToBytes(block)); err != nil {
		t.Fatalf("Failed to send microphone block: %v", err)
	}
	handler, session := ts.live.current()
	waitUntil(t, "microphone frame", func() bool { return session.frameCount() == 1 })

	handler.OnMessage([]repositories.ServerEvent{
		repositories.InputTranscript{Text: "Ndababara umutwe"},
		repositories.OutputTranscript{Text: "Kuva ryari?"},
		repositories.AudioChunk{Data: make([]byte, 4800), SampleRate: 24000},
		repositories.TurnComplete{},
	})

	transcriptMsg := readUntil(t, conn, MessageTypeTranscript)
	if transcriptMsg["role"] != "user" || transcriptMsg["text"] != "Ndababara umutwe" {
		t.Errorf("Unexpected transcript %v", transcriptMsg)
	}
	audioMsg := readUntil(t, conn, MessageTypeAudio)
	if audioMsg["sample_rate"] != float64(24000) || audioMsg["duration"] != 0.1 {
		t.Errorf("Unexpected audio message %v", audioMsg)
	}
	turn := readUntil(t, conn, MessageTypeTurn)
	if turn["user"] != "Ndababara umutwe" || turn["model"] != "Kuva ryari?" {
		t.Errorf("Unexpected turn %v", turn)
	}

	writeJSON(t, conn, map[string]interface{}{"type": "consultation_stop"})
	status = readUntil(t, conn, MessageTypeStatus)
	if status["state"] != "ended" || status["phase"] != "idle" {
		t.Errorf("Expected ended status, got %v", status)
	}

	waitUntil(t, "consultation record", func() bool {
		c, err := ts.repo.GetByID(context.Background(), consultationID)
		return err == nil && c.Status == entities.ConsultationStatusEnded && len(c.Turns) == 1
	})
}

func TestHub_MicrophoneDenied(t *testing.T) {
	ts := setupTestServer(t)
	conn := ts.dial(t, "patient-2")

	writeJSON(t, conn, map[string]interface{}{"type": "consultation_start"})
	readUntil(t, conn, MessageTypeMicrophoneRequest)
	writeJSON(t, conn, map[string]interface{}{"type": "microphone_response", "granted": false, "supported": true})

	status := readUntil(t, conn, MessageTypeStatus)
	for status["state"] == "connecting" {
		status = readUntil(t, conn, MessageTypeStatus)
	}
	if status["state"] != "microphone_error" {
		t.Errorf("Expected microphone_error, got %v", status["state"])
	}
	if status["text"] != "Ntushobora gukoresha mikoro. Reba uburenganzira bwawe." {
		t.Errorf("Unexpected text %v", status["text"])
	}
}

func TestHub_Unsupported(t *testing.T) {
	ts := setupTestServer(t)
	conn := ts.dial(t, "patient-3")

	writeJSON(t, conn, map[string]interface{}{"type": "consultation_start"})
	readUntil(t, conn, MessageTypeMicrophoneRequest)
	writeJSON(t, conn, map[string]interface{}{"type": "microphone_response", "granted": false, "supported": false})

	status := readUntil(t, conn, MessageTypeStatus)
	for status["state"] == "connecting" {
		status = readUntil(t, conn, MessageTypeStatus)
	}
	if status["state"] != "unsupported" {
		t.Errorf("Expected unsupported, got %v", status["state"])
	}
}

func TestHub_PingAndInvalidMessage(t *testing.T) {
	ts := setupTestServer(t)
	conn := ts.dial(t, "patient-4")

	writeJSON(t, conn, map[string]interface{}{"type": "ping", "data": "hello"})
	pong := readUntil(t, conn, MessageTypePong)
	if pong["data"] != "hello" {
		t.Errorf("Expected pong data, got %v", pong["data"])
	}

	writeJSON(t, conn, map[string]interface{}{"type": "audio_chunk"})
	errMsg := readUntil(t, conn, MessageTypeError)
	if errMsg["error_code"] != "invalid_message" {
		t.Errorf("Unexpected error %v", errMsg)
	}
}

func TestHub_DisconnectEndsConsultation(t *testing.T) {
	ts := setupTestServer(t)
	conn := ts.dial(t, "patient-5")

	writeJSON(t, conn, map[string]interface{}{"type": "consultation_start"})
	readUntil(t, conn, MessageTypeMicrophoneRequest)
	writeJSON(t, conn, map[string]interface{}{
		"type": "microphone_response", "granted": true, "supported": true, "sample_rate": 48000,
	})
	started := readUntil(t, conn, MessageTypeConsultationStarted)
	consultationID := started["consultation_id"].(string)
	waitUntil(t, "client registered", func() bool { return ts.hub.ActiveClients() == 1 })

	conn.Close()

	waitUntil(t, "client unregistered", func() bool { return ts.hub.ActiveClients() == 0 })
	_, session := ts.live.current()
	waitUntil(t, "live session closed", func() bool {
		session.mu.Lock()
		defer session.mu.Unlock()
		return session.closed
	})
	waitUntil(t, "consultation ended", func() bool {
		c, err := ts.repo.GetByID(context.Background(), consultationID)
		return err == nil && c.Status == entities.ConsultationStatusEnded
	})
}
