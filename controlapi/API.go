/*
File Name:  API.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Optional debug and control HTTP surface. It exposes the peer directory as JSON and a WebSocket
feed of chat messages and peer-discovery events, for a local UI or test harness to attach to
without needing to speak the wire protocol.
*/

package controlapi

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	core "github.com/meshlink/core"
	"github.com/meshlink/core/peerdir"
	"github.com/meshlink/core/protocol"
)

// Node is the subset of *core.Node the API needs: identity queries, the peer directory, the
// command surface a POST /send dispatches to, and the protocol event stream.
type Node interface {
	MyID() [protocol.ShortIDSize]byte
	MyNickname() string
	Peers() []peerdir.Peer
	Events() <-chan core.Event

	SendBroadcastMessage(content string)
	SendPrivateMessage(content string, recipientID [protocol.ShortIDSize]byte) (messageID string, err error)
	SendFile(recipientID [protocol.ShortIDSize]byte, fileName, mimeType string, data []byte) string
}

// Event is the JSON view of a core.Event pushed to connected WebSocket clients. Only the fields
// relevant to Kind are populated, mirroring core.Event itself.
type Event struct {
	Kind           string `json:"kind"`
	MessageID      string `json:"messageId,omitempty"`
	SenderID       string `json:"senderId,omitempty"`
	SenderNickname string `json:"senderNickname,omitempty"`
	Content        string `json:"content,omitempty"`
	IsPrivate      bool   `json:"isPrivate,omitempty"`
	FileName       string `json:"fileName,omitempty"`
	FileSize       uint64 `json:"fileSize,omitempty"`
	MimeType       string `json:"mimeType,omitempty"`
	Data           string `json:"data,omitempty"`
	Checksum       string `json:"checksum,omitempty"`
	Timestamp      int64  `json:"timestamp,omitempty"`
	AppMessageID   string `json:"appMessageId,omitempty"`
	AppKind        string `json:"appKind,omitempty"`
	PeerID         string `json:"peerId,omitempty"`
	Connected      bool   `json:"connected,omitempty"`
	ErrorCode      string `json:"errorCode,omitempty"`
	ErrorMessage   string `json:"errorMessage,omitempty"`
}

// EventView converts a core.Event into its JSON wire shape, for a caller that owns the single
// consumer of Node.Events() and wants to forward some of them to the control API's WebSocket
// clients alongside other handling.
func EventView(ev core.Event) Event {
	return Event{
		Kind:           string(ev.Kind),
		MessageID:      ev.MessageID,
		SenderID:       encodeID(ev.SenderID),
		SenderNickname: ev.SenderNickname,
		Content:        ev.Content,
		IsPrivate:      ev.IsPrivate,
		FileName:       ev.FileName,
		FileSize:       ev.FileSize,
		MimeType:       ev.MimeType,
		Data:           ev.Data,
		Checksum:       ev.Checksum,
		Timestamp:      ev.Timestamp,
		AppMessageID:   ev.AppMessageID,
		AppKind:        ev.AppKind,
		PeerID:         encodeID(ev.PeerID),
		Connected:      ev.Connected,
		ErrorCode:      ev.ErrorCode,
		ErrorMessage:   ev.ErrorMessage,
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server is the control HTTP surface backed by a running node.
type Server struct {
	node Node
	mux  *mux.Router

	clientsMutex sync.Mutex
	clients      map[*websocket.Conn]struct{}
}

// NewServer builds the control API router for the given node.
func NewServer(node Node) *Server {
	s := &Server{
		node:    node,
		mux:     mux.NewRouter(),
		clients: make(map[*websocket.Conn]struct{}),
	}

	s.mux.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	s.mux.HandleFunc("/peers", s.handlePeers).Methods(http.MethodGet)
	s.mux.HandleFunc("/send", s.handleSend).Methods(http.MethodPost)
	s.mux.HandleFunc("/events", s.handleEvents)

	return s
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	type statusView struct {
		ID        string `json:"id"`
		Nickname  string `json:"nickname"`
		PeerCount int    `json:"peerCount"`
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(statusView{
		ID:        encodeID(s.node.MyID()),
		Nickname:  s.node.MyNickname(),
		PeerCount: len(s.node.Peers()),
	})
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	peers := s.node.Peers()

	type peerView struct {
		ID          string `json:"id"`
		Nickname    string `json:"nickname"`
		HopCount    uint8  `json:"hopCount"`
		IsConnected bool   `json:"isConnected"`
		Verified    bool   `json:"verified"`
		Fingerprint string `json:"fingerprint"`
	}

	out := make([]peerView, 0, len(peers))
	for _, p := range peers {
		out = append(out, peerView{
			ID:          encodeID(p.ID),
			Nickname:    p.Nickname,
			HopCount:    p.HopCount,
			IsConnected: p.IsConnected,
			Verified:    p.Verified,
			Fingerprint: p.Fingerprint(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// sendRequest is the POST /send body. Type selects which command is dispatched: "broadcast"
// (content only), "private" (content + recipientId), or "file" (fileName, mimeType, recipientId
// and base64-encoded data).
type sendRequest struct {
	Type        string `json:"type"`
	Content     string `json:"content,omitempty"`
	RecipientID string `json:"recipientId,omitempty"`
	FileName    string `json:"fileName,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
	Data        string `json:"data,omitempty"`
}

type sendResponse struct {
	MessageID  string `json:"messageId,omitempty"`
	TransferID string `json:"transferId,omitempty"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	switch req.Type {
	case "broadcast":
		s.node.SendBroadcastMessage(req.Content)
		w.WriteHeader(http.StatusAccepted)
		return

	case "private":
		recipientID, ok := decodeID(req.RecipientID)
		if !ok {
			http.Error(w, "invalid recipientId", http.StatusBadRequest)
			return
		}
		messageID, err := s.node.SendPrivateMessage(req.Content, recipientID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(sendResponse{MessageID: messageID})
		return

	case "file":
		recipientID, ok := decodeID(req.RecipientID)
		if !ok {
			http.Error(w, "invalid recipientId", http.StatusBadRequest)
			return
		}
		data, err := base64.StdEncoding.DecodeString(req.Data)
		if err != nil {
			http.Error(w, "invalid base64 data", http.StatusBadRequest)
			return
		}
		transferID := s.node.SendFile(recipientID, req.FileName, req.MimeType, data)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(sendResponse{TransferID: transferID})
		return

	default:
		http.Error(w, "unknown type: must be broadcast, private, or file", http.StatusBadRequest)
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("controlapi: websocket upgrade failed: %v", err)
		return
	}

	s.clientsMutex.Lock()
	s.clients[conn] = struct{}{}
	s.clientsMutex.Unlock()

	defer func() {
		s.clientsMutex.Lock()
		delete(s.clients, conn)
		s.clientsMutex.Unlock()
		conn.Close()
	}()

	// Drain and discard any client-sent frames; this endpoint is server push only. Returning
	// keeps the deferred cleanup running once the client disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Broadcast pushes an event to every connected WebSocket client.
func (s *Server) Broadcast(event Event) {
	s.clientsMutex.Lock()
	defer s.clientsMutex.Unlock()

	for conn := range s.clients {
		if err := conn.WriteJSON(event); err != nil {
			conn.Close()
			delete(s.clients, conn)
		}
	}
}

func encodeID(id [protocol.ShortIDSize]byte) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, len(id)*2)
	for i, b := range id {
		out[i*2] = hexDigits[b>>4]
		out[i*2+1] = hexDigits[b&0x0F]
	}
	return string(out)
}

// decodeID parses the hex form of a short node ID as produced by encodeID, for POST /send's
// recipientId field.
func decodeID(s string) (id [protocol.ShortIDSize]byte, ok bool) {
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != protocol.ShortIDSize {
		return id, false
	}
	copy(id[:], raw)
	return id, true
}
