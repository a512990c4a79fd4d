package controlapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	core "github.com/meshlink/core"
	"github.com/meshlink/core/peerdir"
	"github.com/meshlink/core/protocol"
)

type fakeNode struct {
	id       [protocol.ShortIDSize]byte
	nickname string
	peers    []peerdir.Peer
	events   chan core.Event

	lastBroadcast string
	privateErr    error
	fileTransfer  string
}

func (f fakeNode) MyID() [protocol.ShortIDSize]byte { return f.id }
func (f fakeNode) MyNickname() string               { return f.nickname }
func (f fakeNode) Peers() []peerdir.Peer            { return f.peers }
func (f fakeNode) Events() <-chan core.Event        { return f.events }

func (f *fakeNode) SendBroadcastMessage(content string) {
	f.lastBroadcast = content
}

func (f fakeNode) SendPrivateMessage(content string, recipientID [protocol.ShortIDSize]byte) (string, error) {
	if f.privateErr != nil {
		return "", f.privateErr
	}
	return "msg-1", nil
}

func (f fakeNode) SendFile(recipientID [protocol.ShortIDSize]byte, fileName, mimeType string, data []byte) string {
	return f.fileTransfer
}

func TestHandlePeersReturnsJSON(t *testing.T) {
	var id [protocol.ShortIDSize]byte
	id[0] = 0xAB

	node := &fakeNode{
		peers:  []peerdir.Peer{{ID: id, Nickname: "alice", HopCount: 2}},
		events: make(chan core.Event),
	}
	server := NewServer(node)

	req := httptest.NewRequest(http.MethodGet, "/peers", nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var got []map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 peer, got %d", len(got))
	}
	if got[0]["nickname"] != "alice" {
		t.Fatalf("expected nickname alice, got %v", got[0]["nickname"])
	}
}

func TestHandleStatusReturnsIdentityAndPeerCount(t *testing.T) {
	var id [protocol.ShortIDSize]byte
	id[0] = 0xCD

	node := &fakeNode{
		id:       id,
		nickname: "bob",
		peers:    []peerdir.Peer{{}, {}},
		events:   make(chan core.Event),
	}
	server := NewServer(node)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var got struct {
		ID        string `json:"id"`
		Nickname  string `json:"nickname"`
		PeerCount int    `json:"peerCount"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if got.Nickname != "bob" || got.PeerCount != 2 || got.ID != encodeID(id) {
		t.Fatalf("unexpected status response: %+v", got)
	}
}

func TestHandleSendBroadcast(t *testing.T) {
	node := &fakeNode{events: make(chan core.Event)}
	server := NewServer(node)

	body, _ := json.Marshal(sendRequest{Type: "broadcast", Content: "hello mesh"})
	req := httptest.NewRequest(http.MethodPost, "/send", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if node.lastBroadcast != "hello mesh" {
		t.Fatalf("expected broadcast to reach node, got %q", node.lastBroadcast)
	}
}

func TestHandleSendPrivateReturnsMessageID(t *testing.T) {
	node := &fakeNode{events: make(chan core.Event)}
	server := NewServer(node)

	body, _ := json.Marshal(sendRequest{Type: "private", Content: "secret", RecipientID: "00000000000000ff"})
	req := httptest.NewRequest(http.MethodPost, "/send", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var got sendResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if got.MessageID != "msg-1" {
		t.Fatalf("expected messageId msg-1, got %q", got.MessageID)
	}
}

func TestHandleSendPrivateNoSessionReturnsConflict(t *testing.T) {
	node := &fakeNode{events: make(chan core.Event), privateErr: errors.New("core: no session established with peer")}
	server := NewServer(node)

	body, _ := json.Marshal(sendRequest{Type: "private", Content: "secret", RecipientID: "00000000000000ff"})
	req := httptest.NewRequest(http.MethodPost, "/send", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestHandleSendFileReturnsTransferID(t *testing.T) {
	node := &fakeNode{events: make(chan core.Event), fileTransfer: "transfer-1"}
	server := NewServer(node)

	body, _ := json.Marshal(sendRequest{
		Type:        "file",
		RecipientID: "00000000000000ff",
		FileName:    "x.bin",
		MimeType:    "application/octet-stream",
		Data:        "aGVsbG8=",
	})
	req := httptest.NewRequest(http.MethodPost, "/send", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var got sendResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if got.TransferID != "transfer-1" {
		t.Fatalf("expected transferId transfer-1, got %q", got.TransferID)
	}
}

func TestHandleSendUnknownTypeReturnsBadRequest(t *testing.T) {
	node := &fakeNode{events: make(chan core.Event)}
	server := NewServer(node)

	body, _ := json.Marshal(sendRequest{Type: "carrier-pigeon"})
	req := httptest.NewRequest(http.MethodPost, "/send", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
