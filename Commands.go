/*
File Name:  Commands.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Builds and handles every packet type named in the wire protocol, and exposes the node's command
surface: broadcast/private messaging, file transfer, oversized opaque application payloads, and
the directory/session queries a host application needs.
*/

package core

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/meshlink/core/chunker"
	"github.com/meshlink/core/protocol"
	"github.com/meshlink/core/session"
)

func (n *Node) nowMillis() int64 {
	return time.Now().UnixMilli()
}

func (n *Node) sign(region []byte) []byte {
	return n.Identity.Sign(region)
}

func (n *Node) broadcast(packetType protocol.PacketType, payload []byte, sign bool) {
	n.send(protocol.Packet{}, packetType, payload, sign)
}

func (n *Node) unicast(recipient [protocol.ShortIDSize]byte, packetType protocol.PacketType, payload []byte, sign bool) {
	p := protocol.Packet{RecipientID: recipient}
	n.send(p, packetType, payload, sign)
}

func (n *Node) send(base protocol.Packet, packetType protocol.PacketType, payload []byte, sign bool) {
	p := &protocol.Packet{
		Version:     protocol.Version,
		Type:        packetType,
		TTL:         n.Config.DefaultPacketTTL,
		Timestamp:   n.nowMillis(),
		Payload:     payload,
		RecipientID: base.RecipientID,
	}
	copy(p.SenderID[:], n.Identity.NodeID[:])

	if sign {
		p.Signature = n.sign(p.SignedRegion())
	}

	data, err := p.Encode()
	if err != nil {
		return
	}

	n.Filters.outgoingPacket("", p)

	select {
	case n.outbox <- outboundPacket{raw: data}:
	case <-n.ctx.Done():
	}
}

// sendAnnounce broadcasts this node's presence: nickname, static key-agreement public key and
// signing public key, so peers can populate their directory, derive sessions, and verify future
// signed packets.
func (n *Node) sendAnnounce() {
	var payload []byte
	payload = protocol.EncodeTLV(payload, protocol.AnnounceTagNickname, []byte(n.Identity.Nickname))
	payload = protocol.EncodeTLV(payload, protocol.AnnounceTagStaticKey, n.Identity.StaticPublic[:])
	payload = protocol.EncodeTLV(payload, protocol.AnnounceTagSigningKey, n.Identity.SigningPublic)

	n.broadcast(protocol.TypeAnnounce, payload, true)
}

func (n *Node) handleAnnounce(p *protocol.Packet) {
	records, err := protocol.DecodeTLV(p.Payload)
	if err != nil {
		return
	}

	signingPublic, ok := protocol.Find(records, protocol.AnnounceTagSigningKey)
	if !ok || len(signingPublic) != ed25519.PublicKeySize {
		return
	}
	if p.Signature == nil || !ed25519.Verify(ed25519.PublicKey(signingPublic), p.SignedRegion(), p.Signature) {
		return
	}

	staticPublic, _ := protocol.Find(records, protocol.AnnounceTagStaticKey)
	nickname, _ := protocol.Find(records, protocol.AnnounceTagNickname)

	hopCount := n.Config.DefaultPacketTTL - p.TTL
	isNew := n.peers.Upsert(p.SenderID, staticPublic, signingPublic, string(nickname), hopCount)

	peer, _ := n.peers.Get(p.SenderID)
	if isNew {
		n.Filters.peerDiscovered(peer)
	}
	n.emit(Event{Kind: EventPeerListUpdated})
	n.emit(Event{Kind: EventConnectionStateChanged, PeerID: p.SenderID, Connected: true})
}

// SendBroadcastMessage broadcasts an unencrypted plain-text message to the whole mesh.
func (n *Node) SendBroadcastMessage(content string) {
	n.broadcast(protocol.TypePlainMessage, []byte(content), true)
}

func (n *Node) handlePlainMessage(p *protocol.Packet) {
	nickname := n.senderNickname(p.SenderID)
	n.emit(Event{
		Kind:           EventMessageReceived,
		MessageID:      uuid.New().String(),
		SenderID:       p.SenderID,
		SenderNickname: nickname,
		Content:        string(p.Payload),
		IsPrivate:      false,
	})
}

func (n *Node) senderNickname(id [protocol.ShortIDSize]byte) string {
	if peer, ok := n.peers.Get(id); ok && peer.Nickname != "" {
		return peer.Nickname
	}
	return hex.EncodeToString(id[:])
}

// sendLeave broadcasts a graceful departure notice. It writes to every link directly instead of
// going through the outbound queue: the only caller is shutdown, where the dispatch goroutine is
// about to be cancelled and an enqueued packet would race the cancellation and usually lose.
func (n *Node) sendLeave() {
	p := &protocol.Packet{
		Version:   protocol.Version,
		Type:      protocol.TypeLeave,
		TTL:       n.Config.DefaultPacketTTL,
		Timestamp: n.nowMillis(),
	}
	copy(p.SenderID[:], n.Identity.NodeID[:])
	p.Signature = n.sign(p.SignedRegion())

	data, err := p.Encode()
	if err != nil {
		return
	}

	n.Filters.outgoingPacket("", p)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	n.linksMutex.RLock()
	defer n.linksMutex.RUnlock()
	for _, l := range n.links {
		l.Send(ctx, data)
	}
}

func (n *Node) handleLeave(p *protocol.Packet) {
	n.peers.Remove(p.SenderID)
	n.sessions.Remove(p.SenderID)
	n.handshakes.Forget(p.SenderID)
	n.emit(Event{Kind: EventPeerListUpdated})
	n.emit(Event{Kind: EventConnectionStateChanged, PeerID: p.SenderID, Connected: false})
}

// SetNickname updates the local nickname and broadcasts a fresh Announce so peers pick it up.
func (n *Node) SetNickname(nickname string) {
	n.Identity.Nickname = nickname
	n.sendAnnounce()
}

// BeginHandshake sends our static key-agreement public key to peerID, establishing (or
// completing) the pairwise session used for subsequent EncryptedEnvelope packets.
func (n *Node) BeginHandshake(peerID [protocol.ShortIDSize]byte) {
	n.unicast(peerID, protocol.TypeHandshake, n.Identity.StaticPublic[:], true)
	n.handshakes.MarkSent(peerID)
}

func (n *Node) handleHandshake(p *protocol.Packet) {
	if !p.IsBroadcast() && p.RecipientID != n.Identity.NodeID {
		return
	}
	if len(p.Payload) != 32 {
		return
	}

	var theirStatic [32]byte
	copy(theirStatic[:], p.Payload)

	key, err := session.DeriveKey(&n.Identity.StaticPrivate, &theirStatic)
	if err != nil {
		n.emit(Event{Kind: EventError, ErrorCode: "handshake_failed", ErrorMessage: err.Error()})
		return
	}
	n.sessions.Put(p.SenderID, session.New(key))

	if !n.handshakes.HasSent(p.SenderID) {
		n.BeginHandshake(p.SenderID)
	}
}

// SendPrivateMessage encrypts content under the session established with recipientID and sends
// it as a unicast EncryptedEnvelope. If no session exists yet, it instead sends a Handshake to
// recipientID and returns ErrNoSession; the caller is responsible for retrying the send once a
// session has been established.
func (n *Node) SendPrivateMessage(content string, recipientID [protocol.ShortIDSize]byte) (messageID string, err error) {
	sess, ok := n.sessions.Get(recipientID)
	if !ok {
		n.BeginHandshake(recipientID)
		return "", ErrNoSession
	}

	messageID = uuid.New().String()

	var body []byte
	body = protocol.EncodeTLV(body, protocol.PrivateMessageTagID, []byte(messageID))
	body = protocol.EncodeTLV(body, protocol.PrivateMessageTagContent, []byte(content))

	if err := n.sendEnvelope(recipientID, sess, protocol.NoisePrivateMessage, body); err != nil {
		return "", err
	}
	return messageID, nil
}

// SendReadReceipt sends a read receipt for messageID to recipientID over its established session.
func (n *Node) SendReadReceipt(messageID string, recipientID [protocol.ShortIDSize]byte) error {
	sess, ok := n.sessions.Get(recipientID)
	if !ok {
		return ErrNoSession
	}
	return n.sendEnvelope(recipientID, sess, protocol.NoiseReadReceipt, []byte(messageID))
}

// sendDeliveryAck sends a delivery acknowledgement for messageID to recipientID.
func (n *Node) sendDeliveryAck(messageID string, recipientID [protocol.ShortIDSize]byte) error {
	sess, ok := n.sessions.Get(recipientID)
	if !ok {
		return ErrNoSession
	}
	return n.sendEnvelope(recipientID, sess, protocol.NoiseDeliveryAck, []byte(messageID))
}

// sendEnvelope encrypts a NoisePayloadType-prefixed body under sess and unicasts it as an
// EncryptedEnvelope. EncryptedEnvelope packets carry no outer signature: the AEAD tag already
// authenticates the content, with the recipient's own node ID bound in as associated data.
func (n *Node) sendEnvelope(recipientID [protocol.ShortIDSize]byte, sess *session.Session, noiseType protocol.NoisePayloadType, body []byte) error {
	plaintext := append([]byte{byte(noiseType)}, body...)

	ciphertext, err := sess.Encrypt(plaintext, recipientID[:])
	if err != nil {
		return err
	}

	n.unicast(recipientID, protocol.TypeEncryptedEnvelope, ciphertext, false)
	return nil
}

// handleEncryptedEnvelope decrypts an EncryptedEnvelope addressed to us and dispatches its inner
// NoisePayloadType. Envelopes addressed to another node are ignored here (the flood relay still
// forwards them toward their recipient) since this node cannot and must not decrypt them.
func (n *Node) handleEncryptedEnvelope(p *protocol.Packet) {
	if !p.IsBroadcast() && p.RecipientID != n.Identity.NodeID {
		return
	}

	sess, ok := n.sessions.Get(p.SenderID)
	if !ok {
		return
	}

	plaintext, err := sess.Decrypt(p.Payload, p.RecipientID[:])
	if err != nil {
		return
	}

	n.dispatchNoisePayload(p.SenderID, plaintext)
}

// dispatchNoisePayload handles one decrypted NoisePayloadType-prefixed buffer, used both for a
// directly received EncryptedEnvelope and for a reassembled TransactionChunks transfer.
func (n *Node) dispatchNoisePayload(senderID [protocol.ShortIDSize]byte, plaintext []byte) {
	if len(plaintext) < 1 {
		return
	}
	noiseType := protocol.NoisePayloadType(plaintext[0])
	body := plaintext[1:]

	switch noiseType {
	case protocol.NoisePrivateMessage:
		records, err := protocol.DecodeTLV(body)
		if err != nil {
			return
		}
		id, ok := protocol.Find(records, protocol.PrivateMessageTagID)
		if !ok {
			return
		}
		content, ok := protocol.Find(records, protocol.PrivateMessageTagContent)
		if !ok {
			return
		}
		n.emit(Event{
			Kind:           EventMessageReceived,
			MessageID:      string(id),
			SenderID:       senderID,
			SenderNickname: n.senderNickname(senderID),
			Content:        string(content),
			IsPrivate:      true,
		})
		// Acknowledge delivery to the sender. A failure here means the session disappeared
		// between decrypt and ack, which the sender treats the same as a lost ack.
		n.sendDeliveryAck(string(id), senderID)

	case protocol.NoiseReadReceipt:
		n.emit(Event{Kind: EventReadReceipt, MessageID: string(body), SenderID: senderID})

	case protocol.NoiseDeliveryAck:
		n.emit(Event{Kind: EventDeliveryAck, MessageID: string(body), SenderID: senderID})

	case protocol.NoiseOpaqueAppMsg:
		records, err := protocol.DecodeTLV(body)
		if err != nil {
			return
		}
		id, _ := protocol.Find(records, protocol.OpaqueMsgTagID)
		kind, _ := protocol.Find(records, protocol.OpaqueMsgTagKind)
		payload, _ := protocol.Find(records, protocol.OpaqueMsgTagPayload)
		n.emit(Event{
			Kind:         EventApplicationMessageReceived,
			SenderID:     senderID,
			AppMessageID: string(id),
			AppKind:      string(kind),
			AppPayload:   payload,
		})

	case protocol.NoiseOpaqueAppResp:
		records, err := protocol.DecodeTLV(body)
		if err != nil {
			return
		}
		id, _ := protocol.Find(records, protocol.OpaqueRespTagID)
		success, _ := protocol.Find(records, protocol.OpaqueRespTagSuccess)
		errText, _ := protocol.Find(records, protocol.OpaqueRespTagError)
		n.emit(Event{
			Kind:         EventApplicationResponseReceived,
			SenderID:     senderID,
			AppMessageID: string(id),
			AppSuccess:   success,
			AppError:     string(errText),
		})
	}
}

// SendFile splits data into 180-byte fragments and unicasts a FileTransferMetadata packet
// followed by each Fragment to recipientID, pacing successive fragments ~50ms apart. It returns
// as soon as the metadata packet has been enqueued; the fragments go out in the background.
func (n *Node) SendFile(recipientID [protocol.ShortIDSize]byte, fileName, mimeType string, data []byte) string {
	transferID := uuid.New().String()
	chunks := chunker.SplitFile(data)

	var meta []byte
	meta = protocol.EncodeTLV(meta, protocol.FileMetaTagTransferID, []byte(transferID))
	meta = protocol.EncodeTLV(meta, protocol.FileMetaTagFileName, []byte(fileName))
	meta = protocol.EncodeTLVUint32(meta, protocol.FileMetaTagFileSize, uint32(len(data)))
	meta = protocol.EncodeTLV(meta, protocol.FileMetaTagMimeType, []byte(mimeType))
	meta = protocol.EncodeTLVUint32(meta, protocol.FileMetaTagTotalChunks, uint32(len(chunks)))
	n.unicast(recipientID, protocol.TypeFileTransferMetadata, meta, true)

	go n.sendFragments(recipientID, transferID, chunks)
	return transferID
}

// SendFileFromPath reads a file from disk and sends it via SendFile, deriving the file name from
// the path and the MIME type from the file extension (falling back to application/octet-stream).
func (n *Node) SendFileFromPath(recipientID [protocol.ShortIDSize]byte, path string) (transferID string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("core: reading file: %w", err)
	}

	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	return n.SendFile(recipientID, filepath.Base(path), mimeType, data), nil
}

func (n *Node) sendFragments(recipientID [protocol.ShortIDSize]byte, transferID string, chunks [][]byte) {
	for i, chunk := range chunks {
		var payload []byte
		payload = protocol.EncodeTLV(payload, protocol.FragmentTagID, []byte(transferID))
		payload = protocol.EncodeTLVUint32(payload, protocol.FragmentTagChunkIndex, uint32(i))
		payload = protocol.EncodeTLVUint32(payload, protocol.FragmentTagTotalChunks, uint32(len(chunks)))
		payload = protocol.EncodeTLV(payload, protocol.FragmentTagChunkData, chunk)
		// Fragments are signed like every other packet. File fragments travel in plaintext, so
		// without the signature they would be the one packet type carrying no authentication at
		// all; opaque fragments are additionally covered by the AEAD tag once reassembled.
		n.unicast(recipientID, protocol.TypeFragment, payload, true)

		if i < len(chunks)-1 {
			select {
			case <-time.After(chunker.FragmentPacingDelay):
			case <-n.ctx.Done():
				return
			}
		}
	}
}

func (n *Node) handleFileTransferMetadata(p *protocol.Packet) {
	records, err := protocol.DecodeTLV(p.Payload)
	if err != nil {
		return
	}
	transferID, ok := protocol.Find(records, protocol.FileMetaTagTransferID)
	if !ok {
		return
	}
	fileName, _ := protocol.Find(records, protocol.FileMetaTagFileName)
	fileSize, ok := protocol.FindUint32(records, protocol.FileMetaTagFileSize)
	if !ok {
		return
	}
	mimeType, _ := protocol.Find(records, protocol.FileMetaTagMimeType)
	totalChunks, ok := protocol.FindUint32(records, protocol.FileMetaTagTotalChunks)
	if !ok {
		return
	}

	n.transfers.OfferFile(string(transferID), p.SenderID, string(fileName), uint64(fileSize), string(mimeType), totalChunks)
}

// handleOpaqueAppMessageMetadata registers an upcoming oversized encrypted application payload
// announced by an OpaqueAppMessageMetadata packet.
func (n *Node) handleOpaqueAppMessageMetadata(p *protocol.Packet) {
	records, err := protocol.DecodeTLV(p.Payload)
	if err != nil {
		return
	}
	txID, ok := protocol.Find(records, protocol.OpaqueMetaTagTxID)
	if !ok {
		return
	}
	totalSize, ok := protocol.FindUint32(records, protocol.OpaqueMetaTagTotalSize)
	if !ok {
		return
	}
	totalChunks, ok := protocol.FindUint32(records, protocol.OpaqueMetaTagTotalChunks)
	if !ok {
		return
	}

	n.transfers.OfferOpaque(string(txID), p.SenderID, uint64(totalSize), totalChunks)
}

func (n *Node) handleFragment(p *protocol.Packet) {
	records, err := protocol.DecodeTLV(p.Payload)
	if err != nil {
		return
	}
	transferID, ok := protocol.Find(records, protocol.FragmentTagID)
	if !ok {
		return
	}
	index, ok := protocol.FindUint32(records, protocol.FragmentTagChunkIndex)
	if !ok {
		return
	}
	data, ok := protocol.Find(records, protocol.FragmentTagChunkData)
	if !ok {
		return
	}

	transfer, err := n.transfers.AddChunk(string(transferID), index, data)
	if err != nil {
		// A fragment for an id with no metadata packet, or an already-discarded transfer, is
		// dropped: the baseline protocol has no retransmission or negative-ack.
		return
	}
	if !transfer.Complete() {
		return
	}

	n.transfers.Finish(transfer.TransferID)

	switch transfer.Kind {
	case chunker.KindFile:
		assembled := transfer.Assemble()
		n.emit(Event{
			Kind:      EventFileReceived,
			SenderID:  transfer.Sender,
			FileName:  transfer.FileName,
			FileSize:  transfer.FileSize,
			MimeType:  transfer.MimeType,
			Data:      base64.StdEncoding.EncodeToString(assembled),
			Checksum:  chunker.Checksum(assembled),
			Timestamp: n.nowMillis(),
		})

	case chunker.KindOpaque:
		sess, ok := n.sessions.Get(transfer.Sender)
		if !ok {
			return
		}
		plaintext, err := sess.Decrypt(transfer.Assemble(), n.Identity.NodeID[:])
		if err != nil {
			return
		}
		n.dispatchNoisePayload(transfer.Sender, plaintext)
	}
}

// SendOpaqueAppMessage encrypts an application-defined payload under the session established
// with recipientID. If the resulting ciphertext exceeds the fragmentation threshold it is sent
// as OpaqueAppMessageMetadata followed by Fragments; otherwise it is sent as a single
// EncryptedEnvelope.
func (n *Node) SendOpaqueAppMessage(recipientID [protocol.ShortIDSize]byte, kind string, payload []byte) (messageID string, err error) {
	sess, ok := n.sessions.Get(recipientID)
	if !ok {
		n.BeginHandshake(recipientID)
		return "", ErrNoSession
	}

	messageID = uuid.New().String()

	var body []byte
	body = protocol.EncodeTLV(body, protocol.OpaqueMsgTagID, []byte(messageID))
	body = protocol.EncodeTLV(body, protocol.OpaqueMsgTagKind, []byte(kind))
	body = protocol.EncodeTLV(body, protocol.OpaqueMsgTagPayload, payload)

	plaintext := append([]byte{byte(protocol.NoiseOpaqueAppMsg)}, body...)
	ciphertext, err := sess.Encrypt(plaintext, recipientID[:])
	if err != nil {
		return "", err
	}

	n.sendPossiblyFragmented(recipientID, ciphertext)
	return messageID, nil
}

// RespondToOpaqueAppMessage answers a previously received application message, carrying either a
// success payload or error text (never both).
func (n *Node) RespondToOpaqueAppMessage(id string, recipientID [protocol.ShortIDSize]byte, success []byte, errorText string) error {
	sess, ok := n.sessions.Get(recipientID)
	if !ok {
		return ErrNoSession
	}

	var body []byte
	body = protocol.EncodeTLV(body, protocol.OpaqueRespTagID, []byte(id))
	if errorText != "" {
		body = protocol.EncodeTLV(body, protocol.OpaqueRespTagError, []byte(errorText))
	} else {
		body = protocol.EncodeTLV(body, protocol.OpaqueRespTagSuccess, success)
	}

	plaintext := append([]byte{byte(protocol.NoiseOpaqueAppResp)}, body...)
	ciphertext, err := sess.Encrypt(plaintext, recipientID[:])
	if err != nil {
		return err
	}

	n.sendPossiblyFragmented(recipientID, ciphertext)
	return nil
}

func (n *Node) sendPossiblyFragmented(recipientID [protocol.ShortIDSize]byte, ciphertext []byte) {
	if len(ciphertext) <= chunker.OpaqueFragmentThreshold {
		n.unicast(recipientID, protocol.TypeEncryptedEnvelope, ciphertext, false)
		return
	}

	txID := uuid.New().String()
	chunks := chunker.SplitOpaque(ciphertext)

	var meta []byte
	meta = protocol.EncodeTLV(meta, protocol.OpaqueMetaTagTxID, []byte(txID))
	meta = protocol.EncodeTLVUint32(meta, protocol.OpaqueMetaTagTotalSize, uint32(len(ciphertext)))
	meta = protocol.EncodeTLVUint32(meta, protocol.OpaqueMetaTagTotalChunks, uint32(len(chunks)))
	n.unicast(recipientID, protocol.TypeOpaqueAppMessageMetadata, meta, true)

	go n.sendFragments(recipientID, txID, chunks)
}

// MyID returns this node's short identifier.
func (n *Node) MyID() [protocol.ShortIDSize]byte {
	return n.Identity.NodeID
}

// MyNickname returns this node's current nickname.
func (n *Node) MyNickname() string {
	return n.Identity.Nickname
}

// IdentityFingerprint returns the full hex-encoded fingerprint of this node's static public key.
func (n *Node) IdentityFingerprint() string {
	return n.Identity.Fingerprint()
}

// PeerFingerprint returns the full hex-encoded fingerprint of a known peer's static public key.
func (n *Node) PeerFingerprint(peerID [protocol.ShortIDSize]byte) (string, bool) {
	peer, ok := n.peers.Get(peerID)
	if !ok {
		return "", false
	}
	return peer.Fingerprint(), true
}

// MarkPeerVerified records that a peer's fingerprint was confirmed out of band, e.g. by the user
// comparing full fingerprints over another channel. The mesh never sets this flag itself.
func (n *Node) MarkPeerVerified(peerID [protocol.ShortIDSize]byte) {
	n.peers.MarkVerified(peerID)
	n.emit(Event{Kind: EventPeerListUpdated})
}

// HasSession reports whether a pairwise session currently exists with peerID.
func (n *Node) HasSession(peerID [protocol.ShortIDSize]byte) bool {
	_, ok := n.sessions.Get(peerID)
	return ok
}
