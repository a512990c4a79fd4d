/*
File Name:  Hash.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner
*/

package protocol

import (
	"crypto/sha256"
)

// HashSize is the SHA-256 digest size = 256 bits.
const HashSize = sha256.Size

// HashData is the fingerprint hash used throughout the mesh for node identifiers: SHA-256.
func HashData(data []byte) (hash []byte) {
	sum := sha256.Sum256(data)
	return sum[:]
}

// ShortIDSize is the length in bytes of the truncated node ID used on the wire (senderId/recipientId).
const ShortIDSize = 8

// PublicKeyToNodeID derives the short node ID carried in packet headers from a node's static
// X25519 key-agreement public key. It is the first ShortIDSize bytes of SHA-256(staticPublicKey).
func PublicKeyToNodeID(staticPublicKey []byte) (nodeID []byte) {
	full := HashData(staticPublicKey)
	return full[:ShortIDSize]
}
