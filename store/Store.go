/*
File Name:  Store.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Key-value store interface the node uses for its durable secrets: the two private keys
(`mesh.privateKey`, `mesh.signingKey`) and nothing else. The mesh has no use for a per-key
expiration (there is no blob cache here, just two keys that live for the node's lifetime), so
the interface is reduced to Get and Set, the two operations identity.LoadOrCreate/Persist call,
plus Delete.
*/

package store

// Store is the interface for implementing the node's persistent key/value storage: the static
// key-agreement private key and the signing private key, loaded once at startup and never
// otherwise touched.
type Store interface {
	// Set stores the key/value pair.
	Set(key []byte, data []byte) error

	// Get returns the value for the key if present.
	Get(key []byte) (data []byte, found bool)

	// Delete deletes a key/value pair.
	Delete(key []byte)
}
