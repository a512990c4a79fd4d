/*
File Name:  Pogreb.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner
*/

package store

import (
	"io"
	"log"
	"sync"

	"github.com/akrylysov/pogreb"
)

// PogrebStore is a key/value store using Pogreb, used to persist a node's two private keys
// across restarts.
type PogrebStore struct {
	mutex    *sync.Mutex
	filename string
	db       *pogreb.DB
}

// NewPogrebStore create a properly initialized Pogreb store.
func NewPogrebStore(filename string) (store *PogrebStore, err error) {
	pogreb.SetLogger(log.New(io.Discard, "", 0))

	// if the database does not exist, it will be created
	db, err := pogreb.Open(filename, nil)
	if err != nil {
		return nil, err
	}

	return &PogrebStore{
		mutex:    &sync.Mutex{},
		filename: filename,
		db:       db,
	}, nil
}

// Set stores the key/value pair.
func (store *PogrebStore) Set(key []byte, data []byte) error {
	return store.db.Put(key, data)
}

// Get returns the value for the key if present.
func (store *PogrebStore) Get(key []byte) (data []byte, found bool) {
	value, err := store.db.Get(key)
	if err != nil || value == nil {
		return nil, false
	}
	return value, true
}

// Delete deletes a key/value pair.
func (store *PogrebStore) Delete(key []byte) {
	store.db.Delete(key)
}

// Close flushes and closes the underlying Pogreb database.
func (store *PogrebStore) Close() error {
	return store.db.Close()
}
