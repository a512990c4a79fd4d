/*
File Name:  main.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner
*/

package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	core "github.com/meshlink/core"
	"github.com/meshlink/core/controlapi"
	"github.com/meshlink/core/peerdir"
	"github.com/meshlink/core/protocol"
	"github.com/meshlink/core/store"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the node config file")
	flag.Parse()

	cfg, err := core.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("meshd: loading config: %v", err)
	}

	closer, err := cfg.SetupLogging()
	if err != nil {
		log.Fatalf("meshd: setting up logging: %v", err)
	}
	defer closer.Close()

	secrets, err := store.NewPogrebStore(cfg.KeyStorePath)
	if err != nil {
		log.Fatalf("meshd: opening key store: %v", err)
	}
	defer secrets.Close()

	node, err := core.New(cfg, secrets, &core.Filters{
		PeerDiscovered: func(p peerdir.Peer) {
			log.Printf("peer discovered: %s (%x)", p.Nickname, p.ID)
		},
		DuplicateDropped: func(p *protocol.Packet) {
			log.Printf("dropped duplicate %s from %x", p.Type, p.SenderID)
		},
	})
	if err != nil {
		log.Fatalf("meshd: starting node: %v", err)
	}
	defer node.Close()

	var server *controlapi.Server
	if cfg.ControlAPIListen != "" {
		server = controlapi.NewServer(node)
		go func() {
			if err := http.ListenAndServe(cfg.ControlAPIListen, server); err != nil {
				log.Printf("meshd: control API stopped: %v", err)
			}
		}()
	}

	// Node.Events() has a single consumer by design; this goroutine both logs and, if the
	// control API is running, forwards to its WebSocket clients.
	go func() {
		for ev := range node.Events() {
			switch ev.Kind {
			case core.EventMessageReceived:
				log.Printf("message from %s: %s", ev.SenderNickname, ev.Content)
			case core.EventFileReceived:
				log.Printf("file received from %x: %s (%d bytes)", ev.SenderID, ev.FileName, ev.FileSize)
			case core.EventPeerListUpdated:
				log.Printf("peer list updated, %d known", len(node.Peers()))
			case core.EventConnectionStateChanged:
				log.Printf("peer %x connected=%v", ev.PeerID, ev.Connected)
			case core.EventError:
				log.Printf("error [%s]: %s", ev.ErrorCode, ev.ErrorMessage)
			}
			if server != nil {
				server.Broadcast(controlapi.EventView(ev))
			}
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("meshd: shutting down")
}
