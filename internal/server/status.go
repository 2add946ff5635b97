package server

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/Karleow/SimpleSpeedtest/internal/metrics"
)

const (
	kindDownload = "download"
	kindUpload   = "upload"
)

type StatusEntry struct {
	Kind       string `json:"kind"`
	ID         string `json:"id"`
	ClientAddr string `json:"client_addr"`
	Country    string `json:"country,omitempty"`
	Bytes      uint64 `json:"bytes"`
	Degraded   bool   `json:"degraded,omitempty"`
	// LastActivity is Unix milliseconds; Age is seconds since creation.
	LastActivity int64 `json:"last_activity"`
	Age          int64 `json:"age"`
}

type statusEntry struct {
	kind          string
	id            string
	clientAddr    string
	country       string
	bytes         uint64
	degraded      bool
	lastActivity  time.Time
	created       time.Time
	lastBroadcast time.Time
}

// StatusStore tracks in-flight transfers and mirrors changes to the hub.
type StatusStore struct {
	mu      sync.Mutex
	entries map[string]*statusEntry
	hub     *StatusHub
	metrics *metrics.Metrics
}

func NewStatusStore(hub *StatusHub, metrics *metrics.Metrics) *StatusStore {
	return &StatusStore{
		entries: make(map[string]*statusEntry),
		hub:     hub,
		metrics: metrics,
	}
}

func (s *StatusStore) Add(kind, id, clientAddr, country string, degraded bool) {
	now := time.Now()
	entry := &statusEntry{
		kind:         kind,
		id:           id,
		clientAddr:   clientAddr,
		country:      country,
		degraded:     degraded,
		lastActivity: now,
		created:      now,
	}
	s.mu.Lock()
	s.entries[id] = entry
	snapshot := s.toStatusEntry(entry)
	s.mu.Unlock()
	s.hub.Broadcast(statusMessage{Type: "add", Entry: &snapshot})
}

// Update adds delta bytes to id, broadcasting at most once per second.
func (s *StatusStore) Update(id string, delta uint64) {
	now := time.Now()
	s.mu.Lock()
	entry := s.entries[id]
	if entry == nil {
		s.mu.Unlock()
		return
	}
	entry.bytes += delta
	entry.lastActivity = now
	var snapshot *StatusEntry
	if now.Sub(entry.lastBroadcast) >= time.Second {
		entry.lastBroadcast = now
		temp := s.toStatusEntry(entry)
		snapshot = &temp
	}
	s.mu.Unlock()
	if snapshot != nil {
		s.hub.Broadcast(statusMessage{Type: "update", Entry: snapshot})
	}
}

func (s *StatusStore) Remove(id string) {
	s.mu.Lock()
	entry := s.entries[id]
	delete(s.entries, id)
	s.mu.Unlock()
	if entry != nil {
		s.hub.Broadcast(statusMessage{Type: "remove", ID: id, Kind: entry.kind})
	}
}

// Snapshot returns active entries ordered by creation.
func (s *StatusStore) Snapshot() []StatusEntry {
	s.mu.Lock()
	entries := make([]*statusEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].created.Before(entries[j].created) })
	out := make([]StatusEntry, 0, len(entries))
	for _, entry := range entries {
		out = append(out, s.toStatusEntry(entry))
	}
	s.mu.Unlock()
	return out
}

func (s *StatusStore) Rates() metrics.Rates {
	if s.metrics == nil {
		return metrics.Rates{}
	}
	return s.metrics.Rates()
}

func (s *StatusStore) toStatusEntry(entry *statusEntry) StatusEntry {
	return StatusEntry{
		Kind:         entry.kind,
		ID:           entry.id,
		ClientAddr:   entry.clientAddr,
		Country:      entry.country,
		Bytes:        entry.bytes,
		Degraded:     entry.degraded,
		LastActivity: entry.lastActivity.UnixMilli(),
		Age:          int64(time.Since(entry.created).Seconds()),
	}
}

type statusMessage struct {
	Type  string       `json:"type"`
	Entry *StatusEntry `json:"entry,omitempty"`
	ID    string       `json:"id,omitempty"`
	Kind  string       `json:"kind,omitempty"`
}

type snapshotMessage struct {
	SchemaVersion int           `json:"schema_version"`
	Type          string        `json:"type"`
	Timestamp     int64         `json:"timestamp"`
	PoolReady     bool          `json:"pool_ready"`
	DownloadBps   float64       `json:"download_bps"`
	UploadBps     float64       `json:"upload_bps"`
	Streams       []StatusEntry `json:"streams"`
}

type errorMessage struct {
	SchemaVersion int    `json:"schema_version"`
	Type          string `json:"type"`
	Code          string `json:"code"`
	Message       string `json:"message"`
}

type StatusHub struct {
	mu        sync.Mutex
	clients   map[*statusClient]struct{}
	broadcast chan statusMessage
	ctxDone   <-chan struct{}
}

type statusClient struct {
	send   chan []byte
	mu     sync.Mutex
	closed bool
}

func newStatusClient() *statusClient {
	return &statusClient{send: make(chan []byte, 32)}
}

func NewStatusHub(ctxDone <-chan struct{}) *StatusHub {
	h := &StatusHub{
		clients:   make(map[*statusClient]struct{}),
		broadcast: make(chan statusMessage, 128),
		ctxDone:   ctxDone,
	}
	go h.run()
	return h
}

func (h *StatusHub) run() {
	for {
		select {
		case <-h.ctxDone:
			h.mu.Lock()
			for client := range h.clients {
				client.close()
			}
			h.clients = make(map[*statusClient]struct{})
			h.mu.Unlock()
			return
		case msg := <-h.broadcast:
			data, _ := json.Marshal(msg)
			h.mu.Lock()
			for client := range h.clients {
				client.trySend(data)
			}
			h.mu.Unlock()
		}
	}
}

func (h *StatusHub) Register(client *statusClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
}

func (h *StatusHub) Unregister(client *statusClient) {
	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()
	client.close()
}

// Broadcast drops msg when the hub is saturated.
func (h *StatusHub) Broadcast(msg statusMessage) {
	select {
	case h.broadcast <- msg:
	default:
	}
}

// trySend queues data unless the client is closed or its buffer is full.
func (c *statusClient) trySend(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *statusClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}
