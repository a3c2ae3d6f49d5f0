// Package sse implements a per-user Server-Sent Events broker for board updates.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// Event types pushed to clients.
const (
	ListCreated  = "list.created"
	ListUpdated  = "list.updated"
	ListDeleted  = "list.deleted"
	NoteCreated  = "note.created"
	NoteUpdated  = "note.updated"
	NoteDeleted  = "note.deleted"
	NoteMoved    = "note.moved"
	Toast        = "toast"
	BoardUpdated = "board.updated"
)

// Event represents an SSE event to deliver to one user's clients.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type publishReq struct {
	user  string
	event Event
	board bool
}

type subscribeReq struct {
	user string
	ch   chan []byte
}

// Broker manages SSE client connections and delivers events per user.
//
// Concurrency model: a single internal event loop (goroutine) owns mutable state
// (clients per user + board throttle timestamps). Public methods communicate
// with this loop through channels, so no mutexes are required.
type Broker struct {
	boardMin time.Duration

	subscribeCh   chan subscribeReq
	unsubscribeCh chan chan []byte
	publishCh     chan publishReq
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a new SSE broker with the given board.updated throttle interval.
func NewBroker(boardThrottle time.Duration) *Broker {
	if boardThrottle <= 0 {
		boardThrottle = 2 * time.Second
	}

	b := &Broker{
		boardMin:      boardThrottle,
		subscribeCh:   make(chan subscribeReq),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan publishReq, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[string]map[chan []byte]struct{})
	owner := make(map[chan []byte]string)
	lastBoard := make(map[string]time.Time)

	deliver := func(user string, event Event) {
		set := clients[user]
		if len(set) == 0 {
			return
		}
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		raw := []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, payload))

		for ch := range set {
			select {
			case ch <- raw:
			default:
				// Client buffer full; skip to avoid blocking broker loop.
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range owner {
				close(ch)
			}
			return

		case req := <-b.subscribeCh:
			set, ok := clients[req.user]
			if !ok {
				set = make(map[chan []byte]struct{})
				clients[req.user] = set
			}
			set[req.ch] = struct{}{}
			owner[req.ch] = req.user

		case ch := <-b.unsubscribeCh:
			user, ok := owner[ch]
			if !ok {
				continue
			}
			delete(owner, ch)
			delete(clients[user], ch)
			if len(clients[user]) == 0 {
				delete(clients, user)
				delete(lastBoard, user)
			}
			close(ch)

		case req := <-b.publishCh:
			deliver(req.user, req.event)
			if !req.board {
				continue
			}
			now := time.Now()
			if now.Sub(lastBoard[req.user]) >= b.boardMin {
				lastBoard[req.user] = now
				deliver(req.user, Event{Type: BoardUpdated, Data: map[string]string{}})
			}

		case resp := <-b.countReqCh:
			resp <- len(owner)
		}
	}
}

// Close gracefully stops broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a new client for user and returns its channel.
func (b *Broker) Subscribe(user string) chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- subscribeReq{user: user, ch: ch}:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients across all users.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to every client of user.
func (b *Broker) Publish(user string, event Event) {
	b.send(publishReq{user: user, event: event})
}

// PublishBoardEvent sends a board change and a throttled board.updated event.
func (b *Broker) PublishBoardEvent(user, kind string, data any) {
	b.send(publishReq{user: user, event: Event{Type: kind, Data: data}, board: true})
}

// Toast sends a user-facing notification.
func (b *Broker) Toast(user, message string) {
	b.send(publishReq{user: user, event: Event{Type: Toast, Data: map[string]string{"message": message}}})
}

func (b *Broker) send(req publishReq) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- req:
	case <-b.stopped:
	}
}

// ServeUser streams user's events until the request ends (GET /api/events).
func (b *Broker) ServeUser(w http.ResponseWriter, r *http.Request, user string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe(user)
	defer b.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
