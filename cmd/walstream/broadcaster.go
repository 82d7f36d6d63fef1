package main

import (
	"sync"

	"go.uber.org/zap"
)

// Broadcaster manages a set of listeners and broadcasts messages to them.
type Broadcaster struct {
	mu        sync.Mutex
	listeners map[chan []byte]struct{}
	log       *zap.Logger
}

func NewBroadcaster(log *zap.Logger) *Broadcaster {
	return &Broadcaster{
		listeners: make(map[chan []byte]struct{}),
		log:       log,
	}
}

// AddListener registers a new channel to receive broadcasts.
func (b *Broadcaster) AddListener(listener chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[listener] = struct{}{}
	b.log.Info("listener added", zap.Int("listeners", len(b.listeners)))
}

// RemoveListener unregisters a channel.
func (b *Broadcaster) RemoveListener(listener chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.listeners, listener)
	b.log.Info("listener removed", zap.Int("listeners", len(b.listeners)))
}

// Broadcast sends msg to every listener. A listener whose buffer is full
// misses the message; consumers treat a gap like a reconnect.
func (b *Broadcaster) Broadcast(msg []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for listener := range b.listeners {
		select {
		case listener <- msg:
		default:
			b.log.Warn("listener channel full, dropping message")
		}
	}
}

// Len is the number of listeners.
func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}
