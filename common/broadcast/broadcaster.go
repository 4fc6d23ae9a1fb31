// Package broadcast fans execution status and log frames out to live
// subscribers. A slow or dead subscriber is evicted on the first failed send
// rather than blocking the publisher.
package broadcast

import (
	"sync"
	"time"

	"github.com/flowpilot/flowpilot/common/logger"
)

// Frame kinds.
const (
	FrameStatus    = "status"
	FrameLog       = "log"
	FrameError     = "error"
	FrameHeartbeat = "heartbeat"
)

// Frame is one message pushed to execution subscribers.
type Frame struct {
	Type        string         `json:"type"`
	ExecutionID string         `json:"execution_id"`
	Timestamp   time.Time      `json:"timestamp"`
	Data        map[string]any `json:"data,omitempty"`
}

// NewFrame builds a frame stamped with the current time.
func NewFrame(frameType, executionID string, data map[string]any) Frame {
	return Frame{
		Type:        frameType,
		ExecutionID: executionID,
		Timestamp:   time.Now().UTC(),
		Data:        data,
	}
}

// Subscriber receives frames for one execution.
type Subscriber interface {
	Send(frame Frame) error
	Close() error
}

// Broadcaster maintains the execution_id to subscriber-set mapping.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[string]map[Subscriber]struct{}
	log  *logger.Logger
}

// NewBroadcaster creates an empty broadcaster
func NewBroadcaster(log *logger.Logger) *Broadcaster {
	return &Broadcaster{
		subs: make(map[string]map[Subscriber]struct{}),
		log:  log,
	}
}

// Subscribe registers a subscriber and immediately sends the connected
// status frame.
func (b *Broadcaster) Subscribe(executionID string, sub Subscriber) {
	b.mu.Lock()
	set, exists := b.subs[executionID]
	if !exists {
		set = make(map[Subscriber]struct{})
		b.subs[executionID] = set
	}
	set[sub] = struct{}{}
	b.mu.Unlock()

	if err := sub.Send(NewFrame(FrameStatus, executionID, map[string]any{"status": "connected"})); err != nil {
		b.Unsubscribe(executionID, sub)
	}
}

// Unsubscribe removes a subscriber.
func (b *Broadcaster) Unsubscribe(executionID string, sub Subscriber) {
	b.mu.Lock()
	if set, exists := b.subs[executionID]; exists {
		delete(set, sub)
		if len(set) == 0 {
			delete(b.subs, executionID)
		}
	}
	b.mu.Unlock()
}

// Publish fans a frame out to every subscriber of the execution, evicting
// subscribers whose send fails.
func (b *Broadcaster) Publish(executionID string, frame Frame) {
	b.mu.RLock()
	set := b.subs[executionID]
	targets := make([]Subscriber, 0, len(set))
	for sub := range set {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		if err := sub.Send(frame); err != nil {
			b.log.Debug("evicting subscriber after failed send",
				"execution_id", executionID, "error", err)
			b.Unsubscribe(executionID, sub)
			sub.Close()
		}
	}
}

// Finish publishes the final status frame, then closes and removes every
// subscriber of the execution.
func (b *Broadcaster) Finish(executionID string, frame Frame) {
	b.Publish(executionID, frame)

	b.mu.Lock()
	set := b.subs[executionID]
	delete(b.subs, executionID)
	b.mu.Unlock()

	for sub := range set {
		sub.Close()
	}
}

// SubscriberCount returns the number of subscribers for an execution
func (b *Broadcaster) SubscriberCount(executionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[executionID])
}
