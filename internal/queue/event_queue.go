package queue

import (
	"context"
	"log/slog"
	"sync"
)

/*
Pipe is one direction of the link between the connection side and the
simulation unit.

The pipe guarantees:
1. Envelopes are delivered in the order they were enqueued
2. Enqueue never blocks the sender (no acknowledgment, no backpressure)
3. A full or closed pipe drops the envelope and logs it
*/

// Pipe carries encoded envelopes from one unit to the other
type Pipe struct {
	name   string
	frames chan []byte
	mu     sync.RWMutex
	closed bool
	logger *slog.Logger
}

// NewPipe creates a pipe with the specified buffer size
func NewPipe(name string, bufferSize int, logger *slog.Logger) *Pipe {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	return &Pipe{
		name:   name,
		frames: make(chan []byte, bufferSize),
		logger: logger.With(slog.String("component", "pipe"), slog.String("pipe", name)),
	}
}

// Enqueue hands a frame to the pipe. Returns false if it was dropped.
func (p *Pipe) Enqueue(frame []byte) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.logger.Warn("pipe is closed, dropping frame")
		return false
	}

	select {
	case p.frames <- frame:
		return true
	default:
		p.logger.Error("pipe is full, dropping frame", slog.Int("capacity", cap(p.frames)))
		return false
	}
}

// Frames exposes the receive side for consumers that select on several sources
func (p *Pipe) Frames() <-chan []byte {
	return p.frames
}

// ProcessorFunc handles one frame
type ProcessorFunc func(frame []byte)

// Process delivers frames to processor one at a time until ctx is done or
// the pipe is closed and drained.
func (p *Pipe) Process(ctx context.Context, processor ProcessorFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-p.frames:
			if !ok {
				return
			}
			processor(frame)
		}
	}
}

// Close stops the pipe from accepting new frames
func (p *Pipe) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.closed {
		p.closed = true
		close(p.frames)
		p.logger.Debug("pipe closed")
	}
}

// Len returns the number of frames waiting in the pipe
func (p *Pipe) Len() int {
	return len(p.frames)
}
