// Package stream carries timestamped power/wavelength samples from the
// acquisition loop to its consumers.
//
// A Stream is a bounded ring buffer with a drop-oldest overflow policy: the
// producer never blocks, and when the buffer is full the oldest queued sample
// is discarded to make room. Each sample is delivered to exactly one call of
// Next, Drain or TryNext. A producer ends the stream with Close or
// CloseWithError; consumers drain what is left and then observe the terminal
// error.
package stream

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultCapacity bounds a stream created with a non-positive capacity.
const DefaultCapacity = 1024

// ErrClosed is returned by Publish after Close, and by Next once a cleanly
// closed stream is empty.
var ErrClosed = errors.New("sample stream closed")

// Sample is one timestamped reading. Wavelength and power always come from
// the same acquisition tick.
type Sample struct {
	Timestamp  time.Time `json:"timestamp"`
	Wavelength float64   `json:"wavelength_nm"`
	Power      float64   `json:"power_dbm"`
}

// Stats reports stream counters.
type Stats struct {
	Capacity  int    `json:"capacity"`
	Queued    int    `json:"queued"`
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
	Closed    bool   `json:"closed"`
}

// Stream is a bounded single-producer sample queue.
type Stream struct {
	mu     sync.Mutex
	buf    []Sample
	head   int
	size   int
	closed bool
	err    error

	latest    Sample
	hasLatest bool

	published uint64
	dropped   uint64

	notify chan struct{}
	done   chan struct{}
}

// New returns a stream holding at most capacity queued samples.
func New(capacity int) *Stream {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Stream{
		buf:    make([]Sample, capacity),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Publish enqueues a sample, evicting the oldest one if the buffer is full.
func (s *Stream) Publish(sample Sample) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.size == len(s.buf) {
		s.head = (s.head + 1) % len(s.buf)
		s.size--
		s.dropped++
	}
	s.buf[(s.head+s.size)%len(s.buf)] = sample
	s.size++
	s.published++
	s.latest = sample
	s.hasLatest = true
	s.mu.Unlock()

	s.signal()
	return nil
}

func (s *Stream) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// pop removes the oldest sample. Caller holds s.mu.
func (s *Stream) pop() Sample {
	sample := s.buf[s.head]
	s.buf[s.head] = Sample{}
	s.head = (s.head + 1) % len(s.buf)
	s.size--
	return sample
}

// TryNext returns the oldest queued sample without blocking.
func (s *Stream) TryNext() (Sample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.size == 0 {
		return Sample{}, false
	}
	return s.pop(), true
}

// Next blocks until a sample is available, the stream is closed and empty, or
// ctx is done. After a CloseWithError the terminal error is returned once the
// buffer has been drained.
func (s *Stream) Next(ctx context.Context) (Sample, error) {
	for {
		s.mu.Lock()
		if s.size > 0 {
			sample := s.pop()
			more := s.size > 0
			s.mu.Unlock()
			if more {
				// another consumer may be parked on notify
				s.signal()
			}
			return sample, nil
		}
		if s.closed {
			err := s.err
			s.mu.Unlock()
			if err == nil {
				err = ErrClosed
			}
			return Sample{}, err
		}
		s.mu.Unlock()

		select {
		case <-s.notify:
		case <-s.done:
		case <-ctx.Done():
			return Sample{}, ctx.Err()
		}
	}
}

// Drain removes and returns up to max queued samples, oldest first. A
// non-positive max drains everything.
func (s *Stream) Drain(max int) []Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.size
	if max > 0 && max < n {
		n = max
	}
	out := make([]Sample, n)
	for i := range out {
		out[i] = s.pop()
	}
	return out
}

// Latest returns the most recently published sample whether or not it has
// been consumed. It is meant for status displays.
func (s *Stream) Latest() (Sample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.hasLatest
}

// Close ends the stream without an error.
func (s *Stream) Close() {
	s.CloseWithError(nil)
}

// CloseWithError ends the stream with a terminal error. Only the first close
// takes effect.
func (s *Stream) CloseWithError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.done)
}

// Err returns the terminal error, or nil if the stream is open or was closed
// cleanly.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed when the stream is closed.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Stats returns a snapshot of the stream counters.
func (s *Stream) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Capacity:  len(s.buf),
		Queued:    s.size,
		Published: s.published,
		Dropped:   s.dropped,
		Closed:    s.closed,
	}
}
