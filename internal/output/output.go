// Package output holds the sinks decoded payloads are handed to.
package output

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rjboer/gonrsc5/internal/decode"
	"github.com/rjboer/gonrsc5/internal/logging"
)

// Multi fans payloads out to several sinks. Each sink receives its own copy
// of the data.
type Multi []decode.Sink

func (m Multi) PushPDU(program int, data []byte) {
	for i, s := range m {
		if s == nil {
			continue
		}
		s.PushPDU(program, share(data, i, len(m)))
	}
}

func (m Multi) PushAncillary(kind decode.AncillaryKind, data []byte) {
	for i, s := range m {
		if s == nil {
			continue
		}
		s.PushAncillary(kind, share(data, i, len(m)))
	}
}

// share hands the original slice to the last sink and copies for the rest.
func share(data []byte, i, n int) []byte {
	if i == n-1 {
		return data
	}
	return append([]byte(nil), data...)
}

// ProgramFilter passes audio PDUs of one program and all ancillary data.
type ProgramFilter struct {
	Program int
	Next    decode.Sink
}

func (f ProgramFilter) PushPDU(program int, data []byte) {
	if program == f.Program {
		f.Next.PushPDU(program, data)
	}
}

func (f ProgramFilter) PushAncillary(kind decode.AncillaryKind, data []byte) {
	f.Next.PushAncillary(kind, data)
}

type item struct {
	ancillary bool
	program   int
	kind      decode.AncillaryKind
	data      []byte
}

// Async moves delivery to next onto its own goroutine so slow sinks never
// stall the sample callback. When the queue is full payloads are dropped
// and counted.
type Async struct {
	next    decode.Sink
	logger  logging.Logger
	queue   chan item
	dropped atomic.Uint64
	once    sync.Once
	done    chan struct{}
}

// NewAsync returns an Async sink with the given queue length; call Run to
// start delivery.
func NewAsync(next decode.Sink, queue int, logger logging.Logger) *Async {
	if queue <= 0 {
		queue = 256
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Async{
		next:   next,
		logger: logger.With(logging.Field{Key: "component", Value: "output"}),
		queue:  make(chan item, queue),
		done:   make(chan struct{}),
	}
}

func (a *Async) PushPDU(program int, data []byte) {
	a.enqueue(item{program: program, data: data})
}

func (a *Async) PushAncillary(kind decode.AncillaryKind, data []byte) {
	a.enqueue(item{ancillary: true, kind: kind, data: data})
}

func (a *Async) enqueue(it item) {
	select {
	case a.queue <- it:
	default:
		if a.dropped.Add(1) == 1 {
			a.logger.Warn("output queue full, dropping payloads")
		}
	}
}

// Dropped counts payloads lost to a full queue.
func (a *Async) Dropped() uint64 { return a.dropped.Load() }

// Run delivers queued payloads until ctx is cancelled or Close is called,
// then drains what is left.
func (a *Async) Run(ctx context.Context) {
	for {
		select {
		case it := <-a.queue:
			a.deliver(it)
		case <-ctx.Done():
			a.drain()
			return
		case <-a.done:
			a.drain()
			return
		}
	}
}

func (a *Async) drain() {
	for {
		select {
		case it := <-a.queue:
			a.deliver(it)
		default:
			return
		}
	}
}

func (a *Async) deliver(it item) {
	if it.ancillary {
		a.next.PushAncillary(it.kind, it.data)
		return
	}
	a.next.PushPDU(it.program, it.data)
}

// Close stops Run after the queue drains.
func (a *Async) Close() {
	a.once.Do(func() { close(a.done) })
}

// Recorder receives payload events, typically the telemetry hub.
type Recorder interface {
	RecordPDU(program, size int)
	RecordAncillary(kind string, size int)
}

// Reporter forwards payload events to a Recorder.
type Reporter struct {
	Recorder Recorder
}

func (r Reporter) PushPDU(program int, data []byte) {
	r.Recorder.RecordPDU(program, len(data))
}

func (r Reporter) PushAncillary(kind decode.AncillaryKind, data []byte) {
	r.Recorder.RecordAncillary(kind.String(), len(data))
}
