package transport

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jpillora/sshtransport/transport/packet"
)

// heartbeater periodically emits SSH_MSG_IGNORE to keep the connection
// alive when nothing else has gone out recently. Purely a keepalive —
// not required for protocol correctness — and tolerant of the
// transport being mid-kex: its writes go through Session.Write, whose
// kex gate lets SSH_MSG_IGNORE (a transport-range message) through
// while a kex is in progress.
type heartbeater struct {
	s *Session

	mu       sync.Mutex
	interval int // seconds; <= 0 disables

	lastWrite atomic.Int64 // unix nanos

	stopOnce sync.Once
	stopCh   chan struct{}
}

func newHeartbeater(s *Session, interval int) *heartbeater {
	h := &heartbeater{s: s, interval: interval, stopCh: make(chan struct{})}
	h.lastWrite.Store(time.Now().UnixNano())
	return h
}

func (h *heartbeater) getInterval() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.interval
}

func (h *heartbeater) setInterval(interval int) {
	h.mu.Lock()
	h.interval = interval
	h.mu.Unlock()
}

func (h *heartbeater) noteWrite() {
	h.lastWrite.Store(time.Now().UnixNano())
}

func (h *heartbeater) start() {
	go h.loop()
}

// interrupt stops the heartbeater. Safe to call multiple times and
// concurrently with loop exiting on its own.
func (h *heartbeater) interrupt() {
	h.stopOnce.Do(func() { close(h.stopCh) })
}

func (h *heartbeater) loop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			interval := h.getInterval()
			if interval <= 0 {
				continue
			}
			idle := time.Since(time.Unix(0, h.lastWrite.Load()))
			if idle < time.Duration(interval)*time.Second {
				continue
			}
			payload := packet.New().PutByte(byte(MsgIgnore)).PutString("").Bytes()
			if _, err := h.s.Write(payload); err != nil {
				h.s.logger().Debug("heartbeat write failed", "err", err)
				return
			}
		}
	}
}
