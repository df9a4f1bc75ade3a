package transport

import "sync/atomic"

// reader is the dedicated input-pumping goroutine: read a packet from
// the transport, feed it to the decoder, hand the result to
// Session.handle, repeat. It never holds the write lock itself and
// never blocks on anything but the decoder and Session.handle's own
// dispatch; that dispatch may write (kex replies, SSH_MSG_UNIMPLEMENTED)
// and then waits for the write lock like any other writer.
type reader struct {
	s     *Session
	alive atomic.Bool
	done  chan struct{}
}

func newReader(s *Session) *reader {
	return &reader{s: s, done: make(chan struct{})}
}

func (r *reader) start() {
	r.alive.Store(true)
	go r.loop()
}

func (r *reader) isAlive() bool {
	return r.alive.Load()
}

// stop is advisory: the reader exits on its own once the connection
// is closed out from under it (a blocked Read returns an error), there
// being no portable way to interrupt a blocking io.Reader.
func (r *reader) stop() {}

func (r *reader) loop() {
	defer func() {
		r.alive.Store(false)
		close(r.done)
	}()

	for {
		msg, buf, err := r.s.decoder.readPacket(r.s.connInfo.in)
		if err != nil {
			if r.s.closeEvent.IsSet() {
				return
			}
			r.s.die(err)
			return
		}

		if err := r.s.handle(msg, buf); err != nil {
			if r.s.closeEvent.IsSet() {
				return
			}
			r.s.die(err)
			return
		}
	}
}
