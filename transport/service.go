package transport

import "github.com/jpillora/sshtransport/transport/packet"

// Service is the higher layer multiplexed over the transport — e.g. a
// user-authentication or connection/channel service. Exactly one is
// active at a time (see Session.SetService); it is handed every
// decoded packet whose message id is >= 50, plus lifecycle
// notifications. Implementing a real service (userauth, channels) is
// out of scope for this module; the package's tests use minimal
// do-nothing services (fakeService, recordingService).
type Service interface {
	Name() string
	Handle(msg Message, buf *packet.Buffer) error
	NotifyDisconnect()
	NotifyError(err error)
	NotifyUnimplemented(seq uint32)
}

// nullService is the sentinel "no active service": it silently
// discards everything, so Session never has to special-case a nil
// service at a dispatch site. Equivalent to a sum-typed Service with
// an Inactive variant.
type nullService struct{}

func (nullService) Name() string                         { return "null-service" }
func (nullService) Handle(Message, *packet.Buffer) error { return nil }
func (nullService) NotifyDisconnect()                    {}
func (nullService) NotifyError(error)                    {}
func (nullService) NotifyUnimplemented(uint32)           {}
