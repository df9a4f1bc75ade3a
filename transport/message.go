package transport

import "fmt"

// Message identifies the type of an SSH packet by its first payload
// byte (RFC 4250 §4.1). Values 1-49 are transport-layer, 50+ are
// handed to whatever Service is currently active.
type Message byte

// Transport-layer message numbers used directly by the supervisor or
// the key exchanger.
const (
	MsgDisconnect     Message = 1
	MsgIgnore         Message = 2
	MsgUnimplemented  Message = 3
	MsgDebug          Message = 4
	MsgServiceRequest Message = 5
	MsgServiceAccept  Message = 6

	MsgKexInit Message = 20
	MsgNewKeys Message = 21

	MsgKexECDHInit  Message = 30
	MsgKexECDHReply Message = 31
)

// In reports whether m falls within [lo, hi] inclusive.
func (m Message) In(lo, hi Message) bool {
	return m >= lo && m <= hi
}

// Geq reports whether m >= n.
func (m Message) Geq(n Message) bool {
	return m >= n
}

func (m Message) String() string {
	switch m {
	case MsgDisconnect:
		return "SSH_MSG_DISCONNECT"
	case MsgIgnore:
		return "SSH_MSG_IGNORE"
	case MsgUnimplemented:
		return "SSH_MSG_UNIMPLEMENTED"
	case MsgDebug:
		return "SSH_MSG_DEBUG"
	case MsgServiceRequest:
		return "SSH_MSG_SERVICE_REQUEST"
	case MsgServiceAccept:
		return "SSH_MSG_SERVICE_ACCEPT"
	case MsgKexInit:
		return "SSH_MSG_KEXINIT"
	case MsgNewKeys:
		return "SSH_MSG_NEWKEYS"
	case MsgKexECDHInit:
		return "SSH_MSG_KEX_ECDH_INIT"
	case MsgKexECDHReply:
		return "SSH_MSG_KEX_ECDH_REPLY"
	default:
		return fmt.Sprintf("SSH_MSG_UNKNOWN(%d)", byte(m))
	}
}

// isKexMessage reports whether msg belongs to the key-exchange
// sub-protocol range handed to the KeyExchanger: {20, 21} ∪ [30, 49].
func isKexMessage(msg Message) bool {
	return msg == MsgKexInit || msg == MsgNewKeys || msg.In(30, 49)
}
