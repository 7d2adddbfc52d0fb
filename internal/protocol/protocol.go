// Package protocol implements the MeshCore companion serial protocol:
// framing, command encoding and response frame parsing.
package protocol

// Version is the companion app protocol version spoken by this bridge.
const Version = 3

// Frames are length-prefixed: one start byte, a little-endian uint16 payload
// length, then the payload. Commands use '<', responses and pushes use '>'.
const (
	frameStartOut = '<'
	frameStartIn  = '>'

	// MaxFrameLen bounds a single payload. Anything larger is line noise.
	MaxFrameLen = 4096
)

// Command opcodes (first payload byte of an outbound frame).
const (
	CmdAppStart          = 1
	CmdSendTxtMsg        = 2
	CmdSendChannelTxtMsg = 3
	CmdGetContacts       = 4
	CmdSetAdvertName     = 8
	CmdSyncNextMessage   = 10
	CmdDeviceQuery       = 22
)

// Response codes (first payload byte of an inbound frame).
const (
	RespOK               = 0
	RespErr              = 1
	RespContactsStart    = 2
	RespContact          = 3
	RespEndOfContacts    = 4
	RespSelfInfo         = 5
	RespSent             = 6
	RespContactMsgRecv   = 7
	RespChannelMsgRecv   = 8
	RespNoMoreMessages   = 10
	RespDeviceInfo       = 13
	RespContactMsgRecvV3 = 16
	RespChannelMsgRecvV3 = 17
)

// Push codes occupy the upper half of the code space and arrive unsolicited.
const (
	PushMsgWaiting = 0x83
)

// Text message types carried in send commands and inbound message frames.
const (
	TxtTypePlain       = 0
	TxtTypeSignedPlain = 2
)

// IsPush reports whether an inbound frame code is an unsolicited push rather
// than a command response.
func IsPush(code byte) bool {
	return code >= 0x80
}
