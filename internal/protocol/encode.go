package protocol

import (
	"encoding/binary"
	"fmt"
)

// EncodeFrame wraps a command payload in the outbound wire framing.
func EncodeFrame(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty command payload")
	}
	if len(payload) > MaxFrameLen {
		return nil, fmt.Errorf("command payload %d bytes exceeds frame limit %d", len(payload), MaxFrameLen)
	}

	frame := make([]byte, 0, 3+len(payload))
	frame = append(frame, frameStartOut)
	frame = binary.LittleEndian.AppendUint16(frame, uint16(len(payload)))
	frame = append(frame, payload...)

	return frame, nil
}

// AppStart builds the session handshake command. The device answers with a
// RespSelfInfo frame.
func AppStart(appName string) []byte {
	payload := make([]byte, 0, 8+len(appName)+1)
	payload = append(payload, CmdAppStart, Version)
	payload = append(payload, 0, 0, 0, 0, 0, 0)
	payload = append(payload, appName...)
	payload = append(payload, 0)

	return payload
}

// DeviceQuery builds the firmware capability query. The device answers with a
// RespDeviceInfo frame.
func DeviceQuery() []byte {
	return []byte{CmdDeviceQuery, Version}
}

// GetContacts requests the full contact list stream: RespContactsStart, zero
// or more RespContact frames, then RespEndOfContacts.
func GetContacts() []byte {
	return []byte{CmdGetContacts}
}

// SyncNextMessage pops one queued inbound message, or RespNoMoreMessages when
// the device queue is empty.
func SyncNextMessage() []byte {
	return []byte{CmdSyncNextMessage}
}

// SendPrivateText builds a direct text message command addressed by the
// recipient's six-byte public key prefix. Answered by RespSent or RespErr.
func SendPrivateText(timestamp uint32, prefix [6]byte, text string) []byte {
	payload := make([]byte, 0, 13+len(text))
	payload = append(payload, CmdSendTxtMsg, TxtTypePlain, 0)
	payload = binary.LittleEndian.AppendUint32(payload, timestamp)
	payload = append(payload, prefix[:]...)
	payload = append(payload, text...)

	return payload
}

// SendChannelText builds a channel broadcast command. Answered by RespOK or
// RespErr.
func SendChannelText(timestamp uint32, channel uint8, text string) []byte {
	payload := make([]byte, 0, 7+len(text))
	payload = append(payload, CmdSendChannelTxtMsg, TxtTypePlain, channel)
	payload = binary.LittleEndian.AppendUint32(payload, timestamp)
	payload = append(payload, text...)

	return payload
}

// SetAdvertName builds the owner rename command. Answered by RespOK or
// RespErr.
func SetAdvertName(name string) []byte {
	payload := make([]byte, 0, 1+len(name))
	payload = append(payload, CmdSetAdvertName)
	payload = append(payload, name...)

	return payload
}
