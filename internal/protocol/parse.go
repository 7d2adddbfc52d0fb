package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
)

// SelfInfo is the decoded RespSelfInfo frame sent in reply to AppStart.
type SelfInfo struct {
	AdvType       int
	TxPowerDBm    int
	MaxTxPowerDBm int
	PublicKey     []byte
	Latitude      float64
	Longitude     float64
	FreqMHz       float64
	BwKHz         float64
	SF            int
	CR            int
	NodeName      string
}

// DeviceInfo is the decoded RespDeviceInfo frame sent in reply to
// DeviceQuery. Fields past MaxChannels are optional; older firmwares send
// shorter frames.
type DeviceInfo struct {
	FirmwareCode    int
	MaxContacts     int
	MaxChannels     int
	BLEPin          uint32
	BuildDate       string
	Manufacturer    string
	FirmwareVersion string
	ClientRepeat    int
}

// Contact is one decoded RespContact frame from a contact list stream.
type Contact struct {
	PublicKey    []byte
	Prefix       [6]byte
	Name         string
	Type         int
	Flags        int
	LastAdvert   uint32
	LastModified uint32
}

// SendReceipt carries the ack expectation from a RespSent frame.
type SendReceipt struct {
	ExpectedAck  uint32
	EstTimeoutMs uint32
}

// Message is one decoded inbound text message frame, either a direct message
// (Private true, SenderPrefix set) or a channel broadcast (Channel set).
type Message struct {
	Private      bool
	Channel      int
	SenderPrefix [6]byte
	Timestamp    uint32
	Text         string
}

// ParseSelfInfo decodes a RespSelfInfo frame.
func ParseSelfInfo(frame []byte) (SelfInfo, error) {
	if len(frame) < 58 || frame[0] != RespSelfInfo {
		return SelfInfo{}, fmt.Errorf("malformed self info frame (%d bytes)", len(frame))
	}

	name := strings.TrimSpace(string(frame[58:]))
	if name == "" {
		name = "MeshCore Node"
	}

	return SelfInfo{
		AdvType:       int(frame[1]),
		TxPowerDBm:    int(frame[2]),
		MaxTxPowerDBm: int(frame[3]),
		PublicKey:     bytes.Clone(frame[4:36]),
		Latitude:      float64(int32(binary.LittleEndian.Uint32(frame[36:40]))) / 1e6,
		Longitude:     float64(int32(binary.LittleEndian.Uint32(frame[40:44]))) / 1e6,
		FreqMHz:       float64(binary.LittleEndian.Uint32(frame[48:52])) / 1000.0,
		BwKHz:         float64(binary.LittleEndian.Uint32(frame[52:56])) / 1000.0,
		SF:            int(frame[56]),
		CR:            int(frame[57]),
		NodeName:      name,
	}, nil
}

// ParseDeviceInfo decodes a RespDeviceInfo frame, tolerating truncated
// optional tail fields.
func ParseDeviceInfo(frame []byte) (DeviceInfo, error) {
	if len(frame) < 4 || frame[0] != RespDeviceInfo {
		return DeviceInfo{}, fmt.Errorf("malformed device info frame (%d bytes)", len(frame))
	}

	info := DeviceInfo{
		FirmwareCode: int(frame[1]),
		MaxContacts:  int(frame[2]) * 2,
		MaxChannels:  int(frame[3]),
	}
	if len(frame) >= 8 {
		info.BLEPin = binary.LittleEndian.Uint32(frame[4:8])
	}
	if len(frame) >= 20 {
		info.BuildDate = cstr(frame[8:20])
	}
	if len(frame) >= 60 {
		info.Manufacturer = cstr(frame[20:60])
	}
	if len(frame) >= 80 {
		info.FirmwareVersion = cstr(frame[60:80])
	}
	if len(frame) >= 81 {
		info.ClientRepeat = int(frame[80])
	}

	return info, nil
}

// ParseContact decodes a RespContact frame.
func ParseContact(frame []byte) (Contact, error) {
	if len(frame) < 148 || frame[0] != RespContact {
		return Contact{}, fmt.Errorf("malformed contact frame (%d bytes)", len(frame))
	}

	c := Contact{
		PublicKey:    bytes.Clone(frame[1:33]),
		Type:         int(frame[33]),
		Flags:        int(frame[34]),
		LastAdvert:   binary.LittleEndian.Uint32(frame[132:136]),
		LastModified: binary.LittleEndian.Uint32(frame[144:148]),
	}
	copy(c.Prefix[:], frame[1:7])
	c.Name = cstr(frame[100:132])

	return c, nil
}

// ParseSendReceipt decodes a RespSent frame. Short frames yield zero values;
// some firmwares omit the ack fields.
func ParseSendReceipt(frame []byte) (SendReceipt, error) {
	if len(frame) < 1 || frame[0] != RespSent {
		return SendReceipt{}, fmt.Errorf("malformed send receipt frame (%d bytes)", len(frame))
	}

	var r SendReceipt
	if len(frame) >= 6 {
		r.ExpectedAck = binary.LittleEndian.Uint32(frame[2:6])
	}
	if len(frame) >= 10 {
		r.EstTimeoutMs = binary.LittleEndian.Uint32(frame[6:10])
	}

	return r, nil
}

// ParseMessage decodes an inbound text message frame in any of the four
// layouts the firmware emits. The second return is false for frames that are
// not message frames or are too short to carry one.
func ParseMessage(frame []byte) (Message, bool) {
	if len(frame) == 0 {
		return Message{}, false
	}

	switch frame[0] {
	case RespContactMsgRecv, RespContactMsgRecvV3:
		var (
			prefix  [6]byte
			txtType int
			ts      uint32
			payload []byte
		)
		if frame[0] == RespContactMsgRecvV3 {
			if len(frame) < 16 {
				return Message{}, false
			}
			copy(prefix[:], frame[4:10])
			txtType = int(frame[11])
			ts = binary.LittleEndian.Uint32(frame[12:16])
			payload = frame[16:]
		} else {
			if len(frame) < 13 {
				return Message{}, false
			}
			copy(prefix[:], frame[1:7])
			txtType = int(frame[8])
			ts = binary.LittleEndian.Uint32(frame[9:13])
			payload = frame[13:]
		}
		// Signed plain text carries a 4-byte signature prefix before the text.
		if txtType == TxtTypeSignedPlain && len(payload) >= 4 {
			payload = payload[4:]
		}

		return Message{
			Private:      true,
			SenderPrefix: prefix,
			Timestamp:    ts,
			Text:         strings.TrimSpace(string(payload)),
		}, true

	case RespChannelMsgRecv, RespChannelMsgRecvV3:
		var (
			channel int
			ts      uint32
			payload []byte
		)
		if frame[0] == RespChannelMsgRecvV3 {
			if len(frame) < 11 {
				return Message{}, false
			}
			channel = int(frame[4])
			ts = binary.LittleEndian.Uint32(frame[7:11])
			payload = frame[11:]
		} else {
			if len(frame) < 8 {
				return Message{}, false
			}
			channel = int(frame[1])
			ts = binary.LittleEndian.Uint32(frame[4:8])
			payload = frame[8:]
		}

		return Message{
			Channel:   channel,
			Timestamp: ts,
			Text:      strings.TrimSpace(string(payload)),
		}, true
	}

	return Message{}, false
}

// cstr decodes a fixed-width zero-padded string field.
func cstr(raw []byte) string {
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}

	return strings.TrimSpace(string(raw))
}
