package protocol

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func frameBytes(payload []byte) []byte {
	out := []byte{frameStartIn}
	out = binary.LittleEndian.AppendUint16(out, uint16(len(payload)))

	return append(out, payload...)
}

func TestEncodeFrame(t *testing.T) {
	frame, err := EncodeFrame([]byte{CmdGetContacts})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := []byte{'<', 0x01, 0x00, CmdGetContacts}
	if !bytes.Equal(frame, want) {
		t.Fatalf("frame = %x, want %x", frame, want)
	}
}

func TestEncodeFrameRejectsEmptyAndOversize(t *testing.T) {
	if _, err := EncodeFrame(nil); err == nil {
		t.Fatal("expected error for empty payload")
	}
	if _, err := EncodeFrame(make([]byte, MaxFrameLen+1)); err == nil {
		t.Fatal("expected error for oversize payload")
	}
}

func TestAppStartLayout(t *testing.T) {
	payload := AppStart("mcbridge")

	if payload[0] != CmdAppStart || payload[1] != Version {
		t.Fatalf("header = %v", payload[:2])
	}
	if !bytes.Equal(payload[2:8], make([]byte, 6)) {
		t.Fatalf("reserved bytes = %x", payload[2:8])
	}
	if !bytes.Equal(payload[8:], []byte("mcbridge\x00")) {
		t.Fatalf("app name = %q", payload[8:])
	}
}

func TestSendPrivateTextLayout(t *testing.T) {
	prefix := [6]byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}
	payload := SendPrivateText(0x01020304, prefix, "hi")

	if payload[0] != CmdSendTxtMsg || payload[1] != TxtTypePlain || payload[2] != 0 {
		t.Fatalf("header = %v", payload[:3])
	}
	if got := binary.LittleEndian.Uint32(payload[3:7]); got != 0x01020304 {
		t.Fatalf("timestamp = %#x", got)
	}
	if !bytes.Equal(payload[7:13], prefix[:]) {
		t.Fatalf("prefix = %x", payload[7:13])
	}
	if string(payload[13:]) != "hi" {
		t.Fatalf("text = %q", payload[13:])
	}
}

func TestSendChannelTextLayout(t *testing.T) {
	payload := SendChannelText(42, 3, "hello")

	if payload[0] != CmdSendChannelTxtMsg || payload[1] != TxtTypePlain || payload[2] != 3 {
		t.Fatalf("header = %v", payload[:3])
	}
	if got := binary.LittleEndian.Uint32(payload[3:7]); got != 42 {
		t.Fatalf("timestamp = %d", got)
	}
	if string(payload[7:]) != "hello" {
		t.Fatalf("text = %q", payload[7:])
	}
}

func TestDecoderReassemblesSplitFrames(t *testing.T) {
	d := NewDecoder()
	payload := []byte{RespOK, 1, 2, 3}
	stream := frameBytes(payload)

	// Feed one byte at a time to exercise every state transition.
	var frames [][]byte
	for _, b := range stream {
		frames = append(frames, d.Feed([]byte{b})...)
	}

	if len(frames) != 1 || !bytes.Equal(frames[0], payload) {
		t.Fatalf("frames = %v", frames)
	}
}

func TestDecoderSkipsNoiseBetweenFrames(t *testing.T) {
	d := NewDecoder()

	stream := append([]byte("garbage"), frameBytes([]byte{RespOK})...)
	stream = append(stream, 0xde, 0xad)
	stream = append(stream, frameBytes([]byte{RespErr})...)

	frames := d.Feed(stream)
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if frames[0][0] != RespOK || frames[1][0] != RespErr {
		t.Fatalf("frames = %v", frames)
	}
}

func TestDecoderAbandonsZeroAndOversizeLengths(t *testing.T) {
	d := NewDecoder()

	// Zero-length header, then an oversize header, then a valid frame.
	stream := []byte{frameStartIn, 0x00, 0x00}
	stream = append(stream, frameStartIn, 0xff, 0xff)
	stream = append(stream, frameBytes([]byte{RespNoMoreMessages})...)

	frames := d.Feed(stream)
	if len(frames) != 1 || frames[0][0] != RespNoMoreMessages {
		t.Fatalf("frames = %v", frames)
	}
}

func TestDecoderResetDropsPartialFrame(t *testing.T) {
	d := NewDecoder()
	d.Feed([]byte{frameStartIn, 0x04, 0x00, 0x01})
	d.Reset()

	frames := d.Feed(frameBytes([]byte{RespOK}))
	if len(frames) != 1 || frames[0][0] != RespOK {
		t.Fatalf("frames = %v", frames)
	}
}

func buildSelfInfoFrame(name string) []byte {
	frame := make([]byte, 58, 58+len(name))
	frame[0] = RespSelfInfo
	frame[1] = 1  // adv type
	frame[2] = 20 // tx power
	frame[3] = 22 // max tx power
	for i := 4; i < 36; i++ {
		frame[i] = byte(i)
	}
	lat := int32(52_520_000)
	lon := int32(-13_405_000)
	binary.LittleEndian.PutUint32(frame[36:40], uint32(lat))
	binary.LittleEndian.PutUint32(frame[40:44], uint32(lon))
	binary.LittleEndian.PutUint32(frame[48:52], 869_525)                    // freq kHz
	binary.LittleEndian.PutUint32(frame[52:56], 250_000)                    // bw Hz
	frame[56] = 11
	frame[57] = 5

	return append(frame, name...)
}

func TestParseSelfInfo(t *testing.T) {
	info, err := ParseSelfInfo(buildSelfInfoFrame("Base Camp"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if info.NodeName != "Base Camp" {
		t.Fatalf("name = %q", info.NodeName)
	}
	if len(info.PublicKey) != 32 || info.PublicKey[0] != 4 {
		t.Fatalf("pubkey = %x", info.PublicKey)
	}
	if info.Latitude != 52.52 {
		t.Fatalf("lat = %v", info.Latitude)
	}
	if info.Longitude != -13.405 {
		t.Fatalf("lon = %v", info.Longitude)
	}
	if info.FreqMHz != 869.525 || info.BwKHz != 250 {
		t.Fatalf("radio = %v MHz / %v kHz", info.FreqMHz, info.BwKHz)
	}
	if info.SF != 11 || info.CR != 5 {
		t.Fatalf("sf/cr = %d/%d", info.SF, info.CR)
	}
}

func TestParseSelfInfoDefaultsEmptyName(t *testing.T) {
	info, err := ParseSelfInfo(buildSelfInfoFrame(""))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if info.NodeName != "MeshCore Node" {
		t.Fatalf("name = %q", info.NodeName)
	}
}

func TestParseSelfInfoRejectsShortFrame(t *testing.T) {
	if _, err := ParseSelfInfo([]byte{RespSelfInfo, 0, 0}); err == nil {
		t.Fatal("expected error for short frame")
	}
}

func TestParseDeviceInfo(t *testing.T) {
	frame := make([]byte, 81)
	frame[0] = RespDeviceInfo
	frame[1] = 7   // firmware code
	frame[2] = 100 // max contacts / 2
	frame[3] = 8   // max channels
	binary.LittleEndian.PutUint32(frame[4:8], 123456)
	copy(frame[8:20], "19 Aug 2026")
	copy(frame[20:60], "Heltec V3")
	copy(frame[60:80], "v1.12.0")
	frame[80] = 1

	info, err := ParseDeviceInfo(frame)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if info.MaxContacts != 200 || info.MaxChannels != 8 {
		t.Fatalf("capacity = %d/%d", info.MaxContacts, info.MaxChannels)
	}
	if info.BuildDate != "19 Aug 2026" || info.Manufacturer != "Heltec V3" || info.FirmwareVersion != "v1.12.0" {
		t.Fatalf("strings = %q %q %q", info.BuildDate, info.Manufacturer, info.FirmwareVersion)
	}
	if info.BLEPin != 123456 || info.ClientRepeat != 1 {
		t.Fatalf("tail = %d/%d", info.BLEPin, info.ClientRepeat)
	}
}

func TestParseDeviceInfoMinimalFrame(t *testing.T) {
	info, err := ParseDeviceInfo([]byte{RespDeviceInfo, 3, 50, 4})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if info.MaxContacts != 100 || info.MaxChannels != 4 {
		t.Fatalf("capacity = %d/%d", info.MaxContacts, info.MaxChannels)
	}
	if info.BuildDate != "" || info.FirmwareVersion != "" {
		t.Fatalf("expected empty optional fields, got %q %q", info.BuildDate, info.FirmwareVersion)
	}
}

func buildContactFrame(name string, lastAdvert, lastMod uint32) []byte {
	frame := make([]byte, 148)
	frame[0] = RespContact
	for i := 1; i < 33; i++ {
		frame[i] = byte(0x10 + i)
	}
	frame[33] = 1 // type
	frame[34] = 2 // flags
	copy(frame[100:132], name)
	binary.LittleEndian.PutUint32(frame[132:136], lastAdvert)
	binary.LittleEndian.PutUint32(frame[144:148], lastMod)

	return frame
}

func TestParseContact(t *testing.T) {
	c, err := ParseContact(buildContactFrame("Ridge Repeater", 1700000000, 1700000100))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if c.Name != "Ridge Repeater" {
		t.Fatalf("name = %q", c.Name)
	}
	if !bytes.Equal(c.Prefix[:], c.PublicKey[:6]) {
		t.Fatalf("prefix %x does not match pubkey head %x", c.Prefix, c.PublicKey[:6])
	}
	if c.LastAdvert != 1700000000 || c.LastModified != 1700000100 {
		t.Fatalf("timestamps = %d/%d", c.LastAdvert, c.LastModified)
	}
	if c.Type != 1 || c.Flags != 2 {
		t.Fatalf("type/flags = %d/%d", c.Type, c.Flags)
	}
}

func TestParseContactRejectsShortFrame(t *testing.T) {
	if _, err := ParseContact(make([]byte, 100)); err == nil {
		t.Fatal("expected error for short frame")
	}
}

func TestParseSendReceipt(t *testing.T) {
	frame := make([]byte, 10)
	frame[0] = RespSent
	binary.LittleEndian.PutUint32(frame[2:6], 0xcafe)
	binary.LittleEndian.PutUint32(frame[6:10], 3200)

	r, err := ParseSendReceipt(frame)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if r.ExpectedAck != 0xcafe || r.EstTimeoutMs != 3200 {
		t.Fatalf("receipt = %+v", r)
	}

	// A bare RespSent without ack fields is still a valid receipt.
	r, err = ParseSendReceipt([]byte{RespSent})
	if err != nil {
		t.Fatalf("parse bare: %v", err)
	}
	if r.ExpectedAck != 0 || r.EstTimeoutMs != 0 {
		t.Fatalf("bare receipt = %+v", r)
	}
}

func TestParseMessageContactV2(t *testing.T) {
	frame := []byte{RespContactMsgRecv}
	frame = append(frame, 1, 2, 3, 4, 5, 6) // sender prefix
	frame = append(frame, 0)                // path len
	frame = append(frame, TxtTypePlain)
	frame = binary.LittleEndian.AppendUint32(frame, 1755900000)
	frame = append(frame, "ping"...)

	msg, ok := ParseMessage(frame)
	if !ok {
		t.Fatal("expected a message")
	}
	if !msg.Private || msg.Text != "ping" || msg.Timestamp != 1755900000 {
		t.Fatalf("msg = %+v", msg)
	}
	if msg.SenderPrefix != [6]byte{1, 2, 3, 4, 5, 6} {
		t.Fatalf("prefix = %x", msg.SenderPrefix)
	}
}

func TestParseMessageContactV3SignedStripsSignature(t *testing.T) {
	frame := []byte{RespContactMsgRecvV3, 0, 0, 0}
	frame = append(frame, 9, 8, 7, 6, 5, 4) // sender prefix
	frame = append(frame, 0)                // path len
	frame = append(frame, TxtTypeSignedPlain)
	frame = binary.LittleEndian.AppendUint32(frame, 1755900001)
	frame = append(frame, 0xde, 0xad, 0xbe, 0xef) // signature
	frame = append(frame, "signed hello"...)

	msg, ok := ParseMessage(frame)
	if !ok {
		t.Fatal("expected a message")
	}
	if msg.Text != "signed hello" {
		t.Fatalf("text = %q", msg.Text)
	}
	if msg.SenderPrefix != [6]byte{9, 8, 7, 6, 5, 4} {
		t.Fatalf("prefix = %x", msg.SenderPrefix)
	}
}

func TestParseMessageChannelV2(t *testing.T) {
	frame := []byte{RespChannelMsgRecv, 2, 0, TxtTypePlain}
	frame = binary.LittleEndian.AppendUint32(frame, 1755900002)
	frame = append(frame, "to the group"...)

	msg, ok := ParseMessage(frame)
	if !ok {
		t.Fatal("expected a message")
	}
	if msg.Private || msg.Channel != 2 || msg.Text != "to the group" {
		t.Fatalf("msg = %+v", msg)
	}
}

func TestParseMessageChannelV3(t *testing.T) {
	frame := []byte{RespChannelMsgRecvV3, 0, 0, 0, 5, 0, TxtTypePlain}
	frame = binary.LittleEndian.AppendUint32(frame, 1755900003)
	frame = append(frame, "v3 group"...)

	msg, ok := ParseMessage(frame)
	if !ok {
		t.Fatal("expected a message")
	}
	if msg.Channel != 5 || msg.Text != "v3 group" || msg.Timestamp != 1755900003 {
		t.Fatalf("msg = %+v", msg)
	}
}

func TestParseMessageRejectsOtherCodes(t *testing.T) {
	if _, ok := ParseMessage([]byte{RespOK}); ok {
		t.Fatal("RespOK is not a message")
	}
	if _, ok := ParseMessage([]byte{RespContactMsgRecv, 1, 2}); ok {
		t.Fatal("short frame is not a message")
	}
	if _, ok := ParseMessage(nil); ok {
		t.Fatal("empty frame is not a message")
	}
}

func TestIsPush(t *testing.T) {
	if !IsPush(PushMsgWaiting) {
		t.Fatal("msg waiting push not detected")
	}
	if IsPush(RespContactMsgRecvV3) {
		t.Fatal("response code misread as push")
	}
}
