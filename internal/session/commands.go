package session

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"meshbridge/internal/domain"
	"meshbridge/internal/events"
	"meshbridge/internal/protocol"
)

// pendingCall is the single in-flight request. Multi-frame replies (the
// contact stream) stay pending until a terminal code arrives.
type pendingCall struct {
	expect   map[byte]bool
	terminal map[byte]bool
	frames   chan []byte
	fail     chan error
}

func (s *Service) deliverToPending(code byte, frame []byte) bool {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	if s.pending == nil || !s.pending.expect[code] {
		return false
	}
	select {
	case s.pending.frames <- frame:
	default:
		s.logger.Warn("pending frame buffer full, frame dropped", "code", code)
	}

	return true
}

func (s *Service) failPending(err error) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	if s.pending == nil {
		return
	}
	select {
	case s.pending.fail <- err:
	default:
	}
}

// request performs one command exchange: frame the payload, write it, then
// collect expected frames until a terminal code or the deadline. Frames for
// codes outside expect keep flowing through dispatch, so an unrelated
// delivery can never complete someone else's command.
func (s *Service) request(ctx context.Context, payload []byte, expect, terminal map[byte]bool, timeout time.Duration) ([][]byte, error) {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	s.mu.Lock()
	tr := s.tr
	s.mu.Unlock()
	if tr == nil {
		return nil, ErrNotReady
	}

	frame, err := protocol.EncodeFrame(payload)
	if err != nil {
		return nil, err
	}

	call := &pendingCall{
		expect:   expect,
		terminal: terminal,
		frames:   make(chan []byte, 512),
		fail:     make(chan error, 1),
	}
	s.pendingMu.Lock()
	s.pending = call
	s.pendingMu.Unlock()
	defer func() {
		s.pendingMu.Lock()
		s.pending = nil
		s.pendingMu.Unlock()
	}()

	s.bus.Publish(events.TopicRawFrameOut, events.RawFrame{Hex: hex.EncodeToString(frame), Len: len(frame)})
	if err := tr.Write(ctx, frame); err != nil {
		return nil, fmt.Errorf("write command: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var collected [][]byte
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case err := <-call.fail:
			return nil, err
		case <-timer.C:
			return nil, ErrTimeout
		case f := <-call.frames:
			collected = append(collected, f)
			if terminal[f[0]] {
				return collected, nil
			}
		}
	}
}

// SyncContacts pulls the full contact list from the device and replaces the
// directory with it.
func (s *Service) SyncContacts(ctx context.Context) ([]domain.Contact, error) {
	expect := codeSet(protocol.RespContactsStart, protocol.RespContact, protocol.RespEndOfContacts)
	frames, err := s.request(ctx, protocol.GetContacts(), expect, codeSet(protocol.RespEndOfContacts), contactsTimeout)
	if err != nil {
		return nil, err
	}

	contacts := make([]domain.Contact, 0, len(frames))
	for _, frame := range frames {
		if frame[0] != protocol.RespContact {
			continue
		}
		pc, err := protocol.ParseContact(frame)
		if err != nil {
			s.logger.Warn("contact frame skipped", "error", err)

			continue
		}
		contacts = append(contacts, domain.Contact{
			ID:           domain.IDFromPrefix(pc.Prefix),
			Prefix:       pc.Prefix,
			PublicKey:    pc.PublicKey,
			Name:         contactName(pc),
			Type:         pc.Type,
			Flags:        pc.Flags,
			LastAdvert:   pc.LastAdvert,
			LastModified: pc.LastModified,
		})
	}

	s.dir.ReplaceContacts(contacts)
	s.bus.Publish(events.TopicContact, contacts)

	s.mu.Lock()
	persist := s.persist
	s.mu.Unlock()
	if persist != nil {
		persist(contacts)
	}

	return contacts, nil
}

func contactName(pc protocol.Contact) string {
	if pc.Name != "" {
		return pc.Name
	}

	return domain.IDFromPrefix(pc.Prefix)
}

// DrainMessages pops queued inbound messages from the device into the
// history, at most max of them, stopping at the no-more marker.
func (s *Service) DrainMessages(ctx context.Context, max int) error {
	expect := codeSet(
		protocol.RespNoMoreMessages,
		protocol.RespContactMsgRecv,
		protocol.RespChannelMsgRecv,
		protocol.RespContactMsgRecvV3,
		protocol.RespChannelMsgRecvV3,
	)

	for i := 0; i < max; i++ {
		frames, err := s.request(ctx, protocol.SyncNextMessage(), expect, expect, commandTimeout)
		if err != nil {
			return err
		}

		frame := frames[len(frames)-1]
		if frame[0] == protocol.RespNoMoreMessages {
			return nil
		}
		if msg, ok := protocol.ParseMessage(frame); ok {
			s.recordInbound(msg)
		}
	}

	return nil
}

func (s *Service) recordInbound(msg protocol.Message) {
	var entry domain.Message
	if msg.Private {
		sender := domain.IDFromPrefix(msg.SenderPrefix)
		entry = domain.Message{
			Timestamp: int64(msg.Timestamp),
			Scope:     domain.ScopePrivate,
			Direction: domain.DirectionIn,
			SenderID:  sender,
			ToID:      s.dir.SelfID(),
			PeerID:    sender,
			Text:      msg.Text,
		}
	} else {
		entry = domain.Message{
			Timestamp: int64(msg.Timestamp),
			Channel:   msg.Channel,
			Scope:     domain.ScopeChannel,
			Direction: domain.DirectionIn,
			SenderID:  domain.ChannelSenderID,
			ToID:      domain.BroadcastID,
			PeerID:    domain.BroadcastID,
			Text:      msg.Text,
			LocalID:   s.dir.SelfID(),
		}
	}

	s.hist.Append(entry)
	s.bus.Publish(events.TopicMessage, entry)
}

// SendResult reports a completed send, including the device's ack
// expectation for private messages.
type SendResult struct {
	Message      domain.Message
	WantAck      bool
	EstTimeoutMs uint32
}

// SendChannelMessage broadcasts text on a channel.
func (s *Service) SendChannelMessage(ctx context.Context, channel int, text string) (SendResult, error) {
	ts := uint32(s.now().Unix())
	expect := codeSet(protocol.RespOK, protocol.RespErr)
	frames, err := s.request(ctx, protocol.SendChannelText(ts, uint8(channel), text), expect, expect, commandTimeout)
	if err != nil {
		return SendResult{}, err
	}
	if frames[len(frames)-1][0] == protocol.RespErr {
		return SendResult{}, fmt.Errorf("channel send: %w", ErrDeviceError)
	}

	entry := domain.Message{
		Timestamp: int64(ts),
		Channel:   channel,
		Scope:     domain.ScopeChannel,
		Direction: domain.DirectionOut,
		SenderID:  s.dir.SelfID(),
		ToID:      domain.BroadcastID,
		PeerID:    domain.BroadcastID,
		Text:      text,
	}
	s.hist.Append(entry)
	s.bus.Publish(events.TopicMessage, entry)

	return SendResult{Message: entry}, nil
}

// SendPrivateMessage sends a direct message to any accepted contact
// spelling. The recipient must be in the directory; its key prefix routes
// the message.
func (s *Service) SendPrivateMessage(ctx context.Context, to, text string) (SendResult, error) {
	toID, err := s.dir.NormalizeID(to)
	if err != nil {
		return SendResult{}, err
	}
	prefix, err := s.dir.PrefixFor(toID)
	if err != nil {
		return SendResult{}, err
	}

	ts := uint32(s.now().Unix())
	expect := codeSet(protocol.RespSent, protocol.RespErr)
	frames, err := s.request(ctx, protocol.SendPrivateText(ts, prefix, text), expect, expect, commandTimeout)
	if err != nil {
		return SendResult{}, err
	}
	frame := frames[len(frames)-1]
	if frame[0] == protocol.RespErr {
		return SendResult{}, fmt.Errorf("private send: %w", ErrDeviceError)
	}
	receipt, err := protocol.ParseSendReceipt(frame)
	if err != nil {
		return SendResult{}, err
	}

	entry := domain.Message{
		Timestamp: int64(ts),
		Scope:     domain.ScopePrivate,
		Direction: domain.DirectionOut,
		SenderID:  s.dir.SelfID(),
		ToID:      toID,
		PeerID:    toID,
		Text:      text,
	}
	s.hist.Append(entry)
	s.bus.Publish(events.TopicMessage, entry)

	return SendResult{
		Message:      entry,
		WantAck:      receipt.ExpectedAck != 0,
		EstTimeoutMs: receipt.EstTimeoutMs,
	}, nil
}

// SetOwnerName renames the node's advertised owner name.
func (s *Service) SetOwnerName(ctx context.Context, name string) error {
	expect := codeSet(protocol.RespOK, protocol.RespErr)
	frames, err := s.request(ctx, protocol.SetAdvertName(name), expect, expect, commandTimeout)
	if err != nil {
		return err
	}
	if frames[len(frames)-1][0] == protocol.RespErr {
		return fmt.Errorf("set owner name: %w", ErrDeviceError)
	}

	s.dir.SetSelfName(name)

	return nil
}
