// Package session owns the live connection to a MeshCore companion node:
// the reconnect loop, the handshake, frame dispatch and the request pipeline
// every device operation goes through.
package session

import (
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"sync"
	"time"

	"meshbridge/internal/bus"
	"meshbridge/internal/config"
	"meshbridge/internal/domain"
	"meshbridge/internal/events"
	"meshbridge/internal/protocol"
	"meshbridge/internal/transport"
)

const (
	// appName identifies the bridge to the firmware during the handshake.
	appName = "mcbridge"

	reconnectMinDelay = time.Second
	reconnectMaxDelay = 15 * time.Second

	// idlePollInterval doubles as a keepalive: each poll produces at least a
	// RespNoMoreMessages frame, proving the link is alive.
	idlePollInterval = 30 * time.Second
	quietWindow      = 90 * time.Second

	commandTimeout  = 4 * time.Second
	contactsTimeout = 6 * time.Second

	// drainBatch bounds one message drain pass.
	drainBatch = 200
	idleBatch  = 25

	readBufSize = 4096
)

// Errors surfaced by device operations.
var (
	ErrNotReady      = errors.New("no active device session")
	ErrTimeout       = errors.New("device did not answer in time")
	ErrDeviceError   = errors.New("device rejected the command")
	ErrTransportLost = errors.New("transport lost while waiting for the device")
)

var errQuietWindow = errors.New("no frames inside the quiet window")

// transportFactory builds transports for targets; swapped in tests.
type transportFactory func(config.TransportTarget) (transport.Transport, error)

// Service runs the device session. It is the sole writer of the directory
// and history caches; API handlers only read them and call the operation
// methods.
type Service struct {
	logger *slog.Logger
	bus    bus.MessageBus
	dir    *domain.Directory
	hist   *domain.History
	now    func() time.Time

	newTransport transportFactory
	persist      func([]domain.Contact)

	mu           sync.Mutex
	target       config.TransportTarget
	tr           transport.Transport
	state        events.ConnectionState
	lastErr      error
	lastActivity time.Time

	// targetGen increments on every ApplyTarget; connectedGen records which
	// generation the live connection was dialed under. WaitConnected only
	// accepts a connection at least as new as the latest target, so a probe
	// issued right after a swap cannot be satisfied by the stale session.
	targetGen    uint64
	connectedGen uint64

	// cmdMu serializes request/response exchanges; the wire protocol has no
	// correlation ids, so only one command may be in flight.
	cmdMu sync.Mutex

	pendingMu sync.Mutex
	pending   *pendingCall

	swapCh  chan struct{}
	drainCh chan struct{}
}

func New(logger *slog.Logger, b bus.MessageBus, dir *domain.Directory, hist *domain.History, target config.TransportTarget) *Service {
	return &Service{
		logger:       logger,
		bus:          b,
		dir:          dir,
		hist:         hist,
		now:          time.Now,
		newTransport: transport.New,
		target:       target,
		state:        events.ConnectionStateDisconnected,
		swapCh:       make(chan struct{}, 1),
		drainCh:      make(chan struct{}, 1),
	}
}

// OnContactsSynced registers the hook called with every freshly synced
// contact list, used to persist the directory.
func (s *Service) OnContactsSynced(fn func([]domain.Contact)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persist = fn
}

// ApplyTarget swaps the transport target. The active connection, if any, is
// torn down and the reconnect loop dials the new target immediately.
func (s *Service) ApplyTarget(target config.TransportTarget) {
	s.mu.Lock()
	s.target = target
	s.targetGen++
	s.mu.Unlock()

	select {
	case s.swapCh <- struct{}{}:
	default:
	}
}

func (s *Service) State() events.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

func (s *Service) Connected() bool {
	return s.State() == events.ConnectionStateConnected
}

// WaitConnected blocks until the session reaches the connected state, the
// timeout passes, or ctx is cancelled. On timeout it returns the most recent
// connection error when one is known.
func (s *Service) WaitConnected(ctx context.Context, timeout time.Duration) error {
	s.mu.Lock()
	wantGen := s.targetGen
	s.mu.Unlock()

	deadline := s.now().Add(timeout)
	for {
		s.mu.Lock()
		state, lastErr := s.state, s.lastErr
		current := s.connectedGen >= wantGen
		s.mu.Unlock()

		if state == events.ConnectionStateConnected && current {
			return nil
		}
		if s.now().After(deadline) {
			if lastErr != nil {
				return lastErr
			}

			return ErrNotReady
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// Run drives the session until ctx is cancelled, reconnecting with
// exponential backoff after every failure.
func (s *Service) Run(ctx context.Context) {
	delay := reconnectMinDelay

	for ctx.Err() == nil {
		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			// Clean teardown (target swap); dial the new target right away.
			delay = reconnectMinDelay

			continue
		}

		s.logger.Warn("session ended", "error", err, "retry_in", delay)
		select {
		case <-ctx.Done():
			return
		case <-s.swapCh:
			delay = reconnectMinDelay
		case <-time.After(delay):
			delay *= 2
			if delay > reconnectMaxDelay {
				delay = reconnectMaxDelay
			}
		}
	}
}

func (s *Service) runOnce(ctx context.Context) error {
	s.mu.Lock()
	target := s.target
	gen := s.targetGen
	s.mu.Unlock()

	tr, err := s.newTransport(target)
	if err != nil {
		s.setState(events.ConnectionStateDisconnected, err, nil)

		return err
	}

	s.setState(events.ConnectionStateConnecting, nil, tr)
	if err := tr.Connect(ctx); err != nil {
		s.setState(events.ConnectionStateDisconnected, err, nil)

		return err
	}

	s.mu.Lock()
	s.tr = tr
	s.lastActivity = s.now()
	s.mu.Unlock()

	readerCtx, cancelReader := context.WithCancel(ctx)
	readerErr := make(chan error, 1)
	go s.readLoop(readerCtx, tr, readerErr)

	teardown := func() {
		cancelReader()
		_ = tr.Close()
		s.failPending(ErrTransportLost)
		s.mu.Lock()
		s.tr = nil
		s.mu.Unlock()
	}

	if err := s.handshake(ctx); err != nil {
		teardown()
		s.setState(events.ConnectionStateDisconnected, err, nil)

		return err
	}

	s.mu.Lock()
	s.connectedGen = gen
	s.mu.Unlock()
	s.setState(events.ConnectionStateConnected, nil, tr)
	s.logger.Info("session established", "transport", tr.Name(), "target", tr.Target())

	// Warm the caches; failures here are not fatal to the session.
	if _, err := s.SyncContacts(ctx); err != nil {
		s.logger.Warn("initial contact sync failed", "error", err)
	}
	if err := s.DrainMessages(ctx, drainBatch); err != nil {
		s.logger.Warn("initial message drain failed", "error", err)
	}

	ticker := time.NewTicker(idlePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			teardown()
			s.setState(events.ConnectionStateDisconnected, ctx.Err(), nil)

			return nil
		case <-s.swapCh:
			teardown()
			s.setState(events.ConnectionStateDisconnected, nil, nil)

			return nil
		case err := <-readerErr:
			teardown()
			s.setState(events.ConnectionStateDisconnected, err, nil)

			return err
		case <-s.drainCh:
			go s.backgroundDrain(ctx)
		case <-ticker.C:
			s.mu.Lock()
			quiet := s.now().Sub(s.lastActivity) > quietWindow
			s.mu.Unlock()
			if quiet {
				s.setState(events.ConnectionStateDegraded, errQuietWindow, tr)
				teardown()
				s.setState(events.ConnectionStateDisconnected, errQuietWindow, nil)

				return errQuietWindow
			}
			go s.backgroundDrain(ctx)
		}
	}
}

func (s *Service) backgroundDrain(ctx context.Context) {
	if err := s.DrainMessages(ctx, idleBatch); err != nil &&
		!errors.Is(err, ErrNotReady) && !errors.Is(err, ErrTransportLost) && ctx.Err() == nil {
		s.logger.Warn("message drain failed", "error", err)
	}
}

func (s *Service) readLoop(ctx context.Context, tr transport.Transport, out chan<- error) {
	decoder := protocol.NewDecoder()
	buf := make([]byte, readBufSize)

	for {
		n, err := tr.Read(ctx, buf)
		if err != nil {
			if ctx.Err() == nil {
				out <- err
			}

			return
		}
		if n == 0 {
			if ctx.Err() != nil {
				return
			}

			continue
		}

		for _, frame := range decoder.Feed(buf[:n]) {
			s.dispatch(frame)
		}
	}
}

// dispatch routes one inbound frame: pushes poke the drain loop, everything
// else goes to the waiting command, and stray message frames are absorbed
// into the history so no delivery is lost.
func (s *Service) dispatch(frame []byte) {
	s.mu.Lock()
	s.lastActivity = s.now()
	s.mu.Unlock()

	s.bus.Publish(events.TopicRawFrameIn, events.RawFrame{Hex: hex.EncodeToString(frame), Len: len(frame)})

	code := frame[0]
	if protocol.IsPush(code) {
		s.logger.Debug("push received", "code", code)
		if code == protocol.PushMsgWaiting {
			select {
			case s.drainCh <- struct{}{}:
			default:
			}
		}

		return
	}

	if s.deliverToPending(code, frame) {
		return
	}

	if msg, ok := protocol.ParseMessage(frame); ok {
		s.recordInbound(msg)

		return
	}

	s.logger.Debug("unexpected frame dropped", "code", code, "len", len(frame))
}

func (s *Service) handshake(ctx context.Context) error {
	devFrames, err := s.request(ctx, protocol.DeviceQuery(), codeSet(protocol.RespDeviceInfo), codeSet(protocol.RespDeviceInfo), commandTimeout)
	if err != nil {
		return err
	}
	devInfo, err := protocol.ParseDeviceInfo(devFrames[len(devFrames)-1])
	if err != nil {
		return err
	}

	selfFrames, err := s.request(ctx, protocol.AppStart(appName), codeSet(protocol.RespSelfInfo), codeSet(protocol.RespSelfInfo), commandTimeout)
	if err != nil {
		return err
	}
	selfInfo, err := protocol.ParseSelfInfo(selfFrames[len(selfFrames)-1])
	if err != nil {
		return err
	}

	var prefix [6]byte
	copy(prefix[:], selfInfo.PublicKey)

	s.dir.SetDevice(domain.DeviceInfo{
		FirmwareCode:    devInfo.FirmwareCode,
		MaxContacts:     devInfo.MaxContacts,
		MaxChannels:     devInfo.MaxChannels,
		BuildDate:       devInfo.BuildDate,
		Manufacturer:    devInfo.Manufacturer,
		FirmwareVersion: devInfo.FirmwareVersion,
	})
	self := domain.SelfIdentity{
		ID:            domain.IDFromPrefix(prefix),
		Name:          selfInfo.NodeName,
		PublicKey:     selfInfo.PublicKey,
		Latitude:      selfInfo.Latitude,
		Longitude:     selfInfo.Longitude,
		FreqMHz:       selfInfo.FreqMHz,
		BwKHz:         selfInfo.BwKHz,
		SF:            selfInfo.SF,
		CR:            selfInfo.CR,
		TxPowerDBm:    selfInfo.TxPowerDBm,
		MaxTxPowerDBm: selfInfo.MaxTxPowerDBm,
	}
	s.dir.SetSelf(self)
	s.bus.Publish(events.TopicSelfInfo, self)

	return nil
}

func (s *Service) setState(state events.ConnectionState, err error, tr transport.Transport) {
	s.mu.Lock()
	changed := s.state != state
	s.state = state
	if err != nil {
		s.lastErr = err
	} else if state == events.ConnectionStateConnected {
		s.lastErr = nil
	}
	target := s.target
	s.mu.Unlock()

	if !changed {
		return
	}

	status := events.ConnStatus{
		State:     state,
		Target:    target.String(),
		Timestamp: s.now(),
	}
	if err != nil {
		status.Err = err.Error()
	}
	if tr != nil {
		status.TransportName = tr.Name()
	}
	s.bus.Publish(events.TopicConnStatus, status)
}

func codeSet(codes ...byte) map[byte]bool {
	set := make(map[byte]bool, len(codes))
	for _, c := range codes {
		set[c] = true
	}

	return set
}
