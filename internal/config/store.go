package config

import (
	"context"
	"log/slog"
	"sync"

	"meshbridge/internal/bus"
	"meshbridge/internal/events"
)

// BridgeConfig is the runtime view served by the config API: the active
// transport target plus the live connection flag.
type BridgeConfig struct {
	Target    TransportTarget
	Connected bool
}

// Store holds the active transport target and persists changes to disk.
// Target swaps are observed by the session through the registered callback;
// the connected flag is driven by session state transitions on the bus.
type Store struct {
	logger *slog.Logger
	path   string

	mu        sync.RWMutex
	cfg       AppConfig
	target    TransportTarget
	connected bool
	onTarget  func(TransportTarget)
}

func NewStore(logger *slog.Logger, path string, cfg AppConfig) (*Store, error) {
	target, err := ParseTarget(cfg.Connection.Target, cfg.Connection.SerialBaud)
	if err != nil {
		return nil, err
	}

	return &Store{
		logger: logger,
		path:   path,
		cfg:    cfg,
		target: target,
	}, nil
}

// OnTargetChange registers the callback invoked (outside the store lock)
// whenever SetTarget accepts a new target.
func (s *Store) OnTargetChange(fn func(TransportTarget)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTarget = fn
}

func (s *Store) Get() BridgeConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return BridgeConfig{Target: s.target, Connected: s.connected}
}

func (s *Store) App() AppConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.cfg
}

// SetTarget parses and activates a new transport target. An unparsable
// target returns the parse error and leaves the prior target untouched. On
// success the config file is rewritten and the session is asked to reconnect
// asynchronously; connection status is observed separately via Connected.
func (s *Store) SetTarget(raw string, baud int) (TransportTarget, error) {
	baud = ClampBaud(baud)
	target, err := ParseTarget(raw, baud)
	if err != nil {
		return TransportTarget{}, err
	}

	s.mu.Lock()
	s.target = target
	s.cfg.Connection.Target = target.String()
	s.cfg.Connection.SerialBaud = baud
	cfg := s.cfg
	path := s.path
	notify := s.onTarget
	s.mu.Unlock()

	if path != "" {
		if err := Save(path, cfg); err != nil {
			s.logger.Warn("persist config failed", "error", err)
		}
	}
	if notify != nil {
		notify(target)
	}

	return target, nil
}

// Start subscribes the store to session state transitions so the connected
// flag can be read without a device round trip.
func (s *Store) Start(ctx context.Context, b bus.MessageBus) {
	sub := b.Subscribe(events.TopicConnStatus)
	go func() {
		defer b.Unsubscribe(sub, events.TopicConnStatus)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub:
				if !ok {
					return
				}
				status, ok := msg.(events.ConnStatus)
				if !ok {
					continue
				}
				s.mu.Lock()
				s.connected = status.State == events.ConnectionStateConnected
				s.mu.Unlock()
			}
		}
	}()
}

// SetConnected is the direct form of the bus path, used by tests and by the
// session before the bus is wired.
func (s *Store) SetConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = connected
}
