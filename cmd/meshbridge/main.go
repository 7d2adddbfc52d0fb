package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"meshbridge/internal/api"
	"meshbridge/internal/app"
	"meshbridge/internal/bus"
	"meshbridge/internal/config"
	"meshbridge/internal/domain"
	"meshbridge/internal/logging"
	"meshbridge/internal/persistence"
	"meshbridge/internal/session"
)

func main() {
	if err := run(); err != nil {
		slog.Error("run bridge", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "config file path (default: user config dir)")
	listen := flag.String("listen", "", "http listen address, e.g. 127.0.0.1:8865")
	target := flag.String("target", "", "transport target, e.g. /dev/ttyUSB0 or tcp://192.168.1.50:5000")
	baud := flag.Int("baud", 0, "serial baud rate")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	paths, err := app.ResolvePaths()
	if err != nil {
		return fmt.Errorf("resolve paths: %w", err)
	}
	cfgFile := paths.ConfigFile
	if strings.TrimSpace(*configPath) != "" {
		cfgFile = filepath.Clean(*configPath)
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if strings.TrimSpace(*target) != "" {
		cfg.Connection.Target = strings.TrimSpace(*target)
	}
	if *baud > 0 {
		cfg.Connection.SerialBaud = config.ClampBaud(*baud)
	}
	if strings.TrimSpace(*logLevel) != "" {
		cfg.Logging.Level = strings.TrimSpace(*logLevel)
	}
	if strings.TrimSpace(*listen) != "" {
		host, port, err := splitListenAddr(*listen)
		if err != nil {
			return err
		}
		cfg.HTTP.Host = host
		cfg.HTTP.Port = port
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	logMgr := logging.NewManager()
	if err := logMgr.Configure(cfg.Logging, paths.LogFile); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer func() {
		if closeErr := logMgr.Close(); closeErr != nil {
			slog.Warn("close log manager", "error", closeErr)
		}
	}()
	logger := logMgr.Logger("main")
	logger.Info("starting meshbridge", "version", app.BuildVersionWithDate(), "target", cfg.Connection.Target)

	db, err := persistence.Open(ctx, paths.DBFile)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			logger.Warn("close sqlite", "error", closeErr)
		}
	}()
	contactRepo := persistence.NewContactRepo(db)

	b := bus.New(logMgr.Logger("bus"))
	defer b.Close()

	store, err := config.NewStore(logMgr.Logger("config"), cfgFile, cfg)
	if err != nil {
		return fmt.Errorf("configure target store: %w", err)
	}
	store.Start(ctx, b)

	dir := domain.NewDirectory()
	hist := domain.NewHistory()

	// Persisted contacts make name resolution work before the first device
	// sync completes.
	cached, err := contactRepo.ListSortedByLastAdvert(ctx)
	if err != nil {
		return fmt.Errorf("load cached contacts: %w", err)
	}
	dir.ReplaceContacts(cached)
	logger.Info("cached state", "contacts", len(cached))

	writer := persistence.NewWriterQueue(logMgr.Logger("persistence"), 256)
	writer.Start(ctx)

	svc := session.New(logMgr.Logger("session"), b, dir, hist, store.Get().Target)
	svc.OnContactsSynced(func(contacts []domain.Contact) {
		writer.Enqueue("contacts.replace", func(ctx context.Context) error {
			return contactRepo.ReplaceAll(ctx, contacts)
		})
	})
	store.OnTargetChange(svc.ApplyTarget)
	go svc.Run(ctx)

	server, err := api.New(api.Deps{
		Logger:    logMgr.Logger("api"),
		Bus:       b,
		Store:     store,
		Session:   svc,
		Directory: dir,
		History:   hist,
	})
	if err != nil {
		return fmt.Errorf("configure http server: %w", err)
	}

	addr := net.JoinHostPort(cfg.HTTP.Host, strconv.Itoa(cfg.HTTP.Port))

	return server.Start(ctx, addr)
}

func splitListenAddr(raw string) (string, int, error) {
	host, portRaw, err := net.SplitHostPort(strings.TrimSpace(raw))
	if err != nil {
		return "", 0, fmt.Errorf("parse listen address %q: %w", raw, err)
	}
	port, err := strconv.Atoi(portRaw)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("invalid listen port %q", portRaw)
	}
	if host == "" {
		host = config.DefaultHTTPHost
	}

	return host, port, nil
}
