package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Server holds the state for a server. Shared state lives in the database;
// this is what the connections need to reach it.
type Server struct {
	Config Config

	// DB is how everyone reaches the database.
	DB Handle

	db    *Database
	route Router
	log   *slog.Logger

	// Bounds concurrent connections, inbound and outbound.
	pool *semaphore.Weighted

	// Every connection goroutine. Shutdown waits on it.
	conns sync.WaitGroup

	listener net.Listener

	// Set by serve. Links dialed later run under it.
	ctx context.Context
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt,
		syscall.SIGTERM)

	err := newCommand(run).Run(ctx, reorderArgs(os.Args))
	stop()
	if err == nil {
		return
	}

	fmt.Fprintln(os.Stderr, err)
	var ec cli.ExitCoder
	if errors.As(err, &ec) {
		os.Exit(ec.ExitCode())
	}
	os.Exit(2)
}

func run(ctx context.Context, args Args) error {
	log := newLogger(args.LogLevel)

	cfg, err := configFromArgs(args)
	if err != nil {
		return cli.Exit(fmt.Sprintf("configuration problem: %s", err), 2)
	}

	s := newServer(cfg, log)

	if err := s.listen(); err != nil {
		return cli.Exit(err.Error(), 1)
	}

	if err := s.serve(ctx); err != nil {
		return cli.Exit(err.Error(), 1)
	}

	log.Info("server shutdown cleanly")
	return nil
}

func newLogger(level slog.Level) *slog.Logger {
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.DateTime,
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	}))
}

func newServer(cfg Config, log *slog.Logger) *Server {
	db := NewDatabase(cfg.ServerName, cfg.ServerInfo, cfg.Opers, log)
	return &Server{
		Config: cfg,
		DB:     db.Handle(),
		db:     db,
		route:  Router{db: db.Handle()},
		log:    log.With("server", cfg.ServerName),
		pool:   semaphore.NewWeighted(maxClients),
		ctx:    context.Background(),
	}
}

// listen binds the listening socket.
func (s *Server) listen() error {
	ln, err := net.Listen("tcp", s.Config.ListenAddr)
	if err != nil {
		return errors.Wrap(err, "unable to listen")
	}
	s.listener = ln
	return nil
}

// serve runs the server until ctx is done, then shuts down: stop accepting,
// tell every connection, wait for the connections, and stop the database
// last.
func (s *Server) serve(ctx context.Context) error {
	go s.db.Run()

	g, gctx := errgroup.WithContext(ctx)
	s.ctx = gctx

	g.Go(func() error { return s.acceptConnections(gctx) })

	if s.Config.MetricsListen != "" {
		g.Go(func() error { return serveMetrics(gctx, s.Config.MetricsListen, s.log) })
	}

	for _, link := range s.startupLinks() {
		s.dial(link)
	}

	s.log.Info("catlink started", "listen", s.listener.Addr().String())

	<-gctx.Done()
	s.shutdown()

	err := g.Wait()
	s.conns.Wait()
	s.db.Stop()
	return err
}

func (s *Server) shutdown() {
	s.log.Info("server shutdown initiated")

	if err := s.listener.Close(); err != nil {
		s.log.Warn("problem closing TCP listener", "error", err)
	}

	s.DB.Shutdown(errorMessage("Server shutting down"))
}

// startupLinks are the --link addresses followed by configured links marked
// autoconnect.
func (s *Server) startupLinks() []LinkConfig {
	var links []LinkConfig
	seen := map[string]struct{}{}
	for _, addr := range s.Config.ConnectTo {
		l := s.Config.linkForAddress(addr)
		links = append(links, l)
		seen[l.Address] = struct{}{}
	}
	for _, l := range s.Config.Links {
		if _, ok := seen[l.Address]; ok || !l.Autoconnect {
			continue
		}
		links = append(links, l)
	}
	return links
}

// dial links to a server in the background.
func (s *Server) dial(link LinkConfig) {
	s.conns.Add(1)
	go func() {
		defer s.conns.Done()
		if err := s.connectToServer(s.ctx, link); err != nil &&
			s.ctx.Err() == nil {
			s.log.Warn("unable to connect to server", "address", link.Address,
				"error", err)
		}
	}()
}
