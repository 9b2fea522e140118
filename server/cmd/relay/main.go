package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/opendlv/opendlv-ui-relay/server/internal/api"
	"github.com/opendlv/opendlv-ui-relay/server/internal/bus"
	"github.com/opendlv/opendlv-ui-relay/server/internal/config"
	"github.com/opendlv/opendlv-ui-relay/server/internal/mapfeed"
	"github.com/opendlv/opendlv-ui-relay/server/internal/metrics"
	"github.com/opendlv/opendlv-ui-relay/server/internal/relay"
	"github.com/opendlv/opendlv-ui-relay/server/internal/static"
	"github.com/opendlv/opendlv-ui-relay/server/internal/ws"
)

const shutdownTimeout = 5 * time.Second

// errBusLost is returned by run when the bus session ended on its own.
var errBusLost = errors.New("bus session lost")

type flags struct {
	configPath string
	cid        int
	port       int
	httpRoot   string
	certPath   string
	keyPath    string
	mapFile    string
	id         string
	verbose    bool
	transport  string
}

func main() {
	_ = godotenv.Load() // optional .env

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:   "opendlv-ui-relay",
		Short: "Relay an OD4 session to browser clients over WebSocket",
		Long: `opendlv-ui-relay joins one OD4 session and forwards every envelope to the
connected WebSocket clients. Envelopes sent by clients are stamped and
published on the session. The browser UI is served from --http-root.`,
		Example:       "  opendlv-ui-relay --cid=111 --port=8000 --http-root=/usr/share/vehicle-view",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(f.configPath, flagOverrides(cmd, &f))
			if err != nil {
				cmd.PrintErrln(cmd.UsageString())
				return err
			}
			return run(cmd.Context(), cfg.Relay)
		},
	}

	bindFlags(cmd, &f)
	return cmd
}

func bindFlags(cmd *cobra.Command, f *flags) {
	fs := cmd.Flags()
	fs.StringVar(&f.configPath, "config", "", "path to a YAML config file")
	fs.IntVar(&f.cid, "cid", 0, "OD4 session to join (required)")
	fs.IntVar(&f.port, "port", 0, "HTTP/WebSocket listen port (required)")
	fs.StringVar(&f.httpRoot, "http-root", "", "directory the UI is served from (required)")
	fs.StringVar(&f.certPath, "ssl-cert-path", "", "PEM certificate; enables HTTPS/WSS with --ssl-key-path")
	fs.StringVar(&f.keyPath, "ssl-key-path", "", "PEM private key")
	fs.StringVar(&f.mapFile, "map-file", "", "map objects file served on GET /map")
	fs.StringVar(&f.id, "id", "", "instance id used in logs and metrics")
	fs.BoolVar(&f.verbose, "verbose", false, "debug logging, one line per relayed envelope")
	fs.StringVar(&f.transport, "bus", "", "bus transport: multicast | libp2p")
}

// flagOverrides copies the flags set on the command line onto the loaded
// configuration. Flags left unset keep the file or default value.
func flagOverrides(cmd *cobra.Command, f *flags) func(*config.RelayConfig) {
	changed := cmd.Flags().Changed
	return func(r *config.RelayConfig) {
		if changed("cid") {
			r.CID = f.cid
		}
		if changed("port") {
			r.Port = f.port
		}
		if changed("http-root") {
			r.HTTPRoot = f.httpRoot
		}
		if changed("ssl-cert-path") {
			r.TLS.CertFile = f.certPath
		}
		if changed("ssl-key-path") {
			r.TLS.KeyFile = f.keyPath
		}
		if changed("map-file") {
			r.MapFile = f.mapFile
		}
		if changed("id") {
			r.ID = f.id
		}
		if changed("verbose") {
			r.Verbose = f.verbose
		}
		if changed("bus") {
			r.Bus.Transport = f.transport
		}
	}
}

func newLogger(cfg config.RelayConfig) *slog.Logger {
	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	if cfg.ID != "" {
		logger = logger.With("instance", cfg.ID)
	}
	return logger
}

func newTransport(ctx context.Context, cfg config.RelayConfig, logger *slog.Logger) (bus.PubSub, error) {
	switch cfg.Bus.Transport {
	case config.TransportLibp2p:
		lc := cfg.Bus.Libp2p
		p, err := bus.NewLibp2pPubSub(ctx, bus.Libp2pOptions{
			ListenAddrs:     lc.ListenAddrs,
			Bootstrap:       lc.Bootstrap,
			Rendezvous:      lc.Rendezvous,
			EnableMDNS:      lc.MDNS,
			IdentityKeyFile: lc.IdentityKeyFile,
			Logger:          logger,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("libp2p host started", "peer_id", p.ID(), "addrs", p.ListenAddrs())
		return p, nil
	default:
		mc := cfg.Bus.Multicast
		return bus.NewMulticastPubSub(bus.MulticastOptions{
			Port:      mc.Port,
			Interface: mc.Interface,
			TTL:       mc.TTL,
			Logger:    logger,
		})
	}
}

func run(parent context.Context, cfg config.RelayConfig) error {
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	logger.Info("opendlv-ui-relay starting",
		"cid", cfg.CID,
		"port", cfg.Port,
		"http_root", cfg.HTTPRoot,
		"transport", cfg.Bus.Transport,
		"tls", cfg.TLS.Enabled(),
		"map_file", cfg.MapFile,
	)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	transport, err := newTransport(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open bus transport: %w", err)
	}
	defer transport.Close() //nolint:errcheck

	m := metrics.New(cfg.ID)

	session, err := bus.NewSession(ctx, uint16(cfg.CID), transport, bus.WithLogger(logger), bus.WithMetrics(m))
	if err != nil {
		return fmt.Errorf("join session %d: %w", cfg.CID, err)
	}
	defer session.Close()

	rl := relay.New(session, relay.Options{
		Logger:      logger,
		Metrics:     m,
		RateLimit:   cfg.Clients.RateLimit,
		RateBurst:   cfg.Clients.RateBurst,
		MaxBodySize: int(cfg.Clients.MaxMessageSize),
	})
	hub := ws.New(rl, ws.Options{
		SendBuffer:     cfg.Clients.SendBuffer,
		MaxMessageSize: cfg.Clients.MaxMessageSize,
		WriteTimeout:   cfg.Clients.WriteTimeout,
		Logger:         logger,
		Metrics:        m,
	})

	var peers api.PeerLister
	if p, ok := transport.(*bus.Libp2pPubSub); ok {
		peers = p
	}

	routes := api.RouterOptions{
		WebSocket: hub,
		API: api.New(api.Options{
			Session:    session,
			Clients:    hub,
			Stats:      m,
			Peers:      peers,
			Transport:  cfg.Bus.Transport,
			InstanceID: cfg.ID,
		}),
		Metrics: m.Handler(),
		Static:  static.New(cfg.HTTPRoot, logger),
		Logger:  logger,
	}

	var feed *mapfeed.Feed
	if cfg.MapFile != "" {
		feed = mapfeed.New(cfg.MapFile, logger, m)
		if err := feed.Load(); err != nil {
			logger.Warn("map file not loaded", "path", feed.Path(), "err", err)
		}
		routes.Map = feed
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           api.NewRouter(routes),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Everything below stops when the signal arrives or the bus goes away.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		err := rl.Run(gctx, hub)
		if errors.Is(err, relay.ErrBusClosed) {
			if ctx.Err() != nil {
				return nil
			}
			return errBusLost
		}
		return err
	})
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		select {
		case <-session.Done():
			if ctx.Err() == nil {
				return errBusLost
			}
		case <-gctx.Done():
		}
		return nil
	})
	if feed != nil {
		g.Go(func() error {
			if err := feed.Watch(gctx); err != nil {
				logger.Warn("map file watch stopped", "path", feed.Path(), "err", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		logger.Info("HTTP server listening", "port", cfg.Port, "tls", cfg.TLS.Enabled())
		var err error
		if cfg.TLS.Enabled() {
			err = srv.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if err != nil {
		logger.Error("opendlv-ui-relay stopped", "err", err)
		return err
	}
	logger.Info("opendlv-ui-relay shut down")
	return nil
}
