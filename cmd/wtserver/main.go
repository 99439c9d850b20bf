// Command wtserver runs the WebTransport-over-HTTP/3 echo server: it
// binds a UDP socket, loads a TLS identity, and drives the single-
// threaded event loop until the process receives a termination signal.
//
// quicendpoint.New has no QUIC engine behind it and returns
// quicendpoint.ErrNoEngine, so run stops with that error after loading the
// TLS identity, before the socket is bound.
package main

import (
	"context"
	"fmt"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/recatek/squinn-go/eventloop"
	"github.com/recatek/squinn-go/metrics"
	"github.com/recatek/squinn-go/quicendpoint"
	"github.com/recatek/squinn-go/server"
	"github.com/recatek/squinn-go/socket"
	"github.com/recatek/squinn-go/tlsconfig"
)

const (
	defaultListenAddr  = "[::]:4443"
	defaultCertPath    = "cert/localhost.crt"
	defaultKeyPath     = "cert/localhost.key"
	defaultMetricsAddr = "127.0.0.1:9090"

	defaultMaxIdleTimeout = 10 * time.Second
	defaultMaxAckDelay    = 50 * time.Millisecond
)

func main() {
	app := &cli.App{
		Name:  "wtserver",
		Usage: "WebTransport-over-HTTP/3 datagram echo server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Value: defaultListenAddr, Usage: "UDP address to bind"},
			&cli.StringFlag{Name: "cert", Value: defaultCertPath, Usage: "PEM certificate chain"},
			&cli.StringFlag{Name: "key", Value: defaultKeyPath, Usage: "PEM private key"},
			&cli.StringFlag{Name: "metrics-listen", Value: defaultMetricsAddr, Usage: "address to serve /metrics on"},
			&cli.BoolFlag{Name: "debug", Usage: "enable debug-level logging"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	log := newLogger(c.Bool("debug"))

	tlsCfg, err := tlsconfig.Load(c.String("cert"), c.String("key"))
	if err != nil {
		return fmt.Errorf("loading TLS identity: %w", err)
	}

	endpoint, err := quicendpoint.New(quicendpoint.Config{
		TLS:            tlsCfg,
		MaxIdleTimeout: defaultMaxIdleTimeout,
		MaxAckDelay:    defaultMaxAckDelay,
		AllowSpin:      true,
	})
	if err != nil {
		return fmt.Errorf("constructing QUIC endpoint: %w", err)
	}

	addr, err := netip.ParseAddrPort(c.String("listen"))
	if err != nil {
		return fmt.Errorf("parsing listen address: %w", err)
	}

	sock, err := socket.New(addr, quicendpoint.DefaultMaxUDPPayloadSize)
	if err != nil {
		return fmt.Errorf("binding UDP socket: %w", err)
	}
	defer sock.Close()

	metrics.MustRegister(prometheus.DefaultRegisterer)

	srv := server.New(endpoint, log)
	loop, err := eventloop.New(sock, srv, log)
	if err != nil {
		return fmt.Errorf("starting event loop: %w", err)
	}

	log.Info().Str("addr", addr.String()).Msg("listening")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsSrv := &http.Server{Addr: c.String("metrics-listen"), Handler: metricsMux()}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := loop.Run(gctx); err != nil && gctx.Err() == nil {
			return fmt.Errorf("event loop: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()
		return metricsSrv.Shutdown(context.Background())
	})
	group.Go(func() error {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn().Err(err).Msg("metrics listener stopped")
		}
		return nil
	})

	return group.Wait()
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func newLogger(debug bool) *zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
	return &logger
}
