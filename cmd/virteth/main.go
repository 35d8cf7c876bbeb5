// SPDX-License-Identifier: GPL-3.0-or-later

// Command virteth runs a UDP benchmark across a simulated loopback NIC.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/netip"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bassosimone/runtimex"
	"github.com/bassosimone/virteth"
	"github.com/bassosimone/virteth/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// args contains the command line arguments (overridable in tests).
	args = os.Args

	// output is the writer for benchmark output (overridable in tests).
	output io.Writer = os.Stdout

	// logOutput is the writer for structured logs (overridable in tests).
	logOutput io.Writer = os.Stderr
)

var app = &cli.App{
	Name:  "virteth",
	Usage: "Run a UDP benchmark across a simulated loopback NIC.",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "config",
			Usage: "Read configuration from `FILE` (YAML, TOML or JSON).",
		},
		&cli.DurationFlag{
			Name:  "duration",
			Usage: "Benchmark duration (overrides the configuration).",
		},
		&cli.StringFlag{
			Name:  "pcap-file",
			Usage: "Write looped-back packets as PCAP to `FILE`.",
		},
		&cli.StringFlag{
			Name:  "metrics-address",
			Usage: "Serve prometheus metrics at `ADDRESS`.",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Log `LEVEL` (debug, info, warn, error).",
		},
	},
	Action: run,
}

// loadConfig loads the configuration and applies the command line overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	if c.IsSet("duration") {
		cfg.Benchmark.Duration = c.Duration("duration")
	}
	if c.IsSet("pcap-file") {
		cfg.Pcap.File = c.String("pcap-file")
	}
	if c.IsSet("metrics-address") {
		cfg.Metrics.Address = c.String("metrics-address")
	}
	if c.IsSet("log-level") {
		cfg.Logging.Level = c.String("log-level")
	}
	return cfg, nil
}

// newLogger creates a JSON logger writing to logOutput.
func newLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.AddSync(logOutput),
		lvl,
	)
	return zap.New(core), nil
}

// interfaceOptions converts the configuration into [virteth.InterfaceOption].
func interfaceOptions(cfg *config.Config, logger *zap.Logger) []virteth.InterfaceOption {
	admission := virteth.AdmissionRX
	if cfg.Interface.Admission == "tx" {
		admission = virteth.AdmissionTX
	}
	return []virteth.InterfaceOption{
		virteth.InterfaceOptionName(cfg.Interface.Name),
		virteth.InterfaceOptionRingCapacity(cfg.Interface.RingCapacity),
		virteth.InterfaceOptionPoolCapacity(cfg.Interface.PoolCapacity),
		virteth.InterfaceOptionAdmission(admission),
		virteth.InterfaceOptionLogger(logger),
	}
}

// linkSettings converts the configuration into [virteth.LinkSettings].
func linkSettings(cfg *config.Config) virteth.LinkSettings {
	duplex := virteth.DuplexFull
	if cfg.Interface.Link.Duplex == "half" {
		duplex = virteth.DuplexHalf
	}
	return virteth.LinkSettings{
		SpeedMbps: cfg.Interface.Link.Speed,
		Duplex:    duplex,
		Autoneg:   cfg.Interface.Link.Autoneg,
	}
}

// serverMain reads datagrams until the deadline and counts the received bytes.
func serverMain(ctx context.Context, sx *virteth.Stack, epnt netip.AddrPort, ready chan<- error, total *atomic.Uint64) {
	// 1. bind the server socket
	conn, err := sx.ListenUDP(epnt)
	ready <- err
	if err != nil {
		return
	}
	defer conn.Close()

	// 2. loop reading data until the deadline
	deadline, _ := ctx.Deadline()
	runtimex.PanicOnError0(conn.SetReadDeadline(deadline))
	data := make([]byte, 65535)
	for {
		count, _, err := conn.ReadFrom(data)
		if err != nil {
			return
		}
		total.Add(uint64(count))
	}
}

// clientMain writes datagrams until the deadline.
func clientMain(ctx context.Context, sx *virteth.Stack, epnt netip.AddrPort, size int, busy *atomic.Uint64) {
	// 1. connect the client socket
	conn, err := sx.DialUDP(epnt)
	if err != nil {
		log.Printf("client: DialUDP failed: %s", err.Error())
		return
	}
	defer conn.Close()

	// 2. write until the deadline, tolerating backpressure
	deadline, _ := ctx.Deadline()
	runtimex.PanicOnError0(conn.SetWriteDeadline(deadline))
	data := make([]byte, size)
	for ctx.Err() == nil {
		if _, err := conn.Write(data); err != nil {
			busy.Add(1)
		}
	}
}

// printerMain prints receive speed stats every 250 millisecond.
func printerMain(ctx context.Context, total *atomic.Uint64) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	t0 := time.Now()
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(output, "\n")
			return
		case t := <-ticker.C:
			elapsed := t.Sub(t0).Seconds()
			nbytes := total.Load()
			speed := (8 * float64(nbytes) / elapsed) / (1000 * 1000)
			fmt.Fprintf(output, "\r\t%10.3f Mbit/s", speed)
		}
	}
}

// metricsMain serves the prometheus metrics until the context is done.
func metricsMain(ctx context.Context, cfg *config.Config, ix *virteth.Interface, logger *zap.Logger) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(virteth.NewCollector(ix))
	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: cfg.Metrics.Address, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("metrics server failed", zap.Error(err))
	}
}

// run is the [cli.ActionFunc] of the app.
func run(c *cli.Context) (err error) {
	// 1. load the configuration and create the logger
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer logger.Sync()

	// 2. open the packet capture, if needed
	options := interfaceOptions(cfg, logger)
	if cfg.Pcap.File != "" {
		filep, err := os.Create(cfg.Pcap.File)
		if err != nil {
			return err
		}
		tr := virteth.NewPCAPTrace(filep, uint16(cfg.Pcap.Snaplen))
		defer func() {
			err = errors.Join(err, tr.Close())
		}()
		options = append(options, virteth.InterfaceOptionTap(tr.DumpFrame))
	}

	// 3. create the NIC and configure the link
	ep := virteth.NewEndpoint(cfg.Interface.MTU, cfg.Interface.Budget, options...)
	ix := ep.Interface()
	ix.SetLinkSettings(linkSettings(cfg))

	// 4. create the stack on top of the NIC
	var addrs []netip.Addr
	for _, addr := range cfg.Addresses {
		addrs = append(addrs, netip.MustParseAddr(addr))
	}
	sx, err := virteth.NewStack(ep, addrs...)
	if err != nil {
		ep.Close()
		ep.Wait()
		return err
	}
	shutdown := sync.OnceFunc(sx.Close)
	defer shutdown()

	// 5. create context with a timeout
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Benchmark.Duration)
	defer cancel()

	// 6. serve metrics in the background, if needed
	wg := &sync.WaitGroup{}
	if cfg.Metrics.Address != "" {
		wg.Go(func() {
			metricsMain(ctx, cfg, ix, logger)
		})
	}

	// 7. spawn the server and wait for it to be listening
	epnt := netip.AddrPortFrom(addrs[0], cfg.Benchmark.Port)
	ready := make(chan error, 1)
	totalRecv := &atomic.Uint64{}
	wg.Go(func() {
		serverMain(ctx, sx, epnt, ready, totalRecv)
	})
	if err := <-ready; err != nil {
		cancel()
		wg.Wait()
		return err
	}

	// 8. spawn the client and the printer
	writeErrors := &atomic.Uint64{}
	wg.Go(func() {
		clientMain(ctx, sx, epnt, cfg.Benchmark.Payload, writeErrors)
	})
	wg.Go(func() {
		printerMain(ctx, totalRecv)
	})

	// 9. wait for the benchmark to finish
	<-ctx.Done()
	shutdown()
	wg.Wait()

	// 10. print the interface counters
	stats := ix.Stats()
	fmt.Fprintf(output, "tx: %d packets, %d bytes, %d busy\n", stats.TxPackets, stats.TxBytes, stats.TxBusy)
	fmt.Fprintf(output, "rx: %d packets, %d bytes, %d dropped\n", stats.RxPackets, stats.RxBytes, stats.RxDropped)
	fmt.Fprintf(output, "write errors: %d\n", writeErrors.Load())
	return nil
}

func main() {
	if err := app.Run(args); err != nil {
		log.Fatal(err)
	}
}
