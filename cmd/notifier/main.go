package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"intent-notifier/pkg/executor"
	"intent-notifier/pkg/host"
	"intent-notifier/pkg/listener"
	"intent-notifier/pkg/settlement"
	"intent-notifier/pkg/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

var (
	optionConfig = &cli.StringFlag{
		Name:     "config",
		Usage:    "path to notifier config file",
		Required: false, // Can also set config via env var
		EnvVars:  []string{"INTENT_NOTIFIER_CONFIG"},
	}
	optionMetricsAddr = &cli.StringFlag{
		Name:  "metrics-addr",
		Usage: "address to serve prometheus metrics on, disabled when empty",
	}
	optionFrom = &cli.Uint64Flag{
		Name:  "from",
		Usage: "first ledger height to read",
		Value: 1,
	}
)

func main() {
	app := &cli.App{
		Name:  "intent-notifier",
		Usage: "Record and follow intent settlement notices",
		Commands: []*cli.Command{
			{
				Name:   "init",
				Usage:  "Initialize the settlement notifier on the configured account",
				Flags:  []cli.Flag{optionConfig},
				Action: initialize,
			},
			{
				Name:  "notify",
				Usage: "Emit a settlement notice for a completed intent",
				Flags: []cli.Flag{
					optionConfig,
					&cli.StringFlag{Name: "intent-id", Usage: "intent identifier", Required: true},
					&cli.StringFlag{Name: "dest-chain", Usage: "destination chain identifier", Required: true},
					&cli.StringFlag{Name: "dest-asset", Usage: "destination asset identifier", Required: true},
					&cli.StringFlag{Name: "txid", Usage: "destination transaction identifier", Required: true},
				},
				Action: notify,
			},
			{
				Name:  "submit",
				Usage: "Submit settlement notices read as JSON lines, retrying transient failures",
				Flags: []cli.Flag{
					optionConfig,
					&cli.StringFlag{Name: "file", Usage: "file with one settlement per line, stdin when empty"},
					&cli.IntFlag{Name: "max-attempts", Usage: "attempts per notice", Value: 5},
					&cli.DurationFlag{Name: "retry-delay", Usage: "delay between attempts", Value: 5 * time.Second},
					optionMetricsAddr,
				},
				Action: submit,
			},
			{
				Name:  "events",
				Usage: "Print stored settlement notices in ledger order",
				Flags: []cli.Flag{
					optionConfig,
					optionFrom,
					&cli.Uint64Flag{Name: "to", Usage: "last ledger height to read, latest when 0"},
				},
				Action: events,
			},
			{
				Name:  "watch",
				Usage: "Follow new settlement notices",
				Flags: []cli.Flag{
					optionConfig,
					&cli.Uint64Flag{Name: "from", Usage: "replay notices from this height before following, 0 follows only new ones"},
					&cli.DurationFlag{Name: "poll-interval", Usage: "ledger poll interval", Value: 5 * time.Second},
					optionMetricsAddr,
				},
				Action: watch,
			},
		}}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(app.Writer, "exited with error: %v\n", err)
		os.Exit(1)
	}
}

func mustLoadConfig(c *cli.Context) config {
	cfg := loadConfigFromEnv()

	configFilePath := c.String(optionConfig.Name)
	if configFilePath == "" {
		log.Debug().Msg("env var config will be used")
	} else {
		log.Debug().Str("config_file", configFilePath).Msg(
			"overriding env var config with file")
		if err := loadConfigFromFile(&cfg, configFilePath); err != nil {
			log.Fatal().Err(err).Msg("failed to load config provided as file")
		}
	}

	if err := checkConfig(&cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	setupLogging(cfg.LogLevel)
	return cfg
}

func openRuntime(cfg config, reg prometheus.Registerer) (*host.Runtime, *store.BoltStore, error) {
	codec, err := settlement.NewCodec(cfg.Codec)
	if err != nil {
		return nil, nil, err
	}
	st, err := store.NewBoltStore(cfg.DBPath, nil)
	if err != nil {
		return nil, nil, err
	}
	rt, err := host.NewRuntime(&host.Options{
		Store:      st,
		Codec:      codec,
		Registerer: reg,
	})
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}
	return rt, st, nil
}

func initialize(c *cli.Context) error {
	cfg := mustLoadConfig(c)
	rt, st, err := openRuntime(cfg, nil)
	if err != nil {
		return err
	}
	defer st.Close()

	receipt, err := rt.Initialize(c.Context, cfg.Account)
	if err != nil {
		return fmt.Errorf("failed to initialize %s: %w", cfg.Account, err)
	}
	log.Info().
		Str("account", cfg.Account).
		Uint64("height", receipt.Height).
		Str("tx_hash", receipt.TxHash.Hex()).
		Msg("settlement notifier initialized")
	return nil
}

func notify(c *cli.Context) error {
	cfg := mustLoadConfig(c)
	rt, st, err := openRuntime(cfg, nil)
	if err != nil {
		return err
	}
	defer st.Close()

	input, err := rt.Codec().Encode(settlement.Notice{
		IntentID:  c.String("intent-id"),
		DestChain: c.String("dest-chain"),
		DestAsset: c.String("dest-asset"),
		TxID:      c.String("txid"),
	})
	if err != nil {
		return err
	}
	receipt, err := rt.NotifySettlement(c.Context, cfg.Account, input)
	if err != nil {
		return fmt.Errorf("failed to notify settlement: %w", err)
	}
	for _, line := range receipt.Logs {
		fmt.Fprintln(c.App.Writer, line)
	}
	return nil
}

func submit(c *cli.Context) error {
	cfg := mustLoadConfig(c)
	reg := prometheus.NewRegistry()
	rt, st, err := openRuntime(cfg, reg)
	if err != nil {
		return err
	}
	defer st.Close()

	srv := startMetricsServer(c.String(optionMetricsAddr.Name), reg)
	defer func() {
		if err := stopMetricsServer(srv); err != nil {
			log.Error().Err(err).Msg("failed to stop metrics server")
		}
	}()

	var in io.Reader = os.Stdin
	if path := c.String("file"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open settlements file: %w", err)
		}
		defer f.Close()
		in = f
	}

	settlements := make(chan settlement.Notice)
	results := make(chan executor.Result)
	ex := executor.NewExecutor(rt, settlements, &executor.Options{
		Account:     cfg.Account,
		Codec:       rt.Codec(),
		MaxAttempts: c.Int("max-attempts"),
		RetryDelay:  c.Duration("retry-delay"),
		Results:     results,
	})
	done := ex.Start(c.Context)

	readErr := make(chan error, 1)
	go func() {
		defer close(settlements)
		readErr <- readSettlements(c.Context, in, settlements)
	}()

	var failed int
	for {
		select {
		case res := <-results:
			if res.Err != nil {
				failed++
				continue
			}
			for _, line := range res.Receipt.Logs {
				fmt.Fprintln(c.App.Writer, line)
			}
		case <-done:
			if err := <-readErr; err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d settlement notices were not submitted", failed)
			}
			return nil
		}
	}
}

func readSettlements(ctx context.Context, in io.Reader, out chan<- settlement.Notice) error {
	scanner := bufio.NewScanner(in)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var n settlement.Notice
		if err := json.Unmarshal(line, &n); err != nil {
			return fmt.Errorf("invalid settlement on line %d: %w", lineNum, err)
		}
		select {
		case out <- n:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return scanner.Err()
}

func events(c *cli.Context) error {
	cfg := mustLoadConfig(c)
	rt, st, err := openRuntime(cfg, nil)
	if err != nil {
		return err
	}
	defer st.Close()

	to := c.Uint64("to")
	if to == 0 {
		if to, err = rt.Height(c.Context); err != nil {
			return err
		}
	}
	receipts, err := rt.Receipts(c.Context, c.Uint64(optionFrom.Name), to)
	if err != nil {
		return err
	}
	for _, r := range receipts {
		if r.Account != cfg.Account {
			continue
		}
		for _, line := range r.Logs {
			fmt.Fprintln(c.App.Writer, line)
		}
	}
	return nil
}

func watch(c *cli.Context) error {
	cfg := mustLoadConfig(c)

	reg := prometheus.NewRegistry()
	observed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "intent_notifier",
		Subsystem: "listener",
		Name:      "notices_observed_total",
		Help:      "Settlement notices delivered to the watcher.",
	})
	reg.MustRegister(observed)

	// Host call metrics are exported by submit.
	rt, st, err := openRuntime(cfg, nil)
	if err != nil {
		return err
	}

	srv := startMetricsServer(c.String(optionMetricsAddr.Name), reg)

	from := c.Uint64("from")
	l := listener.NewListener(rt, &listener.Options{
		Account:      cfg.Account,
		Sync:         from > 0,
		FromHeight:   from,
		PollInterval: c.Duration("poll-interval"),
	})

	ctx, cancel := context.WithCancel(c.Context)
	listenerDone, notices := l.Start(ctx)

	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for e := range notices {
			observed.Inc()
			fmt.Fprintln(c.App.Writer, e.Notice.String())
		}
	}()

	interruptSigChan := make(chan os.Signal, 1)
	signal.Notify(interruptSigChan, os.Interrupt, syscall.SIGTERM)

	// Block until interrupt signal OR context's Done channel is closed.
	select {
	case <-interruptSigChan:
	case <-c.Done():
	}
	fmt.Fprintf(c.App.Writer, "shutting down...\n")
	cancel()

	closedAllSuccessfully := make(chan struct{})
	go func() {
		defer close(closedAllSuccessfully)
		<-listenerDone
		<-printed
		if err := errors.Join(stopMetricsServer(srv), st.Close()); err != nil {
			log.Error().Err(err).Msg("failed to close metrics server and ledger")
		}
	}()
	select {
	case <-closedAllSuccessfully:
	case <-time.After(5 * time.Second):
		log.Error().Msg("failed to close all in time")
	}
	return nil
}

func metricsHandler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}

// startMetricsServer serves reg on addr. It returns nil when addr is empty.
func startMetricsServer(addr string, reg *prometheus.Registry) *http.Server {
	if addr == "" {
		return nil
	}
	srv := &http.Server{Addr: addr, Handler: metricsHandler(reg), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
	log.Info().Str("addr", addr).Msg("serving metrics")
	return srv
}

func stopMetricsServer(srv *http.Server) error {
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
