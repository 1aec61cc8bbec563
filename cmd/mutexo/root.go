package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/LLIEPJIOK/mutexo-client/internal/config"
	"github.com/LLIEPJIOK/mutexo-client/pkg/mutexo"
	"github.com/LLIEPJIOK/mutexo-client/pkg/mutexo/protocol"
	"github.com/LLIEPJIOK/mutexo-client/pkg/ws"
	"github.com/LLIEPJIOK/mutexo-client/pkg/ws/auth"
)

type rootFlags struct {
	configPath  string
	serverURL   string
	wsURL       string
	backend     string
	logLevel    string
	metricsAddr string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:   "mutexo",
		Short: "Client for the mutexo UTxO lock and event server",
		Long: `mutexo talks to a mutexo server over a single websocket connection.

It can watch UTxO events for addresses or references and acquire or
release locks on UTxOs.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "path to YAML config")
	pf.StringVar(&flags.serverURL, "server", "", "http(s) address of the mutexo server")
	pf.StringVar(&flags.wsURL, "ws-url", "", "connect to this websocket URL directly, skipping /wsAuth")
	pf.StringVar(&flags.backend, "backend", "", "websocket backend: gorilla or coder")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&flags.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")

	rootCmd.AddCommand(
		watchCmd(flags),
		lockCmd(flags),
		freeCmd(flags),
		versionCmd(),
	)

	return rootCmd
}

// load собирает конфигурацию: файл, затем окружение, затем флаги.
func (f *rootFlags) load(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return config.Config{}, nil, err
	}

	if f.serverURL != "" {
		cfg.Server.URL = f.serverURL
	}

	if f.wsURL != "" {
		cfg.Server.WSURL = f.wsURL
	}

	if f.backend != "" {
		cfg.Server.Backend = f.backend
	}

	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}

	if f.metricsAddr != "" {
		cfg.Metrics.Addr = f.metricsAddr
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, nil, err
	}

	logger, err := cfg.NewLogger(cmd.ErrOrStderr())
	if err != nil {
		return config.Config{}, nil, err
	}

	return cfg, logger, nil
}

func connect(
	ctx context.Context,
	cfg config.Config,
	logger *slog.Logger,
	reg prometheus.Registerer,
) (*mutexo.Client, error) {
	tlsCfg, err := auth.TLSConfigFromEnv()
	if err != nil {
		return nil, err
	}

	wsURL := cfg.Server.WSURL
	if wsURL == "" {
		httpClient := http.DefaultClient
		if tlsCfg != nil {
			httpClient = &http.Client{Transport: &http.Transport{TLSClientConfig: tlsCfg}}
		}

		wsURL, _, err = auth.ConnectURL(ctx, httpClient, cfg.Server.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to get connection url: %w", err)
		}
	}

	clientCfg := mutexo.DefaultClientConfig()
	clientCfg.Logger = logger
	clientCfg.RequestTimeout = cfg.Client.RequestTimeout

	if reg != nil {
		clientCfg.Metrics = mutexo.NewMetrics(reg, cfg.Metrics.Namespace)
	}

	opts := []ws.Option{
		ws.WithHandshakeTimeout(cfg.Server.HandshakeTimeout),
		ws.WithReadLimit(cfg.Server.ReadLimit),
	}

	if tlsCfg != nil {
		opts = append(opts, ws.WithTLSConfig(tlsCfg))
	}

	client, err := mutexo.Dial(ctx, cfg.BackendKind(), wsURL, clientCfg, opts...)
	if err != nil {
		return nil, err
	}

	if err := client.WaitUntilReady(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connection not ready: %w", err)
	}

	return client, nil
}

func parseRefs(args []string) ([]protocol.TxOutRef, error) {
	refs := make([]protocol.TxOutRef, 0, len(args))

	for _, arg := range args {
		ref, err := protocol.ParseTxOutRef(arg)
		if err != nil {
			return nil, err
		}

		refs = append(refs, ref)
	}

	return refs, nil
}
