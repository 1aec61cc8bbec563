package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/LLIEPJIOK/mutexo-client/pkg/mutexo"
	"github.com/LLIEPJIOK/mutexo-client/pkg/mutexo/protocol"
)

const shutdownTimeout = 5 * time.Second

var defaultWatchKinds = []string{"free", "lock", "input", "output"}

type watchFlags struct {
	addrs []string
	utxos []string
}

func watchCmd(root *rootFlags) *cobra.Command {
	flags := &watchFlags{}

	cmd := &cobra.Command{
		Use:   "watch [kinds...]",
		Short: "Subscribe to UTxO events and print them",
		Long: `Subscribe to the given event kinds (free, lock, input, output by default)
and print every matching event until interrupted or the server closes the
connection.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = defaultWatchKinds
			}

			kinds := make([]mutexo.EventKind, 0, len(args))
			for _, name := range args {
				kind, err := protocol.ParseEventKind(name)
				if err != nil {
					return err
				}
				kinds = append(kinds, kind)
			}

			filters, err := flags.filters()
			if err != nil {
				return err
			}

			return runWatch(cmd, root, kinds, filters)
		},
	}

	cmd.Flags().StringSliceVar(&flags.addrs, "addr", nil, "filter events by address (repeatable)")
	cmd.Flags().StringSliceVar(&flags.utxos, "utxo", nil, "filter events by <txhash>#<index> (repeatable)")

	return cmd
}

func (f *watchFlags) filters() ([]protocol.Filter, error) {
	filters := make([]protocol.Filter, 0, len(f.addrs)+len(f.utxos))

	for _, addr := range f.addrs {
		filters = append(filters, protocol.FilterAddress(addr))
	}

	refs, err := parseRefs(f.utxos)
	if err != nil {
		return nil, err
	}

	for _, ref := range refs {
		filters = append(filters, protocol.FilterRef(ref))
	}

	return filters, nil
}

func runWatch(cmd *cobra.Command, root *rootFlags, kinds []mutexo.EventKind, filters []protocol.Filter) error {
	cfg, logger, err := root.load(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	reg := prometheus.NewRegistry()

	client, err := connect(ctx, cfg, logger, reg)
	if err != nil {
		return err
	}
	defer client.Close()

	out := &lockedWriter{w: cmd.OutOrStdout()}
	printer := func(msg protocol.Message) {
		out.println(formatMessage(msg))
	}

	for _, kind := range kinds {
		ack, err := client.Subscribe(ctx, kind, filters, printer)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", kind, err)
		}

		if failure, ok := ack.(*protocol.SubFailure); ok {
			return fmt.Errorf("subscribe %s rejected: %s", kind, failure.Code)
		}

		logger.Info("subscribed", "kind", kind.String(), "filters", len(filters))
	}

	client.On(mutexo.KindError, func(msg protocol.Message) {
		out.println(formatMessage(msg))
	})

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Addr != "" {
		srv := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}

		g.Go(func() error {
			logger.Info("metrics server started", "addr", cfg.Metrics.Addr)

			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}

			return nil
		})

		g.Go(func() error {
			<-gctx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-client.Done():
			logger.Info("connection closed by server")
			return errConnectionClosed
		}
	})

	err = g.Wait()
	if errors.Is(err, errConnectionClosed) {
		return nil
	}

	return err
}

// errConnectionClosed останавливает остальные горутины группы.
var errConnectionClosed = errors.New("connection closed")

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) println(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	fmt.Fprintln(l.w, s)
}

func formatMessage(msg protocol.Message) string {
	switch m := msg.(type) {
	case *protocol.Free:
		return fmt.Sprintf("free %s %s", m.Ref, m.Address)
	case *protocol.Lock:
		return fmt.Sprintf("lock %s %s", m.Ref, m.Address)
	case *protocol.Input:
		return fmt.Sprintf("input %s %s", m.Ref, m.Address)
	case *protocol.Output:
		return fmt.Sprintf("output %s %s", m.Ref, m.Address)
	case *protocol.MutexSuccess:
		return fmt.Sprintf("%s ok %s", m.Op, joinRefs(m.Refs))
	case *protocol.MutexFailure:
		return fmt.Sprintf("%s failed %s", m.Op, joinRefs(m.Refs))
	case *protocol.Error:
		return fmt.Sprintf("error %s", m.Code)
	default:
		if kind, ok := protocol.KindOf(msg); ok {
			return kind.String()
		}

		return fmt.Sprintf("%T", msg)
	}
}

func joinRefs(refs []protocol.TxOutRef) string {
	parts := make([]string, 0, len(refs))
	for _, ref := range refs {
		parts = append(parts, ref.String())
	}

	return strings.Join(parts, " ")
}
