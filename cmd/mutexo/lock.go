package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/LLIEPJIOK/mutexo-client/pkg/mutexo"
	"github.com/LLIEPJIOK/mutexo-client/pkg/mutexo/protocol"
)

var errMutexFailure = errors.New("server refused")

func lockCmd(root *rootFlags) *cobra.Command {
	var (
		required int
		hold     bool
	)

	cmd := &cobra.Command{
		Use:   "lock <txhash#index>...",
		Short: "Lock UTxOs on the server",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			refs, err := parseRefs(args)
			if err != nil {
				return err
			}

			return runMutex(cmd, root, hold, func(c *mutexo.Client) (protocol.LockAck, error) {
				return c.Lock(cmd.Context(), refs, required)
			})
		},
	}

	cmd.Flags().IntVarP(&required, "required", "r", 1, "minimum number of references that must be locked")
	cmd.Flags().BoolVar(&hold, "hold", false, "keep the connection (and the locks) until interrupted")

	return cmd
}

func freeCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "free <txhash#index>...",
		Short: "Release UTxO locks on the server",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			refs, err := parseRefs(args)
			if err != nil {
				return err
			}

			return runMutex(cmd, root, false, func(c *mutexo.Client) (protocol.LockAck, error) {
				return c.Free(cmd.Context(), refs)
			})
		},
	}
}

// runMutex выполняет одну операцию lock/free и печатает ответ сервера.
// Сервер снимает блокировки при разрыве соединения, поэтому hold
// держит его открытым до отмены контекста.
func runMutex(
	cmd *cobra.Command,
	root *rootFlags,
	hold bool,
	call func(*mutexo.Client) (protocol.LockAck, error),
) error {
	cfg, logger, err := root.load(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	client, err := connect(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer client.Close()

	ack, err := call(client)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), formatMessage(ack))

	if failure, ok := ack.(*protocol.MutexFailure); ok {
		return fmt.Errorf("%s: %w", failure.Op, errMutexFailure)
	}

	if hold {
		select {
		case <-ctx.Done():
		case <-client.Done():
			logger.Warn("connection closed while holding locks")
		}
	}

	return nil
}
