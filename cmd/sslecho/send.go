package main

import (
	"bytes"
	"context"
	"fmt"
	"secure-socket/session/ssl"
	"secure-socket/transport/tcp"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type sendOptions struct {
	addr   string
	caFile string
	// timeout bounds the whole exchange.
	timeout time.Duration
}

func newSendCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <message>",
		Short: "Send a message to an echo server and print the echo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(v)
			if err != nil {
				return err
			}
			defer logger.Sync()

			param, err := loadParam(v)
			if err != nil {
				return err
			}

			opts := sendOptions{
				addr:    v.GetString("addr"),
				caFile:  v.GetString("ca"),
				timeout: v.GetDuration("timeout"),
			}
			echo, err := send(cmd.Context(), opts, param, logger, []byte(args[0]))
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), string(echo))
			return nil
		},
	}

	cmd.Flags().String("addr", "127.0.0.1:4433", "server address")
	cmd.Flags().String("server-name", "", "name sent as SNI and verified with --verify-peer")
	cmd.Flags().Duration("timeout", 30*time.Second, "time limit for the whole exchange")
	cobra.CheckErr(v.BindPFlags(cmd.Flags()))

	return cmd
}

// exchange collects what one client socket reports.
type exchange struct {
	connected chan error
	done      chan error

	// want, got and finished belong to the read callback until done fires.
	want     int
	got      bytes.Buffer
	finished bool
}

func (x *exchange) finish(err error) {
	if x.finished {
		return
	}
	x.finished = true
	x.done <- err
}

func (x *exchange) callbacks() ssl.Callbacks {
	return ssl.Callbacks{
		OnConnectComplete: func(_ *ssl.Sock, err error) ssl.Result {
			x.connected <- err
			if err != nil {
				return ssl.Destroyed
			}
			return ssl.Continue
		},
		OnDataRead: func(_ *ssl.Sock, data []byte, err error) ssl.Result {
			if err != nil {
				x.finish(err)
				return ssl.Destroyed
			}
			if !x.finished {
				x.got.Write(data)
			}
			if x.got.Len() >= x.want {
				x.finish(nil)
			}
			return ssl.Continue
		},
	}
}

// send connects, sends msg and returns what came back.
func send(ctx context.Context, opts sendOptions, param ssl.Param, logger *zap.Logger, msg []byte) ([]byte, error) {
	if len(msg) == 0 {
		return nil, errors.New("empty message")
	}
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	addr, err := tcp.ResolveAddr(opts.addr)
	if err != nil {
		return nil, err
	}

	caPEM, err := readOptional(opts.caFile)
	if err != nil {
		return nil, err
	}
	cert, err := ssl.LoadCert(nil, nil, caPEM)
	if err != nil {
		return nil, err
	}

	x := &exchange{
		connected: make(chan error, 1),
		done:      make(chan error, 1),
		want:      len(msg),
	}
	param.Logger = logger
	param.Callbacks = x.callbacks()

	cli, err := ssl.New(param)
	if err != nil {
		return nil, err
	}
	defer cli.Close()

	if err := cli.SetCertificate(cert); err != nil {
		return nil, err
	}
	if err := cli.StartConnect(ctx, &tcp.Dialer{}, addr); !errors.Is(err, ssl.ErrPending) {
		return nil, errors.Wrap(err, "connecting")
	}

	if err := wait(ctx, x.connected); err != nil {
		return nil, errors.Wrapf(err, "connecting to %s", addr)
	}
	logInfo(logger, cli.Info())

	if err := cli.StartRead(); err != nil {
		return nil, err
	}
	if err := cli.Send(msg, nil); !errors.Is(err, ssl.ErrPending) {
		return nil, errors.Wrap(err, "sending")
	}

	if err := wait(ctx, x.done); err != nil {
		return nil, errors.Wrap(err, "waiting for echo")
	}

	// done was signaled from the read callback after its last write.
	return x.got.Bytes(), nil
}

func wait(ctx context.Context, ch <-chan error) error {
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func logInfo(logger *zap.Logger, info ssl.Info) {
	logger.Info("connected",
		zap.Stringer("remote", info.RemoteAddr),
		zap.Stringer("proto", info.Proto),
		zap.Stringer("cipher", info.Cipher),
		zap.String("engine", info.Engine),
		zap.Strings("verify", info.VerifyStatus.Strings()),
		zap.String("peer", info.RemoteCertInfo.Subject.CommonName),
	)
}
