package main

import (
	"context"
	"crypto/x509"
	"net"
	"os"
	"os/signal"
	"secure-socket/lib/certgen"
	"secure-socket/session/ssl"
	"secure-socket/transport"
	"secure-socket/transport/tcp"
	"sync"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type serveOptions struct {
	listen    []string
	certFile  string
	keyFile   string
	caFile    string
	reuseAddr bool
}

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Echo back whatever TLS clients send",
		Long: `serve listens on every --listen address and echoes data back to TLS clients.
Without --cert and --key it presents a freshly generated self-signed certificate.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(v)
			if err != nil {
				return err
			}
			defer logger.Sync()

			param, err := loadParam(v)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			opts := serveOptions{
				listen:    v.GetStringSlice("listen"),
				certFile:  v.GetString("cert"),
				keyFile:   v.GetString("key"),
				caFile:    v.GetString("ca"),
				reuseAddr: v.GetBool("reuse-addr"),
			}
			return serve(ctx, opts, param, logger, nil)
		},
	}

	cmd.Flags().StringSlice("listen", []string{"127.0.0.1:4433"}, "addresses to listen on")
	cmd.Flags().String("cert", "", "PEM certificate chain file")
	cmd.Flags().String("key", "", "PEM private key file")
	cmd.Flags().Bool("reuse-addr", true, "set SO_REUSEADDR on listening sockets")
	cobra.CheckErr(v.BindPFlags(cmd.Flags()))

	return cmd
}

// echoServer accepts on one listener and echoes on every child.
type echoServer struct {
	logger *zap.Logger

	mu       sync.Mutex
	children map[*ssl.Sock]struct{}
}

func (e *echoServer) callbacks() ssl.Callbacks {
	return ssl.Callbacks{
		OnAcceptComplete: e.onAccept,
		OnDataRead:       e.onData,
	}
}

func (e *echoServer) onAccept(_, child *ssl.Sock, remote transport.Addr) ssl.Result {
	info := child.Info()
	e.logger.Info("client connected",
		zap.Stringer("remote", remote),
		zap.Stringer("proto", info.Proto),
		zap.Stringer("cipher", info.Cipher),
	)

	e.mu.Lock()
	e.children[child] = struct{}{}
	e.mu.Unlock()

	if err := child.StartRead(); err != nil {
		e.drop(child, err)
		return ssl.Destroyed
	}
	return ssl.Continue
}

func (e *echoServer) onData(child *ssl.Sock, data []byte, err error) ssl.Result {
	if err == nil {
		err = child.Send(data, nil)
		if errors.Is(err, ssl.ErrPending) {
			return ssl.Continue
		}
	}

	e.drop(child, err)
	return ssl.Destroyed
}

func (e *echoServer) drop(child *ssl.Sock, err error) {
	if errors.Is(err, ssl.ErrEOF) {
		e.logger.Info("client disconnected", zap.String("sock", child.Name()))
	} else {
		e.logger.Warn("dropping client", zap.String("sock", child.Name()), zap.Error(err))
	}

	e.mu.Lock()
	delete(e.children, child)
	e.mu.Unlock()
	child.Close()
}

func (e *echoServer) closeChildren() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for child := range e.children {
		child.Close()
		delete(e.children, child)
	}
}

// serve runs until ctx is done. ready, when set, learns every listening address.
func serve(ctx context.Context, opts serveOptions, param ssl.Param, logger *zap.Logger, ready func(transport.Addr)) error {
	if len(opts.listen) == 0 {
		return errors.New("nothing to listen on")
	}

	cert, err := serverCert(opts)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	fail := func(err error) error {
		cancel()
		g.Wait()
		return err
	}

	for _, address := range opts.listen {
		l, err := tcp.Listen(ctx, address, tcp.Options{ReuseAddr: opts.reuseAddr})
		if err != nil {
			return fail(err)
		}

		echo := &echoServer{logger: logger, children: make(map[*ssl.Sock]struct{})}
		p := param
		p.Logger = logger
		p.Callbacks = echo.callbacks()

		srv, err := ssl.New(p)
		if err != nil {
			l.Close()
			return fail(err)
		}
		err = srv.SetCertificate(cert)
		if err == nil {
			err = srv.StartAccept(l)
		}
		if err != nil {
			srv.Close()
			l.Close()
			return fail(err)
		}

		logger.Info("listening", zap.Stringer("addr", l.Addr()), zap.String("engine", p.Engine))
		if ready != nil {
			ready(l.Addr())
		}

		g.Go(func() error {
			<-ctx.Done()
			echo.closeChildren()
			return srv.Close()
		})
	}

	return g.Wait()
}

func serverCert(opts serveOptions) (*ssl.Cert, error) {
	certPEM, err := readOptional(opts.certFile)
	if err != nil {
		return nil, err
	}
	keyPEM, err := readOptional(opts.keyFile)
	if err != nil {
		return nil, err
	}
	caPEM, err := readOptional(opts.caFile)
	if err != nil {
		return nil, err
	}

	if len(certPEM) > 0 || len(keyPEM) > 0 {
		return ssl.LoadCert(certPEM, keyPEM, caPEM)
	}

	var hosts []string
	for _, address := range opts.listen {
		if host, _, err := net.SplitHostPort(address); err == nil && host != "" {
			hosts = append(hosts, host)
		}
	}
	pair, err := certgen.SelfSigned("sslecho", append(hosts, "localhost")...)
	if err != nil {
		return nil, err
	}

	cert, err := ssl.LoadCert(nil, nil, caPEM)
	if err != nil {
		return nil, err
	}
	cert.Chain = []*x509.Certificate{pair.Cert}
	cert.Key = pair.Key
	return cert, nil
}
