package main

import (
	"os"
	"secure-socket/session/ssl"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func newRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:          "sslecho",
		Short:        "TLS echo server and client",
		Long:         `sslecho serves and sends echo messages over TLS secure sockets, with either crypto/tls or mint as engine.`,
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "socket config file (YAML)")
	flags.Bool("verbose", false, "log at debug level")
	flags.String("engine", "", "TLS engine: gotls or mint")
	flags.Duration("handshake-timeout", 10*time.Second, "give up handshakes after this long, 0 disables")
	flags.Bool("verify-peer", false, "fail the handshake when the peer certificate doesn't verify")
	flags.String("ca", "", "PEM file with the CA certificates peers are verified against")
	cobra.CheckErr(v.BindPFlags(flags))

	v.SetEnvPrefix("SSLECHO")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root.AddCommand(newServeCmd(v), newSendCmd(v))
	return root
}

func newLogger(v *viper.Viper) (*zap.Logger, error) {
	if v.GetBool("verbose") {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// loadParam reads the config file and applies flags and environment on top.
func loadParam(v *viper.Viper) (ssl.Param, error) {
	var cfg ssl.Config

	if path := v.GetString("config"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return ssl.Param{}, errors.Wrap(err, "opening config")
		}
		defer f.Close()

		if cfg, err = ssl.LoadConfig(f); err != nil {
			return ssl.Param{}, err
		}
	}

	if v.IsSet("engine") {
		cfg.Engine = v.GetString("engine")
	}
	if v.IsSet("handshake-timeout") || cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = v.GetDuration("handshake-timeout")
	}
	if v.IsSet("verify-peer") {
		cfg.VerifyPeer = v.GetBool("verify-peer")
	}
	if v.IsSet("server-name") {
		cfg.ServerName = v.GetString("server-name")
	}

	return cfg.Param()
}

func readOptional(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	return b, errors.Wrapf(err, "reading %s", path)
}
