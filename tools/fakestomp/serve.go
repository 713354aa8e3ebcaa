package main

import (
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Thejuampi/stomp-client-go/stomp/config"
	"github.com/Thejuampi/stomp-client-go/stomp/stomptest"
)

type serveFlags struct {
	addr             string
	wsAddr           string
	version          string
	serverName       string
	heartbeat        string
	silentHeartbeats bool
	auth             string
	logLevel         string
	logFormat        string
}

func serveCmd() *cobra.Command {
	var flags serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the in-memory broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(flags)
		},
	}

	cmd.Flags().StringVar(&flags.addr, "addr", "127.0.0.1:61613", "TCP listen address")
	cmd.Flags().StringVar(&flags.wsAddr, "ws-addr", "", "WebSocket listen address (disabled when empty)")
	cmd.Flags().StringVar(&flags.version, "version", "", "force the negotiated protocol version")
	cmd.Flags().StringVar(&flags.serverName, "server-name", "fakestomp/1.0", "server header sent in CONNECTED")
	cmd.Flags().StringVar(&flags.heartbeat, "heartbeat", "0,0", "broker heart-beat header value")
	cmd.Flags().BoolVar(&flags.silentHeartbeats, "silent-heartbeats", false, "announce heartbeats but never send them")
	cmd.Flags().StringVar(&flags.auth, "auth", "", "accepted credentials as user:pass pairs (e.g. 'user1:pass1,user2:pass2')")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "info", "log level")
	cmd.Flags().StringVar(&flags.logFormat, "log-format", "text", "log format: text or json")

	return cmd
}

func runServe(flags serveFlags) error {
	log, err := config.NewLogger(config.LoggerConfig{Level: flags.logLevel, Format: flags.logFormat})
	if err != nil {
		return err
	}
	log = log.WithField("component", "fakestomp")

	credentials, err := parseCredentials(flags.auth)
	if err != nil {
		return err
	}

	server := stomptest.NewServer(stomptest.Options{
		Version:          flags.version,
		ServerName:       flags.serverName,
		Heartbeat:        flags.heartbeat,
		SilentHeartbeats: flags.silentHeartbeats,
		Credentials:      credentials,
		Log:              log,
	})
	if err := server.Listen(flags.addr); err != nil {
		return err
	}

	var httpServer *http.Server
	if flags.wsAddr != "" {
		listener, err := net.Listen("tcp", flags.wsAddr)
		if err != nil {
			_ = server.Close()
			return errors.Wrapf(err, "listen %s", flags.wsAddr)
		}
		httpServer = &http.Server{Handler: server}
		go func() {
			if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("websocket listener stopped")
			}
		}()
	}

	log.WithFields(logrus.Fields{
		"addr":      server.Addr(),
		"ws":        flags.wsAddr,
		"heartbeat": flags.heartbeat,
		"auth":      len(credentials) > 0,
	}).Info("fakestomp listening")

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	received := <-signals
	log.WithField("signal", received.String()).Info("shutting down")

	if httpServer != nil {
		_ = httpServer.Close()
	}
	return server.Close()
}

func parseCredentials(pairs string) (map[string]string, error) {
	credentials := make(map[string]string)
	if pairs == "" {
		return credentials, nil
	}
	for _, pair := range strings.Split(pairs, ",") {
		login, passcode, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || login == "" {
			return nil, errors.Errorf("invalid credential pair %q", pair)
		}
		credentials[login] = passcode
	}
	return credentials, nil
}
