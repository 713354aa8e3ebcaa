package main

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Thejuampi/stomp-client-go/stomp"
	"github.com/Thejuampi/stomp-client-go/stomp/config"
)

type probeFlags struct {
	configPath  string
	destination string
	body        string
	timeout     time.Duration
}

func probeCmd() *cobra.Command {
	var flags probeFlags

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Connect to a broker, round-trip one message and report",
		Long: `probe loads the client configuration (YAML file plus STOMP_* environment
variables), connects through the configured brokers, subscribes to the
destination, sends one message and waits for it to come back.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProbe(cmd.Context(), flags)
		},
	}

	cmd.Flags().StringVarP(&flags.configPath, "config", "c", "", "path to the YAML configuration")
	cmd.Flags().StringVar(&flags.destination, "destination", "/queue/fakestomp.probe", "destination to round-trip through")
	cmd.Flags().StringVar(&flags.body, "body", "probe", "message body")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", 10*time.Second, "time to wait for the message")

	return cmd
}

func runProbe(ctx context.Context, flags probeFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}
	log, err := config.NewLogger(cfg.Logger)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	metrics := stomp.NewMetrics(registry)

	reconnector, err := cfg.NewReconnector(log, metrics)
	if err != nil {
		return err
	}
	session, err := reconnector.Connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = session.Disconnect() }()

	id, err := session.Subscribe(flags.destination, stomp.SubscribeOptions{AckMode: stomp.AckClientIndividual})
	if err != nil {
		return err
	}
	started := time.Now()
	if err := session.Send(flags.destination, []byte(flags.body), stomp.HeaderContentType, "text/plain"); err != nil {
		return err
	}

	deadline := started.Add(flags.timeout)
	for time.Now().Before(deadline) {
		frame, err := session.Read(time.Until(deadline))
		if err != nil {
			return err
		}
		if frame == nil || frame.Command != stomp.CommandMessage {
			continue
		}
		if subscription := session.Match(frame); subscription == nil || subscription.ID != id {
			continue
		}
		if err := session.Ack(frame); err != nil {
			return err
		}

		log.WithFields(logrus.Fields{
			"server":  session.Server(),
			"version": session.Protocol().Version(),
			"dialect": session.Protocol().Dialect().Name(),
			"elapsed": time.Since(started).String(),
		}).Info("probe succeeded")
		return printMetrics(registry)
	}
	return errors.Errorf("no message on %s within %v", flags.destination, flags.timeout)
}

func printMetrics(registry *prometheus.Registry) error {
	families, err := registry.Gather()
	if err != nil {
		return errors.Wrap(err, "gather metrics")
	}
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			labels := ""
			for _, label := range metric.GetLabel() {
				labels += fmt.Sprintf(" %s=%s", label.GetName(), label.GetValue())
			}
			fmt.Printf("%s%s %v\n", family.GetName(), labels, metric.GetCounter().GetValue())
		}
	}
	return nil
}
