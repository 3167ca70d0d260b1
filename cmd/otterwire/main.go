package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/otterwire/otterwire/config"
	"github.com/otterwire/otterwire/internal/core/amqp"
	"github.com/otterwire/otterwire/internal/transport"
	"github.com/otterwire/otterwire/pkg/logger"
	"github.com/otterwire/otterwire/pkg/metrics"
	"github.com/otterwire/otterwire/web"
)

var (
	VERSION = ""
)

var (
	cfg       *config.Config
	collector *metrics.Collector

	flagURL string
)

func main() {
	root := &cobra.Command{
		Use:           "otterwire",
		Short:         "AMQP 0-9-1 client",
		Version:       VERSION,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg = config.LoadConfig(VERSION)
			if flagURL != "" {
				cfg.URL = flagURL
			}
			logger.Init(cfg.LogLevel)
			collector = metrics.NewCollector()
		},
	}
	root.PersistentFlags().StringVar(&flagURL, "url", "", "broker URL (overrides config)")

	root.AddCommand(newPingCmd(), newPublishCmd(), newConsumeCmd())

	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

func dial(ctx context.Context) (*transport.Client, error) {
	opts := transport.Options{
		URL:               cfg.URL,
		Username:          cfg.Username,
		Password:          cfg.Password,
		Vhost:             cfg.Vhost,
		HeartbeatInterval: cfg.HeartbeatInterval,
		ChannelMax:        cfg.ChannelMax,
		FrameMax:          cfg.FrameMax,
		Metrics:           collector,
	}
	if cfg.TLSSkipVerify {
		opts.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return transport.Dial(ctx, opts)
}

func newPingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Connect, print the negotiated tuning and disconnect",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			client, err := dial(ctx)
			if err != nil {
				return err
			}
			defer client.Close(ctx)

			props := client.ServerProperties()
			fmt.Printf("product:    %v %v\n", props["product"], props["version"])
			fmt.Printf("frame-max:  %d\n", client.FrameMax())
			fmt.Printf("heartbeat:  %s\n", client.HeartbeatInterval())
			return nil
		},
	}
}

func newPublishCmd() *cobra.Command {
	var (
		exchange   string
		routingKey string
		body       string
		mandatory  bool
		persistent bool
		confirm    bool
	)
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a single message",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			client, err := dial(ctx)
			if err != nil {
				return err
			}
			defer client.Close(ctx)

			ch, err := client.Channel(ctx)
			if err != nil {
				return err
			}
			if confirm {
				if err := ch.ConfirmSelect(ctx); err != nil {
					return err
				}
			}

			props := &amqp.BasicProperties{
				ContentType: amqp.TEXT_PLAIN,
				Timestamp:   time.Now(),
			}
			if persistent {
				props.DeliveryMode = amqp.PERSISTENT
			}
			if err := ch.Publish(exchange, routingKey, mandatory, false, props, []byte(body)); err != nil {
				return err
			}
			if confirm {
				if err := waitForConfirm(ctx, client); err != nil {
					return err
				}
			}
			log.Info().
				Str("exchange", exchange).
				Str("routing_key", routingKey).
				Int("bytes", len(body)).
				Msg("Published")
			return nil
		},
	}
	cmd.Flags().StringVarP(&exchange, "exchange", "e", "", "target exchange")
	cmd.Flags().StringVarP(&routingKey, "routing-key", "k", "", "routing key")
	cmd.Flags().StringVarP(&body, "body", "b", "", "message body")
	cmd.Flags().BoolVar(&mandatory, "mandatory", false, "return the message if unroutable")
	cmd.Flags().BoolVar(&persistent, "persistent", false, "mark the message persistent")
	cmd.Flags().BoolVar(&confirm, "confirm", false, "wait for a publisher confirm")
	return cmd
}

// waitForConfirm blocks until the broker acks or nacks the outstanding
// publish, or the context expires.
func waitForConfirm(ctx context.Context, client *transport.Client) error {
	for {
		select {
		case ev, ok := <-client.Events():
			if !ok {
				return amqp.ErrConnectionClosed
			}
			switch e := ev.(type) {
			case amqp.ConfirmAck:
				return nil
			case amqp.ConfirmNack:
				return fmt.Errorf("broker rejected message (delivery-tag %d)", e.DeliveryTag)
			case amqp.ContentReturned:
				return fmt.Errorf("message returned: %d %s", e.ReplyCode, e.ReplyText)
			case amqp.ConnectionClosed:
				return errOr(e.Err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func errOr(err error) error {
	if err != nil {
		return err
	}
	return amqp.ErrConnectionClosed
}

func newConsumeCmd() *cobra.Command {
	var (
		queue   string
		autoAck bool
	)
	cmd := &cobra.Command{
		Use:   "consume",
		Short: "Consume from a queue and print deliveries until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			client, err := dial(ctx)
			if err != nil {
				return err
			}
			defer client.Close(context.Background())

			ch, err := client.Channel(ctx)
			if err != nil {
				return err
			}
			tag, err := ch.Consume(ctx, queue, "", false, autoAck, false, nil)
			if err != nil {
				return err
			}
			log.Info().Str("queue", queue).Str("consumer_tag", tag).Msg("Consuming")

			var webServer *web.Server
			if cfg.EnableWebAPI {
				webServer = web.NewServer(collector, VERSION)
				go func() {
					if err := webServer.Listen(cfg.WebPort); err != nil {
						log.Error().Err(err).Msg("Web server error")
					}
				}()
				defer webServer.Shutdown()
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

			for {
				select {
				case ev, ok := <-client.Events():
					if !ok {
						return amqp.ErrConnectionClosed
					}
					switch e := ev.(type) {
					case amqp.ContentDelivered:
						fmt.Printf("[%d] %s/%s: %s\n",
							e.DeliveryTag, e.Exchange, e.RoutingKey, e.Body)
						if !autoAck {
							if err := ch.Ack(e.DeliveryTag, false); err != nil {
								return err
							}
						}
					case amqp.ConnectionClosed:
						return errOr(e.Err)
					}
				case <-stop:
					log.Info().Msg("Shutting down consumer...")
					cancelCtx, cancelDone := context.WithTimeout(context.Background(), 5*time.Second)
					err := ch.Cancel(cancelCtx, tag)
					cancelDone()
					return err
				}
			}
		},
	}
	cmd.Flags().StringVarP(&queue, "queue", "q", "", "source queue")
	cmd.Flags().BoolVar(&autoAck, "auto-ack", false, "acknowledge automatically on delivery")
	cmd.MarkFlagRequired("queue")
	return cmd
}
