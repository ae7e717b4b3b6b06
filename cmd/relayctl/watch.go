package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"streamrelay/internal/relay"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print relayed events as they arrive",
	Long: `Connects to the hub as a subscriber and prints every relayed event.

With --nats, subscribes to the hub's NATS mirror instead of opening a
WebSocket connection.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		natsURL, _ := cmd.Flags().GetString("nats")
		prefix, _ := cmd.Flags().GetString("subject-prefix")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		out := cmd.OutOrStdout()
		if natsURL != "" {
			return watchNATS(ctx, out, natsURL, prefix)
		}
		return watchRelay(ctx, out)
	},
}

func init() {
	watchCmd.Flags().String("nats", os.Getenv("RELAYCTL_NATS_URL"), "tail the NATS mirror at this URL instead of the WebSocket")
	watchCmd.Flags().String("subject-prefix", relay.DefaultSubjectPrefix, "NATS subject prefix of the mirror")
}

func watchRelay(ctx context.Context, out io.Writer) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	client, err := relay.NewClient(relay.ClientConfig{URL: relayURL, ClientID: clientID, DialTimeout: timeout}, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	client.OnMessage(func(m relay.Message) {
		line := messageLine{Event: m.Event, Source: m.Source, RelayedAt: m.RelayedAt, Payload: m.Payload}
		if err := printMessage(out, line); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	})
	fmt.Fprintf(os.Stderr, "Watching %s as %q (Ctrl-C to stop)\n", relayURL, clientID)
	return client.Run(ctx)
}

func watchNATS(ctx context.Context, out io.Writer, natsURL, prefix string) error {
	nc, err := nats.Connect(natsURL, nats.Name("relayctl"), nats.Timeout(timeout))
	if err != nil {
		return fmt.Errorf("connecting to NATS: %w", err)
	}
	defer nc.Close()

	ch := make(chan *nats.Msg, 64)
	subject := prefix + ".>"
	sub, err := nc.ChanSubscribe(subject, ch)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", subject, err)
	}
	defer sub.Unsubscribe()

	fmt.Fprintf(os.Stderr, "Watching NATS subject %s (Ctrl-C to stop)\n", subject)
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-ch:
			line, err := decodeMirrored(msg.Data)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Skipping %s: %v\n", msg.Subject, err)
				continue
			}
			if err := printMessage(out, line); err != nil {
				return err
			}
		}
	}
}

func decodeMirrored(data []byte) (messageLine, error) {
	var m relay.MirroredMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return messageLine{}, fmt.Errorf("decoding mirrored message: %w", err)
	}
	return messageLine{Event: m.Event, Source: m.Source, RelayedAt: m.RelayedAt, Payload: m.Payload}, nil
}
