package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"streamrelay/internal/relay"
)

var emitCmd = &cobra.Command{
	Use:   "emit <event> [payload-json]",
	Short: "Publish one event to the hub",
	Long: `Publishes a single event to every client connected to the hub.

The payload is a JSON document given as the second argument, or read from
stdin when the argument is "-". It defaults to null.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		event, ok := relay.ParseEventName(args[0])
		if !ok {
			return fmt.Errorf("unknown event %q (must be one of %s)", args[0], eventList())
		}

		var raw string
		if len(args) == 2 {
			raw = args[1]
		}
		payload, err := parsePayload(raw, cmd.InOrStdin())
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := emit(ctx, event, payload); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Published %s\n", event)
		return nil
	},
}

func emit(ctx context.Context, event relay.EventName, payload json.RawMessage) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	client, err := relay.NewClient(relay.ClientConfig{URL: relayURL, ClientID: clientID, DialTimeout: timeout}, logger)
	if err != nil {
		return err
	}

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = client.Run(runCtx)
	}()
	defer func() {
		stop()
		client.Close()
		<-done
	}()

	if err := client.WaitConnected(ctx); err != nil {
		return fmt.Errorf("connecting to %s: %w", relayURL, err)
	}
	return client.Publish(ctx, event, payload)
}

// parsePayload validates raw as JSON. "-" reads the document from stdin.
func parsePayload(raw string, stdin io.Reader) (json.RawMessage, error) {
	if raw == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
		raw = string(data)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return json.RawMessage("null"), nil
	}
	if !json.Valid([]byte(raw)) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}
	return json.RawMessage(raw), nil
}

func eventList() string {
	names := make([]string, len(relay.AllEvents))
	for i, e := range relay.AllEvents {
		names[i] = string(e)
	}
	return strings.Join(names, ", ")
}
