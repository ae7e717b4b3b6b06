package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"streamrelay/internal/relay"
)

// messageLine is one relayed message as printed by watch.
type messageLine struct {
	Event     relay.EventName `json:"event"`
	Source    string          `json:"source"`
	RelayedAt time.Time       `json:"relayedAt"`
	Payload   any             `json:"payload"`
}

func printMessage(w io.Writer, line messageLine) error {
	if jsonOutput {
		data, err := json.Marshal(line)
		if err != nil {
			return fmt.Errorf("marshaling JSON: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	payload, err := json.Marshal(line.Payload)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}
	_, err = fmt.Fprintf(w, "%s  %-22s %-12s %s\n",
		line.RelayedAt.Format("15:04:05.000"), line.Event, line.Source, payload)
	return err
}

// printHealth renders a health body. Nested objects are shown as compact JSON.
func printHealth(w io.Writer, statusCode int, body map[string]any) error {
	if jsonOutput {
		data, err := json.MarshalIndent(body, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling JSON: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	keys := make([]string, 0, len(body))
	for k := range body {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "HTTP\t%d\n", statusCode)
	for _, k := range keys {
		v := body[k]
		switch v.(type) {
		case map[string]any, []any:
			data, _ := json.Marshal(v)
			fmt.Fprintf(tw, "%s\t%s\n", k, data)
		default:
			fmt.Fprintf(tw, "%s\t%v\n", k, v)
		}
	}
	return tw.Flush()
}
