package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health <base-url>",
	Short: "Query a process's /health endpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		code, body, err := fetchHealth(ctx, http.DefaultClient, args[0])
		if err != nil {
			return fmt.Errorf("checking health: %w", err)
		}
		if err := printHealth(cmd.OutOrStdout(), code, body); err != nil {
			return err
		}
		if code != http.StatusOK {
			return fmt.Errorf("unhealthy: HTTP %d", code)
		}
		return nil
	},
}

func fetchHealth(ctx context.Context, client *http.Client, baseURL string) (int, map[string]any, error) {
	url := strings.TrimRight(baseURL, "/") + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("reading response: %w", err)
	}
	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		return resp.StatusCode, nil, fmt.Errorf("decoding response: %w", err)
	}
	return resp.StatusCode, body, nil
}
