package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var publishCmd = &cobra.Command{
	Use:   "publish SUBJECT [PAYLOAD]",
	Short: "Publish a payload on the bus",
	Long: `Publish a JSON payload on a subject. The payload is validated against the
contract catalog before it is sent.

Examples:
  # Publish an inline payload
  eventsync publish round.created.v1.guild-1 '{"id":"r1","title":"Sunday"}'

  # Publish a payload file
  eventsync publish leaderboard.updated.v1 -f board.json`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runPublish,
}

func init() {
	publishCmd.Flags().String("url", "", "Websocket URL of the bus")
	publishCmd.Flags().String("catalog", "", "Path to the contract catalog")
	publishCmd.Flags().StringP("file", "f", "", "Read the payload from a file")
	publishCmd.Flags().Duration("linger", 500*time.Millisecond, "Time to wait for the frame to flush before disconnecting")
	publishCmd.Flags().Duration("timeout", 10*time.Second, "Connect timeout")
}

func runPublish(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("url") {
		cfg.URL, _ = cmd.Flags().GetString("url")
	}
	if cfg.URL == "" {
		return fmt.Errorf("no bus URL configured (--url or EVENTSYNC_URL)")
	}

	payload, err := readPayload(cmd, args)
	if err != nil {
		return err
	}

	index, err := loadIndex(cmd, cfg)
	if err != nil {
		return err
	}

	timeout, _ := cmd.Flags().GetDuration("timeout")
	linger, _ := cmd.Flags().GetDuration("linger")

	ws := newWebSocket(cfg)
	ws.SetValidator(index)

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	if err := ws.Connect(ctx, cfg.URL); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer ws.Disconnect()

	if err := ws.Publish(args[0], payload); err != nil {
		return err
	}
	time.Sleep(linger)

	fmt.Printf("✓ published %d bytes on %s\n", len(payload), args[0])
	return nil
}

func readPayload(cmd *cobra.Command, args []string) ([]byte, error) {
	file, _ := cmd.Flags().GetString("file")
	switch {
	case file != "" && len(args) == 2:
		return nil, fmt.Errorf("pass either a payload or --file, not both")
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read payload: %w", err)
		}
		return data, nil
	case len(args) == 2:
		return []byte(args[1]), nil
	default:
		return nil, fmt.Errorf("no payload given")
	}
}
