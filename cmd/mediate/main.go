// Command mediate is the agent-side shim a tool-call handler shells out to.
// It reads one mediation request from stdin, posts it to the broker named
// by the spawn environment, waits for the human decision and prints the
// outcome as JSON on stdout.
//
// Usage:
//
//	echo '{"kind":"permission","payload":{"toolName":"edit_file"}}' | mediate
//
// Environment:
//
//	MEDIATION_BROKER_URL   broker base url, e.g. http://localhost:8080
//	MEDIATION_STREAMING_ID correlation id of the current agent run
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/shaloml/cui/internal/domain"
	"github.com/shaloml/cui/pkg/mediate"
	"go.uber.org/zap"
)

type input struct {
	Kind    domain.RequestKind `json:"kind"`
	Payload json.RawMessage    `json:"payload"`
}

type output struct {
	Resolution mediate.Resolution   `json:"resolution"`
	Status     domain.RequestStatus `json:"status"`
	Decision   *domain.Decision     `json:"decision,omitempty"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "mediate:", err)
		os.Exit(1)
	}
}

func run() error {
	brokerURL := os.Getenv("MEDIATION_BROKER_URL")
	correlationID := os.Getenv("MEDIATION_STREAMING_ID")
	if brokerURL == "" || correlationID == "" {
		return errors.New("MEDIATION_BROKER_URL and MEDIATION_STREAMING_ID must be set")
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer logger.Sync()

	var in input
	if err := json.NewDecoder(os.Stdin).Decode(&in); err != nil {
		return fmt.Errorf("invalid request on stdin: %w", err)
	}

	ctx := context.Background()
	client := mediate.NewClient(brokerURL)

	// A validation failure must fail the tool call immediately; there is
	// nothing for a human to decide on a malformed request.
	id, err := client.Notify(ctx, in.Kind, in.Payload, correlationID)
	if err != nil {
		return fmt.Errorf("notify failed: %w", err)
	}

	waiter := mediate.NewWaiter(mediate.WaiterConfig{
		Client:        client,
		CorrelationID: correlationID,
		Logger:        logger,
	})

	out, err := waiter.Await(ctx, id)
	if err != nil {
		return err
	}

	return json.NewEncoder(os.Stdout).Encode(output{
		Resolution: out.Resolution,
		Status:     out.Status,
		Decision:   out.Decision,
	})
}
