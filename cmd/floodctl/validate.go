package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/flood-forecast-etl/internal/domain"
	"github.com/couchcryptid/flood-forecast-etl/internal/service"
	"github.com/couchcryptid/flood-forecast-etl/internal/store"
)

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate PAYLOAD_FILE",
		Short: "Check a prediction record against the ingest rules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var p domain.Prediction
			if err := json.Unmarshal(data, &p); err != nil {
				return fmt.Errorf("decode %s: %w", args[0], err)
			}
			svc := service.New(store.NewMemoryStore(), a.logger, a.metrics)
			if err := svc.Validate(p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: valid\n", p.PredictionID)
			return nil
		},
	}
}
