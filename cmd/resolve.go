package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <postID>...",
		Short: "Resolves posts and prints one JSON record per line",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runResolve,
	}
}

func runResolve(cmd *cobra.Command, args []string) error {
	rt, err := runtimeFrom(cmd.Context())
	if err != nil {
		return err
	}
	svc, err := newService(cmd.Context(), rt.cfg, rt.logger)
	if err != nil {
		return fmt.Errorf("initialize application services: %w", err)
	}
	defer func() { _ = svc.Close() }()

	enc := json.NewEncoder(cmd.OutOrStdout())
	failed := 0
	for _, id := range args {
		p := svc.Resolve(cmd.Context(), id)
		if p.Failed() {
			failed++
		}
		if err := enc.Encode(p); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d post(s) could not be resolved", failed, len(args))
	}
	return nil
}
