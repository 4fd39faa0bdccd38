package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "status",
		Short: "Report the configured store backend and a safe summary of one user's verifier (the engine's lock state is not shown)",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, _ := cmd.Flags().GetString("user")

			ctx := context.Background()
			cache, users, err := openStore(ctx)
			if err != nil {
				return err
			}

			h, err := newHasher(cache, users)
			if err != nil {
				return err
			}

			fmt.Printf("backend: %s\n", cfg.Store.Backend)

			if userID == "" {
				return nil
			}

			user, err := findUser(ctx, users, userID)
			if err != nil {
				return err
			}

			fields, err := h.SafeSummary(user.Password)
			if err != nil {
				return fmt.Errorf("safe summary failed: %w", err)
			}
			for _, f := range fields {
				fmt.Printf("  %s: %s\n", f.Key, f.Value)
			}

			mustUpdate, err := h.MustUpdate(user.Password)
			if err != nil {
				return fmt.Errorf("must-update check failed: %w", err)
			}
			fmt.Printf("  must_update: %v\n", mustUpdate)

			return nil
		},
	}

	c.Flags().String("user", "", "optionally report a safe summary for this user")
	return c
}
