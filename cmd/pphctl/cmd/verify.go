package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pph"

	"github.com/spf13/cobra"
)

func newVerifyCommand() *cobra.Command {
	var userID string

	c := &cobra.Command{
		Use:   "verify",
		Short: "Verify a password against a stored user's encoded verifier",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user is required")
			}

			ctx := context.Background()
			cache, users, err := openStore(ctx)
			if err != nil {
				return err
			}

			h, err := newHasher(cache, users)
			if err != nil {
				return err
			}

			matched, err := findUser(ctx, users, userID)
			if err != nil {
				return err
			}

			password, err := readPassword("Password: ")
			if err != nil {
				return err
			}

			result, err := h.Verify(ctx, []byte(password), matched.Password)
			switch {
			case err == nil:
				fmt.Println(result)
			case errors.Is(err, pph.ErrLocked):
				fmt.Println("cannot verify: engine is locked and partial verification is unavailable")
			default:
				return fmt.Errorf("verify failed: %w", err)
			}
			return nil
		},
	}

	c.Flags().StringVar(&userID, "user", "", "user ID to verify")
	return c
}

func findUser(ctx context.Context, users pph.UserStore, id string) (pph.User, error) {
	// UsersSince(epoch) enumerates everyone; fine for a demo CLI working
	// against small datasets, not the production lookup path.
	all, err := users.UsersSince(ctx, time.Time{})
	if err != nil {
		return pph.User{}, err
	}
	for _, u := range all {
		if u.ID == id {
			return u, nil
		}
	}
	return pph.User{}, fmt.Errorf("no such user %q", id)
}
