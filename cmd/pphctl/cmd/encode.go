package cmd

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// randomSalt generates a fresh per-account salt wrapped in the
// "$...$" markers that tell Hasher.Encode to allocate a new threshold
// share number.
func randomSalt() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	return "$" + hex.EncodeToString(buf) + "$", nil
}

func newEncodeCommand() *cobra.Command {
	var userID string

	c := &cobra.Command{
		Use:   "encode",
		Short: "Encode a password for a user and persist it to the configured store",
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

			password, err := readPassword("Password: ")
			if err != nil {
				return err
			}

			salt, err := randomSalt()
			if err != nil {
				return err
			}

			encoded, err := h.Encode(ctx, []byte(password), salt)
			if err != nil {
				return fmt.Errorf("encode failed: %w", err)
			}

			var store interface {
				CreateUser(ctx context.Context, id, encodedPassword string, joined time.Time) error
			}
			switch {
			case sqliteStore != nil:
				store = sqliteStore
			case postgresStore != nil:
				store = postgresStore
			}
			if store == nil {
				return fmt.Errorf("no store backend opened")
			}

			if err := store.CreateUser(ctx, userID, encoded, time.Now()); err != nil {
				return fmt.Errorf("failed to save user: %w", err)
			}

			fmt.Printf("encoded password for %q: %s\n", userID, encoded)
			return nil
		},
	}

	c.Flags().StringVar(&userID, "user", "", "user ID to create")
	return c
}

// readPassword prompts prompt on stderr and reads a password from
// stdin without echoing it, falling back to a plain read when stdin
// isn't a terminal (e.g. piped input in scripts/tests).
func readPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	defer fmt.Fprintln(os.Stderr)

	if term.IsTerminal(int(os.Stdin.Fd())) {
		pw, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(pw), nil
	}

	var pw string
	if _, err := fmt.Fscanln(os.Stdin, &pw); err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return pw, nil
}
