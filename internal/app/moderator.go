package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/humanreel/backend/internal/config"
	"github.com/humanreel/backend/internal/db"
	"github.com/humanreel/backend/internal/identity"
	"github.com/humanreel/backend/internal/repositories"
)

func newModeratorCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "moderator",
		Short: "Administer moderator accounts",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "grant <accountID>",
			Short: "Grant moderator access to an account",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withGate(cmd.Context(), func(ctx context.Context, gate *identity.Gate) error {
					account, err := gate.ElevateToModerator(ctx, args[0])
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s (%s) is now a moderator\n", account.DisplayName, account.ID)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "set-password <accountID>",
			Short: "Set a moderator's secondary password",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				password, err := readPassword(cmd.InOrStdin(), cmd.ErrOrStderr())
				if err != nil {
					return err
				}
				return withGate(cmd.Context(), func(ctx context.Context, gate *identity.Gate) error {
					if err := gate.SetModeratorPassword(ctx, args[0], password); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), "moderator password updated")
					return nil
				})
			},
		},
	)
	return cmd
}

func withGate(ctx context.Context, fn func(context.Context, *identity.Gate) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	gate := identity.NewGate(repositories.NewPostgresAccountRepository(pool), identity.TrustVerifier{})
	return fn(ctx, gate)
}

// readPassword reads without echo from a terminal and otherwise takes the
// first line of in.
func readPassword(in io.Reader, prompt io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, "Password: ")
		raw, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(raw), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("password is required")
	}
	return line, nil
}
