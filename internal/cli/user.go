package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/evcraddock/incident-board/internal/auth"
	"github.com/evcraddock/incident-board/internal/user"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}
	cmd.AddCommand(newUserAddCmd(), newUserListCmd())
	return cmd
}

func newUserAddCmd() *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Create a user",
		Long:  "Create a user account. The password is taken from --password or, if omitted, read from the first line of stdin.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("password") {
				p, err := readPassword(cmd.InOrStdin())
				if err != nil {
					return err
				}
				password = p
			}
			return runUserAdd(cmd, args[0], password)
		},
	}

	cmd.Flags().StringVar(&password, "password", "", "password for the new user")

	return cmd
}

func runUserAdd(cmd *cobra.Command, name, password string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	s, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.close()

	hasher, err := auth.NewHasher(cfg.BcryptCost)
	if err != nil {
		return err
	}

	// Sessions are never created here, so the manager needs no backend.
	m := auth.NewManager(s.users, nil, hasher, auth.Options{})
	u, err := m.Signup(ctx, name, password)
	if errors.Is(err, user.ErrNameTaken) {
		return fmt.Errorf("user %q already exists", name)
	}
	if err != nil {
		return err
	}

	if isJSON() {
		return printJSON(cmd.OutOrStdout(), u)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created user %s (%s)\n", u.Name, u.ID)
	return nil
}

// readPassword returns the first line of r without its line ending.
func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func newUserListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserList(cmd)
		},
	}
}

func runUserList(cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	s, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.close()

	users, err := s.users.List(ctx)
	if err != nil {
		return err
	}

	if isJSON() {
		return printJSON(cmd.OutOrStdout(), users)
	}
	return printUserTable(cmd.OutOrStdout(), users)
}
