package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/plagctl/internal/observability"
	"github.com/3leaps/plagctl/pkg/api"
	"github.com/3leaps/plagctl/pkg/session"
)

var (
	authEmail         string
	authPassword      string
	authPasswordStdin bool
	authRefresh       bool
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and store the session",
	Long: `Sign in to the backend and store the access token in the data directory.

The password is read from --password, from stdin with --password-stdin, or
from the PLAGCTL_PASSWORD environment variable.

With --refresh the stored refresh token is exchanged for a new access token
and no password is needed.

Examples:
  plagctl login --email sv@example.edu --password-stdin < pass.txt
  PLAGCTL_PASSWORD=... plagctl login --email sv@example.edu
  plagctl login --refresh`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account and sign in",
	Args:  cobra.NoArgs,
	RunE:  runRegister,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and forget the stored session",
	Args:  cobra.NoArgs,
	RunE:  runLogout,
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in user",
	Args:  cobra.NoArgs,
	RunE:  runWhoami,
}

func init() {
	rootCmd.AddCommand(loginCmd, registerCmd, logoutCmd, whoamiCmd)
	for _, c := range []*cobra.Command{loginCmd, registerCmd} {
		c.Flags().StringVar(&authEmail, "email", "", "Account email")
		c.Flags().StringVar(&authPassword, "password", "", "Account password")
		c.Flags().BoolVar(&authPasswordStdin, "password-stdin", false, "Read the password from stdin")
	}
	loginCmd.Flags().BoolVar(&authRefresh, "refresh", false, "Renew the stored session with its refresh token")
	_ = registerCmd.MarkFlagRequired("email")
}

// readPassword resolves the password from flags, stdin or environment.
func readPassword(stdin io.Reader) (string, error) {
	if authPasswordStdin {
		line, err := bufio.NewReader(stdin).ReadString('\n')
		if err != nil && err != io.EOF {
			return "", err
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
	if authPassword != "" {
		return authPassword, nil
	}
	if p := os.Getenv("PLAGCTL_PASSWORD"); p != "" {
		return p, nil
	}
	return "", fmt.Errorf("password is required (use --password, --password-stdin or PLAGCTL_PASSWORD)")
}

func runLogin(cmd *cobra.Command, _ []string) error {
	if authRefresh {
		return runRefresh(cmd)
	}
	if strings.TrimSpace(authEmail) == "" {
		return exitError(exitInvalidArgument, "Missing email", fmt.Errorf("--email is required"))
	}
	return authenticate(cmd, "Login", (*api.Client).Login)
}

func runRefresh(cmd *cobra.Command) error {
	client, err := newClient(cmd.Context())
	if err != nil {
		return err
	}
	sess, err := client.Refresh(cmd.Context())
	if err != nil {
		return apiExit("Session refresh failed", err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Session renewed for %s\n", userLabel(sess))
	return nil
}

func runRegister(cmd *cobra.Command, _ []string) error {
	return authenticate(cmd, "Registration", (*api.Client).Register)
}

func authenticate(cmd *cobra.Command, what string, fn func(*api.Client, context.Context, api.Credentials) (session.Session, error)) error {
	password, err := readPassword(cmd.InOrStdin())
	if err != nil {
		return exitError(exitInvalidArgument, "Missing password", err)
	}

	client, err := newClient(cmd.Context())
	if err != nil {
		return err
	}

	sess, err := fn(client, cmd.Context(), api.Credentials{Email: authEmail, Password: password})
	if err != nil {
		return apiExit(what+" failed", err)
	}

	observability.CLILogger.Debug("Stored session", zap.String("path", client.Session().Path()))
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", userLabel(sess))
	return nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	client, err := newClient(cmd.Context())
	if err != nil {
		return err
	}
	if err := client.Logout(cmd.Context()); err != nil {
		return exitError(exitFileWrite, "Failed to clear session", err)
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
	return nil
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	format, err := outputFormat()
	if err != nil {
		return err
	}
	client, err := newClient(cmd.Context())
	if err != nil {
		return err
	}

	user, err := client.Me(cmd.Context())
	if err != nil {
		return apiExit("Failed to fetch profile", err)
	}

	if format != formatText {
		return writeStructured(cmd.OutOrStdout(), format, user)
	}
	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "email=%s\n", user.Email)
	if user.Name != "" {
		_, _ = fmt.Fprintf(out, "name=%s\n", user.Name)
	}
	if user.Tier != "" {
		_, _ = fmt.Fprintf(out, "tier=%s\n", user.Tier)
	}
	_, _ = fmt.Fprintf(out, "api=%s\n", client.BaseURL())
	return nil
}

func userLabel(s session.Session) string {
	if s.User != nil && s.User.Email != "" {
		return s.User.Email
	}
	return authEmail
}
