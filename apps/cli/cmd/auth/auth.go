package auth

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	platformauth "github.com/zenGate-Global/palmyra-reports/platform/go/auth"
)

// Command groups credential helpers.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Token and password utilities",
	}

	cmd.AddCommand(tokenCommand())
	cmd.AddCommand(hashPasswordCommand())
	return cmd
}

func tokenCommand() *cobra.Command {
	var (
		secret     string
		issuer     string
		ttl        time.Duration
		userID     int64
		email      string
		role       string
		tenantID   int64
		tenantSlug string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an HS256 token accepted by the API (for operators and local testing)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("AUTH_SECRET")
			}

			parsedRole, err := platformauth.ParseRole(role)
			if err != nil {
				return err
			}

			tokenIssuer, err := platformauth.NewTokenIssuer(platformauth.TokenConfig{
				Secret: []byte(secret),
				Issuer: issuer,
				TTL:    ttl,
			})
			if err != nil {
				return err
			}

			token, identity, err := tokenIssuer.Issue(platformauth.CallerIdentity{
				UserID:     userID,
				Email:      strings.ToLower(strings.TrimSpace(email)),
				Role:       parsedRole,
				TenantID:   tenantID,
				TenantSlug: tenantSlug,
			})
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", identity.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&secret, "secret", "", "signing secret (defaults to $AUTH_SECRET)")
	cmd.Flags().StringVar(&issuer, "issuer", "palmyra-reports", "iss claim; must match the API's AUTH_ISSUER")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime (e.g. 30m, 8h)")
	cmd.Flags().Int64Var(&userID, "user-id", 0, "sub claim")
	cmd.Flags().StringVar(&email, "email", "", "email claim")
	cmd.Flags().StringVar(&role, "role", "read-only", "privileged | standard | read-only")
	cmd.Flags().Int64Var(&tenantID, "tenant-id", 0, "tenant id claim")
	cmd.Flags().StringVar(&tenantSlug, "tenant-slug", "", "tenant slug claim")

	_ = cmd.MarkFlagRequired("user-id")
	_ = cmd.MarkFlagRequired("tenant-id")
	_ = cmd.MarkFlagRequired("tenant-slug")

	return cmd
}

func hashPasswordCommand() *cobra.Command {
	var (
		password string
		cost     int
	)

	cmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Print a bcrypt hash for the users table (reads the password from stdin when --password is omitted)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				read, err := readLine(cmd.InOrStdin())
				if err != nil {
					return err
				}
				password = read
			}
			if password == "" {
				return errors.New("password is required")
			}

			hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
			if err != nil {
				return fmt.Errorf("hash password: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), string(hash))
			return nil
		},
	}

	cmd.Flags().StringVar(&password, "password", "", "password to hash (prefer stdin to keep it out of shell history)")
	cmd.Flags().IntVar(&cost, "cost", bcrypt.DefaultCost, "bcrypt cost")

	return cmd
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
