// cmd/admintoken/main.go
package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/javajoker/payper-backend/internal/config"
	"github.com/javajoker/payper-backend/internal/utils"
)

func main() {
	if err := newRootCmd(os.Stdout, config.Load).Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the command that mints admin API tokens with the server's JWT settings.
func newRootCmd(out io.Writer, load func() (*config.Config, error)) *cobra.Command {
	var subject string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "admintoken",
		Short: "Mint a bearer token for the /v1/admin API",
		Long: `Signs a token with role=admin using JWT_SECRET and JWT_ISSUER from the
environment (or .env), the same settings the server validates against.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if subject == "" {
				return fmt.Errorf("--subject is required")
			}
			if ttl <= 0 {
				return fmt.Errorf("--ttl must be positive")
			}

			cfg, err := load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			token, err := utils.NewJWTManager(cfg.JWT.SecretKey, cfg.JWT.Issuer).GenerateJWT(subject, utils.RoleAdmin, ttl)
			if err != nil {
				return fmt.Errorf("failed to sign token: %w", err)
			}
			fmt.Fprintln(out, token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "Operator the token is issued to, recorded in audit logs")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "How long the token stays valid")
	return cmd
}
