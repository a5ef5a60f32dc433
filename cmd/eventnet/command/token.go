package command

import (
	"errors"
	"fmt"
	"os"
	"time"

	"eventnet/internal/admin"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	tokenSubject string
	tokenTTL     time.Duration
)

// tokenCmd mints a bearer token for the admin API
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an admin API token",
	Long:  `Sign a bearer token for the admin API with ADMIN_JWT_SECRET and print it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// only the secret is needed here, not a full server config
		godotenv.Load(envFile)

		secret := os.Getenv("ADMIN_JWT_SECRET")
		if secret == "" {
			return errors.New("ADMIN_JWT_SECRET is not set")
		}

		token, err := admin.NewTokenService(secret).IssueToken(tokenSubject, tokenTTL)
		if err != nil {
			return fmt.Errorf("failed to sign token: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "admin", "token subject")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")

	rootCmd.AddCommand(tokenCmd)
}
