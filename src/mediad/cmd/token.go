package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/twivo/twivo-media/src/pkg/auth"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mints a backend token, for testing",
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		keyPath, _ := flags.GetString("private-key")
		subject, _ := flags.GetString("subject")
		action, _ := flags.GetString("action")
		ttl, _ := flags.GetDuration("ttl")

		key, keyErr := auth.LoadPrivateKey(keyPath)
		if keyErr != nil {
			return keyErr
		}

		token, tokenErr := auth.NewIssuer(key).Issue(subject, action, ttl)
		if tokenErr != nil {
			return fmt.Errorf("failed to sign token: %w", tokenErr)
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().String("private-key", "keys/private.pem", "Path to the Ed25519 private key")
	tokenCmd.Flags().String("subject", "", "Owner the token is issued for")
	tokenCmd.Flags().String("action", auth.ActionUploadImage, "Action the token grants")
	tokenCmd.Flags().Duration("ttl", 5*time.Minute, "Token lifetime, 0 for no expiry")
	if err := tokenCmd.MarkFlagRequired("subject"); err != nil {
		panic(fmt.Errorf("failed to mark flag `subject` as required: %w", err))
	}
}
