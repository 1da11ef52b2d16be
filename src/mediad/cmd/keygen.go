package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/twivo/twivo-media/src/pkg/auth"
	"github.com/twivo/twivo-media/src/pkg/utils"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generates an Ed25519 key pair for signing upload tokens",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, dirErr := cmd.Flags().GetString("out")
		if dirErr != nil {
			return fmt.Errorf("failed to get out: %w", dirErr)
		}

		publicPEM, privatePEM, keyErr := auth.GenerateKeyPair()
		if keyErr != nil {
			return keyErr
		}

		if mkdirErr := os.MkdirAll(dir, 0o755); mkdirErr != nil {
			return fmt.Errorf("failed to create %s: %w", dir, mkdirErr)
		}

		privatePath := filepath.Join(dir, "private.pem")
		if writeErr := utils.WriteNewFile(privatePath, privatePEM, 0o600); writeErr != nil {
			return fmt.Errorf("failed to write private key: %w", writeErr)
		}
		publicPath := filepath.Join(dir, "public.pem")
		if writeErr := utils.WriteNewFile(publicPath, publicPEM, 0o644); writeErr != nil {
			return fmt.Errorf("failed to write public key: %w", writeErr)
		}

		slog.Info("Key pair written", "public", publicPath, "private", privatePath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)

	keygenCmd.Flags().StringP("out", "o", "keys", "Directory receiving public.pem and private.pem")
}
