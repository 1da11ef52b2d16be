package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/twivo/twivo-media/src/mediad/cmd/utils"
	fsutil "github.com/twivo/twivo-media/src/pkg/utils"
)

var openapiCmd = &cobra.Command{
	Use:   "openapi",
	Short: "Writes the OpenAPI document covering the upload and image routes",
	Long: `Writes the merged OpenAPI document served under /docs/. It describes the
upload routes (/upload, /v1/uploads, /v1/uploads/stream) together with the
image catalogue under /v1/images. Without --output the document goes to stdout.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		output, outputErr := cmd.Flags().GetString("output")
		if outputErr != nil {
			return fmt.Errorf("failed to get output: %w", outputErr)
		}

		doc, docErr := utils.GenerateOpenAPISpecs()
		if docErr != nil {
			return fmt.Errorf("failed to generate OpenAPI document: %w", docErr)
		}

		if output == "" {
			_, err := fmt.Fprint(cmd.OutOrStdout(), doc)
			return err
		}
		if writeErr := fsutil.WriteNewFile(output, []byte(doc), 0o644); writeErr != nil {
			return fmt.Errorf("failed to write %s: %w", output, writeErr)
		}
		slog.Info("OpenAPI document written", "path", output)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(openapiCmd)

	openapiCmd.Flags().StringP("output", "o", "", "File receiving the document, must not exist yet")
}
