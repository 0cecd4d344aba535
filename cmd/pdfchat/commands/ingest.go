package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tbourn/pdf-chat-backend/internal/config"
	"github.com/tbourn/pdf-chat-backend/internal/extract"
)

// ingestSummary is printed for --dry-run.
type ingestSummary struct {
	Filename   string `json:"filename"`
	PageCount  int    `json:"page_count"`
	TextLength int    `json:"text_length"`
}

func newIngestCmd(cfg func() config.Config) *cobra.Command {
	var (
		userID string
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "ingest <file.pdf>...",
		Short: "Upload PDFs from disk on behalf of a user",
		Long: `Run each file through the same pipeline as POST /upload: store the
original, extract its text, chunk it and index the chunks. One JSON result
is printed per file. With --dry-run only the text extraction runs.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := json.NewEncoder(cmd.OutOrStdout())

			if dryRun {
				for _, path := range args {
					res, err := extract.File(path)
					if err != nil {
						return fmt.Errorf("ingest %s: %w", path, err)
					}
					if err := out.Encode(ingestSummary{
						Filename:   filepath.Base(path),
						PageCount:  res.PageCount,
						TextLength: res.TextLength(),
					}); err != nil {
						return err
					}
				}
				return nil
			}

			if userID == "" {
				return fmt.Errorf("ingest: --user is required")
			}
			ctx := cmd.Context()
			a, err := buildApp(ctx, cfg())
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer a.Close()

			for _, path := range args {
				f, err := os.Open(path)
				if err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
				res, err := a.Docs.Upload(ctx, userID, filepath.Base(path), f)
				_ = f.Close()
				if err != nil {
					return fmt.Errorf("ingest %s: %w", path, err)
				}
				if err := out.Encode(res); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "Owner user id for the uploaded documents")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Only extract text and report page and character counts")
	return cmd
}
