package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/safelex/safelex/internal/app"
	"github.com/safelex/safelex/internal/config"
	"github.com/safelex/safelex/internal/index"
)

var indexSource string

var indexCmd = &cobra.Command{
	Use:   "index <file>...",
	Short: "Add documents to the retrieval index",
	Long: `Index reads one or more text files, embeds their content and upserts them
into the document index used for retrieval. Re-indexing a file replaces the
stored document, so the command is safe to re-run after edits.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIndex(cmd, args)
	},
}

func init() {
	indexCmd.Flags().StringVar(&indexSource, "source", "", "source label attached to every document (default: file name)")
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, paths []string) error {
	logger := initLogger()
	ctx := cmd.Context()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		content := strings.TrimSpace(string(data))
		if content == "" {
			logger.Warn("skipping empty file", "path", path)
			continue
		}

		name := filepath.Base(path)
		source := indexSource
		if source == "" {
			source = name
		}

		doc := index.Document{
			ID:          name,
			Content:     content,
			SourceLabel: source,
			Metadata:    map[string]string{"path": path},
		}
		if err := a.Index.Add(ctx, doc); err != nil {
			return fmt.Errorf("indexing %s: %w", path, err)
		}
		logger.Info("indexed document", "id", doc.ID, "source", source, "bytes", len(content))
	}

	total, err := a.Index.Count(ctx, "")
	if err != nil {
		return fmt.Errorf("counting documents: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d file(s); index now holds %d document(s).\n", len(paths), total)
	return nil
}
