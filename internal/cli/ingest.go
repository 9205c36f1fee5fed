package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/adapter/postgres"
	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/app"
	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/text"
)

const (
	defaultChunkSize    = 800
	defaultChunkOverlap = 100
)

type ingestOptions struct {
	title   string
	url     string
	file    string
	size    int
	overlap int
}

func newIngestCommand(root *rootOptions) *cobra.Command {
	o := &ingestOptions{}
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Split a document into chunks and store it as a page",
		Long: `Split a document into chunks and store it as a page. A page with the
same title is replaced. Embeddings are computed later, on demand.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := o.read(cmd.InOrStdin())
			if err != nil {
				return err
			}
			chunks := text.Split(content, o.size, o.overlap)
			if len(chunks) == 0 {
				return errors.New("document is empty")
			}

			db, err := app.OpenDB(cmd.Context(), root.cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			id, err := postgres.NewStore(db).InsertPage(cmd.Context(), o.title, o.url, chunks)
			if err != nil {
				return fmt.Errorf("insert page: %w", err)
			}
			slog.Info("page ingested", "page_id", id, "title", o.title, "chunks", len(chunks))
			fmt.Fprintf(cmd.OutOrStdout(), "%d\n", id)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.title, "title", "", "Page title (required)")
	f.StringVar(&o.url, "url", "", "Source URL of the page")
	f.StringVarP(&o.file, "file", "f", "-", "Document to read, - for stdin")
	f.IntVar(&o.size, "chunk-size", defaultChunkSize, "Chunk size in characters")
	f.IntVar(&o.overlap, "chunk-overlap", defaultChunkOverlap, "Overlap between neighbouring chunks")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func (o *ingestOptions) read(stdin io.Reader) (string, error) {
	if o.overlap >= o.size {
		return "", errors.New("--chunk-overlap must be smaller than --chunk-size")
	}
	if o.file == "-" {
		b, err := io.ReadAll(stdin)
		return string(b), err
	}
	b, err := os.ReadFile(o.file) // #nosec G304 -- operator supplied path
	if err != nil {
		return "", fmt.Errorf("read %s: %w", o.file, err)
	}
	return string(b), nil
}
