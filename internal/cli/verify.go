package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/app"
	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/pipeline"
	"github.com/OLaLa-Project/OLaLA-Project-sub001/internal/stream"
)

type verifyOptions struct {
	url     string
	asOf    string
	topK    int
	window  int
	pages   int
	embed   int
	full    bool
	traceID string
}

func newVerifyCommand(root *rootOptions) *cobra.Command {
	o := &verifyOptions{}
	cmd := &cobra.Command{
		Use:   "verify [claim]",
		Short: "Verify one claim and print its events as JSON lines",
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.MaximumNArgs(1)(cmd, args); err != nil {
				return err
			}
			if (len(args) == 1) == (o.url != "") {
				return errors.New("give either a claim argument or --url")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := o.request(args)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			deps, err := app.Bootstrap(ctx, root.cfg)
			if err != nil {
				return err
			}
			defer deps.Close()

			application, err := app.New(ctx, root.cfg, deps, nil)
			if err != nil {
				return err
			}
			defer func() {
				if err := application.Close(ctx); err != nil {
					slog.Warn("shutdown incomplete", "error", err)
				}
			}()

			run := application.Orchestrator.Run(ctx, req, newJSONLines(cmd.OutOrStdout()))
			if run.Err != nil {
				return run.Err
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.url, "url", "", "Verify the claim made by this article instead")
	f.StringVar(&o.asOf, "as-of", "", "Reference date of the claim (RFC 3339 or 2006-01-02)")
	f.IntVar(&o.topK, "top-k", 0, "Knowledge base hits to keep")
	f.IntVar(&o.window, "window", 0, "Neighbouring chunks packed around each hit")
	f.IntVar(&o.pages, "page-limit", 0, "Candidate pages per query")
	f.IntVar(&o.embed, "embed-missing-cap", 0, "Chunks embedded on demand; negative disables")
	f.BoolVar(&o.full, "full", false, "Include full stage outputs in events")
	f.StringVar(&o.traceID, "trace-id", "", "Trace id of the run")
	return cmd
}

func (o *verifyOptions) request(args []string) (pipeline.Request, error) {
	req := pipeline.Request{
		URL:     o.url,
		TraceID: o.traceID,
		Options: pipeline.Options{
			TopK:               o.topK,
			Window:             o.window,
			PageLimit:          o.pages,
			EmbedMissingCap:    o.embed,
			IncludeFullOutputs: o.full,
		},
	}
	if len(args) == 1 {
		req.ClaimText = args[0]
	}
	if o.asOf != "" {
		t, err := parseDate(o.asOf)
		if err != nil {
			return req, err
		}
		req.AsOf = &t
	}
	return req, nil
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --as-of %q: %w", s, err)
	}
	return t, nil
}

// jsonLines writes one JSON document per event.
type jsonLines struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newJSONLines(w io.Writer) *jsonLines {
	return &jsonLines{enc: json.NewEncoder(w)}
}

func (j *jsonLines) Emit(e stream.Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.enc.Encode(e); err != nil {
		slog.Warn("failed to write event", "seq", e.Seq, "error", err)
	}
}
