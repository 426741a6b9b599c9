package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/MakeNowJust/heredoc"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"discovery-worker/config"
	"discovery-worker/domain"
)

type runOptions struct {
	runID        string
	query        string
	category     string
	location     string
	eventDate    string
	budget       float64
	currency     string
	sources      []string
	maxPages     int
	maxItems     int
	concurrency  int
	includePrior bool
	out          string
}

func newCmdRun() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run [flags]",
		Short: "Run one discovery and write the envelope",
		Example: heredoc.Doc(`
			$ discovery-worker run --query "wedding dj" --location "40.41,-3.70" --date 2026-09-12
			$ discovery-worker run --query "wedding dj" --sources djdirectory --max-pages 3 --out dj.json
		`),
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			opts.applyTo(c, cfg)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			f, err := newFactory(ctx, cfg)
			if err != nil {
				return err
			}
			return runOnce(ctx, f, opts.request(c), opts.out)
		},
	}

	cmd.Flags().StringVar(&opts.runID, "run-id", "", "Run id (generated when empty)")
	cmd.Flags().StringVar(&opts.query, "query", "", "What to search for")
	cmd.Flags().StringVar(&opts.category, "category", "", "Provider category")
	cmd.Flags().StringVar(&opts.location, "location", "", `Location as free text or "lat,lng"`)
	cmd.Flags().StringVar(&opts.eventDate, "date", "", "Event date (YYYY-MM-DD)")
	cmd.Flags().Float64Var(&opts.budget, "budget", 0, "Budget for the event")
	cmd.Flags().StringVar(&opts.currency, "currency", "EUR", "Budget currency")
	cmd.Flags().StringSliceVar(&opts.sources, "sources", nil, "Comma-separated list of sources to query")
	cmd.Flags().IntVar(&opts.maxPages, "max-pages", 0, "Maximum listing pages per source")
	cmd.Flags().IntVar(&opts.maxItems, "max-items", 0, "Maximum listing entries per source")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 0, "Concurrent profile fetches")
	cmd.Flags().BoolVar(&opts.includePrior, "include-prior", false, "Merge records stored by earlier runs")
	cmd.Flags().StringVar(&opts.out, "out", "", "Write the envelope to this file")
	_ = cmd.MarkFlagRequired("query")
	return cmd
}

func (o *runOptions) applyTo(c *cobra.Command, cfg *config.Config) {
	if c.Flags().Changed("concurrency") && o.concurrency > 0 {
		cfg.Concurrency = o.concurrency
	}
	if c.Flags().Changed("max-pages") && o.maxPages > 0 {
		cfg.MaxPages = o.maxPages
	}
	if c.Flags().Changed("max-items") && o.maxItems > 0 {
		cfg.MaxItems = o.maxItems
	}
}

func (o *runOptions) request(c *cobra.Command) domain.DiscoveryRequest {
	req := domain.DiscoveryRequest{
		RunID:        o.runID,
		Sources:      o.sources,
		IncludePrior: o.includePrior,
		Search: domain.SearchContext{
			Query:        o.query,
			Category:     o.category,
			LocationText: o.location,
			EventDate:    o.eventDate,
			Currency:     o.currency,
		},
	}
	if c.Flags().Changed("budget") {
		budget := o.budget
		req.Search.Budget = &budget
	}
	return req
}

func runOnce(ctx context.Context, f *factory, req domain.DiscoveryRequest, out string) error {
	res, err := f.service.Run(ctx, req)
	if errors.Is(err, domain.ErrNoData) {
		log.Warn().Str("run_id", res.RunID).Msg("No usable records from any source")
		return err
	}
	if err != nil {
		return err
	}

	if out != "" {
		if err := writeEnvelope(out, res.Envelope); err != nil {
			return err
		}
		log.Info().Str("path", out).Int("records", res.Envelope.Meta.Count).Msg("Envelope written")
	}
	return nil
}

func writeEnvelope(path string, env *domain.Envelope) error {
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write envelope to %s: %w", path, err)
	}
	return nil
}
