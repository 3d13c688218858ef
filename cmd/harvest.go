package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/api"
	"github.com/JakeFAU/catalog-harvester/internal/app"
	"github.com/JakeFAU/catalog-harvester/internal/config"
	"github.com/JakeFAU/catalog-harvester/internal/harvest"
)

const closeTimeout = 15 * time.Second

// newHarvestCmd creates the 'harvest' subcommand, which runs every given
// institution (or harvest.institutions) through the fleet runner.
func newHarvestCmd() *cobra.Command {
	var (
		mode        string
		concurrency int
		workers     int
	)
	cmd := &cobra.Command{
		Use:   "harvest [hostname...]",
		Short: "Harvest one or more institutions",
		Example: `  harvester harvest findecnu.libsp.cn
  harvester harvest --config harvest.yaml --workers 8`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := sessionFrom(cmd.Context())
			if err != nil {
				return err
			}
			cfg := s.cfg
			if cmd.Flags().Changed("mode") {
				cfg.Harvest.Mode = mode
			}
			if cmd.Flags().Changed("concurrency") {
				cfg.Harvest.Concurrency = concurrency
			}
			if cmd.Flags().Changed("workers") {
				cfg.Harvest.Workers = workers
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			hosts := args
			if len(hosts) == 0 {
				hosts = cfg.Harvest.Institutions
			}
			if len(hosts) == 0 {
				return fmt.Errorf("no institutions given: pass hostnames or set harvest.institutions")
			}

			return withApp(cmd.Context(), cfg, s.logger, func(ctx context.Context, a *app.App, runner *harvest.Runner) error {
				fleet := harvest.NewFleet(runner.RunInstitution, cfg.Harvest.Workers, s.logger)
				sums, err := fleet.Run(ctx, hosts)
				printSummaries(cmd.OutOrStdout(), sums)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&mode, "mode", config.ModePartitioned, "partitioned or sequential")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "pages in flight per institution (overrides harvest.concurrency)")
	cmd.Flags().IntVar(&workers, "workers", 0, "institutions harvested in parallel (overrides harvest.workers)")
	return cmd
}

// newResumeCmd creates the 'resume' subcommand: a sequential run that picks
// up at the first page not yet recorded as scraped.
func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <hostname>",
		Short: "Resume a sequential harvest of one institution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := sessionFrom(cmd.Context())
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), s.cfg, s.logger, func(ctx context.Context, _ *app.App, runner *harvest.Runner) error {
				sum, err := runner.Resume(ctx, args[0])
				printSummaries(cmd.OutOrStdout(), []harvest.Summary{sum})
				return err
			})
		},
	}
}

// withApp builds the services, starts the status server when enabled, and
// tears everything down after fn returns.
func withApp(
	ctx context.Context,
	cfg config.Config,
	logger *zap.Logger,
	fn func(ctx context.Context, a *app.App, runner *harvest.Runner) error,
) (err error) {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize services: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		if cerr := a.Close(closeCtx); cerr != nil {
			logger.Warn("shutdown incomplete", zap.Error(cerr))
		}
	}()

	stopServer := startStatusServer(ctx, cfg.Server.Port, a, logger)
	defer stopServer()

	runner := harvest.NewRunner(cfg, a.OpenResources, logger,
		harvest.WithEmitter(a.Hub),
		harvest.WithPublisher(a.Publisher),
	)
	return fn(ctx, a, runner)
}

// startStatusServer serves /healthz, /readyz, /metrics, and /v1/runs until the
// returned stop function is called. Port 0 disables it.
func startStatusServer(ctx context.Context, port int, a *app.App, logger *zap.Logger) func() {
	if port <= 0 {
		return func() {}
	}
	srvCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	srv := api.NewServer(a.Runs, a.Ready, logger)
	go func() {
		defer close(done)
		if err := srv.ListenAndServe(srvCtx, ":"+strconv.Itoa(port)); err != nil {
			logger.Error("status server stopped", zap.Error(err))
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func printSummaries(w io.Writer, sums []harvest.Summary) {
	if len(sums) == 0 {
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Institution", "Mode", "Status", "Planned", "Persisted", "Skipped", "Failed", "Inserted", "Elapsed"})
	for _, s := range sums {
		if s.Institution == "" {
			continue
		}
		t.AppendRow(table.Row{
			s.Institution, s.Mode, string(s.Status), s.PagesPlanned, s.PagesPersisted,
			s.PagesSkipped, s.PagesFailed, s.RecordsInserted,
			s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond).String(),
		})
	}
	t.Render()
}
