package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"GridCast/internal/di"
	"GridCast/internal/domain/models"
	"GridCast/internal/service/source"
	"GridCast/internal/usecase"
	"GridCast/pkg/config"
	applogger "GridCast/pkg/logger"
	"GridCast/pkg/util"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	from       string
	to         string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "pipeline",
		Short:         "GridCast batch pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "config/config.yaml", "config file path (empty for defaults)")
	root.PersistentFlags().StringVar(&opts.from, "from", "", "window start (RFC3339, date or unix seconds)")
	root.PersistentFlags().StringVar(&opts.to, "to", "", "window end (RFC3339, date or unix seconds)")

	root.AddCommand(
		trainCmd(opts),
		tuneCmd(opts),
		evaluateCmd(opts),
		driftCmd(opts),
		forecastCmd(opts),
		ingestCmd(opts),
	)
	return root
}

// withPipeline loads config, wires the use cases and runs fn.
func withPipeline(opts *rootOptions, fn func(p *di.Pipeline) error) error {
	cfg, err := config.LoadWithEnv(opts.configPath)
	if err != nil {
		return err
	}
	p, cleanup, err := di.InitializePipeline(cfg)
	if err != nil {
		return err
	}
	defer cleanup()
	return fn(p)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func trainCmd(opts *rootOptions) *cobra.Command {
	var version string
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Fit every base model, optimize ensemble weights and activate the result",
		RunE: func(cmd *cobra.Command, _ []string) error {
			from, to, err := util.ParseWindow(opts.from, opts.to)
			if err != nil {
				return err
			}
			return withPipeline(opts, func(p *di.Pipeline) error {
				res, err := p.Train.Run(cmd.Context(), usecase.TrainRequest{From: from, To: to, ModelVersion: version})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringVar(&version, "version", "", "model version (generated when empty)")
	return cmd
}

func tuneCmd(opts *rootOptions) *cobra.Command {
	var (
		modelType string
		version   string
		trials    int
		seed      uint64
	)
	cmd := &cobra.Command{
		Use:   "tune",
		Short: "Run a hyperparameter search for one model family",
		RunE: func(cmd *cobra.Command, _ []string) error {
			from, to, err := util.ParseWindow(opts.from, opts.to)
			if err != nil {
				return err
			}
			return withPipeline(opts, func(p *di.Pipeline) error {
				res, err := p.Tune.Run(cmd.Context(), usecase.TuneRequest{
					ModelType:    models.ModelType(modelType),
					ModelVersion: version,
					Trials:       trials,
					Seed:         seed,
					From:         from,
					To:           to,
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringVar(&modelType, "model", "", "model family: gbm, ridge, sequence, quantile or seasonal")
	cmd.Flags().StringVar(&version, "version", "", "trial history key (defaults to the model family)")
	cmd.Flags().IntVar(&trials, "trials", 0, "number of trials (config default when 0)")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "sampler seed (config default when 0)")
	_ = cmd.MarkFlagRequired("model")
	return cmd
}

func evaluateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate",
		Short: "Score the active ensemble on observed prices and store a live snapshot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			from, to, err := util.ParseWindow(opts.from, opts.to)
			if err != nil {
				return err
			}
			return withPipeline(opts, func(p *di.Pipeline) error {
				snap, err := p.Evaluate.Run(cmd.Context(), usecase.EvaluateRequest{From: from, To: to})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), snap)
			})
		},
	}
}

func driftCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "drift",
		Short: "Compare recent performance and inputs with the training baseline",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withPipeline(opts, func(p *di.Pipeline) error {
				report, err := p.Drift.Check(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}
}

func forecastCmd(opts *rootOptions) *cobra.Command {
	var hours int
	cmd := &cobra.Command{
		Use:   "forecast",
		Short: "Forecast the next hours with the active ensemble",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withPipeline(opts, func(p *di.Pipeline) error {
				f, err := p.Forecast.Forecast(cmd.Context(), hours)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), f)
			})
		},
	}
	cmd.Flags().IntVar(&hours, "hours", 24, "forecast horizon in hours")
	return cmd
}

func ingestCmd(opts *rootOptions) *cobra.Command {
	var (
		file     string
		fromAPI  bool
		lookback time.Duration
	)
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Load hourly records and auxiliary series from a file or the upstream source",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (file == "") == !fromAPI {
				return errors.New("exactly one of --file or --source is required")
			}
			from, to, err := util.ParseWindow(opts.from, opts.to)
			if err != nil {
				return err
			}
			return withPipeline(opts, func(p *di.Pipeline) error {
				var batch models.IngestBatch
				if file != "" {
					if batch, err = source.LoadFile(file); err != nil {
						return err
					}
				} else {
					end := time.Now().UTC().Truncate(time.Hour)
					if to != nil {
						end = *to
					}
					start := end.Add(-lookback)
					if from != nil {
						start = *from
					}
					if batch, err = p.Source.Fetch(cmd.Context(), start, end); err != nil {
						return err
					}
				}

				report, err := p.Ingest.Ingest(cmd.Context(), batch)
				if err != nil {
					return err
				}
				p.Logger.Info("ingest complete",
					applogger.Int("succeeded", report.Succeeded),
					applogger.Int("failed", report.Failed),
				)
				if err := printJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
				if report.Failed > 0 {
					return fmt.Errorf("%d of %d items rejected", report.Failed, report.Failed+report.Succeeded)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "JSON file with records and aux_series")
	cmd.Flags().BoolVar(&fromAPI, "source", false, "fetch from the configured upstream source")
	cmd.Flags().DurationVar(&lookback, "lookback", 48*time.Hour, "window fetched from the source when --from is unset")
	return cmd
}
