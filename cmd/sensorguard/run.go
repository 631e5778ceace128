package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hed1ad/sensorguard/internal/config"
	"github.com/hed1ad/sensorguard/pkg/pipeline"
)

func newRunCommand(cfg *config.Config) *cobra.Command {
	var (
		in       pipeline.Inputs
		noPlots  bool
		storeArg string
	)
	noPlots = !cfg.Plots

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Train or load per-sensor detectors and evaluate a test recording",
		Example: `  sensorguard run --test misaligned.txt --train healthy_1.txt --train healthy_2.txt
  sensorguard run --test run.pcap --train healthy.csv --tune --out results`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Plots = !noPlots
			cfg.Store = config.StoreType(storeArg)
			if err := cfg.Validate(); err != nil {
				return err
			}

			p, err := pipeline.New(cfg)
			if err != nil {
				return err
			}
			defer p.Close()

			summary, err := p.Run(cmd.Context(), in)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, s := range summary.Sensors {
				fmt.Fprintf(out, "%-9s anomalies=%d/%d rate=%.2f%% risk=%.4f trend=%+.2f%% silhouette=%.3f\n",
					s.Name, s.Anomalies, s.Samples, 100*s.Metrics.AnomalyRate,
					s.Metrics.RiskLevel, 100*s.Metrics.Trend, s.Metrics.Silhouette)
			}
			if a := summary.Malfunction; a != nil {
				fmt.Fprintf(out, "ALERT: %s may be malfunctioning (average correlation %.3f, gap %.3f)\n", a.Sensor, a.Average, a.Gap)
			} else {
				fmt.Fprintln(out, "No sensor malfunction detected.")
			}
			for _, f := range summary.Findings {
				fmt.Fprintf(out, "note: %s: %s\n", f.Sensor, f.Message)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&in.Test, "test", "", "test (misalignment) recording")
	flags.StringArrayVar(&in.Train, "train", nil, "healthy training recording, repeatable; concatenated in order")
	flags.BoolVar(&cfg.Tune, "tune", cfg.Tune, "select hyperparameters by grid search")
	flags.StringVar(&cfg.GridFile, "grid", cfg.GridFile, "TOML tuning grid")
	flags.IntVar(&cfg.TuneWorkers, "workers", cfg.TuneWorkers, "concurrent tuning candidates, 0 for GOMAXPROCS")
	flags.StringVar(&cfg.OutDir, "out", cfg.OutDir, "output directory")
	flags.BoolVar(&noPlots, "no-plots", noPlots, "skip figures")
	flags.StringVar(&storeArg, "store", string(cfg.Store), "model store: dir, bolt or none")
	flags.StringVar(&cfg.ModelDir, "model-dir", cfg.ModelDir, "directory of the dir model store")
	flags.StringVar(&cfg.BoltPath, "bolt-path", cfg.BoltPath, "database file of the bolt model store")
	flags.Int64Var(&cfg.Seed, "seed", cfg.Seed, "random seed")
	flags.IntVar(&cfg.Training.Epochs, "epochs", cfg.Training.Epochs, "maximum training epochs, 0 for the default")

	for _, name := range []string{"test", "train"} {
		if err := cmd.MarkFlagRequired(name); err != nil {
			panic(err)
		}
	}
	return cmd
}
