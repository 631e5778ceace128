package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hed1ad/sensorguard/internal/config"
	"github.com/hed1ad/sensorguard/internal/logging"
	"github.com/hed1ad/sensorguard/pkg/detectors"
	"github.com/hed1ad/sensorguard/pkg/detectors/autoencoder"
	sgio "github.com/hed1ad/sensorguard/pkg/io"
	"github.com/hed1ad/sensorguard/pkg/io/jsonl"
	"github.com/hed1ad/sensorguard/pkg/pipeline"
)

func newScoreCommand(_ *config.Config) *cobra.Command {
	var (
		bundlePath string
		sensor     int
		outPath    string
	)

	cmd := &cobra.Command{
		Use:   "score INPUT",
		Short: "Score a recording with a saved detector bundle",
		Example: `  sensorguard score --bundle results/Sensor_1_detector.gob live.txt
  sensorguard score --bundle results/Sensor_3_detector.gob --sensor 3 --out scores.jsonl capture.pcap`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			blob, err := os.ReadFile(bundlePath)
			if err != nil {
				return err
			}
			det := autoencoder.New("")
			if err := det.Load(blob); err != nil {
				return fmt.Errorf("load bundle %s: %w", bundlePath, err)
			}

			index := sensor - 1
			if sensor == 0 {
				if index, err = sensorIndex(det.Name()); err != nil {
					return err
				}
			}
			if index < 0 || index >= sgio.Sensors {
				return fmt.Errorf("sensor %d out of range 1..%d", index+1, sgio.Sensors)
			}

			r, err := pipeline.OpenReader(args[0])
			if err != nil {
				return err
			}
			defer r.Close()

			// stdout stays open after the writer is closed
			var out io.Writer = struct{ io.Writer }{cmd.OutOrStdout()}
			if outPath != "" {
				f, err := os.Create(outPath)
				if err != nil {
					return err
				}
				out = f
			}
			w := jsonl.NewWriter(out)

			n, anomalies, err := score(cmd.Context(), det, r, index, w)
			if cerr := w.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}
			logging.FromContext(cmd.Context()).Infow("scoring finished",
				"sensor", det.Name(), "samples", n, "anomalies", anomalies, "threshold", det.Threshold())
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&bundlePath, "bundle", "", "detector bundle written by run")
	flags.IntVar(&sensor, "sensor", 0, "sensor column to score, 1-4; defaults to the bundle's sensor")
	flags.StringVar(&outPath, "out", "", "write JSON lines here instead of stdout")
	if err := cmd.MarkFlagRequired("bundle"); err != nil {
		panic(err)
	}
	return cmd
}

// score streams readings through the detector and writes one result per
// scored reading, indexed by its row in r. It returns the number of scored
// readings and anomalies.
func score(ctx context.Context, det *autoencoder.Detector, r sgio.Reader, index int, w sgio.Writer) (int, int, error) {
	g, gctx := errgroup.WithContext(ctx)
	rows, err := r.Stream(gctx)
	if err != nil {
		return 0, 0, err
	}

	samples := make(chan []float64)
	scores := make(chan detectors.Score)

	g.Go(func() error {
		defer close(samples)
		for row := range rows {
			// short rows still take a position so indices follow the input
			var sample []float64
			if len(row) == sgio.Columns {
				sample = []float64{row[index*sgio.Axes], row[index*sgio.Axes+1]}
			}
			select {
			case samples <- sample:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})
	g.Go(func() error {
		defer close(scores)
		return det.PredictStream(gctx, samples, scores)
	})

	var n, anomalies int
	g.Go(func() error {
		for s := range scores {
			if s.IsAnomaly {
				anomalies++
			}
			pos, _ := s.Metadata["sample"].(int)
			res := sgio.Result{
				Sensor:    det.Name(),
				Index:     pos,
				Score:     s.Value,
				Threshold: det.Threshold(),
				IsAnomaly: s.IsAnomaly,
				Features:  s.Features,
			}
			n++
			if err := w.Write(res); err != nil {
				return err
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return n, anomalies, err
	}
	return n, anomalies, nil
}

// sensorIndex parses "Sensor N" into N-1.
func sensorIndex(name string) (int, error) {
	num, ok := strings.CutPrefix(name, "Sensor ")
	if !ok {
		return 0, fmt.Errorf("bundle sensor %q has no column; pass --sensor", name)
	}
	n, err := strconv.Atoi(num)
	if err != nil {
		return 0, fmt.Errorf("bundle sensor %q has no column; pass --sensor", name)
	}
	return n - 1, nil
}
