// Package tuning selects autoencoder hyperparameters by grid search scored
// with the silhouette coefficient of the resulting anomaly split.
package tuning

import (
	"errors"
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/hed1ad/sensorguard/pkg/detectors/autoencoder"
)

// TuningPatience is the early stopping patience used for every candidate.
const TuningPatience = 10

// Candidate is one point of the grid.
type Candidate struct {
	Width        int     `toml:"width" json:"width"`
	Dropout      float64 `toml:"dropout" json:"dropout"`
	LearningRate float64 `toml:"learning_rate" json:"learning_rate"`
	Epochs       int     `toml:"epochs" json:"epochs"`
}

// Hyperparams expands the candidate into full training hyperparameters.
func (c Candidate) Hyperparams() autoencoder.Hyperparams {
	hp := autoencoder.DefaultHyperparams()
	hp.Width = c.Width
	hp.Dropout = c.Dropout
	hp.LearningRate = c.LearningRate
	hp.Epochs = c.Epochs
	hp.Patience = TuningPatience
	return hp
}

func (c Candidate) String() string {
	return fmt.Sprintf("width=%d dropout=%g lr=%g epochs=%d", c.Width, c.Dropout, c.LearningRate, c.Epochs)
}

// Grid is the set of values searched per hyperparameter.
type Grid struct {
	Widths        []int     `toml:"widths"`
	Dropouts      []float64 `toml:"dropouts"`
	LearningRates []float64 `toml:"learning_rates"`
	Epochs        []int     `toml:"epochs"`
}

// DefaultGrid returns the grid used when no grid file is given.
func DefaultGrid() Grid {
	return Grid{
		Widths:        []int{32, 64},
		Dropouts:      []float64{0.1, 0.2},
		LearningRates: []float64{1e-3, 3e-4},
		Epochs:        []int{300},
	}
}

// LoadGrid reads a grid from a TOML file. Keys left out keep their default values.
func LoadGrid(path string) (Grid, error) {
	grid := DefaultGrid()
	if _, err := toml.DecodeFile(path, &grid); err != nil {
		return Grid{}, fmt.Errorf("decode grid %s: %w", path, err)
	}
	return grid, grid.validate()
}

func (g Grid) validate() error {
	if len(g.Widths) == 0 || len(g.Dropouts) == 0 || len(g.LearningRates) == 0 || len(g.Epochs) == 0 {
		return errors.New("grid has an empty axis")
	}
	for _, c := range g.Candidates() {
		if err := c.Hyperparams().Validate(); err != nil {
			return fmt.Errorf("candidate %s: %w", c, err)
		}
	}
	return nil
}

// Candidates enumerates the grid in a fixed order: width, then dropout, then
// learning rate, then epochs, each in the order given.
func (g Grid) Candidates() []Candidate {
	out := make([]Candidate, 0, len(g.Widths)*len(g.Dropouts)*len(g.LearningRates)*len(g.Epochs))
	for _, w := range g.Widths {
		for _, d := range g.Dropouts {
			for _, lr := range g.LearningRates {
				for _, e := range g.Epochs {
					out = append(out, Candidate{Width: w, Dropout: d, LearningRate: lr, Epochs: e})
				}
			}
		}
	}
	return out
}
