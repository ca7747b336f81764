package app

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/montanaflynn/stats"

	"godetect/adapters/fits"
)

// RunSummary condenses a run into per-channel and aggregate figures
type RunSummary struct {
	Channels      []ChannelSummary
	MeanSNR       float64
	MedianFlux    float64
	SlowestStage  string
	SlowestMillis int64
}

// ChannelSummary is one row of the run report
type ChannelSummary struct {
	Channel      int
	X, Y         float64
	TotalFlux    float64
	SNR          float64
	Converged    bool
	EnergyStat   float64
	EnergyThresh float64
	NPStat       float64
	NPThresh     float64
	Detected     bool
}

// Summarize builds the report of a finished run
func Summarize(r *RunResult) RunSummary {
	var out RunSummary
	estimates := r.Estimates()
	snrs := make([]float64, 0, len(estimates))
	fluxes := make([]float64, 0, len(estimates))

	for k, est := range estimates {
		row := ChannelSummary{
			Channel:   est.Channel,
			X:         est.Position.X,
			Y:         est.Position.Y,
			TotalFlux: est.TotalFlux(),
			SNR:       est.SNR(),
			Converged: est.Converged,
		}
		if k < len(r.Energy) {
			row.EnergyStat, row.EnergyThresh = r.Energy[k].Statistic, r.Energy[k].Threshold
		}
		if k < len(r.NeymanPearson) {
			row.NPStat, row.NPThresh = r.NeymanPearson[k].Statistic, r.NeymanPearson[k].Threshold
			row.Detected = r.NeymanPearson[k].Detected
		}
		out.Channels = append(out.Channels, row)
		if est.UncertaintyAvailable {
			snrs = append(snrs, row.SNR)
		}
		fluxes = append(fluxes, row.TotalFlux)
	}

	// stats returns an error on empty input; the zero value is the right answer then
	out.MeanSNR, _ = stats.Mean(snrs)
	out.MedianFlux, _ = stats.Median(fluxes)

	if r.Pipeline != nil {
		for _, res := range r.Pipeline.Results {
			if res.Duration >= out.SlowestMillis {
				out.SlowestStage, out.SlowestMillis = string(res.StageName), res.Duration
			}
		}
	}
	return out
}

// WriteReport prints a human readable table of the run
func WriteReport(w io.Writer, r *RunResult) error {
	summary := Summarize(r)
	fmt.Fprintf(w, "run %s (settings %s)\n", r.RunID, r.SettingsHash.Short())
	if r.Manifest != nil {
		fmt.Fprintf(w, "replay fingerprint %s, seed %d\n", r.Manifest.Fingerprint.Fingerprint.Short(), r.Manifest.Fingerprint.Seed)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CH\tX [rad]\tY [rad]\tFLUX\tSNR\tCONV\tENERGY/XI\tNP/XI\tDETECTED")
	for _, c := range summary.Channels {
		fmt.Fprintf(tw, "%d\t%.3e\t%.3e\t%.4g\t%.3g\t%t\t%.3g/%.3g\t%.3g/%.3g\t%t\n",
			c.Channel, c.X, c.Y, c.TotalFlux, c.SNR, c.Converged,
			c.EnergyStat, c.EnergyThresh, c.NPStat, c.NPThresh, c.Detected)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "mean SNR %.3g, median flux %.4g, slowest stage %s (%d ms), total %v\n",
		summary.MeanSNR, summary.MedianFlux, summary.SlowestStage, summary.SlowestMillis, r.Duration)
	return err
}

// ExportFITS writes <prefix>_costmaps.fits and <prefix>_spectra.fits and
// returns the paths written
func ExportFITS(prefix string, r *RunResult) ([]string, error) {
	if r.Grid == nil {
		return nil, fmt.Errorf("run %s has no grid result to export", r.RunID)
	}
	costPath := prefix + "_costmaps.fits"
	specPath := prefix + "_spectra.fits"

	if err := writeFile(costPath, func(w io.Writer) error { return fits.WriteCostMaps(w, r.Grid.CostMaps) }); err != nil {
		return nil, err
	}
	if err := writeFile(specPath, func(w io.Writer) error { return fits.WriteSpectra(w, r.Estimates()) }); err != nil {
		return nil, err
	}
	return []string{costPath, specPath}, nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
