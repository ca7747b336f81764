// Package fits exports cost maps and flux spectra as FITS images so they can
// be inspected with standard astronomy tooling.
package fits

import (
	"fmt"
	"io"

	"github.com/astrogo/fitsio"

	"godetect/domain/signal"
)

const bitpixFloat64 = -64

// WriteCostMaps writes one N x N image per channel. Pixel (ix, iy) of the map
// lands on FITS axis 1 = iy, axis 2 = ix, matching the row-major layout.
func WriteCostMaps(w io.Writer, maps []signal.CostMap) error {
	if len(maps) == 0 {
		return fmt.Errorf("no cost maps to export")
	}
	f, err := fitsio.Create(w)
	if err != nil {
		return fmt.Errorf("create fits stream: %w", err)
	}
	defer f.Close()

	for _, m := range maps {
		if len(m.Values) != m.Size*m.Size {
			return fmt.Errorf("channel %d cost map has %d values for a %d x %d grid", m.Channel, len(m.Values), m.Size, m.Size)
		}
		idx, peak := m.ArgMax()
		cards := []fitsio.Card{
			{Name: "EXTNAME", Value: fmt.Sprintf("COST_CH%d", m.Channel), Comment: "cost map"},
			{Name: "CHANNEL", Value: m.Channel, Comment: "differential output channel"},
			{Name: "PEAK_IX", Value: idx.IX, Comment: "grid index of the maximum"},
			{Name: "PEAK_IY", Value: idx.IY, Comment: "grid index of the maximum"},
			{Name: "PEAK", Value: peak, Comment: "maximum cost"},
		}
		if err := writeImage(f, []int{m.Size, m.Size}, m.Values, cards); err != nil {
			return fmt.Errorf("channel %d: %w", m.Channel, err)
		}
	}
	return nil
}

// WriteSpectra writes one image per channel with three rows: flux, lower and
// upper uncertainty, each with one pixel per wavelength bin.
func WriteSpectra(w io.Writer, estimates []signal.FluxEstimate) error {
	if len(estimates) == 0 {
		return fmt.Errorf("no estimates to export")
	}
	f, err := fitsio.Create(w)
	if err != nil {
		return fmt.Errorf("create fits stream: %w", err)
	}
	defer f.Close()

	for _, est := range estimates {
		n := len(est.Flux)
		if n == 0 {
			return fmt.Errorf("channel %d estimate has no flux", est.Channel)
		}
		data := make([]float64, 0, 3*n)
		data = append(data, est.Flux...)
		data = append(data, padded(est.ErrLow, n)...)
		data = append(data, padded(est.ErrHigh, n)...)

		cards := []fitsio.Card{
			{Name: "EXTNAME", Value: fmt.Sprintf("SPEC_CH%d", est.Channel), Comment: "flux spectrum"},
			{Name: "CHANNEL", Value: est.Channel, Comment: "differential output channel"},
			{Name: "METHOD", Value: string(est.Method), Comment: "estimator"},
			{Name: "POS_X", Value: est.Position.X, Comment: "[rad] x position"},
			{Name: "POS_Y", Value: est.Position.Y, Comment: "[rad] y position"},
			{Name: "CONVERGD", Value: est.Converged, Comment: "estimator converged"},
			{Name: "HAS_UNC", Value: est.UncertaintyAvailable, Comment: "uncertainties available"},
		}
		if err := writeImage(f, []int{n, 3}, data, cards); err != nil {
			return fmt.Errorf("channel %d: %w", est.Channel, err)
		}
	}
	return nil
}

func writeImage(f *fitsio.File, axes []int, data []float64, cards []fitsio.Card) error {
	img := fitsio.NewImage(bitpixFloat64, axes)
	defer img.Close()

	if err := img.Header().Append(cards...); err != nil {
		return fmt.Errorf("append header cards: %w", err)
	}
	if err := img.Write(data); err != nil {
		return fmt.Errorf("write image data: %w", err)
	}
	return f.Write(img)
}

// padded returns v, or zeros when the uncertainty is unavailable
func padded(v []float64, n int) []float64 {
	if len(v) == n {
		return v
	}
	return make([]float64, n)
}
