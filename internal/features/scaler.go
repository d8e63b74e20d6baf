package features

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// Scaler names a column-wise feature transformation.
type Scaler string

const (
	ScalerNone     Scaler = "none"
	ScalerStandard Scaler = "standard"
	ScalerMinMax   Scaler = "minmax"
)

// ParseScaler validates a scaler name. Empty means none.
func ParseScaler(name string) (Scaler, error) {
	switch Scaler(name) {
	case "", ScalerNone:
		return ScalerNone, nil
	case ScalerStandard, ScalerMinMax:
		return Scaler(name), nil
	default:
		return "", fmt.Errorf("unknown scaler %q", name)
	}
}

// Scale returns a transformed copy of rows. Constant columns map to 0.
func Scale(rows [][]float64, s Scaler) [][]float64 {
	out := make([][]float64, len(rows))
	for i, r := range rows {
		out[i] = append([]float64(nil), r...)
	}
	if len(rows) == 0 || s == ScalerNone || s == "" {
		return out
	}

	cols := len(rows[0])
	column := make([]float64, len(rows))
	for j := 0; j < cols; j++ {
		for i := range rows {
			column[i] = rows[i][j]
		}

		var shift, scale float64
		switch s {
		case ScalerStandard:
			mean, variance := stat.PopMeanVariance(column, nil)
			shift, scale = mean, math.Sqrt(variance)
		case ScalerMinMax:
			lo, hi := column[0], column[0]
			for _, v := range column {
				lo = math.Min(lo, v)
				hi = math.Max(hi, v)
			}
			shift, scale = lo, hi-lo
		}
		if scale == 0 {
			scale = 1
		}

		for i := range out {
			out[i][j] = (out[i][j] - shift) / scale
		}
	}
	return out
}
