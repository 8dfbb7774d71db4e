package dataset

import (
	"math"
	"math/rand"

	"inventory-forecast/internal/common"
	"inventory-forecast/internal/features"
)

// Labels produced by Synthetic.
const (
	LabelMantener    = "mantener"
	LabelReabastecer = "reabastecer"
	LabelUrgente     = "urgente"
)

// SyntheticOptions shapes a generated dataset.
type SyntheticOptions struct {
	Rows int
	Seed int64
	// Shift scales consumption and projection, for simulating drift.
	Shift float64
}

// Synthetic generates labelled inventory rows with the default feature
// columns, stock_minimo and etiqueta. The same options always yield the same rows.
func Synthetic(opts SyntheticOptions) *Dataset {
	if opts.Shift <= 0 {
		opts.Shift = 1
	}
	rng := rand.New(rand.NewSource(opts.Seed))

	cols := append(features.DefaultFeatureNames(), common.StockMinimoColumn, common.TargetColumn)
	ds := New(cols)

	for i := 0; i < opts.Rows; i++ {
		promedio := 20 + rng.Float64()*180
		consumo30 := promedio * (0.6 + rng.Float64()*0.8) * opts.Shift
		consumo7 := consumo30 / 30 * 7 * (0.7 + rng.Float64()*0.6)
		capacidad := math.Round(promedio * (2 + rng.Float64()*4))
		stock := math.Round(capacidad * rng.Float64())
		minimo := math.Round(capacidad * 0.15)
		pendientes := float64(rng.Intn(12))
		proyeccion := consumo7 / 7 * 3 * (0.8 + rng.Float64()*0.4)
		dias := float64(rng.Intn(60))

		riesgo := 0.0
		if stock < minimo {
			riesgo = 1
		}

		ds.Rows = append(ds.Rows, features.RawInput{
			features.Consumo7d:              round2(consumo7),
			features.Consumo30d:             round2(consumo30),
			features.Promedio12m:            round2(promedio),
			features.DiasDesdeUltimaEntrega: dias,
			features.StockActual:            stock,
			features.StockCapacidad:         capacidad,
			features.SolicitudesPendientes:  pendientes,
			features.Proyeccion72h:          round2(proyeccion),
			features.IndicadorRiesgo:        riesgo,
			common.StockMinimoColumn:        minimo,
			common.TargetColumn:             synthLabel(stock, minimo, proyeccion, pendientes),
		})
	}
	return ds
}

// synthLabel derives the label from days of coverage over the 72h projection.
func synthLabel(stock, minimo, proyeccion72h, pendientes float64) string {
	daily := math.Max(proyeccion72h/3, 0.1)
	coverage := (stock - pendientes) / daily
	switch {
	case stock < minimo || coverage < 3:
		return LabelUrgente
	case coverage < 10:
		return LabelReabastecer
	default:
		return LabelMantener
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
