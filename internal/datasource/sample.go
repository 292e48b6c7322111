package datasource

import (
	"math"
	"math/rand"

	"github.com/iwvelando/sales-forecast/internal/series"
	"github.com/iwvelando/sales-forecast/pkg/constants"
)

const (
	sampleFirstYear    = 2019
	sampleLastYear     = 2024
	sampleYearlyGrowth = 0.08
	sampleSeasonality  = 0.15
	sampleNoiseFloor   = 0.85
	sampleNoiseRange   = 0.3
)

var (
	sampleCountries = []string{"Korea", "USA", "Japan", "China", "Germany"}
	sampleProducts  = []string{"Product A", "Product B", "Product C", "Product D"}

	// sampleBaseSales is indexed [country][product].
	sampleBaseSales = [][]float64{
		{120, 95, 75, 60},
		{200, 170, 140, 110},
		{100, 85, 65, 50},
		{180, 150, 120, 90},
		{90, 75, 60, 45},
	}
)

// GenerateSample returns the synthetic 2019-2024 dataset: one observation per
// month, country and product, with yearly growth, a sinusoidal seasonal
// pattern and multiplicative noise drawn from a generator seeded with seed.
func GenerateSample(seed int64) []series.Observation {
	rng := rand.New(rand.NewSource(seed))
	years := sampleLastYear - sampleFirstYear + 1
	observations := make([]series.Observation, 0, years*constants.MonthsPerYear*len(sampleCountries)*len(sampleProducts))

	for year := sampleFirstYear; year <= sampleLastYear; year++ {
		growth := 1 + float64(year-sampleFirstYear)*sampleYearlyGrowth
		for month := 1; month <= constants.MonthsPerYear; month++ {
			seasonal := 1 + sampleSeasonality*math.Sin(float64(month-1)/constants.MonthsPerYear*2*math.Pi+math.Pi/6)
			for c, country := range sampleCountries {
				for p, product := range sampleProducts {
					noise := sampleNoiseFloor + rng.Float64()*sampleNoiseRange
					observations = append(observations, series.Observation{
						Year:  year,
						Month: month,
						Dimensions: map[string]string{
							constants.DimensionCountry: country,
							constants.DimensionProduct: product,
						},
						Value: math.Round(sampleBaseSales[c][p] * growth * seasonal * noise),
					})
				}
			}
		}
	}
	return observations
}
