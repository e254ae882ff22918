// Package generator synthesizes plant telemetry CSV exports for demos and
// tests.
package generator

import (
	"fmt"
	"io"
	"math"
	"math/rand"
	"time"

	"github.com/brianvoe/gofakeit/v7"
)

// sampleInterval is the cadence of the synthesized export.
const sampleInterval = 30 * time.Minute

const timestampLayout = "02/01/2006 15:04"

// PlantGenerator produces a realistic week of pump-station telemetry: two
// flow channels with nightly off-windows, pH baselines with noise, turbidity
// with rare spikes, and the occasional duplicate or broken row so the parser
// has something to clean up.
type PlantGenerator struct {
	rng *rand.Rand

	PlantName string
	Customer  string

	baselineFlow1 float64
	baselineFlow2 float64
	baselinePH58  float64
	baselinePH59  float64
	baselineTurb  float64
	noise         float64
}

// NewPlantGenerator creates a generator with the given seed. The same seed
// reproduces the same export.
func NewPlantGenerator(seed int64) *PlantGenerator {
	rng := rand.New(rand.NewSource(seed))
	faker := gofakeit.New(uint64(seed))

	return &PlantGenerator{
		rng:           rng,
		PlantName:     "Pumpwerk " + faker.City(),
		Customer:      "Gemeinde " + faker.City(),
		baselineFlow1: 8.0 + rng.Float64()*4,  // m³ per sample
		baselineFlow2: 3.0 + rng.Float64()*2,
		baselinePH58:  7.0 + (rng.Float64()-0.5)*0.4,
		baselinePH59:  7.2 + (rng.Float64()-0.5)*0.4,
		baselineTurb:  5.0 + rng.Float64()*3,
		noise:         rng.Float64() + 0.5,
	}
}

// pumpRunning models the station's duty cycle: the pumps rest in the early
// morning hours and run otherwise, with occasional unscheduled stops.
func (g *PlantGenerator) pumpRunning(t time.Time) bool {
	hour := t.Hour()
	if hour >= 1 && hour < 4 {
		return false
	}
	return g.rng.Float64() >= 0.02
}

func (g *PlantGenerator) flow(t time.Time, baseline float64) float64 {
	hour := float64(t.Hour()) + float64(t.Minute())/60
	// Inflow peaks in the morning and evening.
	dailyCycle := 2*math.Sin((hour-7)*math.Pi/12) + math.Sin((hour-19)*math.Pi/6)
	noise := (g.rng.Float64() - 0.5) * g.noise
	return math.Max(0, baseline+dailyCycle+noise)
}

func (g *PlantGenerator) ph(baseline float64) float64 {
	return baseline + (g.rng.Float64()-0.5)*0.2*g.noise
}

func (g *PlantGenerator) turbidity() float64 {
	v := g.baselineTurb + (g.rng.Float64()-0.5)*2*g.noise
	// Rare inflow spike (3% chance).
	if g.rng.Float64() < 0.03 {
		v *= 10 + g.rng.Float64()*10
	}
	return math.Max(0, v)
}

// WriteCSV emits a complete export for the given window: the five-line
// metadata preamble, the header, and one row per 30-minute sample. About one
// row in a hundred is duplicated and one in two hundred gets a blank
// timestamp, mirroring the exports real loggers produce.
func (g *PlantGenerator) WriteCSV(w io.Writer, start time.Time, days int) error {
	end := start.AddDate(0, 0, days).Add(-sampleInterval)

	_, err := fmt.Fprintf(w, "Name,%s\nCustomer,%s\nStart Time,%s\nEnd Time,%s\nInterval,30m\n",
		g.PlantName, g.Customer,
		start.Format(timestampLayout), end.Format(timestampLayout))
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, "Time,ARA Flow,Flow Rate 1,Flow Rate 2,PH 58,PH 59,Trübung Zulauf"); err != nil {
		return err
	}

	for t := start; !t.After(end); t = t.Add(sampleInterval) {
		row := g.row(t)
		if _, err := fmt.Fprintln(w, row); err != nil {
			return err
		}
		if g.rng.Float64() < 0.01 {
			if _, err := fmt.Fprintln(w, g.row(t)); err != nil {
				return err
			}
		}
		if g.rng.Float64() < 0.005 {
			if _, err := fmt.Fprintln(w, ",0,0,0,0,0,0"); err != nil {
				return err
			}
		}
	}
	return nil
}

func (g *PlantGenerator) row(t time.Time) string {
	flow1, flow2 := 0.0, 0.0
	if g.pumpRunning(t) {
		flow1 = g.flow(t, g.baselineFlow1)
		flow2 = g.flow(t, g.baselineFlow2)
	}
	araFlow := flow1 + flow2

	return fmt.Sprintf("%s,%.2f,%.2f,%.2f,%.2f,%.2f,%.2f",
		t.Format(timestampLayout),
		araFlow, flow1, flow2,
		g.ph(g.baselinePH58), g.ph(g.baselinePH59),
		g.turbidity())
}
