package pipeline

import "math"

// FieldMap names the sensor variables the aggregator reads. Keys are the
// normalized (underscored) column names of the plant export.
type FieldMap struct {
	FlowARA   string
	FlowRate1 string
	FlowRate2 string
	PH58      string
	PH59      string
	Turbidity string
}

// DefaultFieldMap returns the variable names of the ARA export. FlowRate2
// historically feeds the Galgenkanal total even though it is simply the
// second flow-meter channel.
func DefaultFieldMap() FieldMap {
	return FieldMap{
		FlowARA:   "ARA_Flow",
		FlowRate1: "Flow_Rate_1",
		FlowRate2: "Flow_Rate_2",
		PH58:      "PH_58",
		PH59:      "PH_59",
		Turbidity: "Trübung_Zulauf",
	}
}

// RuntimeEstimator infers the pump-on time credited for one sample. prev is
// the preceding record in the sequence, or a zero Record for the first
// sample. The aggregator only consults the estimator for samples where a
// flow channel shows the pump running.
type RuntimeEstimator interface {
	SampleHours(prev, cur Record) float64
}

// FixedCadence credits a constant number of hours per pump-on sample,
// assuming a uniform sampling interval. The plant logs every 30 minutes, so
// the zero value credits 0.5h.
type FixedCadence struct {
	StepHours float64
}

func (f FixedCadence) SampleHours(_, _ Record) float64 {
	if f.StepHours <= 0 {
		return 0.5
	}
	return f.StepHours
}

// IntervalIntegrated credits the actual elapsed time between consecutive
// timestamps instead of assuming a fixed cadence. Samples whose timestamp
// (or predecessor's) does not parse, and the first sample of a sequence,
// contribute nothing.
type IntervalIntegrated struct{}

func (IntervalIntegrated) SampleHours(prev, cur Record) float64 {
	pt, ok := ParseTimestamp(prev.Time)
	if !ok {
		return 0
	}
	ct, ok := ParseTimestamp(cur.Time)
	if !ok {
		return 0
	}
	dt := ct.Sub(pt).Hours()
	if dt < 0 {
		return 0
	}
	return dt
}

// EstimatorFor maps an estimator name to its implementation. Unknown names
// fall back to the fixed 30-minute cadence.
func EstimatorFor(name string) RuntimeEstimator {
	if name == "interval" {
		return IntervalIntegrated{}
	}
	return FixedCadence{}
}

// DailySummary is the aggregate of one calendar day.
type DailySummary struct {
	Date            string  `json:"date"`
	DataPoints      int     `json:"dataPoints"`
	FlowARA         float64 `json:"flowARA"`
	FlowGalgenkanal float64 `json:"flowGalgenkanal"`
	PumpDuration    float64 `json:"pumpDuration"`
	AvgPH58         float64 `json:"avgPH_58"`
	AvgPH59         float64 `json:"avgPH_59"`
	MaxTurbidity    float64 `json:"maxTurbidity"`
	MinTurbidity    float64 `json:"minTurbidity"`
}

// WeeklySummary is the aggregate across the whole dataset.
type WeeklySummary struct {
	DataPoints      int     `json:"dataPoints"`
	FlowARA         float64 `json:"flowARA"`
	FlowGalgenkanal float64 `json:"flowGalgenkanal"`
	PumpDuration    float64 `json:"pumpDuration"`
	AvgPH58         float64 `json:"avgPH_58"`
	AvgPH59         float64 `json:"avgPH_59"`
	AvgTurbidity    float64 `json:"avgTurbidity"`
	MaxTurbidity    float64 `json:"maxTurbidity"`
	MinTurbidity    float64 `json:"minTurbidity"`
}

// Aggregates bundles the daily buckets and the weekly rollup.
type Aggregates struct {
	Daily  map[string]DailySummary `json:"dailyAggregates"`
	Weekly WeeklySummary           `json:"weeklyAggregates"`
}

// Aggregator computes daily and weekly summaries from a record sequence.
type Aggregator struct {
	Fields    FieldMap
	Estimator RuntimeEstimator
}

// NewAggregator returns an aggregator with the default field map and the
// fixed-cadence runtime estimator.
func NewAggregator() *Aggregator {
	return &Aggregator{Fields: DefaultFieldMap(), Estimator: FixedCadence{}}
}

// accumulator holds the running sums for one bucket. Accumulation and
// finalization are separate stages; no averages are computed in-flight.
type accumulator struct {
	dataPoints      int
	flowARA         float64
	flowGalgenkanal float64
	pumpDuration    float64
	sumPH58         float64
	nPH58           int
	sumPH59         float64
	nPH59           int
	sumTurbidity    float64
	nTurbidity      int
	maxTurbidity    float64
	minTurbidity    float64
}

func newAccumulator() *accumulator {
	return &accumulator{minTurbidity: math.MaxFloat64}
}

func (a *accumulator) add(rec Record, fields FieldMap, hours float64) {
	a.dataPoints++
	a.flowARA += rec.NumericOr(fields.FlowARA, 0)
	a.flowGalgenkanal += rec.NumericOr(fields.FlowRate2, 0)
	a.pumpDuration += hours

	if v, ok := rec.Numeric(fields.PH58); ok {
		a.sumPH58 += v
		a.nPH58++
	}
	if v, ok := rec.Numeric(fields.PH59); ok {
		a.sumPH59 += v
		a.nPH59++
	}
	if v, ok := rec.Numeric(fields.Turbidity); ok {
		a.sumTurbidity += v
		a.nTurbidity++
		if v > a.maxTurbidity {
			a.maxTurbidity = v
		}
		if v < a.minTurbidity {
			a.minTurbidity = v
		}
	}
}

func (a *accumulator) avgPH58() float64 {
	if a.nPH58 == 0 {
		return 0
	}
	return a.sumPH58 / float64(a.nPH58)
}

func (a *accumulator) avgPH59() float64 {
	if a.nPH59 == 0 {
		return 0
	}
	return a.sumPH59 / float64(a.nPH59)
}

func (a *accumulator) avgTurbidity() float64 {
	if a.nTurbidity == 0 {
		return 0
	}
	return a.sumTurbidity / float64(a.nTurbidity)
}

func (a *accumulator) turbidityMin() float64 {
	if a.nTurbidity == 0 {
		return 0
	}
	return a.minTurbidity
}

// Aggregate groups records by date token and computes the daily summaries
// plus the weekly rollup in two stages: accumulate, then finalize. Pump
// runtime is credited per sample whenever either flow channel is above zero.
func (ag *Aggregator) Aggregate(records []Record) Aggregates {
	fields := ag.Fields
	if fields == (FieldMap{}) {
		fields = DefaultFieldMap()
	}
	estimator := ag.Estimator
	if estimator == nil {
		estimator = FixedCadence{}
	}

	daily := make(map[string]*accumulator)
	weekly := newAccumulator()

	var prev Record
	for i, rec := range records {
		hours := 0.0
		if rec.NumericOr(fields.FlowRate1, 0) > 0 || rec.NumericOr(fields.FlowRate2, 0) > 0 {
			if i == 0 {
				hours = estimator.SampleHours(Record{}, rec)
			} else {
				hours = estimator.SampleHours(prev, rec)
			}
		}

		date := rec.DateToken()
		bucket, ok := daily[date]
		if !ok {
			bucket = newAccumulator()
			daily[date] = bucket
		}
		bucket.add(rec, fields, hours)
		weekly.add(rec, fields, hours)
		prev = rec
	}

	out := Aggregates{Daily: make(map[string]DailySummary, len(daily))}
	for date, acc := range daily {
		out.Daily[date] = DailySummary{
			Date:            date,
			DataPoints:      acc.dataPoints,
			FlowARA:         acc.flowARA,
			FlowGalgenkanal: acc.flowGalgenkanal,
			PumpDuration:    acc.pumpDuration,
			AvgPH58:         acc.avgPH58(),
			AvgPH59:         acc.avgPH59(),
			MaxTurbidity:    acc.maxTurbidity,
			MinTurbidity:    acc.turbidityMin(),
		}
	}
	out.Weekly = WeeklySummary{
		DataPoints:      weekly.dataPoints,
		FlowARA:         weekly.flowARA,
		FlowGalgenkanal: weekly.flowGalgenkanal,
		PumpDuration:    weekly.pumpDuration,
		AvgPH58:         weekly.avgPH58(),
		AvgPH59:         weekly.avgPH59(),
		AvgTurbidity:    weekly.avgTurbidity(),
		MaxTurbidity:    weekly.maxTurbidity,
		MinTurbidity:    weekly.turbidityMin(),
	}
	return out
}
