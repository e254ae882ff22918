package pipeline

import "sort"

// tukeyFactor is the IQR multiplier of the standard Tukey fence.
const tukeyFactor = 1.5

// DetectOutliers returns the indices of records whose numeric value for
// field lies strictly outside the Tukey fence [Q1-1.5*IQR, Q3+1.5*IQR].
//
// Quartiles are estimated positionally: the sorted values at floor(0.25*n)
// and floor(0.75*n). The plant's historical reports were produced with this
// estimator, so it is kept as-is rather than swapped for an interpolated
// quantile; results would otherwise drift on small datasets.
//
// Records without a numeric value for field are ignored both for the bounds
// and for the result. Fewer than a handful of numeric samples makes the
// bounds degenerate but never panics; the result may simply be empty.
func DetectOutliers(records []Record, field string) []int {
	values := make([]float64, 0, len(records))
	for _, rec := range records {
		if v, ok := rec.Numeric(field); ok {
			values = append(values, v)
		}
	}
	n := len(values)
	if n == 0 {
		return nil
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	q1 := sorted[n/4]
	q3 := sorted[n*3/4]
	iqr := q3 - q1
	lower := q1 - tukeyFactor*iqr
	upper := q3 + tukeyFactor*iqr

	var outliers []int
	for i, rec := range records {
		v, ok := rec.Numeric(field)
		if !ok {
			continue
		}
		if v < lower || v > upper {
			outliers = append(outliers, i)
		}
	}
	return outliers
}

// CorrectOutliers returns a new record sequence with the flagged values for
// field replaced. Each flagged index takes the mean of its nearest clean
// neighbors; with a clean neighbor on only one side that neighbor's value is
// copied, and with none the value is left untouched. A neighbor is clean
// when it is not itself flagged and holds a numeric value for field.
// Neighbor values are always read from the input sequence, so corrections
// never cascade. All other fields are preserved verbatim.
func CorrectOutliers(records []Record, field string, indices []int) []Record {
	out := append([]Record(nil), records...)
	if len(indices) == 0 {
		return out
	}

	flagged := make(map[int]bool, len(indices))
	for _, idx := range indices {
		flagged[idx] = true
	}

	clean := func(i int) (float64, bool) {
		if i < 0 || i >= len(records) || flagged[i] {
			return 0, false
		}
		return records[i].Numeric(field)
	}

	for _, idx := range indices {
		if idx < 0 || idx >= len(records) {
			continue
		}

		var prevVal, nextVal float64
		prevOK, nextOK := false, false
		for i := idx - 1; i >= 0 && !prevOK; i-- {
			prevVal, prevOK = clean(i)
		}
		for i := idx + 1; i < len(records) && !nextOK; i++ {
			nextVal, nextOK = clean(i)
		}

		var replacement float64
		switch {
		case prevOK && nextOK:
			replacement = (prevVal + nextVal) / 2
		case prevOK:
			replacement = prevVal
		case nextOK:
			replacement = nextVal
		default:
			continue
		}

		rec := records[idx].Clone()
		rec.Fields[field] = replacement
		out[idx] = rec
	}
	return out
}
