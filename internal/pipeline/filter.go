package pipeline

// RangeMode selects how FilterByRange scopes a record sequence.
type RangeMode string

const (
	// RangeDay keeps only the records of the most recent date in the set.
	RangeDay RangeMode = "day"
	// RangeWeek is the identity filter; the dataset is already scoped to
	// one week by the upload/storage boundary.
	RangeWeek RangeMode = "week"
	// RangeCustom keeps records whose date falls within [start, end].
	RangeCustom RangeMode = "custom"
)

// FilterByRange selects a subsequence of records by date interval. Date
// tokens are normalized to a sortable form before comparison, so DD/MM/YYYY
// and ISO dates order correctly. start and end are only consulted for
// RangeCustom and are inclusive; when either is empty the input is returned
// unchanged. No match yields an empty, non-nil slice.
func FilterByRange(records []Record, mode RangeMode, start, end string) []Record {
	switch mode {
	case RangeDay:
		return filterLatestDay(records)
	case RangeCustom:
		if start == "" || end == "" {
			return records
		}
		return filterBetween(records, sortableDate(start), sortableDate(end))
	default:
		return records
	}
}

func filterLatestDay(records []Record) []Record {
	max := ""
	for _, rec := range records {
		if d := sortableDate(rec.DateToken()); d > max {
			max = d
		}
	}

	out := make([]Record, 0, len(records))
	for _, rec := range records {
		if sortableDate(rec.DateToken()) == max && max != "" {
			out = append(out, rec)
		}
	}
	return out
}

func filterBetween(records []Record, start, end string) []Record {
	out := make([]Record, 0, len(records))
	for _, rec := range records {
		d := sortableDate(rec.DateToken())
		if d >= start && d <= end {
			out = append(out, rec)
		}
	}
	return out
}
