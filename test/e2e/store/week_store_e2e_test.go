package store_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"klaerwerk.dev/araflow/internal/pipeline"
	"klaerwerk.dev/araflow/internal/store"
)

func weekRecords(day string, n int) []pipeline.Record {
	records := make([]pipeline.Record, 0, n)
	for i := 0; i < n; i++ {
		records = append(records, pipeline.Record{
			Time: fmt.Sprintf("%s %02d:00:00", day, i),
			Fields: map[string]any{
				"ARA_Flow":    100.0 + float64(i),
				"Flow_Rate_1": 12.5,
				"PH_58":       7.2,
			},
		})
	}
	return records
}

var _ = Describe("Week store E2E", func() {
	ctx := context.Background()

	Context("saving and loading weeks", func() {
		It("should round-trip a week with its records and corrections", func() {
			records := weekRecords("02/06/2025", 6)
			corrections := []store.ManualCorrection{
				{PumpDuration: 38.5, TotalFlowARA: 1200, Notes: "gauge recalibrated"},
			}

			weekID, err := weekStore.SaveWeek(ctx, "02/06/2025", "08/06/2025", store.DataTypeBoth, records, corrections)
			Expect(err).NotTo(HaveOccurred())
			Expect(weekID).To(Equal("week_02-06-2025_to_08-06-2025"))

			data, err := weekStore.GetWeek(ctx, weekID)
			Expect(err).NotTo(HaveOccurred())
			Expect(data.Week.StartDate).To(Equal("02/06/2025"))
			Expect(data.Week.EndDate).To(Equal("08/06/2025"))
			Expect(data.Week.DataType).To(Equal(store.DataTypeBoth))
			Expect(data.Records).To(HaveLen(6))
			Expect(data.Records[0].Time).To(Equal("02/06/2025 00:00:00"))
			Expect(data.Records[0].NumericOr("ARA_Flow", 0)).To(Equal(100.0))
			Expect(data.Corrections).To(HaveLen(1))
			Expect(data.Corrections[0].Notes).To(Equal("gauge recalibrated"))
		})

		It("should keep the record sequence across a month boundary", func() {
			records := []pipeline.Record{
				{Time: "30/06/2025 23:30", Fields: map[string]any{"Flow_Rate_1": 9.0}},
				{Time: "01/07/2025 00:00", Fields: map[string]any{"Flow_Rate_1": 9.5}},
				{Time: "01/07/2025 00:30", Fields: map[string]any{"Flow_Rate_1": 9.2}},
			}

			weekID, err := weekStore.SaveWeek(ctx, "30/06/2025", "06/07/2025", store.DataTypeTelemetry, records, nil)
			Expect(err).NotTo(HaveOccurred())

			data, err := weekStore.GetWeek(ctx, weekID)
			Expect(err).NotTo(HaveOccurred())

			// The July timestamps sort before the June one as strings; the
			// stored sequence must stay chronological regardless.
			times := make([]string, 0, len(data.Records))
			for _, rec := range data.Records {
				times = append(times, rec.Time)
			}
			Expect(times).To(Equal([]string{
				"30/06/2025 23:30",
				"01/07/2025 00:00",
				"01/07/2025 00:30",
			}))

			agg := pipeline.NewAggregator()
			agg.Estimator = pipeline.IntervalIntegrated{}
			out := agg.Aggregate(data.Records)
			Expect(out.Weekly.PumpDuration).To(BeNumerically("~", 1.0, 1e-9))
		})

		It("should overwrite records when the same week is saved again", func() {
			_, err := weekStore.SaveWeek(ctx, "09/06/2025", "15/06/2025", store.DataTypeTelemetry, weekRecords("09/06/2025", 10), nil)
			Expect(err).NotTo(HaveOccurred())

			weekID, err := weekStore.SaveWeek(ctx, "09/06/2025", "15/06/2025", store.DataTypeTelemetry, weekRecords("09/06/2025", 4), nil)
			Expect(err).NotTo(HaveOccurred())

			data, err := weekStore.GetWeek(ctx, weekID)
			Expect(err).NotTo(HaveOccurred())
			Expect(data.Records).To(HaveLen(4))
		})

		It("should reject an unknown data type", func() {
			_, err := weekStore.SaveWeek(ctx, "16/06/2025", "22/06/2025", "bogus", weekRecords("16/06/2025", 1), nil)
			Expect(err).To(HaveOccurred())
		})

		It("should list stored weeks newest first", func() {
			_, err := weekStore.SaveWeek(ctx, "2025-01-06", "2025-01-12", store.DataTypeBoth, weekRecords("06/01/2025", 2), nil)
			Expect(err).NotTo(HaveOccurred())
			_, err = weekStore.SaveWeek(ctx, "2025-01-13", "2025-01-19", store.DataTypeBoth, weekRecords("13/01/2025", 2), nil)
			Expect(err).NotTo(HaveOccurred())

			weeks, err := weekStore.ListWeeks(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(len(weeks)).To(BeNumerically(">=", 2))
			for i := 1; i < len(weeks); i++ {
				Expect(weeks[i-1].StartDate >= weeks[i].StartDate).To(BeTrue())
			}
		})
	})

	Context("mutating stored weeks", func() {
		It("should replace records and touch last_modified", func() {
			weekID, err := weekStore.SaveWeek(ctx, "23/06/2025", "29/06/2025", store.DataTypeBoth, weekRecords("23/06/2025", 3), nil)
			Expect(err).NotTo(HaveOccurred())

			before, err := weekStore.GetWeek(ctx, weekID)
			Expect(err).NotTo(HaveOccurred())

			replacement := weekRecords("23/06/2025", 2)
			replacement[0].Fields["ARA_Flow"] = 999.0
			Expect(weekStore.ReplaceRecords(ctx, weekID, replacement)).To(Succeed())

			after, err := weekStore.GetWeek(ctx, weekID)
			Expect(err).NotTo(HaveOccurred())
			Expect(after.Records).To(HaveLen(2))
			Expect(after.Records[0].NumericOr("ARA_Flow", 0)).To(Equal(999.0))
			Expect(after.Week.LastModified.Before(before.Week.LastModified)).To(BeFalse())
		})

		It("should replace corrections for an existing week", func() {
			weekID, err := weekStore.SaveWeek(ctx, "30/06/2025", "06/07/2025", store.DataTypeBoth, weekRecords("30/06/2025", 2), nil)
			Expect(err).NotTo(HaveOccurred())

			Expect(weekStore.ReplaceCorrections(ctx, weekID, []store.ManualCorrection{
				{PumpDuration: 12, Notes: "first pass"},
			})).To(Succeed())
			Expect(weekStore.ReplaceCorrections(ctx, weekID, []store.ManualCorrection{
				{PumpDuration: 14, Notes: "second pass"},
			})).To(Succeed())

			data, err := weekStore.GetWeek(ctx, weekID)
			Expect(err).NotTo(HaveOccurred())
			Expect(data.Corrections).To(HaveLen(1))
			Expect(data.Corrections[0].PumpDuration).To(Equal(14.0))
		})

		It("should return ErrNotFound when mutating a missing week", func() {
			err := weekStore.ReplaceRecords(ctx, "week_missing", weekRecords("01/01/2025", 1))
			Expect(errors.Is(err, store.ErrNotFound)).To(BeTrue())

			err = weekStore.ReplaceCorrections(ctx, "week_missing", nil)
			Expect(errors.Is(err, store.ErrNotFound)).To(BeTrue())
		})
	})

	Context("deleting weeks", func() {
		It("should delete a week and cascade to its records", func() {
			weekID, err := weekStore.SaveWeek(ctx, "07/07/2025", "13/07/2025", store.DataTypeBoth, weekRecords("07/07/2025", 5), nil)
			Expect(err).NotTo(HaveOccurred())

			Expect(weekStore.DeleteWeek(ctx, weekID)).To(Succeed())

			_, err = weekStore.GetWeek(ctx, weekID)
			Expect(errors.Is(err, store.ErrNotFound)).To(BeTrue())
		})

		It("should return ErrNotFound for an unknown week", func() {
			err := weekStore.DeleteWeek(ctx, "week_never_saved")
			Expect(errors.Is(err, store.ErrNotFound)).To(BeTrue())
		})
	})

	Context("purging old weeks", func() {
		It("should delete weeks older than the retention window and keep the rest", func() {
			old := time.Now().UTC().AddDate(0, 0, -400)
			oldStart := old.Format("2006-01-02")
			oldEnd := old.AddDate(0, 0, 6).Format("2006-01-02")

			oldID, err := weekStore.SaveWeek(ctx, oldStart, oldEnd, store.DataTypeBoth, weekRecords("01/01/2024", 2), nil)
			Expect(err).NotTo(HaveOccurred())

			// Backdate the row so it falls outside the retention window.
			Expect(db.Model(&store.Week{}).Where("id = ?", oldID).
				Update("created_at", old).Error).NotTo(HaveOccurred())

			recent := time.Now().AddDate(0, 0, -14)
			recentID, err := weekStore.SaveWeek(ctx,
				recent.Format("2006-01-02"),
				recent.AddDate(0, 0, 6).Format("2006-01-02"),
				store.DataTypeBoth, weekRecords("01/08/2025", 2), nil)
			Expect(err).NotTo(HaveOccurred())

			deleted, err := weekStore.PurgeOlderThan(ctx, 365)
			Expect(err).NotTo(HaveOccurred())
			Expect(deleted).To(BeNumerically(">=", 1))

			_, err = weekStore.GetWeek(ctx, oldID)
			Expect(errors.Is(err, store.ErrNotFound)).To(BeTrue())

			_, err = weekStore.GetWeek(ctx, recentID)
			Expect(err).NotTo(HaveOccurred())
		})
	})
})
