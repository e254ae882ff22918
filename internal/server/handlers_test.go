package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"klaerwerk.dev/araflow/internal/pipeline"
	"klaerwerk.dev/araflow/internal/server"
	"klaerwerk.dev/araflow/internal/store"
)

const exportCSV = `Name,Pumpwerk Ost
Customer,Gemeinde Musterhausen
Start Time,01/06/2025 00:00
End Time,07/06/2025 23:30
Interval,30m
Time,ARA Flow,Flow Rate 1,Flow Rate 2,PH 58
01/06/2025 00:00,3,1,0,7.1
01/06/2025 00:30,5,1,0,7.3
02/06/2025 00:00,4,0,2,7.2
`

func multipartUpload(fields map[string]string, filename, content string) (*bytes.Buffer, string) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for k, v := range fields {
		_ = writer.WriteField(k, v)
	}
	part, _ := writer.CreateFormFile("file", filename)
	_, _ = part.Write([]byte(content))
	_ = writer.Close()
	return body, writer.FormDataContentType()
}

var _ = Describe("Handlers", func() {
	var (
		st     *fakeStore
		router http.Handler
	)

	BeforeEach(func() {
		st = newFakeStore()
		srv, err := server.NewServer(&server.Config{
			Logger:   testLogger(),
			Store:    st,
			HTTPPort: 8080,
		})
		Expect(err).NotTo(HaveOccurred())
		router = srv.Routes()
	})

	do := func(req *http.Request) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	seedWeek := func() string {
		res := pipeline.ParseCSV(exportCSV)
		id, err := st.SaveWeek(context.Background(), "01/06/2025", "07/06/2025", store.DataTypeBoth, res.Records, nil)
		Expect(err).NotTo(HaveOccurred())
		return id
	}

	Describe("GET /health", func() {
		It("should report ok", func() {
			rec := do(httptest.NewRequest(http.MethodGet, "/health", nil))
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring(`"ok"`))
		})
	})

	Describe("POST /api/weeks", func() {
		It("should store an uploaded export", func() {
			body, contentType := multipartUpload(nil, "export.csv", exportCSV)
			req := httptest.NewRequest(http.MethodPost, "/api/weeks", body)
			req.Header.Set("Content-Type", contentType)

			rec := do(req)
			Expect(rec.Code).To(Equal(http.StatusCreated))

			var resp map[string]any
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp).To(HaveKeyWithValue("weekId", "week_01-06-2025_to_07-06-2025"))
			Expect(resp).To(HaveKeyWithValue("records", 3.0))
			Expect(st.weeks).To(HaveKey("week_01-06-2025_to_07-06-2025"))
		})

		It("should prefer explicit form dates over the metadata preamble", func() {
			body, contentType := multipartUpload(map[string]string{
				"start_date": "2025-06-01",
				"end_date":   "2025-06-07",
				"data_type":  store.DataTypeTelemetry,
			}, "export.csv", exportCSV)
			req := httptest.NewRequest(http.MethodPost, "/api/weeks", body)
			req.Header.Set("Content-Type", contentType)

			rec := do(req)
			Expect(rec.Code).To(Equal(http.StatusCreated))
			Expect(st.weeks).To(HaveKey("week_2025-06-01_to_2025-06-07"))
			Expect(st.weeks["week_2025-06-01_to_2025-06-07"].Week.DataType).To(Equal(store.DataTypeTelemetry))
		})

		It("should reject an unknown data_type", func() {
			body, contentType := multipartUpload(map[string]string{
				"data_type": "bogus",
			}, "export.csv", exportCSV)
			req := httptest.NewRequest(http.MethodPost, "/api/weeks", body)
			req.Header.Set("Content-Type", contentType)

			rec := do(req)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(st.weeks).To(BeEmpty())
		})

		It("should reject an upload without parseable records", func() {
			body, contentType := multipartUpload(nil, "broken.csv", "not,a\nvalid,export\n")
			req := httptest.NewRequest(http.MethodPost, "/api/weeks", body)
			req.Header.Set("Content-Type", contentType)

			rec := do(req)
			Expect(rec.Code).To(Equal(http.StatusUnprocessableEntity))
		})

		It("should reject a request without a file part", func() {
			body := &bytes.Buffer{}
			writer := multipart.NewWriter(body)
			_ = writer.WriteField("start_date", "2025-06-01")
			_ = writer.Close()

			req := httptest.NewRequest(http.MethodPost, "/api/weeks", body)
			req.Header.Set("Content-Type", writer.FormDataContentType())

			rec := do(req)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("GET /api/weeks", func() {
		It("should list stored weeks", func() {
			seedWeek()
			rec := do(httptest.NewRequest(http.MethodGet, "/api/weeks", nil))
			Expect(rec.Code).To(Equal(http.StatusOK))

			var resp struct {
				Weeks []store.Week `json:"weeks"`
			}
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Weeks).To(HaveLen(1))
		})

		It("should return an empty list without weeks", func() {
			rec := do(httptest.NewRequest(http.MethodGet, "/api/weeks", nil))
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring(`"weeks":[]`))
		})
	})

	Describe("GET /api/weeks/{id}", func() {
		It("should return the week with its records", func() {
			id := seedWeek()
			rec := do(httptest.NewRequest(http.MethodGet, "/api/weeks/"+id, nil))
			Expect(rec.Code).To(Equal(http.StatusOK))

			var resp store.WeekData
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Week.ID).To(Equal(id))
			Expect(resp.Records).To(HaveLen(3))
		})

		It("should return 404 for an unknown week", func() {
			rec := do(httptest.NewRequest(http.MethodGet, "/api/weeks/week_nope", nil))
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("DELETE /api/weeks/{id}", func() {
		It("should delete a stored week", func() {
			id := seedWeek()
			rec := do(httptest.NewRequest(http.MethodDelete, "/api/weeks/"+id, nil))
			Expect(rec.Code).To(Equal(http.StatusNoContent))
			Expect(st.weeks).To(BeEmpty())
		})

		It("should return 404 for an unknown week", func() {
			rec := do(httptest.NewRequest(http.MethodDelete, "/api/weeks/week_nope", nil))
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("GET /api/weeks/{id}/aggregates", func() {
		It("should aggregate the whole week by default", func() {
			id := seedWeek()
			rec := do(httptest.NewRequest(http.MethodGet, "/api/weeks/"+id+"/aggregates", nil))
			Expect(rec.Code).To(Equal(http.StatusOK))

			var resp pipeline.Aggregates
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Daily).To(HaveLen(2))
			Expect(resp.Daily["01/06/2025"].FlowARA).To(Equal(8.0))
			Expect(resp.Weekly.PumpDuration).To(Equal(1.5))
		})

		It("should scope to the latest day when requested", func() {
			id := seedWeek()
			rec := do(httptest.NewRequest(http.MethodGet, "/api/weeks/"+id+"/aggregates?range=day", nil))
			Expect(rec.Code).To(Equal(http.StatusOK))

			var resp pipeline.Aggregates
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Daily).To(HaveLen(1))
			Expect(resp.Daily).To(HaveKey("02/06/2025"))
		})

		It("should honor the interval estimator", func() {
			id := seedWeek()
			rec := do(httptest.NewRequest(http.MethodGet, "/api/weeks/"+id+"/aggregates?estimator=interval", nil))
			Expect(rec.Code).To(Equal(http.StatusOK))

			var resp pipeline.Aggregates
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			// 0h for the first sample, 0.5h to the second, 23.5h to the third.
			Expect(resp.Weekly.PumpDuration).To(BeNumerically("~", 24.0, 1e-9))
		})
	})

	Describe("GET /api/weeks/{id}/outliers", func() {
		It("should require the field parameter", func() {
			id := seedWeek()
			rec := do(httptest.NewRequest(http.MethodGet, "/api/weeks/"+id+"/outliers", nil))
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("should report detected outliers", func() {
			res := pipeline.ParseCSV(exportCSV)
			res.Records = append(res.Records, pipeline.Record{
				Time:   "02/06/2025 00:30",
				Fields: map[string]any{"ARA_Flow": 9000.0},
			})
			for i := 0; i < 4; i++ {
				res.Records = append(res.Records, pipeline.Record{
					Time:   "02/06/2025 01:00",
					Fields: map[string]any{"ARA_Flow": 4.0},
				})
			}
			id, err := st.SaveWeek(context.Background(), "01/06/2025", "07/06/2025", store.DataTypeBoth, res.Records, nil)
			Expect(err).NotTo(HaveOccurred())

			rec := do(httptest.NewRequest(http.MethodGet, "/api/weeks/"+id+"/outliers?field=ARA_Flow", nil))
			Expect(rec.Code).To(Equal(http.StatusOK))

			var resp struct {
				Field   string    `json:"field"`
				Indices []int     `json:"indices"`
				Values  []float64 `json:"values"`
			}
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Indices).To(Equal([]int{3}))
			Expect(resp.Values).To(Equal([]float64{9000.0}))
		})

		It("should report an empty result when nothing is anomalous", func() {
			id := seedWeek()
			rec := do(httptest.NewRequest(http.MethodGet, "/api/weeks/"+id+"/outliers?field=ARA_Flow", nil))
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring(`"indices":[]`))
		})
	})

	Describe("POST /api/weeks/{id}/outliers", func() {
		It("should correct and persist flagged values", func() {
			records := []pipeline.Record{
				{Time: "01/06/2025 00:00", Fields: map[string]any{"ARA_Flow": 10.0}},
				{Time: "01/06/2025 00:30", Fields: map[string]any{"ARA_Flow": 11.0}},
				{Time: "01/06/2025 01:00", Fields: map[string]any{"ARA_Flow": 12.0}},
				{Time: "01/06/2025 01:30", Fields: map[string]any{"ARA_Flow": 9000.0}},
				{Time: "01/06/2025 02:00", Fields: map[string]any{"ARA_Flow": 13.0}},
				{Time: "01/06/2025 02:30", Fields: map[string]any{"ARA_Flow": 14.0}},
				{Time: "01/06/2025 03:00", Fields: map[string]any{"ARA_Flow": 15.0}},
			}
			id, err := st.SaveWeek(context.Background(), "01/06/2025", "07/06/2025", store.DataTypeBoth, records, nil)
			Expect(err).NotTo(HaveOccurred())

			body := strings.NewReader(`{"field":"ARA_Flow"}`)
			rec := do(httptest.NewRequest(http.MethodPost, "/api/weeks/"+id+"/outliers", body))
			Expect(rec.Code).To(Equal(http.StatusOK))

			var resp struct {
				Corrected []int `json:"corrected"`
			}
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Corrected).To(Equal([]int{3}))
			Expect(st.weeks[id].Records[3].Fields["ARA_Flow"]).To(Equal(12.5))
		})

		It("should reject a body without a field", func() {
			id := seedWeek()
			rec := do(httptest.NewRequest(http.MethodPost, "/api/weeks/"+id+"/outliers", strings.NewReader(`{}`)))
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("PUT /api/weeks/{id}/corrections", func() {
		It("should replace the manual corrections", func() {
			id := seedWeek()
			body := strings.NewReader(`[{"pumpDuration":12.5,"totalFlowARA":420,"totalFlowGalgenkanal":88,"notes":"meter offline"}]`)
			rec := do(httptest.NewRequest(http.MethodPut, "/api/weeks/"+id+"/corrections", body))
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(st.weeks[id].Corrections).To(HaveLen(1))
			Expect(st.weeks[id].Corrections[0].PumpDuration).To(Equal(12.5))
		})

		It("should reject negative override values", func() {
			id := seedWeek()
			body := strings.NewReader(`[{"pumpDuration":-1}]`)
			rec := do(httptest.NewRequest(http.MethodPut, "/api/weeks/"+id+"/corrections", body))
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("should return 404 for an unknown week", func() {
			rec := do(httptest.NewRequest(http.MethodPut, "/api/weeks/week_nope/corrections", strings.NewReader(`[]`)))
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})
	})
})
