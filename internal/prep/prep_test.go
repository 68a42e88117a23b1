package prep

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/driftwatch/driftwatch/pkg/detection"
)

func testSource(data []detection.Record) *detection.DataSource {
	return &detection.DataSource{
		ID:             "src-1",
		OrganizationID: "org-1",
		TimestampField: "ts",
		ValueFields:    []string{"value"},
		Data:           data,
	}
}

func TestPrepare_EmptySource(t *testing.T) {
	_, err := Prepare(testSource(nil))
	if !errors.Is(err, ErrEmptyBatch) {
		t.Fatalf("err = %v, want ErrEmptyBatch", err)
	}

	_, err = Prepare(nil)
	if !errors.Is(err, ErrEmptyBatch) {
		t.Fatalf("nil source err = %v, want ErrEmptyBatch", err)
	}
}

func TestPrepare_DropsNilRecords(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	records, err := Prepare(testSource([]detection.Record{
		{"ts": base, "value": 1.0},
		nil,
		{"ts": base.Add(time.Minute), "value": 2.0},
	}))
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("len = %d, want 2", len(records))
	}
}

func TestPrepare_AllNilRecords(t *testing.T) {
	_, err := Prepare(testSource([]detection.Record{nil, nil}))
	if !errors.Is(err, ErrEmptyBatch) {
		t.Fatalf("err = %v, want ErrEmptyBatch", err)
	}
}

func TestPrepare_SortsByTimestamp(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	records, err := Prepare(testSource([]detection.Record{
		{"ts": base.Add(2 * time.Minute), "value": 3.0},
		{"ts": base, "value": 1.0},
		{"ts": base.Add(time.Minute), "value": 2.0},
	}))
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	for i, want := range []float64{1, 2, 3} {
		got, _ := records[i].Float("value")
		if got != want {
			t.Errorf("records[%d].value = %v, want %v", i, got, want)
		}
	}
}

func TestPrepare_FillsMissingWithZero(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	records, err := Prepare(testSource([]detection.Record{
		{"ts": base, "value": 10.0},
		{"ts": base.Add(time.Minute)},
	}))
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	got, ok := records[1].Float("value")
	if !ok || got != 0 {
		t.Errorf("filled value = %v (ok=%v), want 0", got, ok)
	}
}

func TestPrepare_Normalization(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	records, err := Prepare(testSource([]detection.Record{
		{"ts": base, "value": 10.0},
		{"ts": base.Add(time.Minute), "value": 20.0},
	}))
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	// mean=15, population std=5: normalized values are -1 and +1.
	n0, _ := records[0].Float("value_normalized")
	n1, _ := records[1].Float("value_normalized")
	if math.Abs(n0+1) > 1e-9 || math.Abs(n1-1) > 1e-9 {
		t.Errorf("normalized = %v, %v, want -1, +1", n0, n1)
	}
}

func TestPrepare_ZeroVarianceNormalizesToZero(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	records, err := Prepare(testSource([]detection.Record{
		{"ts": base, "value": 7.0},
		{"ts": base.Add(time.Minute), "value": 7.0},
		{"ts": base.Add(2 * time.Minute), "value": 7.0},
	}))
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	for i, r := range records {
		if n, _ := r.Float("value_normalized"); n != 0 {
			t.Errorf("records[%d] normalized = %v, want 0", i, n)
		}
	}
}

func TestPrepare_DoesNotMutateInput(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	original := []detection.Record{
		{"ts": base.Add(time.Minute), "value": 2.0},
		{"ts": base},
	}
	src := testSource(original)

	if _, err := Prepare(src); err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	if _, ok := original[0]["value_normalized"]; ok {
		t.Error("input record gained a normalized field")
	}
	if _, ok := original[1]["value"]; ok {
		t.Error("input record gained a filled value field")
	}
	if ts, _ := original[0].Time("ts"); !ts.Equal(base.Add(time.Minute)) {
		t.Error("input order was changed")
	}
}

func TestFeatureMatrix(t *testing.T) {
	records := []detection.Record{
		{"value_normalized": 1.5, "other_normalized": -0.5},
		{"value_normalized": -1.5, "other_normalized": 0.5},
	}
	m := FeatureMatrix(records, []string{"value", "other"})
	if len(m) != 2 || len(m[0]) != 2 {
		t.Fatalf("matrix shape = %dx%d, want 2x2", len(m), len(m[0]))
	}
	if m[0][0] != 1.5 || m[1][1] != 0.5 {
		t.Errorf("matrix = %v", m)
	}
}
