package output

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/JakubPetorvec/PVFSWeight/internal/analysis"
	"github.com/JakubPetorvec/PVFSWeight/internal/model"
)

func sampleRun() []model.RecordedSample {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	totals := []float64{0, 0, 1, 40, 41, 42, 43, 42, 41, 40, 2, 0}
	out := make([]model.RecordedSample, len(totals))
	for i, v := range totals {
		out[i] = model.RecordedSample{
			Seq:        i + 1,
			RecordedAt: base.Add(time.Duration(i) * 250 * time.Millisecond),
			ReceivedAt: map[string]string{"scale1": base.Format("15:04:05.000")},
			Total:      v,
			Devices:    map[string]float64{"scale1": v},
			Groups:     map[string]float64{"G1": v / 2},
		}
	}
	return out
}

func TestWriteCSV(t *testing.T) {
	samples := sampleRun()
	opts := analysis.DefaultOptions()
	opts.MedianWindow = 3
	r := analysis.BuildReport(samples, opts)

	path := filepath.Join(t.TempDir(), "report.csv")
	if err := WriteCSV(path, r, samples); err != nil {
		t.Fatalf("WriteCSV failed: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	rd := csv.NewReader(f)
	rd.FieldsPerRecord = -1
	rows, err := rd.ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}

	header := rows[0]
	want := []string{"seq", "recorded_at", "rx_scale1", "total", "scale1", "G1", "stable"}
	if len(header) != len(want) {
		t.Fatalf("header = %v, want %v", header, want)
	}
	for i := range want {
		if header[i] != want[i] {
			t.Fatalf("header = %v, want %v", header, want)
		}
	}
	// rows 1..12 are samples; window is [5..6]
	stable := 0
	for _, row := range rows[1:13] {
		if row[len(row)-1] == "1" {
			stable++
		}
	}
	if stable != 2 {
		t.Fatalf("expected 2 stable rows, got %d", stable)
	}
	if rows[6][3] != "42.00" {
		t.Fatalf("unexpected total cell %q", rows[6][3])
	}

	var total []string
	for _, row := range rows[13:] {
		if len(row) > 0 && row[0] == "total" {
			total = row
		}
	}
	if total == nil || total[1] != "42.500" || total[2] != "43" {
		t.Fatalf("unexpected total summary %v", total)
	}
}

func TestWriteJSON(t *testing.T) {
	samples := sampleRun()
	r := analysis.BuildReport(samples, analysis.DefaultOptions())

	path := filepath.Join(t.TempDir(), "report.json")
	if err := WriteJSON(path, r, samples); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got Export
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got.Samples) != len(samples) || got.Report.Samples != len(samples) {
		t.Fatalf("unexpected export %+v", got.Report)
	}
	if got.Report.Total.Name != "total" || len(got.Report.Devices) != 1 || got.Report.Devices[0].Name != "scale1" {
		t.Fatalf("unexpected report fields %+v", got.Report)
	}
}

func TestWriteCSVBadPath(t *testing.T) {
	err := WriteCSV(filepath.Join(t.TempDir(), "missing", "x.csv"), analysis.Report{}, nil)
	if err == nil {
		t.Fatal("expected error for missing directory")
	}
}
