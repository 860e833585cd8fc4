package collector

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/JakubPetorvec/PVFSWeight/internal/model"
)

func sample(seq int, total float64) model.RecordedSample {
	return model.RecordedSample{
		Seq:        seq,
		RecordedAt: time.Now(),
		ReceivedAt: map[string]string{"scale1": "10:00:00.250"},
		Total:      total,
		Devices:    map[string]float64{"scale1": total},
		Groups:     map[string]float64{"G1": total / 2},
	}
}

func TestStorageWritesJSONLAndCSV(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s, err := NewStorage(dir, "both", 10, []string{"scale1"}, []string{"G1"})
	if err != nil {
		t.Fatalf("NewStorage failed: %v", err)
	}
	for i := 1; i <= 3; i++ {
		if err := s.Handle(sample(i, float64(i)*10)); err != nil {
			t.Fatalf("Handle failed: %v", err)
		}
	}
	s.Close()
	s.Close()

	f, err := os.Open(filepath.Join(dir, "samples.jsonl"))
	if err != nil {
		t.Fatalf("open jsonl: %v", err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	var lines []model.RecordedSample
	for sc.Scan() {
		var v model.RecordedSample
		if err := json.Unmarshal(sc.Bytes(), &v); err != nil {
			t.Fatalf("decode jsonl line: %v", err)
		}
		lines = append(lines, v)
	}
	if len(lines) != 3 || lines[2].Total != 30 {
		t.Fatalf("unexpected jsonl content %+v", lines)
	}

	cf, err := os.Open(filepath.Join(dir, "samples.csv"))
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer cf.Close()
	rows, err := csv.NewReader(cf).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("expected header + 3 rows, got %d", len(rows))
	}
	wantHeader := []string{"seq", "recorded_at", "rx_scale1", "total", "scale1", "G1"}
	for i, h := range wantHeader {
		if rows[0][i] != h {
			t.Fatalf("header %v, want %v", rows[0], wantHeader)
		}
	}
	if rows[1][2] != "10:00:00.250" || rows[3][3] != "30.00" || rows[3][5] != "15.00" {
		t.Fatalf("unexpected row %v / %v", rows[1], rows[3])
	}
}

func TestStorageRejectsUnknownType(t *testing.T) {
	t.Parallel()
	if _, err := NewStorage(t.TempDir(), "xml", 0, nil, nil); err == nil {
		t.Fatalf("expected error for unsupported file type")
	}
}
