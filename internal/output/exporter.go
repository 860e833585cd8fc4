package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/JakubPetorvec/PVFSWeight/internal/analysis"
	"github.com/JakubPetorvec/PVFSWeight/internal/collector"
	"github.com/JakubPetorvec/PVFSWeight/internal/model"
)

// Export is the document written by WriteJSON.
type Export struct {
	Report  analysis.Report        `json:"report"`
	Samples []model.RecordedSample `json:"samples"`
}

// WriteJSON writes the report and its samples to a JSON file with pretty formatting.
func WriteJSON(path string, r analysis.Report, samples []model.RecordedSample) error {
	b, err := json.MarshalIndent(Export{Report: r, Samples: samples}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	if err := os.WriteFile(path, b, 0644); err != nil {
		return fmt.Errorf("write json: %w", err)
	}
	return nil
}

// WriteCSV writes one row per sample followed by a summary block.
// Sample columns follow collector.CSVHeader plus a trailing "stable" flag set
// for rows inside the report window.
func WriteCSV(path string, r analysis.Report, samples []model.RecordedSample) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := writeCSV(w, r, samples); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func writeCSV(w *csv.Writer, r analysis.Report, samples []model.RecordedSample) error {
	devices := names(r.Devices)
	groups := names(r.Groups)

	if err := w.Write(append(collector.CSVHeader(devices, groups), "stable")); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, s := range samples {
		flag := "0"
		if i >= r.Window.Start && i <= r.Window.End {
			flag = "1"
		}
		if err := w.Write(append(collector.CSVRecord(s, devices, groups), flag)); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
	}

	summary := [][]string{
		{},
		{"field", "average", "rounded"},
		averageRow(r.Total),
	}
	for _, d := range r.Devices {
		summary = append(summary, averageRow(d))
	}
	for _, g := range r.Groups {
		summary = append(summary, averageRow(g))
	}
	summary = append(summary,
		[]string{"window_start", strconv.Itoa(r.Window.Start), ""},
		[]string{"window_end", strconv.Itoa(r.Window.End), ""},
	)
	if err := w.WriteAll(summary); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}

func averageRow(a analysis.FieldAverage) []string {
	return []string{a.Name, strconv.FormatFloat(a.Average, 'f', 3, 64), strconv.FormatInt(a.Rounded, 10)}
}

func names(fields []analysis.FieldAverage) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.Name
	}
	return out
}
