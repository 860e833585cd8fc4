package collector

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/JakubPetorvec/PVFSWeight/internal/logger"
	"github.com/JakubPetorvec/PVFSWeight/internal/model"
)

// ErrQueueFull is returned by Storage.Handle when the writer falls behind.
var ErrQueueFull = errors.New("storage queue full")

// Storage streams recorded samples to samples.jsonl and/or samples.csv
// from a background writer.
type Storage struct {
	dir        string
	devices    []string
	groups     []string
	q          chan model.RecordedSample
	enableJSON bool
	enableCSV  bool

	jsonFile   *os.File
	jsonWriter *bufio.Writer

	csvFile   *os.File
	csvWriter *csv.Writer

	closeOnce sync.Once
	closed    chan struct{}
}

// NewStorage ensures dir exists, opens the requested files and starts the
// background writer. devices and groups fix the CSV column order.
func NewStorage(dir, fileType string, maxQueue int, devices, groups []string) (*Storage, error) {
	if dir == "" {
		dir = "data"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}

	s := &Storage{
		dir:     dir,
		devices: append([]string(nil), devices...),
		groups:  append([]string(nil), groups...),
		q:       make(chan model.RecordedSample, maxQueueIfPositive(maxQueue, 1000)),
		closed:  make(chan struct{}),
	}
	switch strings.ToLower(strings.TrimSpace(fileType)) {
	case "json", "jsonl":
		s.enableJSON = true
	case "csv":
		s.enableCSV = true
	case "json+csv", "csv+json", "both", "all", "":
		s.enableJSON = true
		s.enableCSV = true
	default:
		return nil, fmt.Errorf("unsupported storage file_type %q", fileType)
	}

	if s.enableJSON {
		jf, err := os.OpenFile(filepath.Join(dir, "samples.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open json output: %w", err)
		}
		s.jsonFile = jf
		s.jsonWriter = bufio.NewWriterSize(jf, 64*1024)
	}

	if s.enableCSV {
		if err := s.openCSV(); err != nil {
			if s.jsonFile != nil {
				s.jsonFile.Close()
			}
			return nil, err
		}
	}

	go s.run()
	return s, nil
}

func (s *Storage) openCSV() error {
	cf, err := os.OpenFile(filepath.Join(s.dir, "samples.csv"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open csv output: %w", err)
	}
	s.csvFile = cf
	s.csvWriter = csv.NewWriter(cf)
	if off, _ := cf.Seek(0, io.SeekEnd); off > 0 {
		return nil
	}
	if err := s.csvWriter.Write(CSVHeader(s.devices, s.groups)); err != nil {
		cf.Close()
		return fmt.Errorf("write csv header: %w", err)
	}
	s.csvWriter.Flush()
	if err := s.csvWriter.Error(); err != nil {
		cf.Close()
		return err
	}
	return nil
}

func maxQueueIfPositive(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func (s *Storage) run() {
	defer close(s.closed)
	for v := range s.q {
		if s.enableJSON {
			if err := s.writeJSONL(v); err != nil {
				logger.Error("storage jsonl: %v", err)
			}
		}
		if s.enableCSV {
			if err := s.csvWriter.Write(CSVRecord(v, s.devices, s.groups)); err != nil {
				logger.Error("storage csv: %v", err)
			}
		}
		// flush once the queue drains so tailing readers see whole rows
		if len(s.q) == 0 {
			s.flush()
		}
	}
	s.flush()
}

func (s *Storage) flush() {
	if s.jsonWriter != nil {
		_ = s.jsonWriter.Flush()
	}
	if s.csvWriter != nil {
		s.csvWriter.Flush()
	}
}

// Handle enqueues v without blocking.
func (s *Storage) Handle(v model.RecordedSample) error {
	select {
	case s.q <- v:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close drains the queue, flushes and closes the files. Handle must not be
// called afterwards.
func (s *Storage) Close() {
	s.closeOnce.Do(func() {
		close(s.q)
		<-s.closed
		if s.jsonFile != nil {
			s.jsonFile.Close()
		}
		if s.csvFile != nil {
			s.csvFile.Close()
		}
	})
}

func (s *Storage) writeJSONL(v model.RecordedSample) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := s.jsonWriter.Write(b); err != nil {
		return err
	}
	return s.jsonWriter.WriteByte('\n')
}

// CSVHeader returns the column names used for recorded samples.
func CSVHeader(devices, groups []string) []string {
	h := []string{"seq", "recorded_at"}
	for _, d := range devices {
		h = append(h, "rx_"+d)
	}
	h = append(h, "total")
	h = append(h, devices...)
	h = append(h, groups...)
	return h
}

// CSVRecord renders v in CSVHeader column order.
func CSVRecord(v model.RecordedSample, devices, groups []string) []string {
	rec := []string{strconv.Itoa(v.Seq), v.RecordedAt.Format(time.RFC3339Nano)}
	for _, d := range devices {
		rec = append(rec, v.ReceivedAt[d])
	}
	rec = append(rec, formatWeight(v.Total))
	for _, d := range devices {
		rec = append(rec, formatWeight(v.Devices[d]))
	}
	for _, g := range groups {
		rec = append(rec, formatWeight(v.Groups[g]))
	}
	return rec
}

func formatWeight(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
