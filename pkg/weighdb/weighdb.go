package weighdb

import (
	"context"
	"time"

	"github.com/JakubPetorvec/PVFSWeight/internal/analysis"
	dbpkg "github.com/JakubPetorvec/PVFSWeight/internal/db"
	"github.com/JakubPetorvec/PVFSWeight/internal/model"
)

// ErrNotFound is returned for an unknown session id.
var ErrNotFound = dbpkg.ErrNotFound

// Client exposes a stable API for third-party packages to read recordings.
type Client struct{ db *dbpkg.DB }

// Open opens the SQLite database (creating tables) and returns a client.
func Open(path string) (*Client, error) {
	d, err := dbpkg.Open(path)
	if err != nil {
		return nil, err
	}
	return &Client{db: d}, nil
}

// Close closes the underlying DB.
func (c *Client) Close() error { return c.db.Close() }

// --------------------
// DTOs and converters
// --------------------

type Session struct {
	ID        string
	StartedAt time.Time
	StoppedAt *time.Time
	Note      string
	Samples   int
}

type Sample struct {
	Seq        int
	RecordedAt time.Time
	ReceivedAt map[string]string
	Total      float64
	Devices    map[string]float64
	Groups     map[string]float64
}

// Report is the stable window analysis of one session.
type Report struct {
	SessionID    string
	Samples      int
	WindowStart  int
	WindowEnd    int
	Total        float64
	TotalRounded int64
	Devices      map[string]float64
	Groups       map[string]float64
}

func fromDBSession(s dbpkg.Session) Session {
	return Session{ID: s.ID, StartedAt: s.StartedAt, StoppedAt: s.StoppedAt, Note: s.Note, Samples: s.Samples}
}

func fromModelSample(s model.RecordedSample) Sample {
	return Sample{Seq: s.Seq, RecordedAt: s.RecordedAt, ReceivedAt: s.ReceivedAt, Total: s.Total, Devices: s.Devices, Groups: s.Groups}
}

func toModelSample(s Sample) model.RecordedSample {
	return model.RecordedSample{Seq: s.Seq, RecordedAt: s.RecordedAt, ReceivedAt: s.ReceivedAt, Total: s.Total, Devices: s.Devices, Groups: s.Groups}
}

// --------------------
// Sessions
// --------------------

func (c *Client) ListSessions(ctx context.Context) ([]Session, error) {
	list, err := c.db.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Session, 0, len(list))
	for _, s := range list {
		out = append(out, fromDBSession(s))
	}
	return out, nil
}

func (c *Client) GetSession(ctx context.Context, id string) (Session, error) {
	s, err := c.db.GetSession(ctx, id)
	if err != nil {
		return Session{}, err
	}
	return fromDBSession(s), nil
}

func (c *Client) LatestSession(ctx context.Context) (Session, error) {
	s, err := c.db.LatestSession(ctx)
	if err != nil {
		return Session{}, err
	}
	return fromDBSession(s), nil
}

func (c *Client) DeleteSession(ctx context.Context, id string) error {
	return c.db.DeleteSession(ctx, id)
}

// ImportSamples stores samples as a new, already finished session and
// returns its id.
func (c *Client) ImportSamples(ctx context.Context, note string, samples []Sample) (string, error) {
	sess, err := c.db.StartSession(ctx, note)
	if err != nil {
		return "", err
	}
	for _, s := range samples {
		if err := c.db.InsertSample(ctx, sess.ID, toModelSample(s)); err != nil {
			return "", err
		}
	}
	if err := c.db.StopSession(ctx, sess.ID); err != nil {
		return "", err
	}
	return sess.ID, nil
}

// --------------------
// Samples and reports
// --------------------

func (c *Client) Samples(ctx context.Context, id string) ([]Sample, error) {
	list, err := c.db.SessionSamples(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]Sample, 0, len(list))
	for _, s := range list {
		out = append(out, fromModelSample(s))
	}
	return out, nil
}

// Report analyses a session with the default tuning.
func (c *Client) Report(ctx context.Context, id string) (Report, error) {
	if _, err := c.db.GetSession(ctx, id); err != nil {
		return Report{}, err
	}
	samples, err := c.db.SessionSamples(ctx, id)
	if err != nil {
		return Report{}, err
	}
	r := analysis.BuildReport(samples, analysis.DefaultOptions())
	out := Report{
		SessionID:    id,
		Samples:      r.Samples,
		WindowStart:  r.Window.Start,
		WindowEnd:    r.Window.End,
		Total:        r.Total.Average,
		TotalRounded: r.Total.Rounded,
		Devices:      make(map[string]float64, len(r.Devices)),
		Groups:       make(map[string]float64, len(r.Groups)),
	}
	for _, d := range r.Devices {
		out.Devices[d.Name] = d.Average
	}
	for _, g := range r.Groups {
		out.Groups[g.Name] = g.Average
	}
	return out, nil
}
