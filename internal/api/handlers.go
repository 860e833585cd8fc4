package api

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/JakubPetorvec/PVFSWeight/internal/analysis"
	"github.com/JakubPetorvec/PVFSWeight/internal/model"
)

const deviceTimeout = 5 * time.Second

// GroupView is one group's sum and its share of the total.
type GroupView struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
	Share  float64 `json:"share"`
}

// SnapshotView is the wire form of an aggregated snapshot.
type SnapshotView struct {
	Timestamp time.Time              `json:"timestamp"`
	Scales    []model.ScaleReading   `json:"scales"`
	Channels  []model.ChannelReading `json:"channels"`
	Total     float64                `json:"total"`
	Groups    []GroupView            `json:"groups"`
}

func newSnapshotView(snap *model.AggregatedSnapshot) SnapshotView {
	v := SnapshotView{Scales: []model.ScaleReading{}, Channels: []model.ChannelReading{}, Groups: []GroupView{}}
	if snap == nil {
		return v
	}
	v.Timestamp = snap.Timestamp
	v.Total = snap.Total
	for _, sc := range snap.Scales {
		v.Scales = append(v.Scales, sc)
	}
	sort.Slice(v.Scales, func(i, j int) bool { return v.Scales[i].Device < v.Scales[j].Device })
	v.Channels = append(v.Channels, snap.ChannelList()...)
	for _, name := range snap.GroupOrder {
		v.Groups = append(v.Groups, GroupView{Name: name, Weight: snap.GroupSums[name], Share: snap.GroupShare(name)})
	}
	return v
}

func (s *Server) handleListDevices(c *gin.Context) {
	devices := s.backend.Devices()
	c.JSON(http.StatusOK, gin.H{
		"data": devices,
		"meta": gin.H{"count": len(devices)},
	})
}

func (s *Server) handleConnect(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), deviceTimeout)
	defer cancel()

	name := c.Param("name")
	if err := s.backend.Connect(ctx, name); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"device": name, "connected": true})
}

func (s *Server) handleDisconnect(c *gin.Context) {
	name := c.Param("name")
	if err := s.backend.Disconnect(name); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"device": name, "connected": false})
}

func (s *Server) handleZero(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), deviceTimeout)
	defer cancel()

	name := c.Param("name")
	if err := s.backend.Zero(ctx, name); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"device": name, "zeroed": true})
}

type addressRequest struct {
	Address string `json:"address"`
}

func (s *Server) handleUpdateAddress(c *gin.Context) {
	var req addressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body: " + err.Error()})
		return
	}
	req.Address = strings.TrimSpace(req.Address)
	if req.Address == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "address is required"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), deviceTimeout)
	defer cancel()

	name := c.Param("name")
	if err := s.backend.UpdateAddress(ctx, name, req.Address); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"device": name, "address": req.Address})
}

func (s *Server) handleSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": newSnapshotView(s.backend.Snapshot())})
}

func (s *Server) handleListSamples(c *gin.Context) {
	samples := s.backend.Samples()
	c.JSON(http.StatusOK, gin.H{
		"data": samples,
		"meta": gin.H{"count": len(samples)},
	})
}

func (s *Server) handleAppendSample(c *gin.Context) {
	c.JSON(http.StatusCreated, gin.H{"data": s.backend.AppendSample()})
}

func (s *Server) handleClearSamples(c *gin.Context) {
	s.backend.ClearSamples()
	c.Status(http.StatusNoContent)
}

func (s *Server) recordingStatus() gin.H {
	return gin.H{
		"recording": s.backend.Recording(),
		"session":   s.backend.SessionID(),
		"samples":   len(s.backend.Samples()),
	}
}

func (s *Server) handleRecordingStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.recordingStatus())
}

func (s *Server) handleStartRecording(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), deviceTimeout)
	defer cancel()

	if err := s.backend.StartRecording(ctx); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.recordingStatus())
}

func (s *Server) handleStopRecording(c *gin.Context) {
	s.backend.StopRecording()
	c.JSON(http.StatusOK, s.recordingStatus())
}

func (s *Server) handleAnalysis(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": s.backend.Analyze()})
}

func (s *Server) handleListSessions(c *gin.Context) {
	if s.sessions == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session storage disabled"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	sessions, err := s.sessions.ListSessions(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data": sessions,
		"meta": gin.H{"count": len(sessions)},
	})
}

func (s *Server) handleGetSession(c *gin.Context) {
	if s.sessions == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session storage disabled"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	sess, err := s.sessions.GetSession(ctx, c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": sess})
}

func (s *Server) handleSessionReport(c *gin.Context) {
	if s.sessions == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session storage disabled"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	id := c.Param("id")
	if _, err := s.sessions.GetSession(ctx, id); err != nil {
		abortWithError(c, err)
		return
	}
	samples, err := s.sessions.SessionSamples(ctx, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": analysis.BuildReport(samples, s.backend.AnalysisOptions())})
}
