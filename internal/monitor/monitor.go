// Package monitor reports a peer's sync status at a fixed interval: a log
// line, an optional status file and an optional InfluxDB point.
package monitor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/ProjectRStore/itemsync/internal/session"
)

const measurement = "sync_status"

// PointWriter receives status points, e.g. an influx.Manager.
type PointWriter interface {
	WritePoint(p *influxdb2_write.Point) error
}

// Dependencies holds everything the monitor reports to.
type Dependencies struct {
	Logger     *slog.Logger
	Points     PointWriter // optional
	StatusPath string      // optional
	Session    string
	Interval   time.Duration
}

// Report is one status sample. The frame counters cover the frames since
// the previous report.
type Report struct {
	Time       time.Time      `json:"time"`
	Status     session.Status `json:"status"`
	Frames     int            `json:"frames"`
	Dispatched int            `json:"dispatched"`
	Failed     int            `json:"failed"`
	Superseded int            `json:"superseded"`
	Retried    int            `json:"retried"`
	Unresolved int            `json:"unresolved"`
}

// Service accumulates frame reports and emits a Report per interval. It is
// driven from the session's frame loop and is not safe for concurrent use.
type Service struct {
	deps   Dependencies
	next   time.Time
	window Report
}

// NewService creates a monitor. A zero interval reports every 10 seconds.
func NewService(deps Dependencies) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Interval <= 0 {
		deps.Interval = 10 * time.Second
	}
	return &Service{deps: deps}
}

// Observe adds one frame. When the interval has elapsed it samples status
// and reports; the returned bool tells whether it did.
func (s *Service) Observe(now time.Time, frame session.FrameReport, status func() session.Status) (Report, bool) {
	s.window.Frames++
	s.window.Dispatched += frame.Dispatched
	s.window.Failed += frame.Failed
	s.window.Superseded += frame.Superseded
	s.window.Retried += frame.Retried
	s.window.Unresolved += frame.Pose.Unresolved

	if s.next.IsZero() {
		s.next = now.Add(s.deps.Interval)
		return Report{}, false
	}
	if now.Before(s.next) {
		return Report{}, false
	}
	s.next = now.Add(s.deps.Interval)

	rep := s.window
	rep.Time = now
	rep.Status = status()
	s.window = Report{}
	s.emit(rep)
	return rep, true
}

func (s *Service) emit(rep Report) {
	st := rep.Status
	s.deps.Logger.Info("Sync status",
		"peers", st.Peers,
		"objects", st.Objects,
		"held", st.Held,
		"registry", st.Registry,
		"mirrored", st.Mirrored,
		"pendingSnapshots", st.PendingSnapshots,
		"pendingRequests", st.PendingRequests,
		"balance", st.Balance,
		"sell", st.SellState,
		"frames", rep.Frames,
		"dispatched", rep.Dispatched,
		"failed", rep.Failed,
	)

	if s.deps.StatusPath != "" {
		if err := writeStatusFile(s.deps.StatusPath, rep); err != nil {
			s.deps.Logger.Warn("Status file not written", "path", s.deps.StatusPath, "error", err)
		}
	}
	if s.deps.Points != nil {
		if err := s.deps.Points.WritePoint(Point(s.deps.Session, rep)); err != nil {
			s.deps.Logger.Warn("Status point not written", "error", err)
		}
	}
}

// Point converts a report into an InfluxDB point.
func Point(sessionName string, rep Report) *influxdb2_write.Point {
	st := rep.Status
	return influxdb2_write.NewPoint(measurement,
		map[string]string{
			"session": sessionName,
			"actor":   fmt.Sprint(st.Actor),
		},
		map[string]any{
			"coordinator":       int(st.Coordinator),
			"peers":             st.Peers,
			"objects":           st.Objects,
			"held":              st.Held,
			"registry":          st.Registry,
			"mirrored":          st.Mirrored,
			"pending_snapshots": st.PendingSnapshots,
			"pending_requests":  st.PendingRequests,
			"balance":           st.Balance,
			"sell_state":        st.SellState,
			"frames":            rep.Frames,
			"dispatched":        rep.Dispatched,
			"failed":            rep.Failed,
			"superseded":        rep.Superseded,
			"retried":           rep.Retried,
			"unresolved":        rep.Unresolved,
		},
		rep.Time,
	)
}

func writeStatusFile(path string, rep Report) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
