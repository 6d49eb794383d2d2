// Package influx writes status points to InfluxDB, falling back to a
// gzip-compressed line protocol file when the server is unreachable.
package influx

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/rs/zerolog"

	"github.com/ProjectRStore/itemsync/internal/config"
)

// retention applies to buckets created on first connect.
const retention = 60 * 60 * 24 * 30

// ErrDisabled means influx.enabled is false.
var ErrDisabled = errors.New("influx disabled")

// Manager owns the client and the single bucket writer.
type Manager struct {
	cfg        config.InfluxConfig
	backupPath string
	log        zerolog.Logger

	mu     sync.Mutex
	client influxdb2.Client
	writer influxdb2_api.WriteAPI
	backup *gzip.Writer
	file   *os.File
	done   chan struct{}
}

// NewManager creates an unconnected manager. backupPath receives points
// while the server cannot be reached.
func NewManager(cfg config.InfluxConfig, backupPath string, log zerolog.Logger) *Manager {
	return &Manager{cfg: cfg, backupPath: backupPath, log: log}
}

// Connect pings the server and prepares the bucket. An unreachable server
// is not an error: points go to the backup file instead.
func (m *Manager) Connect(ctx context.Context) error {
	if !m.cfg.Enabled {
		return ErrDisabled
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.client = influxdb2.NewClientWithOptions(m.cfg.URL(), m.cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(500).
			SetFlushInterval(1000),
	)

	running, err := m.client.Ping(ctx)
	if err != nil || !running {
		m.log.Warn().Err(err).Str("backupPath", m.backupPath).Msg("InfluxDB unreachable, writing to backup file")
		return m.openBackup()
	}

	if err := m.ensureBucket(ctx); err != nil {
		return err
	}
	m.writer = m.client.WriteAPI(m.cfg.Org, m.cfg.Bucket)
	m.done = make(chan struct{})
	go m.logErrors(m.writer.Errors(), m.done)

	m.log.Info().Str("url", m.cfg.URL()).Str("bucket", m.cfg.Bucket).Msg("InfluxDB client initialized")
	return nil
}

func (m *Manager) ensureBucket(ctx context.Context) error {
	orgs := m.client.OrganizationsAPI()
	org, err := orgs.FindOrganizationByName(ctx, m.cfg.Org)
	if err != nil {
		m.log.Info().Str("org", m.cfg.Org).Msg("Organization not found, creating")
		if org, err = orgs.CreateOrganizationWithName(ctx, m.cfg.Org); err != nil {
			return fmt.Errorf("creating organization %s: %w", m.cfg.Org, err)
		}
	}

	buckets := m.client.BucketsAPI()
	if _, err := buckets.FindBucketByName(ctx, m.cfg.Bucket); err == nil {
		return nil
	}
	m.log.Info().Str("bucket", m.cfg.Bucket).Msg("Bucket not found, creating")
	rule := domain.RetentionRuleTypeExpire
	if _, err := buckets.CreateBucketWithName(ctx, org, m.cfg.Bucket, domain.RetentionRule{
		Type:         &rule,
		EverySeconds: retention,
	}); err != nil {
		return fmt.Errorf("creating bucket %s: %w", m.cfg.Bucket, err)
	}
	return nil
}

func (m *Manager) openBackup() error {
	if m.backup != nil {
		return nil
	}
	f, err := os.OpenFile(m.backupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening influx backup file: %w", err)
	}
	m.file = f
	m.backup = gzip.NewWriter(f)
	return nil
}

func (m *Manager) logErrors(errs <-chan error, done <-chan struct{}) {
	for {
		select {
		case err, ok := <-errs:
			if !ok {
				return
			}
			m.log.Error().Err(err).Str("bucket", m.cfg.Bucket).Msg("Error sending data to InfluxDB")
		case <-done:
			return
		}
	}
}

// Online reports whether points go to the server rather than the backup file.
func (m *Manager) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writer != nil
}

// WritePoint queues p without blocking.
func (m *Manager) WritePoint(p *influxdb2_write.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.writer != nil:
		m.writer.WritePoint(p)
		return nil
	case m.backup != nil:
		line := strings.TrimSuffix(influxdb2_write.PointToLineProtocol(p, time.Nanosecond), "\n")
		if _, err := m.backup.Write([]byte(line + "\n")); err != nil {
			return fmt.Errorf("writing influx backup: %w", err)
		}
		return nil
	default:
		return errors.New("influx manager not connected")
	}
}

// Close flushes pending points and releases the client.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	if m.writer != nil {
		m.writer.Flush()
		close(m.done)
		m.writer = nil
	}
	if m.client != nil {
		m.client.Close()
		m.client = nil
	}
	if m.backup != nil {
		errs = append(errs, m.backup.Close(), m.file.Close())
		m.backup, m.file = nil, nil
	}
	return errors.Join(errs...)
}
