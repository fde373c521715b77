package sink

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"net/netip"
	"time"

	"github.com/cenkalti/backoff/v5"
	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/netprobe/ipcounterd/internal/config"
	"github.com/netprobe/ipcounterd/internal/store"
)

// MySQLSink is the reference relational sink: one row per (node, sample
// window, ip, vlan). Connection parameters are re-read from configPath on
// every Write, so an operator can rotate credentials in place without
// restarting the daemon; the pooled *sql.DB is only rebuilt when the
// resulting DSN actually changes.
type MySQLSink struct {
	configPath string
	nodeName   string
	log        *zap.SugaredLogger
	filter     *RangeFilter
	storeZero  bool

	db       *sql.DB
	dsn      string
	nodeID   int
	haveNode bool
}

// NewMySQLSink builds a sink that re-reads configPath before each flush.
// storeZero mirrors ConsoleSink's flag: when false (the default), cells with
// zero packets in both directions are not written.
func NewMySQLSink(configPath, nodeName string, filter *RangeFilter, storeZero bool, log *zap.SugaredLogger) *MySQLSink {
	return &MySQLSink{configPath: configPath, nodeName: nodeName, filter: filter, storeZero: storeZero, log: log}
}

// ipv4Uint32 packs an IPv4 address into the u32 representation spec.md §6's
// schema stores it as.
func ipv4Uint32(addr netip.Addr) uint32 {
	v4 := addr.As4()
	return binary.BigEndian.Uint32(v4[:])
}

func dsnFromConfig(cfg *config.Config) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		cfg.StorageUser, cfg.StoragePass, cfg.StorageHost, cfg.StoragePort, cfg.StorageDB)
}

// ensureConnected reopens the pool if configPath's connection parameters
// have changed since the last call, with exponential backoff against a
// storage backend that is temporarily unreachable.
func (s *MySQLSink) ensureConnected(ctx context.Context) error {
	cfg, err := config.Load(s.configPath)
	if err != nil {
		return fmt.Errorf("reload sink config: %w", err)
	}

	dsn := dsnFromConfig(cfg)
	if s.db != nil && dsn == s.dsn {
		return nil
	}

	operation := func() (*sql.DB, error) {
		db, err := sql.Open("mysql", dsn)
		if err != nil {
			return nil, err
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return db, nil
	}

	db, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(5),
	)
	if err != nil {
		return fmt.Errorf("connect to storage backend: %w", err)
	}

	if s.db != nil {
		s.db.Close()
	}
	s.db = db
	s.dsn = dsn
	s.haveNode = false
	return nil
}

// ensureNode upserts this process's node identity and caches the resulting
// node_id for the lifetime of the connection.
func (s *MySQLSink) ensureNode(ctx context.Context) (int, error) {
	if s.haveNode {
		return s.nodeID, nil
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO node (node_name) VALUES (?)
		 ON DUPLICATE KEY UPDATE node_id = LAST_INSERT_ID(node_id)`,
		s.nodeName,
	)
	if err != nil {
		return 0, fmt.Errorf("upsert node: %w", err)
	}

	var id int64
	row := s.db.QueryRowContext(ctx, `SELECT LAST_INSERT_ID()`)
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("fetch node id: %w", err)
	}

	s.nodeID = int(id)
	s.haveNode = true
	return s.nodeID, nil
}

// Write persists one interval's worth of counters as individual rows
// inside a single transaction.
func (s *MySQLSink) Write(ctx context.Context, sampleBegin time.Time, interval time.Duration, snap Enumerable) error {
	if err := s.ensureConnected(ctx); err != nil {
		return err
	}

	nodeID, err := s.ensureNode(ctx)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Schema mirrors spec.md §6's reference sample table exactly:
	// (unixtime u32, node_id int, vlan_id u16, ip u32, in_pps u32, in_bps
	// u64, out_pps u32, out_bps u64) keyed by (unixtime, node_id, ip, vlan_id).
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sample
			(unixtime, node_id, vlan_id, ip, in_pps, in_bps, out_pps, out_bps)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			in_pps = VALUES(in_pps), in_bps = VALUES(in_bps),
			out_pps = VALUES(out_pps), out_bps = VALUES(out_bps)`,
	)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	unixtime := uint32(sampleBegin.Unix())

	var writeErr error
	snap.Enumerate(func(addr netip.Addr, vlan uint16, cell store.Cell) {
		if writeErr != nil {
			return
		}
		if s.filter != nil && !s.filter.Allowed(addr, nodeID) {
			return
		}
		if !s.storeZero && cell.PacketsIn == 0 && cell.PacketsOut == 0 {
			return
		}

		rates := ComputeRates(cell, interval)
		_, writeErr = stmt.ExecContext(ctx,
			unixtime, nodeID, vlan, ipv4Uint32(addr),
			rates.InPPS, rates.InBPS, rates.OutPPS, rates.OutBPS,
		)
	})
	if writeErr != nil {
		return fmt.Errorf("insert counter sample: %w", writeErr)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Close releases the pooled connection, if any.
func (s *MySQLSink) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
