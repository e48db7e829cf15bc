package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	persistlog "voxelstorm.ai/internal/persistence/log"
	"voxelstorm.ai/internal/persistence/snapshot"
	"voxelstorm.ai/internal/sim/tuning"
)

// SQLiteIndex is a queryable secondary index over the tick and event logs.
// Writes are queued and applied by a single goroutine; the JSONL logs stay the
// source of truth, so a full queue drops entries instead of blocking the sim.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	// commitWait bounds how long a written row may sit in an open tx.
	commitWait time.Duration

	closed atomic.Bool

	dropTick     atomic.Uint64
	dropEvent    atomic.Uint64
	dropSnapshot atomic.Uint64
}

type Stats struct {
	QueueDepth        int
	QueueCapacity     int
	DropTickTotal     uint64
	DropEventTotal    uint64
	DropSnapshotTotal uint64
}

type reqKind int

const (
	reqTick reqKind = iota + 1
	reqEvent
	reqSnapshot
)

type req struct {
	kind reqKind

	tick     persistlog.TickEntry
	event    persistlog.EventEntry
	snapshot SnapshotRow
}

type SnapshotRow struct {
	Path      string
	Tick      uint64
	Scene     string
	Mode      string
	Count     int
	Seed      uint64
	CreatedAt int64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	return openSQLite(path, 2*time.Second)
}

func openSQLite(path string, commitWait time.Duration) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		// A fluid run emits 30 tick rows a second; leave minutes of headroom.
		ch:         make(chan req, 65536),
		commitWait: commitWait,
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS tunings (
			digest TEXT PRIMARY KEY,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			tick INTEGER NOT NULL,
			at_unix_ms INTEGER NOT NULL,
			temperature REAL NOT NULL,
			precipitation REAL NOT NULL,
			count INTEGER NOT NULL,
			spawned INTEGER NOT NULL,
			frozen INTEGER NOT NULL,
			moved INTEGER NOT NULL,
			max_pressure INTEGER NOT NULL,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (at_unix_ms, tick)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_ticks_tick ON ticks(tick);`,
		`CREATE TABLE IF NOT EXISTS events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			at_unix_ms INTEGER NOT NULL,
			kind TEXT NOT NULL,
			mode TEXT,
			op TEXT,
			count INTEGER NOT NULL,
			detail TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind, at_unix_ms);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			path TEXT PRIMARY KEY,
			tick INTEGER NOT NULL,
			scene TEXT,
			mode TEXT NOT NULL,
			count INTEGER NOT NULL,
			seed INTEGER NOT NULL,
			created_at_unix_ms INTEGER NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropTickTotal:     s.dropTick.Load(),
		DropEventTotal:    s.dropEvent.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
	}
}

func (s *SQLiteIndex) WriteTick(entry persistlog.TickEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqTick, tick: entry}:
	default:
		s.dropTick.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) WriteEvent(entry persistlog.EventEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqEvent, event: entry}:
	default:
		s.dropEvent.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if s == nil || s.closed.Load() || path == "" {
		return
	}
	r := SnapshotRow{
		Path:      path,
		Tick:      snap.Header.Tick,
		Scene:     snap.Header.Scene,
		Mode:      snap.Header.Mode,
		Count:     len(snap.Voxels),
		Seed:      snap.Seed,
		CreatedAt: snap.Header.CreatedAt,
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
		s.dropSnapshot.Add(1)
	}
}

// UpsertTuning stores the tuning actually applied, keyed by its digest, and
// points meta.tuning_digest at it.
func (s *SQLiteIndex) UpsertTuning(tune tuning.Tuning) (string, error) {
	if s == nil {
		return "", nil
	}
	b, err := json.Marshal(tune)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	digest := hex.EncodeToString(sum[:])
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return "", err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('tuning_digest',?)`, digest); err != nil {
		return "", err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO tunings(digest,json,updated_at) VALUES(?,?,?)`, digest, string(b), now); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return digest, nil
}

// RecentTicks returns up to limit tick rows, newest first.
func (s *SQLiteIndex) RecentTicks(ctx context.Context, limit int) ([]persistlog.TickEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT raw_json FROM ticks ORDER BY at_unix_ms DESC, tick DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []persistlog.TickEntry
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var e persistlog.TickEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("tick row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Events returns events of the given kind (all kinds when empty), oldest first.
func (s *SQLiteIndex) Events(ctx context.Context, kind string) ([]persistlog.EventEntry, error) {
	q := `SELECT at_unix_ms, kind, COALESCE(mode,''), COALESCE(op,''), count, COALESCE(detail,'') FROM events`
	var args []any
	if kind != "" {
		q += ` WHERE kind = ?`
		args = append(args, kind)
	}
	q += ` ORDER BY seq`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []persistlog.EventEntry
	for rows.Next() {
		var e persistlog.EventEntry
		if err := rows.Scan(&e.At, &e.Kind, &e.Mode, &e.Op, &e.Count, &e.Detail); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) Snapshots(ctx context.Context) ([]SnapshotRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path, tick, COALESCE(scene,''), mode, count, seed, created_at_unix_ms FROM snapshots ORDER BY created_at_unix_ms`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SnapshotRow
	for rows.Next() {
		var r SnapshotRow
		var seed int64
		if err := rows.Scan(&r.Path, &r.Tick, &r.Scene, &r.Mode, &r.Count, &seed, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Seed = uint64(seed)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	// Prepared statements (on db; executed within tx).
	insertTick, _ := s.db.Prepare(`INSERT OR REPLACE INTO ticks(tick,at_unix_ms,temperature,precipitation,count,spawned,frozen,moved,max_pressure,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	insertEvent, _ := s.db.Prepare(`INSERT INTO events(at_unix_ms,kind,mode,op,count,detail) VALUES(?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(path,tick,scene,mode,count,seed,created_at_unix_ms) VALUES(?,?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertTick, insertEvent, insertSnapshot} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx          *sql.Tx
		opCount     int
		lastCommit  = time.Now()
		commitEvery = 2000
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	exec := func(st *sql.Stmt, args ...any) {
		if st == nil || tx == nil {
			return
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return
		}
		opCount++
	}

	handle := func(r req) {
		begin()
		if tx == nil {
			return
		}
		switch r.kind {
		case reqTick:
			t := r.tick
			raw, _ := json.Marshal(t)
			exec(insertTick,
				int64(t.Tick),
				t.At,
				t.Temperature,
				t.Precipitation,
				t.Count,
				t.Spawned,
				t.Frozen,
				t.Moved,
				t.MaxPressure,
				string(raw),
			)

		case reqEvent:
			e := r.event
			exec(insertEvent, e.At, e.Kind, e.Mode, e.Op, e.Count, e.Detail)

		case reqSnapshot:
			sn := r.snapshot
			exec(insertSnapshot, sn.Path, int64(sn.Tick), sn.Scene, sn.Mode, sn.Count, int64(sn.Seed), sn.CreatedAt)
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= s.commitWait) {
			commit()
		}
	}

	// The ticker commits a pending batch once writes go quiet.
	ticker := time.NewTicker(s.commitWait)
	defer ticker.Stop()
	for {
		select {
		case r, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			handle(r)
		case <-ticker.C:
			if tx != nil && time.Since(lastCommit) >= s.commitWait/2 {
				commit()
			}
		}
	}
}
