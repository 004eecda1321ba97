package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"cades.ai/internal/env"
	"cades.ai/internal/sim/placement"
	"cades.ai/internal/sim/tuning"
)

// SQLiteIndex is a queryable read-model of finished episodes. Writes are queued and
// applied in batches by one goroutine; the JSONL episode logs stay the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropEpisodeTotal atomic.Uint64
	writeFailTotal   atomic.Uint64
}

type reqKind int

const (
	reqEpisode reqKind = iota + 1
	reqFlush
)

type req struct {
	kind reqKind

	episode env.EpisodeLogEntry
	done    chan struct{}
}

type Stats struct {
	QueueDepth       int    `json:"queue_depth"`
	QueueCapacity    int    `json:"queue_capacity"`
	DropEpisodeTotal uint64 `json:"drop_episode_total"`
	WriteFailTotal   uint64 `json:"write_fail_total"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
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
		ch: make(chan req, 16384),
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
		"PRAGMA foreign_keys=ON;",
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
		`CREATE TABLE IF NOT EXISTS configs (
			digest TEXT PRIMARY KEY,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS episodes (
			episode_id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			training INTEGER NOT NULL,
			config_digest TEXT NOT NULL,
			instance_seed INTEGER NOT NULL,
			num_items INTEGER NOT NULL,
			tasks INTEGER NOT NULL,
			bins INTEGER NOT NULL,
			cause TEXT NOT NULL,
			steps INTEGER NOT NULL,
			total_reward REAL NOT NULL,
			digest TEXT NOT NULL,
			avg_node_occupancy REAL NOT NULL,
			avg_active_node_occupancy REAL NOT NULL,
			message_channel_occupancy REAL NOT NULL,
			empty_nodes REAL NOT NULL,
			actions_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_episodes_cause ON episodes(cause);`,
		`CREATE INDEX IF NOT EXISTS idx_episodes_started ON episodes(started_at);`,
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

// WriteEpisode queues e without blocking. A full queue drops the row and counts it.
func (s *SQLiteIndex) WriteEpisode(e env.EpisodeLogEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqEpisode, episode: e}:
	default:
		s.dropEpisodeTotal.Add(1)
	}
	return nil
}

// Flush waits until every write queued before the call is committed.
func (s *SQLiteIndex) Flush(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqFlush, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:       len(s.ch),
		QueueCapacity:    cap(s.ch),
		DropEpisodeTotal: s.dropEpisodeTotal.Load(),
		WriteFailTotal:   s.writeFailTotal.Load(),
	}
}

// UpsertConfig stores the configuration episodes reference by digest.
func (s *SQLiteIndex) UpsertConfig(cfg tuning.Config) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO configs(digest,json,updated_at) VALUES(?,?,?)`,
		cfg.Digest(), string(b), time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertEpisode, _ := s.db.Prepare(`INSERT OR REPLACE INTO episodes(
		episode_id,started_at,training,config_digest,instance_seed,num_items,tasks,bins,cause,steps,total_reward,digest,
		avg_node_occupancy,avg_active_node_occupancy,message_channel_occupancy,empty_nodes,actions_json
	) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	defer func() {
		if insertEpisode != nil {
			_ = insertEpisode.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = 2 * time.Second
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
		if err := tx.Commit(); err != nil {
			s.writeFailTotal.Add(uint64(opCount))
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		s.writeFailTotal.Add(uint64(opCount) + 1)
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	apply := func(e env.EpisodeLogEntry) {
		begin()
		if tx == nil {
			s.writeFailTotal.Add(1)
			return
		}
		if insertEpisode == nil {
			rollback()
			return
		}
		var seed int64
		var numItems, tasks, bins int
		if e.Instance != nil {
			seed = e.Instance.Seed
			numItems = e.Instance.NumItems
			tasks = len(e.Instance.Items)
			bins = e.Instance.TotalBins()
		}
		actions, _ := json.Marshal(e.Actions)
		if _, err := tx.Stmt(insertEpisode).Exec(
			e.EpisodeID,
			e.StartedAt.UTC().Format(time.RFC3339Nano),
			boolInt(e.Training),
			e.ConfigDigest,
			seed,
			numItems,
			tasks,
			bins,
			string(e.Cause),
			e.Steps,
			e.TotalReward,
			e.Digest,
			e.Metrics.AvgNodeOccupancy,
			e.Metrics.AvgActiveNodeOccupancy,
			e.Metrics.MessageChannelOccupancy,
			e.Metrics.EmptyNodes,
			string(actions),
		); err != nil {
			rollback()
			return
		}
		opCount++
		if opCount >= commitEvery {
			commit()
		}
	}

	// Readers share the single connection, so an idle open tx is committed on a timer.
	ticker := time.NewTicker(commitMaxWait / 4)
	defer ticker.Stop()
	for {
		select {
		case r, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			if r.kind == reqFlush {
				commit()
				close(r.done)
				continue
			}
			apply(r.episode)
		case <-ticker.C:
			if tx != nil && time.Since(lastCommit) >= commitMaxWait {
				commit()
			}
		}
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Summary aggregates finished episodes the same way the evaluation report does:
// empty nodes is averaged over SUCCESS episodes only.
type Summary struct {
	Episodes       int                         `json:"episodes"`
	MeanReward     float64                     `json:"mean_reward"`
	MeanSteps      float64                     `json:"mean_steps"`
	CausePercent   map[placement.Cause]float64 `json:"cause_percent"`
	AvgNodeOcc     float64                     `json:"avg_node_occupancy"`
	AvgActiveOcc   float64                     `json:"avg_active_node_occupancy"`
	MsgChannelOcc  float64                     `json:"message_channel_occupancy"`
	EmptyNodesSucc float64                     `json:"empty_nodes"`
}

// SummaryFilter narrows Summary; a nil Training matches both kinds.
type SummaryFilter struct {
	Training     *bool
	ConfigDigest string
}

func (s *SQLiteIndex) Summary(ctx context.Context, f SummaryFilter) (Summary, error) {
	if err := s.Flush(ctx); err != nil {
		return Summary{}, err
	}
	return QuerySummary(ctx, s.db, f)
}

// QuerySummary runs the summary query on any handle to an index database.
func QuerySummary(ctx context.Context, db *sql.DB, f SummaryFilter) (Summary, error) {
	where, args := "WHERE 1=1", []any{}
	if f.Training != nil {
		where += " AND training = ?"
		args = append(args, boolInt(*f.Training))
	}
	if f.ConfigDigest != "" {
		where += " AND config_digest = ?"
		args = append(args, f.ConfigDigest)
	}

	out := Summary{CausePercent: map[placement.Cause]float64{}}
	for _, c := range placement.Causes {
		out.CausePercent[c] = 0
	}
	row := db.QueryRowContext(ctx, `SELECT COUNT(*),
		COALESCE(AVG(total_reward),0), COALESCE(AVG(steps),0),
		COALESCE(AVG(avg_node_occupancy),0), COALESCE(AVG(avg_active_node_occupancy),0),
		COALESCE(AVG(message_channel_occupancy),0)
		FROM episodes `+where, args...)
	if err := row.Scan(&out.Episodes, &out.MeanReward, &out.MeanSteps, &out.AvgNodeOcc, &out.AvgActiveOcc, &out.MsgChannelOcc); err != nil {
		return out, err
	}
	if out.Episodes == 0 {
		return out, nil
	}

	rows, err := db.QueryContext(ctx, `SELECT cause, COUNT(*) FROM episodes `+where+` GROUP BY cause`, args...)
	if err != nil {
		return out, err
	}
	defer rows.Close()
	for rows.Next() {
		var cause string
		var n int
		if err := rows.Scan(&cause, &n); err != nil {
			return out, err
		}
		out.CausePercent[placement.Cause(cause)] = float64(n) / float64(out.Episodes) * 100
	}
	if err := rows.Err(); err != nil {
		return out, err
	}

	succ := append([]any{}, args...)
	succ = append(succ, string(placement.CauseSuccess))
	err = db.QueryRowContext(ctx, `SELECT COALESCE(AVG(empty_nodes),0) FROM episodes `+where+` AND cause = ?`, succ...).Scan(&out.EmptyNodesSucc)
	return out, err
}

// EpisodeRow is one row of the episodes table.
type EpisodeRow struct {
	EpisodeID    string          `json:"episode_id"`
	StartedAt    string          `json:"started_at"`
	Training     bool            `json:"training"`
	InstanceSeed int64           `json:"instance_seed"`
	Tasks        int             `json:"tasks"`
	Cause        placement.Cause `json:"termination_cause"`
	Steps        int             `json:"steps"`
	TotalReward  float64         `json:"total_reward"`
	Digest       string          `json:"digest"`
}

// QueryRecentEpisodes lists the newest episodes first.
func QueryRecentEpisodes(ctx context.Context, db *sql.DB, limit int) ([]EpisodeRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.QueryContext(ctx, `SELECT episode_id, started_at, training, instance_seed, tasks, cause, steps, total_reward, digest
		FROM episodes ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []EpisodeRow
	for rows.Next() {
		var r EpisodeRow
		var training int
		var cause string
		if err := rows.Scan(&r.EpisodeID, &r.StartedAt, &training, &r.InstanceSeed, &r.Tasks, &cause, &r.Steps, &r.TotalReward, &r.Digest); err != nil {
			return nil, err
		}
		r.Training = training != 0
		r.Cause = placement.Cause(cause)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) RecentEpisodes(ctx context.Context, limit int) ([]EpisodeRow, error) {
	if err := s.Flush(ctx); err != nil {
		return nil, err
	}
	return QueryRecentEpisodes(ctx, s.db, limit)
}
