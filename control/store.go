// control/store.go
// Author: momentics <momentics@gmail.com>
//
// SQLite persistence for statistics snapshots taken on PRINT_STATISTICS and
// at shutdown, so drop counters survive the run that produced them.

package control

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/agilira/go-errors"
	_ "github.com/mattn/go-sqlite3" // SQLite driver registration
	"github.com/sugawarayuuta/sonnet"

	"github.com/momentics/hioload-link/api"
)

const statsSchema = `
CREATE TABLE IF NOT EXISTS link_stats (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	taken_at       INTEGER NOT NULL,
	link           TEXT    NOT NULL,
	in_recv        INTEGER NOT NULL,
	in_drop        INTEGER NOT NULL,
	in_process     INTEGER NOT NULL,
	out_total      INTEGER NOT NULL,
	out_drop_total INTEGER NOT NULL,
	process_err    INTEGER NOT NULL,
	empty_wakeups  INTEGER NOT NULL,
	local_avg_ns   INTEGER NOT NULL,
	source_avg_ns  INTEGER NOT NULL,
	snapshot       TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_link_stats_link ON link_stats(link, taken_at);
`

// StoredSnapshot is one persisted row.
type StoredSnapshot struct {
	TakenAt  int64
	Snapshot LinkStatsSnapshot
}

// StatsStore persists statistics snapshots.
type StatsStore struct {
	mu sync.Mutex
	db *sql.DB
}

// OpenStatsStore opens (or creates) the database at path.
func OpenStatsStore(path string) (*StatsStore, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path))
	if err != nil {
		return nil, errors.Wrap(err, api.ErrCodeFail, "open statistics store").
			WithContext("path", path)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(statsSchema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, api.ErrCodeFail, "create statistics schema").
			WithContext("path", path)
	}
	return &StatsStore{db: db}, nil
}

// Save writes snaps in one transaction.
func (s *StatsStore) Save(takenAt int64, snaps []LinkStatsSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, api.ErrCodeFail, "begin statistics transaction")
	}
	stmt, err := tx.Prepare(`INSERT INTO link_stats
		(taken_at, link, in_recv, in_drop, in_process, out_total, out_drop_total,
		 process_err, empty_wakeups, local_avg_ns, source_avg_ns, snapshot)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return errors.Wrap(err, api.ErrCodeFail, "prepare statistics insert")
	}
	defer stmt.Close()
	for _, snap := range snaps {
		blob, err := sonnet.Marshal(snap)
		if err != nil {
			tx.Rollback()
			return errors.Wrap(err, api.ErrCodeFail, "encode statistics snapshot")
		}
		var out, outDrop uint64
		for i := range snap.OutBufCount {
			out += snap.OutBufCount[i]
			outDrop += snap.OutBufDropCount[i]
		}
		if _, err := stmt.Exec(takenAt, snap.Name,
			int64(snap.InBufRecvCount), int64(snap.InBufDropCount), int64(snap.InBufProcessCount),
			int64(out), int64(outDrop), int64(snap.ProcessErrCount), int64(snap.EmptyWakeupCount),
			snap.LocalLatency.AvgNs, snap.SourceLatency.AvgNs, string(blob)); err != nil {
			tx.Rollback()
			return errors.Wrap(err, api.ErrCodeFail, "insert statistics snapshot").
				WithContext("link", snap.Name)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, api.ErrCodeFail, "commit statistics")
	}
	return nil
}

// History returns up to limit snapshots of link, newest first. An empty link
// name returns all links.
func (s *StatsStore) History(link string, limit int) ([]StoredSnapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		rows *sql.Rows
		err  error
	)
	if link == "" {
		rows, err = s.db.Query(`SELECT taken_at, snapshot FROM link_stats ORDER BY taken_at DESC, id DESC LIMIT ?`, limit)
	} else {
		rows, err = s.db.Query(`SELECT taken_at, snapshot FROM link_stats WHERE link = ? ORDER BY taken_at DESC, id DESC LIMIT ?`, link, limit)
	}
	if err != nil {
		return nil, errors.Wrap(err, api.ErrCodeFail, "query statistics")
	}
	defer rows.Close()
	var out []StoredSnapshot
	for rows.Next() {
		var (
			takenAt int64
			blob    string
		)
		if err := rows.Scan(&takenAt, &blob); err != nil {
			return nil, errors.Wrap(err, api.ErrCodeFail, "scan statistics row")
		}
		var snap LinkStatsSnapshot
		if err := sonnet.Unmarshal([]byte(blob), &snap); err != nil {
			return nil, errors.Wrap(err, api.ErrCodeFail, "decode statistics snapshot")
		}
		out = append(out, StoredSnapshot{TakenAt: takenAt, Snapshot: snap})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, api.ErrCodeFail, "iterate statistics")
	}
	return out, nil
}

// Close releases the database.
func (s *StatsStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
