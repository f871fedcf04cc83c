// Package persistence writes run metrics to SQLite for later analysis. The
// store is write-mostly: a run is never resumed from it.
package persistence

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/mini-economy/internal/engine"
)

// DB wraps a SQLite connection for the metrics store.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		seed INTEGER NOT NULL,
		config_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS panel (
		run_id TEXT NOT NULL,
		round INTEGER NOT NULL,
		agent TEXT NOT NULL,
		variable TEXT NOT NULL,
		value REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS balances (
		run_id TEXT NOT NULL,
		round INTEGER NOT NULL,
		agent TEXT NOT NULL,
		account TEXT NOT NULL,
		kind TEXT NOT NULL,
		side TEXT NOT NULL,
		amount TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS lost_messages (
		run_id TEXT NOT NULL,
		round INTEGER NOT NULL,
		sender TEXT NOT NULL,
		recipient TEXT NOT NULL,
		topic TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS reports (
		run_id TEXT NOT NULL,
		round INTEGER NOT NULL,
		report_json TEXT NOT NULL,
		PRIMARY KEY (run_id, round)
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		round INTEGER NOT NULL,
		description TEXT NOT NULL,
		category TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_panel_run_agent ON panel(run_id, agent, variable, round);
	CREATE INDEX IF NOT EXISTS idx_balances_run_round ON balances(run_id, round);
	CREATE INDEX IF NOT EXISTS idx_events_run ON events(run_id, round);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// SaveRun records the run's identity and configuration.
func (db *DB) SaveRun(sim *engine.Simulation) error {
	cfg := sim.Config
	cfg.AdminKey = ""
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	_, err = db.conn.Exec(
		"INSERT OR REPLACE INTO runs (id, started_at, seed, config_json) VALUES (?, ?, ?, ?)",
		sim.RunID.String(), time.Now().UTC().Format(time.RFC3339), sim.Seed, string(cfgJSON),
	)
	return err
}

// SaveRound writes the panel, report, lost messages and events of the
// simulation's last round.
func (db *DB) SaveRound(sim *engine.Simulation) error {
	round, ok := sim.LastRound()
	if !ok {
		return nil
	}
	run := sim.RunID.String()

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Preparex("INSERT INTO panel (run_id, round, agent, variable, value) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, row := range sim.Panel() {
		if _, err := stmt.Exec(run, round, row.Agent.String(), row.Variable, row.Value); err != nil {
			return fmt.Errorf("insert panel %s %s: %w", row.Agent, row.Variable, err)
		}
	}

	reportJSON, err := json.Marshal(sim.Report())
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if _, err := tx.Exec("INSERT OR REPLACE INTO reports (run_id, round, report_json) VALUES (?, ?, ?)",
		run, round, string(reportJSON)); err != nil {
		return fmt.Errorf("insert report: %w", err)
	}

	for _, m := range sim.LastAudit().Lost {
		if _, err := tx.Exec(
			"INSERT INTO lost_messages (run_id, round, sender, recipient, topic) VALUES (?, ?, ?, ?, ?)",
			run, m.Round, m.From.String(), m.To.String(), string(m.Topic),
		); err != nil {
			return fmt.Errorf("insert lost message: %w", err)
		}
	}

	for _, e := range sim.Events(0) {
		if e.Round != round {
			continue
		}
		if _, err := tx.Exec("INSERT INTO events (run_id, round, description, category) VALUES (?, ?, ?, ?)",
			run, e.Round, e.Description, e.Category); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
	}

	return tx.Commit()
}

// SaveBalances writes every non-zero account of every agent, stamped with
// round.
func (db *DB) SaveBalances(sim *engine.Simulation, round uint64) error {
	rows := sim.Balances()
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Preparex(`INSERT INTO balances
		(run_id, round, agent, account, kind, side, amount)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	run := sim.RunID.String()
	for _, r := range rows {
		if _, err := stmt.Exec(run, round, r.Agent.String(), r.Account, r.Kind, r.Side, r.Amount.String()); err != nil {
			return fmt.Errorf("insert balance %s %s: %w", r.Agent, r.Account, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	slog.Debug("balances saved", "round", round, "rows", len(rows))
	return nil
}

// Point is one value of a panel series.
type Point struct {
	Round uint64  `db:"round" json:"round"`
	Value float64 `db:"value" json:"value"`
}

// Series returns one variable of one agent over a run, in round order.
func (db *DB) Series(runID, agentName, variable string) ([]Point, error) {
	var pts []Point
	err := db.conn.Select(&pts,
		"SELECT round, value FROM panel WHERE run_id = ? AND agent = ? AND variable = ? ORDER BY round",
		runID, agentName, variable,
	)
	return pts, err
}

// Balance is a stored account balance.
type Balance struct {
	Round   uint64 `db:"round"`
	Agent   string `db:"agent"`
	Account string `db:"account"`
	Side    string `db:"side"`
	Amount  string `db:"amount"`
}

// BalancesAt returns the balances stored for round, ordered by agent and
// account.
func (db *DB) BalancesAt(runID string, round uint64) ([]Balance, error) {
	var out []Balance
	err := db.conn.Select(&out,
		"SELECT round, agent, account, side, amount FROM balances WHERE run_id = ? AND round = ? ORDER BY agent, account",
		runID, round,
	)
	return out, err
}

// LostMessageCount counts the lost messages recorded for a run.
func (db *DB) LostMessageCount(runID string) (int, error) {
	var n int
	err := db.conn.Get(&n, "SELECT COUNT(*) FROM lost_messages WHERE run_id = ?", runID)
	return n, err
}

// Report returns the stored report of one round.
func (db *DB) Report(runID string, round uint64) (engine.RoundReport, error) {
	var raw string
	var rep engine.RoundReport
	if err := db.conn.Get(&raw, "SELECT report_json FROM reports WHERE run_id = ? AND round = ?", runID, round); err != nil {
		return rep, err
	}
	err := json.Unmarshal([]byte(raw), &rep)
	return rep, err
}
