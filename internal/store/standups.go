package store

import (
	"fmt"
	"time"

	"github.com/soyeahso/fleetd/internal/domain"
)

// StandupRound is one recorded standup: a round id shared by every
// report snapshotted in the same STANDUP pass.
type StandupRound struct {
	RoundID string          `json:"roundId"`
	Reports []domain.Report `json:"reports"`
}

// StandupStore persists standup rounds and the audit log. The core keeps
// all live state in memory; this is the durability collaborator for
// report artifacts.
type StandupStore struct {
	db *DB
}

// NewStandupStore creates a standup store on an open database.
func NewStandupStore(db *DB) *StandupStore {
	return &StandupStore{db: db}
}

// SaveRound records one standup round.
func (s *StandupStore) SaveRound(roundID string, reports []domain.Report) error {
	tx, err := s.db.sql.Begin()
	if err != nil {
		return fmt.Errorf("begin standup round: %w", err)
	}

	for _, r := range reports {
		if _, err := tx.Exec(
			`INSERT INTO standups (round_id, agent, report, collected_at) VALUES (?, ?, ?, ?)`,
			roundID, r.Agent, r.Text, r.CollectedAt.UTC().Format(time.RFC3339),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting standup report: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit standup round: %w", err)
	}
	return nil
}

// RecentRounds returns up to limit rounds, newest first.
func (s *StandupStore) RecentRounds(limit int) ([]StandupRound, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.sql.Query(`
		SELECT round_id, agent, report, collected_at
		FROM standups
		WHERE round_id IN (
			SELECT DISTINCT round_id FROM standups ORDER BY id DESC LIMIT ?
		)
		ORDER BY id ASC`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying standups: %w", err)
	}
	defer rows.Close()

	byRound := make(map[string]*StandupRound)
	var order []string
	for rows.Next() {
		var roundID, agent, text, collected string
		if err := rows.Scan(&roundID, &agent, &text, &collected); err != nil {
			return nil, fmt.Errorf("scanning standup row: %w", err)
		}
		round, ok := byRound[roundID]
		if !ok {
			round = &StandupRound{RoundID: roundID}
			byRound[roundID] = round
			order = append(order, roundID)
		}
		at, _ := time.Parse(time.RFC3339, collected)
		round.Reports = append(round.Reports, domain.Report{Agent: agent, Text: text, CollectedAt: at})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading standup rows: %w", err)
	}

	// newest round first
	out := make([]StandupRound, 0, len(order))
	for i := len(order) - 1; i >= 0; i-- {
		out = append(out, *byRound[order[i]])
	}
	return out, nil
}

// Audit appends a message to the audit log. Trigger log: actions and
// registry warnings land here so operators can replay what fired.
func (s *StandupStore) Audit(source, message string) error {
	_, err := s.db.sql.Exec(`INSERT INTO audit_log (source, message) VALUES (?, ?)`, source, message)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

// AuditEntries returns up to limit audit messages from one source, newest first.
func (s *StandupStore) AuditEntries(source string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.sql.Query(
		`SELECT message FROM audit_log WHERE source = ? ORDER BY id DESC LIMIT ?`, source, limit)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var msg string
		if err := rows.Scan(&msg); err != nil {
			return nil, fmt.Errorf("scanning audit row: %w", err)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}
