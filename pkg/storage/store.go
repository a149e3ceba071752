// Package storage persists queries, search results and experiments in a
// single SQLite database.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/yonasBSD/stract/pkg/core"
	"github.com/yonasBSD/stract/pkg/db"
	"github.com/yonasBSD/stract/pkg/log"
)

var logger = log.ForComponent("storage")

// Store wraps the SQLite database holding all application state.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the database at dbPath and applies the
// standard pragmas. Migrations are not applied; call Migrate or use
// OpenAndMigrate.
func Open(dbPath string) (*Store, error) {
	sqlDB, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 30000",
		"PRAGMA foreign_keys = ON",
		"PRAGMA temp_store = memory",
	}

	for _, pragma := range pragmas {
		if _, err := sqlDB.Exec(pragma); err != nil {
			return nil, fmt.Errorf("applying pragma %q: %w", pragma, err)
		}
	}

	return &Store{db: sqlDB}, nil
}

// OpenAndMigrate opens the database and brings the schema up to date.
func OpenAndMigrate(dbPath string) (*Store, error) {
	store, err := Open(dbPath)
	if err != nil {
		return nil, err
	}

	if err := store.Migrate(); err != nil {
		if closeErr := store.Close(); closeErr != nil {
			logger.Warnf("failed to close store after migration error: %v", closeErr)
		}
		return nil, err
	}

	return store, nil
}

// Migrate applies pending schema migrations.
func (s *Store) Migrate() error {
	return db.InitializeDatabase(s.db)
}

// DB returns the underlying database handle for migration tooling.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveQuery stores a query and appends it to the end of the query chain.
func (s *Store) SaveQuery(q core.Query) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil {
				logger.Warnf("failed to rollback transaction: %v", err)
			}
		}
	}()

	// Current tail of the chain, if any.
	var tail sql.NullString
	err = tx.QueryRow("SELECT qid FROM queries WHERE next_qid IS NULL ORDER BY created_at DESC, qid DESC LIMIT 1").Scan(&tail)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("finding chain tail: %w", err)
	}

	var prev any
	if tail.Valid && tail.String != q.QID {
		prev = tail.String
	}

	_, err = tx.Exec(
		"INSERT INTO queries (qid, text, prev_qid, next_qid, created_at) VALUES (?, ?, ?, NULL, ?)",
		q.QID, q.Text, prev, q.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting query %s: %w", q.QID, err)
	}

	if prev != nil {
		if _, err := tx.Exec("UPDATE queries SET next_qid = ? WHERE qid = ?", q.QID, prev); err != nil {
			return fmt.Errorf("linking query %s into chain: %w", q.QID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing query %s: %w", q.QID, err)
	}

	committed = true
	return nil
}

// GetQuery returns the query with the given qid, or (nil, nil) when absent.
func (s *Store) GetQuery(qid string) (*core.Query, error) {
	row := s.db.QueryRow("SELECT qid, text, created_at FROM queries WHERE qid = ?", qid)
	return scanQuery(row)
}

// GetPreviousQuery returns the query preceding qid in the chain, or nil.
func (s *Store) GetPreviousQuery(qid string) (*core.Query, error) {
	row := s.db.QueryRow(`
		SELECT q.qid, q.text, q.created_at
		FROM queries q
		JOIN queries cur ON cur.prev_qid = q.qid
		WHERE cur.qid = ?`, qid)
	return scanQuery(row)
}

// GetNextQuery returns the query following qid in the chain, or nil.
func (s *Store) GetNextQuery(qid string) (*core.Query, error) {
	row := s.db.QueryRow(`
		SELECT q.qid, q.text, q.created_at
		FROM queries q
		JOIN queries cur ON cur.next_qid = q.qid
		WHERE cur.qid = ?`, qid)
	return scanQuery(row)
}

func scanQuery(row *sql.Row) (*core.Query, error) {
	var q core.Query
	err := row.Scan(&q.QID, &q.Text, &q.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning query: %w", err)
	}
	return &q, nil
}

// ListQueries returns all queries in chronological order.
func (s *Store) ListQueries() ([]core.Query, error) {
	rows, err := s.db.Query("SELECT qid, text, created_at FROM queries ORDER BY created_at, qid")
	if err != nil {
		return nil, fmt.Errorf("querying queries: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			logger.Warnf("failed to close rows: %v", err)
		}
	}()

	var queries []core.Query
	for rows.Next() {
		var q core.Query
		if err := rows.Scan(&q.QID, &q.Text, &q.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning query row: %w", err)
		}
		queries = append(queries, q)
	}

	return queries, rows.Err()
}

// GetSearchResults returns the cached results for qid in origRank order.
// An empty slice means no results have been fetched for this query yet.
func (s *Store) GetSearchResults(qid string) ([]core.SearchResult, error) {
	rows, err := s.db.Query(`
		SELECT id, qid, orig_rank, annotated_rank, webpage
		FROM search_results
		WHERE qid = ?
		ORDER BY orig_rank`, qid)
	if err != nil {
		return nil, fmt.Errorf("querying search results for %s: %w", qid, err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			logger.Warnf("failed to close rows: %v", err)
		}
	}()

	var results []core.SearchResult
	for rows.Next() {
		result, err := scanSearchResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *result)
	}

	return results, rows.Err()
}

// GetSearchResult returns a single result by its composite id, or (nil, nil)
// when absent.
func (s *Store) GetSearchResult(id string) (*core.SearchResult, error) {
	row := s.db.QueryRow(`
		SELECT id, qid, orig_rank, annotated_rank, webpage
		FROM search_results
		WHERE id = ?`, id)
	return scanSearchResult(row)
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSearchResult(row rowScanner) (*core.SearchResult, error) {
	var (
		result        core.SearchResult
		annotatedRank sql.NullInt64
		webpageJSON   string
	)
	if err := row.Scan(&result.ID, &result.QID, &result.OrigRank, &annotatedRank, &webpageJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning search result row: %w", err)
	}
	if annotatedRank.Valid {
		rank := int(annotatedRank.Int64)
		result.AnnotatedRank = &rank
	}
	if err := json.Unmarshal([]byte(webpageJSON), &result.Webpage); err != nil {
		return nil, fmt.Errorf("unmarshaling webpage for result %s: %w", result.ID, err)
	}
	return &result, nil
}

// SaveSearchResults persists a freshly fetched result set for qid. The set
// is written in a single transaction so a partial fetch never becomes
// visible.
func (s *Store) SaveSearchResults(qid string, results []core.SearchResult) error {
	if len(results) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil {
				logger.Warnf("failed to rollback transaction: %v", err)
			}
		}
	}()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO search_results (id, qid, url, orig_rank, annotated_rank, webpage)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer func() {
		if err := stmt.Close(); err != nil {
			logger.Warnf("failed to close statement: %v", err)
		}
	}()

	for _, result := range results {
		webpageJSON, err := json.Marshal(result.Webpage)
		if err != nil {
			return fmt.Errorf("marshaling webpage for result %s: %w", result.ID, err)
		}

		var annotatedRank any
		if result.AnnotatedRank != nil {
			annotatedRank = *result.AnnotatedRank
		}

		_, err = stmt.Exec(
			result.ID,
			qid,
			result.Webpage.URL,
			result.OrigRank,
			annotatedRank,
			string(webpageJSON),
		)
		if err != nil {
			return fmt.Errorf("inserting result %s: %w", result.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing results for %s: %w", qid, err)
	}

	committed = true
	return nil
}

// SetAnnotatedRank updates the annotation of a single result. A nil rank
// clears the annotation.
func (s *Store) SetAnnotatedRank(id string, rank *int) error {
	var value any
	if rank != nil {
		value = *rank
	}

	res, err := s.db.Exec("UPDATE search_results SET annotated_rank = ? WHERE id = ?", value, id)
	if err != nil {
		return fmt.Errorf("updating annotated rank for %s: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update of %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("search result %s not found", id)
	}

	return nil
}

// SaveExperiment stores one experiment record.
func (s *Store) SaveExperiment(e core.Experiment) error {
	var rank any
	if e.Rank != nil {
		rank = *e.Rank
	}

	_, err := s.db.Exec(
		"INSERT INTO experiments (id, name, result_id, rank, created_at) VALUES (?, ?, ?, ?, ?)",
		e.ID, e.Name, e.ResultID, rank, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting experiment %s: %w", e.ID, err)
	}

	return nil
}

// ListExperiments returns all experiment records, newest first.
func (s *Store) ListExperiments() ([]core.Experiment, error) {
	rows, err := s.db.Query(`
		SELECT id, name, result_id, rank, created_at
		FROM experiments
		ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("querying experiments: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			logger.Warnf("failed to close rows: %v", err)
		}
	}()

	var experiments []core.Experiment
	for rows.Next() {
		var (
			e        core.Experiment
			resultID sql.NullString
			rank     sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.Name, &resultID, &rank, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning experiment row: %w", err)
		}
		if resultID.Valid {
			e.ResultID = resultID.String
		}
		if rank.Valid {
			r := int(rank.Int64)
			e.Rank = &r
		}
		experiments = append(experiments, e)
	}

	return experiments, rows.Err()
}

// ClearExperiments removes all experiment records.
func (s *Store) ClearExperiments() error {
	if _, err := s.db.Exec("DELETE FROM experiments"); err != nil {
		return fmt.Errorf("clearing experiments: %w", err)
	}
	return nil
}

// Stats returns row counts for the main tables.
func (s *Store) Stats() (map[string]int, error) {
	stats := make(map[string]int)

	counts := map[string]string{
		"queries":           "SELECT COUNT(*) FROM queries",
		"search_results":    "SELECT COUNT(*) FROM search_results",
		"annotated_results": "SELECT COUNT(*) FROM search_results WHERE annotated_rank IS NOT NULL",
		"experiments":       "SELECT COUNT(*) FROM experiments",
	}

	for name, query := range counts {
		var count int
		if err := s.db.QueryRow(query).Scan(&count); err != nil {
			return nil, fmt.Errorf("counting %s: %w", name, err)
		}
		stats[name] = count
	}

	return stats, nil
}
