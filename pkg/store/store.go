package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/cpunion/adsim/pkg/types"
)

// timeLayout is fixed width so that created_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements interaction persistence and group lookup on SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates the database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite works best with single writer

	if err := InitSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// RecordInteraction appends one interaction row.
func (s *Store) RecordInteraction(ctx context.Context, rec types.InteractionRecord) error {
	deltas, err := json.Marshal(rec.Reaction.Deltas)
	if err != nil {
		return fmt.Errorf("marshal deltas: %w", err)
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	r := rec.Reaction
	st := rec.State
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO interactions (
			id, day, user_id, ad_id, social_group,
			ignored, clicked, liked, disliked, shared, reaction_description, deltas,
			acute_irritation, acute_interest, acute_arousal, bias_irritation, bias_trust, bias_fatigue,
			interaction_rate, prompt, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Day, rec.AgentID, rec.ContentID, nullString(rec.Group),
		boolInt(r.Ignore), boolInt(r.Click), boolInt(r.Like), boolInt(r.Dislike), r.Share, r.ReactionDescription, string(deltas),
		st.AcuteIrritation, st.AcuteInterest, st.AcuteArousal, st.BiasIrritation, st.BiasTrust, st.BiasFatigue,
		rec.Score, rec.Prompt, created.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert interaction %s: %w", rec.ID, err)
	}
	return nil
}

const selectInteraction = `
	SELECT id, day, user_id, ad_id, COALESCE(social_group, ''),
		ignored, clicked, liked, disliked, shared, COALESCE(reaction_description, ''), COALESCE(deltas, '{}'),
		acute_irritation, acute_interest, acute_arousal, bias_irritation, bias_trust, bias_fatigue,
		interaction_rate, COALESCE(prompt, ''), created_at
	FROM interactions`

// RecentInteractions returns up to limit interactions, newest first.
func (s *Store) RecentInteractions(ctx context.Context, limit int) ([]types.InteractionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, selectInteraction+` ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanInteractions(rows)
}

// InteractionsForDay returns the interactions of one day in creation order.
func (s *Store) InteractionsForDay(ctx context.Context, day int) ([]types.InteractionRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectInteraction+` WHERE day = ? ORDER BY created_at, id`, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanInteractions(rows)
}

func scanInteractions(rows *sql.Rows) ([]types.InteractionRecord, error) {
	var out []types.InteractionRecord
	for rows.Next() {
		var (
			rec                             types.InteractionRecord
			ignored, clicked, liked, dislkd int
			deltas, created                 string
		)
		st := &rec.State
		if err := rows.Scan(
			&rec.ID, &rec.Day, &rec.AgentID, &rec.ContentID, &rec.Group,
			&ignored, &clicked, &liked, &dislkd, &rec.Reaction.Share, &rec.Reaction.ReactionDescription, &deltas,
			&st.AcuteIrritation, &st.AcuteInterest, &st.AcuteArousal, &st.BiasIrritation, &st.BiasTrust, &st.BiasFatigue,
			&rec.Score, &rec.Prompt, &created,
		); err != nil {
			return nil, err
		}
		rec.Reaction.Ignore = ignored != 0
		rec.Reaction.Click = clicked != 0
		rec.Reaction.Like = liked != 0
		rec.Reaction.Dislike = dislkd != 0
		if err := json.Unmarshal([]byte(deltas), &rec.Reaction.Deltas); err != nil {
			return nil, fmt.Errorf("decode deltas of %s: %w", rec.ID, err)
		}
		if t, err := time.Parse(timeLayout, created); err == nil {
			rec.CreatedAt = t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ContentStats aggregates the interactions of one content item.
type ContentStats struct {
	ContentID string  `json:"ad_id"`
	Exposures int     `json:"exposures"`
	Ignores   int     `json:"ignores"`
	Clicks    int     `json:"clicks"`
	Likes     int     `json:"likes"`
	Dislikes  int     `json:"dislikes"`
	Shares    int     `json:"shares"`
	LastScore float64 `json:"interaction_rate"`
}

// Stats returns per-item aggregates ordered by content id.
func (s *Store) Stats(ctx context.Context) ([]ContentStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ad_id, COUNT(*), SUM(ignored), SUM(clicked), SUM(liked), SUM(disliked), SUM(shared)
		FROM interactions GROUP BY ad_id ORDER BY ad_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ContentStats
	for rows.Next() {
		var cs ContentStats
		if err := rows.Scan(&cs.ContentID, &cs.Exposures, &cs.Ignores, &cs.Clicks, &cs.Likes, &cs.Dislikes, &cs.Shares); err != nil {
			return nil, err
		}
		out = append(out, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for i := range out {
		err := s.db.QueryRowContext(ctx,
			`SELECT interaction_rate FROM interactions WHERE ad_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
			out[i].ContentID,
		).Scan(&out[i].LastScore)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// AssignGroups stores group labels for day. Empty labels are skipped.
func (s *Store) AssignGroups(ctx context.Context, day int, groups map[string]string) error {
	ids := make([]string, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO users_grouping (user_id, social_group, day) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, id := range ids {
		if groups[id] == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx, id, groups[id], day); err != nil {
			return fmt.Errorf("assign group for %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// LookupGroup returns the most recent group assigned to agentID on or
// before day.
func (s *Store) LookupGroup(ctx context.Context, agentID string, day int) (string, bool, error) {
	var group string
	err := s.db.QueryRowContext(ctx,
		`SELECT social_group FROM users_grouping WHERE user_id = ? AND day <= ? ORDER BY day DESC LIMIT 1`,
		agentID, day,
	).Scan(&group)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup group for %s: %w", agentID, err)
	}
	return group, group != "", nil
}

// GroupCounts returns the number of agents per group on day.
func (s *Store) GroupCounts(ctx context.Context, day int) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT g.social_group, COUNT(*) FROM users_grouping g
		JOIN (SELECT user_id, MAX(day) AS day FROM users_grouping WHERE day <= ? GROUP BY user_id) latest
		ON g.user_id = latest.user_id AND g.day = latest.day
		GROUP BY g.social_group`, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var group string
		var n int
		if err := rows.Scan(&group, &n); err != nil {
			return nil, err
		}
		out[group] = n
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
