package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/area/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/area.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Users ---

func (s *LibSQLStore) CreateUser(ctx context.Context, user *User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	user.CreatedAt = timeOrNow(user.CreatedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, created_at) VALUES (?, ?, ?, ?)`,
		user.ID, user.Email, nullStr(user.Name), user.CreatedAt,
	)
	if err != nil && isUniqueViolation(err) {
		return schema.NewErrorf(schema.ErrCodeConflict, "user with email %q already exists", user.Email).WithCause(err)
	}
	return err
}

func (s *LibSQLStore) GetUser(ctx context.Context, id string) (*User, error) {
	u := &User{}
	var name sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, name, created_at FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Email, &name, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("user", id)
	}
	if err != nil {
		return nil, err
	}
	u.Name = name.String
	return u, nil
}

// DeleteUser removes the user; areas, reactions and history cascade.
func (s *LibSQLStore) DeleteUser(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "user", id)
}

// --- Areas ---

const areaColumns = `id, user_id, name, is_active, action_name, action_parameters, action_state,
	last_executed_at, error_log, consecutive_failures, paused_config_hash, revision, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func scanArea(row rowScanner) (*schema.Area, error) {
	a := &schema.Area{}
	var (
		params, state string
		lastExec      sql.NullTime
		errorLog      sql.NullString
		pausedHash    sql.NullString
	)
	if err := row.Scan(&a.ID, &a.UserID, &a.Name, &a.IsActive, &a.Action.Name, &params, &state,
		&lastExec, &errorLog, &a.ConsecutiveFailures, &pausedHash, &a.Revision, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	if err := unmarshalMap(params, &a.Action.Parameters); err != nil {
		return nil, fmt.Errorf("area %s: unmarshal action parameters: %w", a.ID, err)
	}
	if err := unmarshalMap(state, &a.Action.State); err != nil {
		return nil, fmt.Errorf("area %s: unmarshal action state: %w", a.ID, err)
	}
	if lastExec.Valid {
		t := lastExec.Time
		a.LastExecutedAt = &t
	}
	if errorLog.Valid {
		msg := errorLog.String
		a.ErrorLog = &msg
	}
	a.PausedConfigHash = pausedHash.String
	return a, nil
}

func (s *LibSQLStore) CreateArea(ctx context.Context, area *schema.Area) error {
	if area.ID == "" {
		area.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	area.CreatedAt = timeOrNow(area.CreatedAt)
	area.UpdatedAt = now
	area.Revision = 0

	params, err := marshalMapOrDefault(area.Action.Parameters)
	if err != nil {
		return fmt.Errorf("marshal action parameters: %w", err)
	}
	state, err := marshalMapOrDefault(area.Action.State)
	if err != nil {
		return fmt.Errorf("marshal action state: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO areas (id, user_id, name, is_active, action_name, action_parameters, action_state, revision, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		area.ID, area.UserID, area.Name, area.IsActive, area.Action.Name, string(params), string(state),
		area.CreatedAt, area.UpdatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return storeNotFound("user", area.UserID)
		}
		return fmt.Errorf("insert area: %w", err)
	}
	if err := insertReactions(ctx, tx, area.ID, area.Reactions); err != nil {
		return err
	}
	return tx.Commit()
}

func insertReactions(ctx context.Context, tx *sql.Tx, areaID string, reactions []schema.Reaction) error {
	for i, r := range reactions {
		params, err := marshalMapOrDefault(r.Parameters)
		if err != nil {
			return fmt.Errorf("marshal reaction %d parameters: %w", i, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO reactions (area_id, position, name, parameters) VALUES (?, ?, ?, ?)`,
			areaID, i, r.Name, string(params),
		); err != nil {
			return fmt.Errorf("insert reaction %d: %w", i, err)
		}
	}
	return nil
}

func (s *LibSQLStore) GetArea(ctx context.Context, id string) (*schema.Area, error) {
	area, err := scanArea(s.db.QueryRowContext(ctx,
		`SELECT `+areaColumns+` FROM areas WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, storeNotFound("area", id)
	}
	if err != nil {
		return nil, err
	}
	reactions, err := loadReactions(ctx, s.db, `WHERE area_id = ?`, id)
	if err != nil {
		return nil, err
	}
	area.Reactions = reactions[id]
	return area, nil
}

// ListActiveAreas returns every active area with its reactions in
// declaration order. Areas and reactions are read in one transaction so an
// area never pairs with reactions from a different revision.
func (s *LibSQLStore) ListActiveAreas(ctx context.Context) ([]*schema.Area, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	areas, err := queryAreas(ctx, tx, `SELECT `+areaColumns+` FROM areas WHERE is_active = 1 ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	reactions, err := loadReactions(ctx, tx,
		`WHERE area_id IN (SELECT id FROM areas WHERE is_active = 1)`)
	if err != nil {
		return nil, err
	}
	for _, a := range areas {
		a.Reactions = reactions[a.ID]
	}
	return areas, tx.Commit()
}

func (s *LibSQLStore) ListAreas(ctx context.Context, filter AreaFilter) ([]*schema.Area, error) {
	var where []string
	var args []any

	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.Active != nil {
		where = append(where, "is_active = ?")
		args = append(args, *filter.Active)
	}

	query := `SELECT ` + areaColumns + ` FROM areas`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	areas, err := queryAreas(ctx, tx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(areas) == 0 {
		return areas, tx.Commit()
	}

	ids := make([]any, len(areas))
	marks := make([]string, len(areas))
	for i, a := range areas {
		ids[i] = a.ID
		marks[i] = "?"
	}
	reactions, err := loadReactions(ctx, tx, `WHERE area_id IN (`+strings.Join(marks, ", ")+`)`, ids...)
	if err != nil {
		return nil, err
	}
	for _, a := range areas {
		a.Reactions = reactions[a.ID]
	}
	return areas, tx.Commit()
}

func queryAreas(ctx context.Context, q querier, query string, args ...any) ([]*schema.Area, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var areas []*schema.Area
	for rows.Next() {
		a, err := scanArea(rows)
		if err != nil {
			return nil, err
		}
		areas = append(areas, a)
	}
	return areas, rows.Err()
}

// loadReactions returns reactions grouped by area id, ordered by position.
func loadReactions(ctx context.Context, q querier, where string, args ...any) (map[string][]schema.Reaction, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT area_id, name, parameters FROM reactions `+where+` ORDER BY area_id, position`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]schema.Reaction)
	for rows.Next() {
		var areaID, name, params string
		if err := rows.Scan(&areaID, &name, &params); err != nil {
			return nil, err
		}
		r := schema.Reaction{Name: name}
		if err := unmarshalMap(params, &r.Parameters); err != nil {
			return nil, fmt.Errorf("area %s: unmarshal reaction parameters: %w", areaID, err)
		}
		out[areaID] = append(out[areaID], r)
	}
	return out, rows.Err()
}

// SetAreaActive toggles an area. The revision is bumped so a tick that read
// the area before the change cannot commit over it.
func (s *LibSQLStore) SetAreaActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE areas SET is_active = ?, revision = revision + 1, updated_at = ? WHERE id = ?`,
		active, time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "area", id)
}

func (s *LibSQLStore) UpdateAreaConfig(ctx context.Context, id string, update AreaConfigUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var currentAction string
	err = tx.QueryRowContext(ctx, `SELECT action_name FROM areas WHERE id = ?`, id).Scan(&currentAction)
	if err == sql.ErrNoRows {
		return storeNotFound("area", id)
	}
	if err != nil {
		return err
	}

	sets := []string{"revision = revision + 1", "updated_at = ?"}
	args := []any{time.Now().UTC()}

	if update.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *update.Name)
	}
	if update.ActionName != nil && *update.ActionName != currentAction {
		sets = append(sets, "action_name = ?", "action_state = '{}'")
		args = append(args, *update.ActionName)
	}
	if update.ActionParameters != nil {
		params, err := marshalMapOrDefault(update.ActionParameters)
		if err != nil {
			return fmt.Errorf("marshal action parameters: %w", err)
		}
		sets = append(sets, "action_parameters = ?")
		args = append(args, string(params))
	}
	args = append(args, id)

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("UPDATE areas SET %s WHERE id = ?", strings.Join(sets, ", ")), args...,
	); err != nil {
		return fmt.Errorf("update area: %w", err)
	}

	if update.Reactions != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM reactions WHERE area_id = ?`, id); err != nil {
			return fmt.Errorf("replace reactions: %w", err)
		}
		if err := insertReactions(ctx, tx, id, update.Reactions); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *LibSQLStore) DeleteArea(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM areas WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "area", id)
}

// --- Ledger ---

// UpdateAreaExecution commits a tick's outcome for one area: action state,
// ledger columns and the history row, in one transaction guarded by a
// compare-and-set on the revision. A stale revision yields CONFLICT and
// nothing is written.
func (s *LibSQLStore) UpdateAreaExecution(ctx context.Context, id string, update AreaExecutionUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	sets := []string{
		"error_log = ?",
		"consecutive_failures = ?",
		"paused_config_hash = ?",
		"revision = revision + 1",
		"updated_at = ?",
	}
	args := []any{nullStrPtr(update.ErrorLog), update.ConsecutiveFailures, nullStr(update.PausedConfigHash), now}

	if update.State != nil {
		state, err := json.Marshal(update.State)
		if err != nil {
			return fmt.Errorf("marshal action state: %w", err)
		}
		sets = append(sets, "action_state = ?")
		args = append(args, string(state))
	}
	if update.LastExecutedAt != nil {
		sets = append(sets, "last_executed_at = ?")
		args = append(args, update.LastExecutedAt.UTC())
	}
	args = append(args, id, update.ExpectedRevision)

	res, err := tx.ExecContext(ctx,
		fmt.Sprintf("UPDATE areas SET %s WHERE id = ? AND revision = ?", strings.Join(sets, ", ")), args...)
	if err != nil {
		return fmt.Errorf("update area ledger: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var current int64
		err := tx.QueryRowContext(ctx, `SELECT revision FROM areas WHERE id = ?`, id).Scan(&current)
		if err == sql.ErrNoRows {
			return storeNotFound("area", id)
		}
		if err != nil {
			return err
		}
		return schema.NewErrorf(schema.ErrCodeConflict,
			"area %s changed concurrently: expected revision %d, found %d", id, update.ExpectedRevision, current).
			WithArea(id).
			WithDetails(map[string]any{"expected_revision": update.ExpectedRevision, "revision": current})
	}

	if rec := update.Record; rec != nil {
		if rec.ID == "" {
			rec.ID = uuid.New().String()
		}
		rec.AreaID = id
		reactions, err := nullableJSONValue(rec.Reactions)
		if err != nil {
			return fmt.Errorf("marshal reaction outcomes: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO area_executions (id, area_id, status, fired, error_log, reactions, started_at, duration_ms)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, id, string(rec.Status), rec.Fired, nullStr(rec.ErrorLog), reactions,
			timeOrNow(rec.StartedAt).UTC(), rec.DurationMs,
		); err != nil {
			return fmt.Errorf("insert execution record: %w", err)
		}
	}

	return tx.Commit()
}

func (s *LibSQLStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*ExecutionRecord, error) {
	var where []string
	var args []any

	if filter.AreaID != "" {
		where = append(where, "area_id = ?")
		args = append(args, filter.AreaID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Since != nil {
		where = append(where, "started_at >= ?")
		args = append(args, filter.Since.UTC())
	}

	query := `SELECT id, area_id, status, fired, error_log, reactions, started_at, duration_ms FROM area_executions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*ExecutionRecord
	for rows.Next() {
		r := &ExecutionRecord{}
		var status string
		var errorLog, reactions sql.NullString
		if err := rows.Scan(&r.ID, &r.AreaID, &status, &r.Fired, &errorLog, &reactions, &r.StartedAt, &r.DurationMs); err != nil {
			return nil, err
		}
		r.Status = schema.ExecutionStatus(status)
		r.ErrorLog = errorLog.String
		if reactions.Valid && reactions.String != "" {
			if err := json.Unmarshal([]byte(reactions.String), &r.Reactions); err != nil {
				return nil, fmt.Errorf("unmarshal reaction outcomes: %w", err)
			}
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// PruneExecutions deletes history rows started before the cutoff.
func (s *LibSQLStore) PruneExecutions(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM area_executions WHERE started_at < ?`, before.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Secrets ---

func (s *LibSQLStore) StoreSecret(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO secrets (key, value, created_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, rotated_at=CURRENT_TIMESTAMP`,
		key, value,
	)
	return err
}

func (s *LibSQLStore) GetSecret(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM secrets WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("secret", key)
	}
	return value, err
}

func (s *LibSQLStore) DeleteSecret(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM secrets WHERE key = ?`, key)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "secret", key)
}

func (s *LibSQLStore) ListSecrets(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM secrets ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.AreaError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyViolation(err error) bool {
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullStrPtr(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullableJSONValue[T any](v []T) (any, error) {
	if len(v) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func unmarshalMap(s string, out *map[string]any) error {
	if s == "" || s == "{}" {
		return nil
	}
	return json.Unmarshal([]byte(s), out)
}

func marshalMapOrDefault(m map[string]any) (json.RawMessage, error) {
	if len(m) == 0 {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(m)
}
