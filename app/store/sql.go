package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"tasktree/app/models"
)

// Dialect selects the SQL flavour spoken by SQLStore.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

const taskColumns = `id, user_id, parent_id, title, description, status, priority, category, tags,
	due_date, created_at, updated_at, completed_at`

const commentColumns = `id, task_id, text, author, created_at, updated_at`

type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLStore is a database/sql backed Store for SQLite and PostgreSQL.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLStore wraps an open database.
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

// OpenSQLite opens a SQLite database at the given path.
func OpenSQLite(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	// One connection serializes writers and keeps :memory: databases alive.
	db.SetMaxOpenConns(1)

	return NewSQLStore(db, DialectSQLite), nil
}

// OpenPostgres connects to PostgreSQL through the pgx stdlib driver.
func OpenPostgres(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	return NewSQLStore(db, DialectPostgres), nil
}

// EnsureSchema creates the tables if they don't exist.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	schema := sqliteSchema
	if s.dialect == DialectPostgres {
		schema = postgresSchema
	}
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLStore) Close(context.Context) error {
	return s.db.Close()
}

// ListTasks returns every task of the user with comments loaded.
func (s *SQLStore) ListTasks(ctx context.Context, userID string) ([]models.Task, error) {
	tasks, err := s.queryTasks(ctx, s.db,
		`SELECT `+taskColumns+` FROM tasks WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	if err := s.attachComments(ctx, s.db, tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// GetTask retrieves a single task by its ID.
func (s *SQLStore) GetTask(ctx context.Context, userID, id string) (*models.Task, error) {
	return s.getTask(ctx, s.db, userID, id)
}

// ListSubtasks returns the direct children of parentID.
func (s *SQLStore) ListSubtasks(ctx context.Context, userID, parentID string) ([]models.Task, error) {
	return s.listSubtasks(ctx, s.db, userID, parentID)
}

// CreateTask inserts t after admit has accepted its parent.
func (s *SQLStore) CreateTask(ctx context.Context, t *models.Task, admit Admission) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var parent *models.Task
		if t.IsSubtask() {
			if err := s.lockTask(ctx, tx, *t.ParentID); err != nil {
				return err
			}
			p, err := s.getTask(ctx, tx, t.UserID, *t.ParentID)
			if err != nil {
				return err
			}
			parent = p
		}
		if admit != nil {
			if err := admit(parent); err != nil {
				return err
			}
		}

		tags, err := encodeTags(t.Tags)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, s.rebind(`
			INSERT INTO tasks (`+taskColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			t.ID, t.UserID, nullString(t.ParentID), t.Title, t.Description, string(t.Status), string(t.Priority),
			t.Category, tags, nullTime(t.DueDate), t.CreatedAt, t.UpdatedAt, nullTime(t.CompletedAt))
		if err != nil {
			return fmt.Errorf("failed to create task: %w", err)
		}
		return nil
	})
}

// UpdateTask reads the task family, applies mutate and writes the task back
// in one transaction.
func (s *SQLStore) UpdateTask(ctx context.Context, userID, id string, mutate Mutation) (*models.Task, error) {
	var updated *models.Task
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		snap, err := s.readFamily(ctx, tx, userID, id)
		if err != nil {
			return err
		}
		if err := mutate(snap); err != nil {
			return err
		}

		t := snap.Task
		tags, err := encodeTags(t.Tags)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, s.rebind(`
			UPDATE tasks
			SET title = ?, description = ?, status = ?, priority = ?, category = ?, tags = ?,
			    due_date = ?, updated_at = ?, completed_at = ?
			WHERE id = ? AND user_id = ?`),
			t.Title, t.Description, string(t.Status), string(t.Priority), t.Category, tags,
			nullTime(t.DueDate), t.UpdatedAt, nullTime(t.CompletedAt), id, userID)
		if err != nil {
			return fmt.Errorf("failed to update task: %w", err)
		}
		updated = &t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteTask deletes a task, its subtasks and all their comments.
func (s *SQLStore) DeleteTask(ctx context.Context, userID, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.getTask(ctx, tx, userID, id); err != nil {
			return err
		}

		// Comments of the task and of its children first.
		if _, err := tx.ExecContext(ctx, s.rebind(`
			DELETE FROM comments
			WHERE task_id = ? OR task_id IN (SELECT id FROM tasks WHERE parent_id = ? AND user_id = ?)`),
			id, id, userID); err != nil {
			return fmt.Errorf("failed to delete comments: %w", err)
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM tasks WHERE parent_id = ? AND user_id = ?`),
			id, userID); err != nil {
			return fmt.Errorf("failed to delete subtasks: %w", err)
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM tasks WHERE id = ? AND user_id = ?`),
			id, userID); err != nil {
			return fmt.Errorf("failed to delete task: %w", err)
		}
		return nil
	})
}

// AddComment appends c to the task.
func (s *SQLStore) AddComment(ctx context.Context, userID, taskID string, c *models.Comment) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.getTask(ctx, tx, userID, taskID); err != nil {
			return err
		}
		c.TaskID = taskID
		_, err := tx.ExecContext(ctx, s.rebind(`
			INSERT INTO comments (`+commentColumns+`) VALUES (?, ?, ?, ?, ?, ?)`),
			c.ID, c.TaskID, c.Text, c.Author, c.CreatedAt, c.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to add comment: %w", err)
		}
		return nil
	})
}

// UpdateComment replaces the text of a comment.
func (s *SQLStore) UpdateComment(ctx context.Context, userID, taskID, commentID, text string, at time.Time) (*models.Comment, error) {
	var updated *models.Comment
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.getTask(ctx, tx, userID, taskID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, s.rebind(`
			UPDATE comments SET text = ?, updated_at = ? WHERE id = ? AND task_id = ?`),
			text, at, commentID, taskID)
		if err != nil {
			return fmt.Errorf("failed to update comment: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("comment %s: %w", commentID, ErrNotFound)
		}

		c, err := scanComment(tx.QueryRowContext(ctx, s.rebind(`
			SELECT `+commentColumns+` FROM comments WHERE id = ?`), commentID))
		if err != nil {
			return fmt.Errorf("failed to read comment: %w", err)
		}
		updated = &c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteComment removes a comment from the task.
func (s *SQLStore) DeleteComment(ctx context.Context, userID, taskID, commentID string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.getTask(ctx, tx, userID, taskID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM comments WHERE id = ? AND task_id = ?`),
			commentID, taskID)
		if err != nil {
			return fmt.Errorf("failed to delete comment: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("comment %s: %w", commentID, ErrNotFound)
		}
		return nil
	})
}

// Clear removes the tasks and comments of userID, or everything when userID is empty.
func (s *SQLStore) Clear(ctx context.Context, userID string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if userID == "" {
			if _, err := tx.ExecContext(ctx, `DELETE FROM comments`); err != nil {
				return fmt.Errorf("failed to clear comments: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM tasks`); err != nil {
				return fmt.Errorf("failed to clear tasks: %w", err)
			}
			return nil
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`
			DELETE FROM comments WHERE task_id IN (SELECT id FROM tasks WHERE user_id = ?)`), userID); err != nil {
			return fmt.Errorf("failed to clear comments: %w", err)
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM tasks WHERE user_id = ?`), userID); err != nil {
			return fmt.Errorf("failed to clear tasks: %w", err)
		}
		return nil
	})
}

func (s *SQLStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// readFamily locks the family root, then reads the task, its parent and its
// direct subtasks.
func (s *SQLStore) readFamily(ctx context.Context, tx *sql.Tx, userID, id string) (*Snapshot, error) {
	var parentID *string
	err := tx.QueryRowContext(ctx, s.rebind(`SELECT parent_id FROM tasks WHERE id = ? AND user_id = ?`),
		id, userID).Scan(&parentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	root := id
	if parentID != nil && *parentID != "" {
		root = *parentID
	}
	if err := s.lockTask(ctx, tx, root); err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	task, err := s.getTask(ctx, tx, userID, id)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{Task: *task}

	if task.IsSubtask() {
		parent, err := s.getTask(ctx, tx, userID, *task.ParentID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		snap.Parent = parent
	}

	subs, err := s.listSubtasks(ctx, tx, userID, id)
	if err != nil {
		return nil, err
	}
	snap.Subtasks = subs
	return snap, nil
}

// lockTask takes a row lock on PostgreSQL. SQLite runs with a single
// connection, so transactions are already serialized.
func (s *SQLStore) lockTask(ctx context.Context, tx *sql.Tx, id string) error {
	if s.dialect != DialectPostgres {
		return nil
	}
	var locked string
	err := tx.QueryRowContext(ctx, s.rebind(`SELECT id FROM tasks WHERE id = ? FOR UPDATE`), id).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to lock task: %w", err)
	}
	return nil
}

func (s *SQLStore) getTask(ctx context.Context, exec executor, userID, id string) (*models.Task, error) {
	t, err := scanTask(exec.QueryRowContext(ctx, s.rebind(`
		SELECT `+taskColumns+` FROM tasks WHERE id = ? AND user_id = ?`), id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	tasks := []models.Task{t}
	if err := s.attachComments(ctx, exec, tasks); err != nil {
		return nil, err
	}
	return &tasks[0], nil
}

func (s *SQLStore) listSubtasks(ctx context.Context, exec executor, userID, parentID string) ([]models.Task, error) {
	tasks, err := s.queryTasks(ctx, exec, `
		SELECT `+taskColumns+` FROM tasks WHERE parent_id = ? AND user_id = ? ORDER BY created_at DESC`,
		parentID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subtasks: %w", err)
	}
	if err := s.attachComments(ctx, exec, tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// queryTasks is a helper to execute a query that returns a list of tasks.
func (s *SQLStore) queryTasks(ctx context.Context, exec executor, query string, args ...any) ([]models.Task, error) {
	rows, err := exec.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := []models.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return tasks, nil
}

// attachComments loads the comments of tasks in one query, oldest first.
func (s *SQLStore) attachComments(ctx context.Context, exec executor, tasks []models.Task) error {
	if len(tasks) == 0 {
		return nil
	}

	index := make(map[string]int, len(tasks))
	placeholders := make([]string, len(tasks))
	args := make([]any, len(tasks))
	for i := range tasks {
		index[tasks[i].ID] = i
		placeholders[i] = "?"
		args[i] = tasks[i].ID
		tasks[i].Comments = []models.Comment{}
		tasks[i].CommentCount = 0
	}

	rows, err := exec.QueryContext(ctx, s.rebind(`
		SELECT `+commentColumns+` FROM comments
		WHERE task_id IN (`+strings.Join(placeholders, ", ")+`)
		ORDER BY created_at ASC, id ASC`), args...)
	if err != nil {
		return fmt.Errorf("failed to load comments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return fmt.Errorf("failed to scan comment: %w", err)
		}
		i := index[c.TaskID]
		tasks[i].Comments = append(tasks[i].Comments, c)
		tasks[i].CommentCount++
	}
	return rows.Err()
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (models.Task, error) {
	var t models.Task
	var tags string
	err := row.Scan(
		&t.ID, &t.UserID, &t.ParentID, &t.Title, &t.Description, &t.Status, &t.Priority, &t.Category, &tags,
		&t.DueDate, &t.CreatedAt, &t.UpdatedAt, &t.CompletedAt,
	)
	if err != nil {
		return t, err
	}
	t.Tags, err = decodeTags(tags)
	return t, err
}

func scanComment(row scanner) (models.Comment, error) {
	var c models.Comment
	err := row.Scan(&c.ID, &c.TaskID, &c.Text, &c.Author, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func nullString(s *string) any {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("marshal tags: %w", err)
	}
	return string(data), nil
}

func decodeTags(raw string) ([]string, error) {
	tags := []string{}
	if raw == "" {
		return tags, nil
	}
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}
	return tags, nil
}
