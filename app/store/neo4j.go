package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"tasktree/app/models"
)

// Neo4jStore keeps tasks as (:Task) nodes linked child-[:HAS_PARENT]->parent
// and comments as (:Comment)-[:ON]->(:Task).
type Neo4jStore struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewNeo4jStore creates a new instance of Neo4jStore.
func NewNeo4jStore(driver neo4j.DriverWithContext, database string) *Neo4jStore {
	return &Neo4jStore{driver: driver, database: database}
}

const taskReturn = `
	OPTIONAL MATCH (t)-[:HAS_PARENT]->(p:Task)
	OPTIONAL MATCH (c:Comment)-[:ON]->(t)
	WITH t, p, c ORDER BY c.created_at ASC, c.id ASC
	RETURN t, p.id AS parent_id, collect(c) AS comments`

func (s *Neo4jStore) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: mode, DatabaseName: s.database})
}

// EnsureSchema creates uniqueness constraints and the owner index.
func (s *Neo4jStore) EnsureSchema(ctx context.Context) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	stmts := []string{
		"CREATE CONSTRAINT task_id IF NOT EXISTS FOR (t:Task) REQUIRE t.id IS UNIQUE",
		"CREATE CONSTRAINT comment_id IF NOT EXISTS FOR (c:Comment) REQUIRE c.id IS UNIQUE",
		"CREATE INDEX task_user IF NOT EXISTS FOR (t:Task) ON (t.user_id)",
	}
	for _, stmt := range stmts {
		_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			res, err := tx.Run(ctx, stmt, nil)
			if err != nil {
				return nil, err
			}
			return res.Consume(ctx)
		})
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Close closes the driver.
func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// ListTasks retrieves all tasks of the user from the database.
func (s *Neo4jStore) ListTasks(ctx context.Context, userID string) ([]models.Task, error) {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return runTasks(ctx, tx, "MATCH (t:Task {user_id: $userID})"+taskReturn,
			map[string]any{"userID": userID})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return result.([]models.Task), nil
}

// GetTask retrieves a single task by its ID.
func (s *Neo4jStore) GetTask(ctx context.Context, userID, id string) (*models.Task, error) {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return getTask(ctx, tx, userID, id)
	})
	if err != nil {
		return nil, err
	}
	return result.(*models.Task), nil
}

// ListSubtasks returns the direct children of parentID.
func (s *Neo4jStore) ListSubtasks(ctx context.Context, userID, parentID string) ([]models.Task, error) {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return listSubtasks(ctx, tx, userID, parentID)
	})
	if err != nil {
		return nil, err
	}
	return result.([]models.Task), nil
}

// CreateTask adds a new task to the database, linking it to its parent in
// the same transaction.
func (s *Neo4jStore) CreateTask(ctx context.Context, t *models.Task, admit Admission) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	var rejected error
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		rejected = nil
		var parent *models.Task
		if t.IsSubtask() {
			if err := lockTask(ctx, tx, *t.ParentID); err != nil {
				return nil, err
			}
			p, err := getTask(ctx, tx, t.UserID, *t.ParentID)
			if err != nil {
				return nil, err
			}
			parent = p
		}
		if admit != nil {
			if err := admit(parent); err != nil {
				rejected = err
				return nil, err
			}
		}

		params := taskParams(t)
		params["id"] = t.ID
		params["userID"] = t.UserID
		params["createdAt"] = t.CreatedAt
		_, err := tx.Run(ctx,
			"CREATE (t:Task {id: $id, user_id: $userID, title: $title, description: $description, "+
				"status: $status, priority: $priority, category: $category, tags: $tags, due_date: $dueDate, "+
				"created_at: $createdAt, updated_at: $updatedAt, completed_at: $completedAt})",
			params,
		)
		if err != nil {
			return nil, err
		}

		if parent != nil {
			_, err = tx.Run(ctx,
				"MATCH (child:Task {id: $childID}), (parent:Task {id: $parentID}) "+
					"CREATE (child)-[:HAS_PARENT]->(parent)",
				map[string]any{"childID": t.ID, "parentID": parent.ID},
			)
		}
		return nil, err
	})
	if rejected != nil {
		return rejected
	}
	return wrapErr("failed to create task", err)
}

// UpdateTask reads the task family, applies mutate and writes the task back
// in one managed transaction.
func (s *Neo4jStore) UpdateTask(ctx context.Context, userID, id string, mutate Mutation) (*models.Task, error) {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	var rejected error
	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		rejected = nil
		// Take the family root's write lock before reading.
		res, err := tx.Run(ctx,
			"MATCH (t:Task {id: $id, user_id: $userID}) "+
				"OPTIONAL MATCH (t)-[:HAS_PARENT]->(p:Task) "+
				"WITH coalesce(p, t) AS root "+
				"SET root._lock = true REMOVE root._lock "+
				"RETURN root.id AS root",
			map[string]any{"id": id, "userID": userID},
		)
		if err != nil {
			return nil, err
		}
		if !res.Next(ctx) {
			if err := res.Err(); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
		}

		task, err := getTask(ctx, tx, userID, id)
		if err != nil {
			return nil, err
		}
		snap := &Snapshot{Task: *task}
		if task.IsSubtask() {
			parent, err := getTask(ctx, tx, userID, *task.ParentID)
			if err == nil {
				snap.Parent = parent
			}
		}
		if snap.Subtasks, err = listSubtasks(ctx, tx, userID, id); err != nil {
			return nil, err
		}

		if err := mutate(snap); err != nil {
			rejected = err
			return nil, err
		}

		params := taskParams(&snap.Task)
		params["id"] = id
		params["userID"] = userID
		_, err = tx.Run(ctx,
			"MATCH (t:Task {id: $id, user_id: $userID}) "+
				"SET t.title = $title, t.description = $description, t.status = $status, "+
				"t.priority = $priority, t.category = $category, t.tags = $tags, t.due_date = $dueDate, "+
				"t.updated_at = $updatedAt, t.completed_at = $completedAt",
			params,
		)
		if err != nil {
			return nil, err
		}
		updated := snap.Task
		return &updated, nil
	})
	if rejected != nil {
		return nil, rejected
	}
	if err != nil {
		return nil, wrapErr("failed to update task", err)
	}
	return result.(*models.Task), nil
}

// DeleteTask deletes a task, its subtasks and their comments.
func (s *Neo4jStore) DeleteTask(ctx context.Context, userID, id string) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := getTask(ctx, tx, userID, id); err != nil {
			return nil, err
		}

		stmts := []string{
			// First, remove child tasks and their comments
			"MATCH (c:Comment)-[:ON]->(:Task)-[:HAS_PARENT]->(:Task {id: $id, user_id: $userID}) DETACH DELETE c",
			"MATCH (child:Task)-[:HAS_PARENT]->(:Task {id: $id, user_id: $userID}) DETACH DELETE child",
			// Now, delete the task itself
			"MATCH (c:Comment)-[:ON]->(:Task {id: $id, user_id: $userID}) DETACH DELETE c",
			"MATCH (t:Task {id: $id, user_id: $userID}) DETACH DELETE t",
		}
		for _, stmt := range stmts {
			if _, err := tx.Run(ctx, stmt, map[string]any{"id": id, "userID": userID}); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return wrapErr("failed to delete task", err)
}

// AddComment appends c to the task.
func (s *Neo4jStore) AddComment(ctx context.Context, userID, taskID string, c *models.Comment) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	c.TaskID = taskID
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx,
			"MATCH (t:Task {id: $taskID, user_id: $userID}) "+
				"CREATE (c:Comment {id: $id, text: $text, author: $author, created_at: $createdAt, updated_at: $updatedAt})-[:ON]->(t) "+
				"RETURN c.id AS id",
			map[string]any{
				"taskID":    taskID,
				"userID":    userID,
				"id":        c.ID,
				"text":      c.Text,
				"author":    c.Author,
				"createdAt": c.CreatedAt,
				"updatedAt": c.UpdatedAt,
			},
		)
		if err != nil {
			return nil, err
		}
		if !res.Next(ctx) {
			if err := res.Err(); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
		}
		return nil, nil
	})
	return wrapErr("failed to add comment", err)
}

// UpdateComment replaces the text of a comment.
func (s *Neo4jStore) UpdateComment(ctx context.Context, userID, taskID, commentID, text string, at time.Time) (*models.Comment, error) {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := getTask(ctx, tx, userID, taskID); err != nil {
			return nil, err
		}
		res, err := tx.Run(ctx,
			"MATCH (c:Comment {id: $commentID})-[:ON]->(t:Task {id: $taskID, user_id: $userID}) "+
				"SET c.text = $text, c.updated_at = $at "+
				"RETURN c",
			map[string]any{"commentID": commentID, "taskID": taskID, "userID": userID, "text": text, "at": at},
		)
		if err != nil {
			return nil, err
		}
		if !res.Next(ctx) {
			if err := res.Err(); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("comment %s: %w", commentID, ErrNotFound)
		}
		v, _ := res.Record().Get("c")
		node, ok := v.(neo4j.Node)
		if !ok {
			return nil, fmt.Errorf("unexpected comment value %T", v)
		}
		c := commentFromNode(node, taskID)
		return &c, nil
	})
	if err != nil {
		return nil, wrapErr("failed to update comment", err)
	}
	return result.(*models.Comment), nil
}

// DeleteComment removes a comment from the task.
func (s *Neo4jStore) DeleteComment(ctx context.Context, userID, taskID, commentID string) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := getTask(ctx, tx, userID, taskID); err != nil {
			return nil, err
		}
		res, err := tx.Run(ctx,
			"MATCH (c:Comment {id: $commentID})-[:ON]->(:Task {id: $taskID, user_id: $userID}) "+
				"DETACH DELETE c RETURN count(*) AS deleted",
			map[string]any{"commentID": commentID, "taskID": taskID, "userID": userID},
		)
		if err != nil {
			return nil, err
		}
		rec, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		if n, _ := rec.Get("deleted"); n == int64(0) {
			return nil, fmt.Errorf("comment %s: %w", commentID, ErrNotFound)
		}
		return nil, nil
	})
	return wrapErr("failed to delete comment", err)
}

// Clear removes the tasks and comments of userID, or everything when userID is empty.
func (s *Neo4jStore) Clear(ctx context.Context, userID string) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx,
			"MATCH (t:Task) WHERE $userID = '' OR t.user_id = $userID "+
				"OPTIONAL MATCH (c:Comment)-[:ON]->(t) "+
				"DETACH DELETE c, t",
			map[string]any{"userID": userID},
		)
		return nil, err
	})
	return wrapErr("failed to clear tasks", err)
}

func lockTask(ctx context.Context, tx neo4j.ManagedTransaction, id string) error {
	_, err := tx.Run(ctx, "MATCH (t:Task {id: $id}) SET t._lock = true REMOVE t._lock", map[string]any{"id": id})
	return err
}

func getTask(ctx context.Context, tx neo4j.ManagedTransaction, userID, id string) (*models.Task, error) {
	tasks, err := runTasks(ctx, tx, "MATCH (t:Task {id: $id, user_id: $userID})"+taskReturn,
		map[string]any{"id": id, "userID": userID})
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return &tasks[0], nil
}

func listSubtasks(ctx context.Context, tx neo4j.ManagedTransaction, userID, parentID string) ([]models.Task, error) {
	return runTasks(ctx, tx,
		"MATCH (t:Task {user_id: $userID})-[:HAS_PARENT]->(:Task {id: $parentID})"+taskReturn,
		map[string]any{"userID": userID, "parentID": parentID})
}

func runTasks(ctx context.Context, tx neo4j.ManagedTransaction, cypher string, params map[string]any) ([]models.Task, error) {
	res, err := tx.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}

	tasks := []models.Task{}
	for res.Next(ctx) {
		record := res.Record()
		v, _ := record.Get("t")
		node, ok := v.(neo4j.Node)
		if !ok {
			return nil, fmt.Errorf("unexpected task value %T", v)
		}
		t := taskFromNode(node)
		if pid, _ := record.Get("parent_id"); pid != nil {
			id := pid.(string)
			t.ParentID = &id
		}

		t.Comments = []models.Comment{}
		if raw, _ := record.Get("comments"); raw != nil {
			for _, item := range raw.([]any) {
				if cn, ok := item.(neo4j.Node); ok {
					t.Comments = append(t.Comments, commentFromNode(cn, t.ID))
				}
			}
		}
		sort.SliceStable(t.Comments, func(i, j int) bool {
			return t.Comments[i].CreatedAt.Before(t.Comments[j].CreatedAt)
		})
		t.CommentCount = len(t.Comments)
		tasks = append(tasks, t)
	}
	if err := res.Err(); err != nil {
		return nil, err
	}
	return tasks, nil
}

func taskParams(t *models.Task) map[string]any {
	tags := t.Tags
	if tags == nil {
		tags = []string{}
	}
	return map[string]any{
		"title":       t.Title,
		"description": t.Description,
		"status":      string(t.Status),
		"priority":    string(t.Priority),
		"category":    t.Category,
		"tags":        tags,
		"dueDate":     nullTime(t.DueDate),
		"updatedAt":   t.UpdatedAt,
		"completedAt": nullTime(t.CompletedAt),
	}
}

func taskFromNode(node neo4j.Node) models.Task {
	p := node.Props
	t := models.Task{
		ID:          propString(p, "id"),
		UserID:      propString(p, "user_id"),
		Title:       propString(p, "title"),
		Description: propString(p, "description"),
		Status:      models.Status(propString(p, "status")),
		Priority:    models.Priority(propString(p, "priority")),
		Category:    propString(p, "category"),
		Tags:        []string{},
		DueDate:     propTimePtr(p, "due_date"),
		CreatedAt:   propTime(p, "created_at"),
		UpdatedAt:   propTime(p, "updated_at"),
		CompletedAt: propTimePtr(p, "completed_at"),
	}
	if raw, ok := p["tags"].([]any); ok {
		for _, tag := range raw {
			if s, ok := tag.(string); ok {
				t.Tags = append(t.Tags, s)
			}
		}
	}
	return t
}

func commentFromNode(node neo4j.Node, taskID string) models.Comment {
	p := node.Props
	return models.Comment{
		ID:        propString(p, "id"),
		TaskID:    taskID,
		Text:      propString(p, "text"),
		Author:    propString(p, "author"),
		CreatedAt: propTime(p, "created_at"),
		UpdatedAt: propTime(p, "updated_at"),
	}
}

func propString(props map[string]any, key string) string {
	s, _ := props[key].(string)
	return s
}

func propTime(props map[string]any, key string) time.Time {
	t, _ := props[key].(time.Time)
	return t
}

func propTimePtr(props map[string]any, key string) *time.Time {
	t, ok := props[key].(time.Time)
	if !ok {
		return nil
	}
	return &t
}

// wrapErr adds context to driver failures; ErrNotFound stays visible to errors.Is.
func wrapErr(msg string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}
