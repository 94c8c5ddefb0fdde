package services

import (
	"context"
	"errors"
	"strings"

	"tasktree/app/models"
	"tasktree/app/store"

	"github.com/google/uuid"
)

// AddComment appends a comment to a task. author defaults to the acting user.
func (s *TaskService) AddComment(ctx context.Context, userID, taskID, text, author string) (*models.Comment, error) {
	if author = strings.TrimSpace(author); author == "" {
		author = userID
	}
	now := s.now()
	c := &models.Comment{
		ID:        uuid.Must(uuid.NewV7()).String(),
		TaskID:    taskID,
		Text:      strings.TrimSpace(text),
		Author:    author,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.AddComment(ctx, userID, taskID, c); err != nil {
		return nil, notFound(err, ErrTaskNotFound)
	}
	s.logger.Info("comment added", "user", userID, "task", taskID, "comment", c.ID)
	return c, nil
}

// EditComment replaces the text of a comment.
func (s *TaskService) EditComment(ctx context.Context, userID, taskID, commentID, text string) (*models.Comment, error) {
	c, err := s.store.UpdateComment(ctx, userID, taskID, commentID, strings.TrimSpace(text), s.now())
	if err != nil {
		return nil, s.commentErr(ctx, err, userID, taskID)
	}
	s.logger.Info("comment edited", "user", userID, "task", taskID, "comment", commentID)
	return c, nil
}

// DeleteComment removes a comment from a task.
func (s *TaskService) DeleteComment(ctx context.Context, userID, taskID, commentID string) error {
	if err := s.store.DeleteComment(ctx, userID, taskID, commentID); err != nil {
		return s.commentErr(ctx, err, userID, taskID)
	}
	s.logger.Info("comment deleted", "user", userID, "task", taskID, "comment", commentID)
	return nil
}

// commentErr tells a missing task apart from a missing comment.
func (s *TaskService) commentErr(ctx context.Context, err error, userID, taskID string) error {
	if !errors.Is(err, store.ErrNotFound) {
		return notFound(err, ErrCommentNotFound)
	}
	if _, terr := s.store.GetTask(ctx, userID, taskID); errors.Is(terr, store.ErrNotFound) {
		return ErrTaskNotFound
	}
	return ErrCommentNotFound
}
