package dedup

import (
	"context"
	"errors"
	"fmt"

	"udemy-course-watcher/database"
)

// Repository is the durable side of the store.
type Repository interface {
	CourseIDs(ctx context.Context) ([]int64, error)
	AddCourse(ctx context.Context, course *database.Course) error
}

// Store keeps an in-memory mirror of every stored course id. The mirror is
// loaded once from the repository and only grows after a committed insert.
type Store struct {
	repo Repository
	seen map[int64]struct{}
}

// New loads every previously stored id before any fetch cycle runs.
func New(ctx context.Context, repo Repository) (*Store, error) {
	ids, err := repo.CourseIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load stored courses: %w", err)
	}

	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}

	return &Store{repo: repo, seen: seen}, nil
}

func (s *Store) Seen(id int64) bool {
	_, ok := s.seen[id]
	return ok
}

func (s *Store) Len() int {
	return len(s.seen)
}

// Persist writes one course and records its id. A failed insert leaves the
// seen-set untouched so the course is retried on a later cycle. When the
// repository reports the id as already stored, the id is recorded and
// database.ErrDuplicateCourse is returned.
func (s *Store) Persist(ctx context.Context, course database.Course) error {
	err := s.repo.AddCourse(ctx, &course)
	if errors.Is(err, database.ErrDuplicateCourse) {
		s.seen[course.ID] = struct{}{}
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to persist course %d: %w", course.ID, err)
	}

	s.seen[course.ID] = struct{}{}
	return nil
}
