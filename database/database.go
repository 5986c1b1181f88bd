package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	sq "github.com/Masterminds/squirrel"
	"github.com/mattn/go-sqlite3"
)

// ErrDuplicateCourse is returned when a course id is already stored.
var ErrDuplicateCourse = errors.New("course already stored")

const coursesTable = "courses"

type DB struct {
	conn              *sql.DB
	schemaVersion     uint
	removedDuplicates int
}

// Course is one row of the courses table. Timestamps keep the source format.
type Course struct {
	ID            int64  `json:"id"`
	Category      string `json:"category"`
	Title         string `json:"title"`
	URL           string `json:"url"`
	CreatedTime   string `json:"created"`
	PublishedTime string `json:"published_time"`
}

func New(dbPath string) (*DB, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer for the whole process; keeps the connection open for its lifetime.
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	version, err := db.runMigrations()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	db.schemaVersion = version

	return db, nil
}

func (db *DB) SchemaVersion() uint {
	return db.schemaVersion
}

// RemovedDuplicates reports how many duplicate course rows were deleted while
// upgrading to the unique course id index during New. Zero once upgraded.
func (db *DB) RemovedDuplicates() int {
	return db.removedDuplicates
}

// CourseIDs returns the id of every stored course.
func (db *DB) CourseIDs(ctx context.Context) ([]int64, error) {
	rows, err := sq.Select("COURSE_ID").
		From(coursesTable).
		Where(sq.NotEq{"COURSE_ID": nil}).
		RunWith(db.conn).
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query course ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan course id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate course ids: %w", err)
	}

	return ids, nil
}

// AddCourse inserts a course. The insert runs in autocommit mode, so the row is
// durable once AddCourse returns nil.
func (db *DB) AddCourse(ctx context.Context, course *Course) error {
	_, err := sq.Insert(coursesTable).
		Columns("COURSE_ID", "CATEGORY_TITLE", "COURSE_TITLE", "URL", "CREATED_TIME", "PUBLISHED_TIME").
		Values(course.ID, course.Category, course.Title, course.URL, course.CreatedTime, course.PublishedTime).
		RunWith(db.conn).
		ExecContext(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("course %d: %w", course.ID, ErrDuplicateCourse)
		}
		return fmt.Errorf("failed to insert course: %w", err)
	}

	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// RecentCourses returns the most recently inserted courses first.
func (db *DB) RecentCourses(ctx context.Context, limit int) ([]Course, error) {
	rows, err := sq.Select(
		"COURSE_ID",
		"COALESCE(CATEGORY_TITLE, '')",
		"COALESCE(COURSE_TITLE, '')",
		"COALESCE(URL, '')",
		"COALESCE(CREATED_TIME, '')",
		"COALESCE(PUBLISHED_TIME, '')",
	).
		From(coursesTable).
		Where(sq.NotEq{"COURSE_ID": nil}).
		OrderBy("rowid DESC").
		Limit(uint64(limit)).
		RunWith(db.conn).
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query courses: %w", err)
	}
	defer rows.Close()

	var courses []Course
	for rows.Next() {
		var course Course
		err := rows.Scan(&course.ID, &course.Category, &course.Title, &course.URL,
			&course.CreatedTime, &course.PublishedTime)
		if err != nil {
			return nil, fmt.Errorf("failed to scan course: %w", err)
		}
		courses = append(courses, course)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate courses: %w", err)
	}

	return courses, nil
}

func (db *DB) CountCourses(ctx context.Context) (int, error) {
	var count int
	err := sq.Select("COUNT(*)").
		From(coursesTable).
		RunWith(db.conn).
		QueryRowContext(ctx).
		Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count courses: %w", err)
	}
	return count, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}
