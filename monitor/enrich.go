package monitor

import (
	"context"

	"udemy-course-watcher/database"
	"udemy-course-watcher/filters"
)

// enrich resolves candidates to full course records. Courses whose detail
// cannot be fetched are logged and left unseen; courses not published on the
// session day are dropped without a log line. The title is stored as returned.
func (m *Monitor) enrich(ctx context.Context, candidates []filters.Candidate) []database.Course {
	var courses []database.Course
	for _, candidate := range candidates {
		if ctx.Err() != nil {
			break
		}

		detail, err := m.api.CourseDetail(ctx, candidate.ID)
		if err != nil || detail == nil {
			m.log.Errorf("Failed to fetch course info for course id : %d: %v", candidate.ID, err)
			continue
		}

		if detail.PublishedDay() != m.session.Day {
			continue
		}

		courses = append(courses, database.Course{
			ID:            candidate.ID,
			Category:      candidate.Category,
			Title:         detail.Title,
			URL:           m.opts.Domain + detail.URL,
			CreatedTime:   detail.Created,
			PublishedTime: detail.PublishedTime,
		})
	}
	return courses
}
