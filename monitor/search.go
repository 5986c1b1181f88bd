package monitor

import (
	"context"

	"udemy-course-watcher/scraper"
)

// fetchSearch requests pages 1..Pages for keyword, one after another. A failed
// page is logged and skipped. It returns nil when no page produced results.
func (m *Monitor) fetchSearch(ctx context.Context, keyword string) []scraper.SearchCourse {
	var courses []scraper.SearchCourse
	for page := 1; page <= m.opts.Pages; page++ {
		if ctx.Err() != nil {
			break
		}

		m.log.Infof("Fetching page %d for '%s'", page, keyword)
		results, err := m.api.SearchPage(ctx, keyword, page)
		if err != nil {
			m.log.Errorf("Failed to fetch page %d for '%s': %v", page, keyword, err)
			continue
		}
		courses = append(courses, results...)
	}

	if len(courses) == 0 {
		return nil
	}
	return courses
}
