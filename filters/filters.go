package filters

import (
	"udemy-course-watcher/scraper"
)

// Candidate is a course id with its resolved category, pending detail lookup.
type Candidate struct {
	ID       int64
	Category string
}

// CategoryFilter keeps unseen search results whose category is allow-listed.
// Category names are matched exactly as they appear in categories.txt.
type CategoryFilter struct {
	categories map[string]struct{}
}

func New(categories []string) *CategoryFilter {
	allowed := make(map[string]struct{}, len(categories))
	for _, category := range categories {
		allowed[category] = struct{}{}
	}
	return &CategoryFilter{categories: allowed}
}

func (f *CategoryFilter) Allows(category string) bool {
	_, ok := f.categories[category]
	return ok
}

// Filter narrows courses to candidates in input order. Courses without a
// badge category are dropped. Repeated ids within one batch all pass; the
// store rejects the second insert.
func (f *CategoryFilter) Filter(courses []scraper.SearchCourse, seen func(int64) bool) []Candidate {
	var candidates []Candidate
	for _, course := range courses {
		category, ok := course.Category()
		if !ok {
			continue
		}
		if !f.Allows(category) || seen(course.ID) {
			continue
		}
		candidates = append(candidates, Candidate{ID: course.ID, Category: category})
	}
	return candidates
}
