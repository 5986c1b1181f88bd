package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"udemy-course-watcher/database"
	"udemy-course-watcher/filters"
	"udemy-course-watcher/scraper"
)

const dayLayout = "2006-01-02"

// DayMode selects when the session day is computed.
type DayMode string

const (
	// DayFixed keeps the day computed at construction for the whole run.
	DayFixed DayMode = "fixed"
	// DayPerCycle recomputes the day, and rotates the log, before every cycle.
	DayPerCycle DayMode = "per_cycle"
)

// CourseAPI is the remote search and detail source.
type CourseAPI interface {
	SearchPage(ctx context.Context, keyword string, page int) ([]scraper.SearchCourse, error)
	CourseDetail(ctx context.Context, id int64) (*scraper.CourseDetail, error)
}

// Store is the deduplication store.
type Store interface {
	Seen(id int64) bool
	Persist(ctx context.Context, course database.Course) error
}

type Logger interface {
	Infof(format string, v ...interface{})
	Errorf(format string, v ...interface{})
}

// Notifier announces newly stored courses. Optional.
type Notifier interface {
	PostCourse(course *database.Course) error
}

// rotator is implemented by loggers that partition output per day.
type rotator interface {
	Rotate(day string) error
}

type Deps struct {
	API      CourseAPI
	Store    Store
	Logger   Logger
	Notifier Notifier

	// Now and Sleep default to the wall clock and a context-aware timer.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

type Options struct {
	Keywords     []string
	Categories   []string
	Pages        int
	KeepRunning  bool
	KeywordPause time.Duration
	FinishPause  time.Duration
	Domain       string
	DayMode      DayMode
}

// Session holds the mutable state of one process run.
type Session struct {
	Day             string
	NewCourses      int
	TotalNewCourses int
	Cycles          int
}

type KeywordReport struct {
	Keyword    string
	NewCourses int
}

type CycleReport struct {
	Day        string
	Keywords   []KeywordReport
	NewCourses int
}

type Monitor struct {
	api      CourseAPI
	store    Store
	log      Logger
	notifier Notifier
	filter   *filters.CategoryFilter
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	opts     Options
	session  *Session
}

func New(deps Deps, opts Options) (*Monitor, error) {
	if deps.API == nil || deps.Store == nil || deps.Logger == nil {
		return nil, errors.New("monitor requires an API, a store and a logger")
	}
	if len(opts.Keywords) == 0 {
		return nil, errors.New("at least one keyword is required")
	}
	if len(opts.Categories) == 0 {
		return nil, errors.New("at least one category is required")
	}
	if opts.Pages < 1 {
		return nil, fmt.Errorf("pages must be at least 1, got %d", opts.Pages)
	}
	switch opts.DayMode {
	case "":
		opts.DayMode = DayFixed
	case DayFixed, DayPerCycle:
	default:
		return nil, fmt.Errorf("unknown day mode %q", opts.DayMode)
	}
	opts.Domain = strings.TrimRight(opts.Domain, "/")

	m := &Monitor{
		api:      deps.API,
		store:    deps.Store,
		log:      deps.Logger,
		notifier: deps.Notifier,
		filter:   filters.New(opts.Categories),
		now:      deps.Now,
		sleep:    deps.Sleep,
		opts:     opts,
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.sleep == nil {
		m.sleep = sleepContext
	}

	m.session = &Session{Day: m.today()}
	return m, nil
}

func (m *Monitor) today() string {
	return m.now().Format(dayLayout)
}

// Session returns the run state. It is owned by the monitor.
func (m *Monitor) Session() *Session {
	return m.session
}

// Run performs cycles until KeepRunning is off or ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	m.log.Infof("Starting bot...")
	for {
		m.RunCycle(ctx)

		if ctx.Err() != nil {
			m.log.Infof("Bot is shutting down..")
			return nil
		}

		if !m.opts.KeepRunning {
			m.log.Infof("Bot is shutting down..")
			return nil
		}

		m.log.Infof("Pausing for %d minutes", int(m.opts.FinishPause/time.Minute))
		if err := m.sleep(ctx, m.opts.FinishPause); err != nil {
			m.log.Infof("Bot is shutting down..")
			return nil
		}
		m.log.Infof("Pause time finished. Bot Starting...")
	}
}

// RunCycle processes every keyword once, in order.
func (m *Monitor) RunCycle(ctx context.Context) CycleReport {
	if m.opts.DayMode == DayPerCycle {
		m.refreshDay()
	}

	report := CycleReport{Day: m.session.Day}
	for _, keyword := range m.opts.Keywords {
		if ctx.Err() != nil {
			break
		}

		m.processKeyword(ctx, keyword)
		report.Keywords = append(report.Keywords, KeywordReport{
			Keyword:    keyword,
			NewCourses: m.reportKeyword(keyword),
		})

		if err := m.sleep(ctx, m.opts.KeywordPause); err != nil {
			break
		}
	}

	report.NewCourses = m.session.TotalNewCourses
	m.log.Infof("%d total new courses has been added", m.session.TotalNewCourses)
	m.session.TotalNewCourses = 0
	m.session.Cycles++

	return report
}

func (m *Monitor) refreshDay() {
	day := m.today()
	if day == m.session.Day {
		return
	}
	m.session.Day = day
	if r, ok := m.log.(rotator); ok {
		if err := r.Rotate(day); err != nil {
			m.log.Errorf("Failed to rotate log file: %v", err)
		}
	}
}

func (m *Monitor) processKeyword(ctx context.Context, keyword string) {
	m.log.Infof("Searching new courses for '%s' for date : %s", keyword, m.session.Day)

	results := m.fetchSearch(ctx, keyword)
	if results == nil {
		m.log.Infof("Couldn't find any search results for '%s'", keyword)
		return
	}

	candidates := m.filter.Filter(results, m.store.Seen)
	courses := m.enrich(ctx, candidates)

	for i := range courses {
		m.persist(ctx, &courses[i])
	}
}

func (m *Monitor) persist(ctx context.Context, course *database.Course) {
	err := m.store.Persist(ctx, *course)
	if errors.Is(err, database.ErrDuplicateCourse) {
		return
	}
	if err != nil {
		m.log.Errorf("Failed to save course %d: %v", course.ID, err)
		return
	}

	m.session.NewCourses++

	if m.notifier != nil {
		if err := m.notifier.PostCourse(course); err != nil {
			m.log.Errorf("Failed to post course to Telegram: %v", err)
		}
	}
}

// reportKeyword folds the keyword count into the cycle total and resets it.
func (m *Monitor) reportKeyword(keyword string) int {
	count := m.session.NewCourses
	if count > 0 {
		m.log.Infof("%d New '%s' courses have been added", count, keyword)
		m.session.TotalNewCourses += count
	}
	m.session.NewCourses = 0
	return count
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
