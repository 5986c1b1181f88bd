package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"udemy-course-watcher/database"
	"udemy-course-watcher/dedup"
	"udemy-course-watcher/scraper"
)

const testDay = "2024-03-01"

type fakeAPI struct {
	pages       map[string]map[int][]scraper.SearchCourse
	pageErrs    map[string]map[int]error
	details     map[int64]*scraper.CourseDetail
	searchCalls []string
	detailCalls []int64
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		pages:    map[string]map[int][]scraper.SearchCourse{},
		pageErrs: map[string]map[int]error{},
		details:  map[int64]*scraper.CourseDetail{},
	}
}

func (f *fakeAPI) setPage(keyword string, page int, courses ...scraper.SearchCourse) {
	if f.pages[keyword] == nil {
		f.pages[keyword] = map[int][]scraper.SearchCourse{}
	}
	f.pages[keyword][page] = courses
}

func (f *fakeAPI) failPage(keyword string, page int, err error) {
	if f.pageErrs[keyword] == nil {
		f.pageErrs[keyword] = map[int]error{}
	}
	f.pageErrs[keyword][page] = err
}

func (f *fakeAPI) setDetail(id int64, path, published string) {
	f.details[id] = &scraper.CourseDetail{
		ID:            id,
		Title:         fmt.Sprintf("Course %d", id),
		URL:           path,
		Created:       "2024-02-01T00:00:00Z",
		PublishedTime: published,
	}
}

func (f *fakeAPI) SearchPage(ctx context.Context, keyword string, page int) ([]scraper.SearchCourse, error) {
	f.searchCalls = append(f.searchCalls, fmt.Sprintf("%s:%d", keyword, page))
	if err := f.pageErrs[keyword][page]; err != nil {
		return nil, err
	}
	return f.pages[keyword][page], nil
}

func (f *fakeAPI) CourseDetail(ctx context.Context, id int64) (*scraper.CourseDetail, error) {
	f.detailCalls = append(f.detailCalls, id)
	detail, ok := f.details[id]
	if !ok {
		return nil, &scraper.StatusError{StatusCode: 404}
	}
	return detail, nil
}

type memoryRepo struct {
	rows   []database.Course
	addErr error
}

func (r *memoryRepo) CourseIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	for _, row := range r.rows {
		ids = append(ids, row.ID)
	}
	return ids, nil
}

func (r *memoryRepo) AddCourse(ctx context.Context, course *database.Course) error {
	if r.addErr != nil {
		return r.addErr
	}
	for _, row := range r.rows {
		if row.ID == course.ID {
			return database.ErrDuplicateCourse
		}
	}
	r.rows = append(r.rows, *course)
	return nil
}

type logLine struct {
	level string
	text  string
}

type recordingLogger struct {
	lines   []logLine
	rotated []string
}

func (l *recordingLogger) Infof(format string, v ...interface{}) {
	l.lines = append(l.lines, logLine{"info", fmt.Sprintf(format, v...)})
}

func (l *recordingLogger) Errorf(format string, v ...interface{}) {
	l.lines = append(l.lines, logLine{"error", fmt.Sprintf(format, v...)})
}

func (l *recordingLogger) Rotate(day string) error {
	l.rotated = append(l.rotated, day)
	return nil
}

func (l *recordingLogger) count(level, substr string) int {
	n := 0
	for _, line := range l.lines {
		if line.level == level && strings.Contains(line.text, substr) {
			n++
		}
	}
	return n
}

type fakeNotifier struct {
	posted []int64
	err    error
}

func (n *fakeNotifier) PostCourse(course *database.Course) error {
	n.posted = append(n.posted, course.ID)
	return n.err
}

func course(id int64, category string) scraper.SearchCourse {
	c := scraper.SearchCourse{ID: id}
	if category != "" {
		c.Badges = []scraper.Badge{{
			ContextInfo: &scraper.BadgeContext{Category: &scraper.BadgeCategory{Title: category}},
		}}
	}
	return c
}

type harness struct {
	api      *fakeAPI
	repo     *memoryRepo
	store    *dedup.Store
	log      *recordingLogger
	notifier *fakeNotifier
	sleeps   []time.Duration
	monitor  *Monitor
}

func newHarness(t *testing.T, opts Options, seed ...database.Course) *harness {
	t.Helper()

	h := &harness{
		api:      newFakeAPI(),
		repo:     &memoryRepo{rows: seed},
		log:      &recordingLogger{},
		notifier: &fakeNotifier{},
	}

	store, err := dedup.New(context.Background(), h.repo)
	if err != nil {
		t.Fatalf("dedup.New returned error: %v", err)
	}
	h.store = store

	if opts.Pages == 0 {
		opts.Pages = 1
	}
	if opts.Categories == nil {
		opts.Categories = []string{"Development"}
	}
	if opts.Domain == "" {
		opts.Domain = "https://www.udemy.com"
	}
	if opts.KeywordPause == 0 {
		opts.KeywordPause = time.Second
	}

	m, err := New(Deps{
		API:      h.api,
		Store:    store,
		Logger:   h.log,
		Notifier: h.notifier,
		Now:      func() time.Time { return time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC) },
		Sleep: func(ctx context.Context, d time.Duration) error {
			h.sleeps = append(h.sleeps, d)
			return ctx.Err()
		},
	}, opts)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	h.monitor = m
	return h
}

func TestNew_Validation(t *testing.T) {
	api := newFakeAPI()
	store, _ := dedup.New(context.Background(), &memoryRepo{})
	deps := Deps{API: api, Store: store, Logger: &recordingLogger{}}

	if _, err := New(deps, Options{Categories: []string{"x"}, Pages: 1}); err == nil {
		t.Error("expected error without keywords")
	}
	if _, err := New(deps, Options{Keywords: []string{"go"}, Pages: 1}); err == nil {
		t.Error("expected error without categories")
	}
	if _, err := New(deps, Options{Keywords: []string{"go"}, Categories: []string{"x"}}); err == nil {
		t.Error("expected error with zero pages")
	}
	if _, err := New(Deps{}, Options{Keywords: []string{"go"}, Categories: []string{"x"}, Pages: 1}); err == nil {
		t.Error("expected error without dependencies")
	}
	if _, err := New(deps, Options{Keywords: []string{"go"}, Categories: []string{"x"}, Pages: 1, DayMode: "hourly"}); err == nil {
		t.Error("expected error with unknown day mode")
	}
}

func TestSessionDayComputedAtStart(t *testing.T) {
	h := newHarness(t, Options{Keywords: []string{"go"}})
	if h.monitor.Session().Day != testDay {
		t.Errorf("expected day %s, got %s", testDay, h.monitor.Session().Day)
	}
}

func TestFetchSearch_PaginationResilience(t *testing.T) {
	h := newHarness(t, Options{Keywords: []string{"go"}, Pages: 5})
	h.api.setPage("go", 1, course(1, "Development"))
	h.api.setPage("go", 2, course(2, "Development"))
	h.api.failPage("go", 3, &scraper.StatusError{StatusCode: 500})
	h.api.setPage("go", 4, course(4, "Development"))
	h.api.setPage("go", 5, course(5, "Development"), course(6, "Design"))

	results := h.monitor.fetchSearch(context.Background(), "go")

	var ids []int64
	for _, c := range results {
		ids = append(ids, c.ID)
	}
	want := []int64{1, 2, 4, 5, 6}
	if fmt.Sprint(ids) != fmt.Sprint(want) {
		t.Errorf("expected ids %v, got %v", want, ids)
	}

	if n := h.log.count("error", "Failed to fetch page"); n != 1 {
		t.Errorf("expected exactly 1 page failure logged, got %d", n)
	}
	if n := h.log.count("error", "page 3"); n != 1 {
		t.Errorf("expected page 3 failure to be logged once, got %d", n)
	}
	if n := h.log.count("info", "Fetching page"); n != 5 {
		t.Errorf("expected 5 page attempts logged, got %d", n)
	}
	if len(h.api.searchCalls) != 5 {
		t.Errorf("expected 5 search calls without retries, got %v", h.api.searchCalls)
	}
}

func TestRunCycle_NoResultsShortCircuit(t *testing.T) {
	h := newHarness(t, Options{Keywords: []string{"cobol"}, Pages: 3})
	h.api.failPage("cobol", 2, errors.New("connection reset"))

	report := h.monitor.RunCycle(context.Background())

	if len(h.api.detailCalls) != 0 {
		t.Errorf("expected no detail fetches, got %v", h.api.detailCalls)
	}
	if len(h.repo.rows) != 0 {
		t.Errorf("expected nothing persisted, got %+v", h.repo.rows)
	}
	if report.Keywords[0].NewCourses != 0 || h.monitor.Session().NewCourses != 0 {
		t.Errorf("expected zero new courses, got %+v", report)
	}
	if h.log.count("info", "Couldn't find any search results for 'cobol'") != 1 {
		t.Error("expected no-results line to be logged")
	}
	if len(h.sleeps) != 1 || h.sleeps[0] != time.Second {
		t.Errorf("expected the keyword pause to still apply, got %v", h.sleeps)
	}
}

func TestRunCycle_DateGateAndURLRewrite(t *testing.T) {
	h := newHarness(t, Options{Keywords: []string{"go"}})
	h.api.setPage("go", 1, course(1, "Development"), course(2, "Development"), course(3, "Development"))
	h.api.setDetail(1, "/course/foo/", testDay+"T10:00:00Z")
	h.api.setDetail(2, "/course/yesterday/", "2024-02-29T23:59:59Z")
	h.api.setDetail(3, "/course/bar/", testDay+"T00:00:01Z")

	report := h.monitor.RunCycle(context.Background())

	if len(h.repo.rows) != 2 {
		t.Fatalf("expected 2 persisted courses, got %+v", h.repo.rows)
	}
	if h.repo.rows[0].ID != 1 || h.repo.rows[1].ID != 3 {
		t.Errorf("expected input order 1, 3, got %d, %d", h.repo.rows[0].ID, h.repo.rows[1].ID)
	}
	if h.repo.rows[0].URL != "https://www.udemy.com/course/foo/" {
		t.Errorf("unexpected rewritten URL: %s", h.repo.rows[0].URL)
	}
	if h.repo.rows[0].Category != "Development" {
		t.Errorf("expected candidate category to be attached, got %q", h.repo.rows[0].Category)
	}
	if h.store.Seen(2) {
		t.Error("course published on another day should not be marked seen")
	}
	if n := h.log.count("error", ""); n != 0 {
		t.Errorf("date discard must not be logged as an error, got %d error lines", n)
	}
	if report.NewCourses != 2 {
		t.Errorf("expected cycle total 2, got %d", report.NewCourses)
	}
}

func TestRunCycle_TitleStoredAsReturned(t *testing.T) {
	h := newHarness(t, Options{Keywords: []string{"go"}})
	h.api.setPage("go", 1, course(1, "Development"), course(2, "Development"))
	h.api.setDetail(1, "/course/tabs/", testDay+"T10:00:00Z")
	h.api.setDetail(2, "/course/long/", testDay+"T11:00:00Z")

	titles := map[int64]string{
		1: "Go\tBasics\nfür Anfänger – 入門",
		2: "x" + strings.Repeat("é", 600),
	}
	for id, title := range titles {
		h.api.details[id].Title = title
	}

	h.monitor.RunCycle(context.Background())

	if len(h.repo.rows) != 2 {
		t.Fatalf("expected 2 persisted courses, got %+v", h.repo.rows)
	}
	for _, row := range h.repo.rows {
		if row.Title != titles[row.ID] {
			t.Errorf("course %d: expected title %q, got %q", row.ID, titles[row.ID], row.Title)
		}
	}
}

func TestRunCycle_SkipsSeenAndFailedDetails(t *testing.T) {
	seed := database.Course{ID: 1, Title: "already stored"}
	h := newHarness(t, Options{Keywords: []string{"go"}}, seed)
	h.api.setPage("go", 1, course(1, "Development"), course(2, "Development"))

	h.monitor.RunCycle(context.Background())

	if fmt.Sprint(h.api.detailCalls) != "[2]" {
		t.Errorf("expected detail fetch for unseen course only, got %v", h.api.detailCalls)
	}
	if h.log.count("error", "Failed to fetch course info for course id : 2") != 1 {
		t.Error("expected failed detail fetch to be logged")
	}
	if h.store.Seen(2) {
		t.Error("course with failed detail fetch must stay eligible")
	}

	// The next cycle retries the course once its detail is available.
	h.api.setDetail(2, "/course/retry/", testDay+"T12:00:00Z")
	report := h.monitor.RunCycle(context.Background())

	if report.NewCourses != 1 || !h.store.Seen(2) {
		t.Errorf("expected course 2 to be stored on retry, report %+v", report)
	}
}

func TestRunCycle_CounterReset(t *testing.T) {
	h := newHarness(t, Options{Keywords: []string{"go", "rust"}})
	h.api.setPage("go", 1, course(1, "Development"), course(2, "Development"), course(3, "Development"))
	for _, id := range []int64{1, 2, 3} {
		h.api.setDetail(id, fmt.Sprintf("/course/%d/", id), testDay+"T08:00:00Z")
	}
	h.api.setPage("rust", 1, course(1, "Development"))

	report := h.monitor.RunCycle(context.Background())

	if len(report.Keywords) != 2 {
		t.Fatalf("expected 2 keyword reports, got %+v", report.Keywords)
	}
	if report.Keywords[0].NewCourses != 3 {
		t.Errorf("expected 3 new courses for 'go', got %d", report.Keywords[0].NewCourses)
	}
	if report.Keywords[1].NewCourses != 0 {
		t.Errorf("expected 0 new courses for 'rust', got %d", report.Keywords[1].NewCourses)
	}
	if report.NewCourses != 3 {
		t.Errorf("expected cycle total 3, got %d", report.NewCourses)
	}
	if h.log.count("info", "3 New 'go' courses have been added") != 1 {
		t.Error("expected keyword report line for 'go'")
	}
	if h.log.count("info", "New 'rust'") != 0 {
		t.Error("keyword with no new courses must not be reported")
	}
	if h.log.count("info", "3 total new courses has been added") != 1 {
		t.Error("expected cycle total line")
	}

	session := h.monitor.Session()
	if session.NewCourses != 0 || session.TotalNewCourses != 0 || session.Cycles != 1 {
		t.Errorf("expected counters reset after cycle, got %+v", session)
	}
}

func TestRunCycle_DuplicateInBatchStoredOnce(t *testing.T) {
	h := newHarness(t, Options{Keywords: []string{"go"}})
	h.api.setPage("go", 1, course(9, "Development"), course(9, "Development"))
	h.api.setDetail(9, "/course/nine/", testDay+"T08:00:00Z")

	report := h.monitor.RunCycle(context.Background())

	if len(h.repo.rows) != 1 {
		t.Errorf("expected one row for repeated id, got %d", len(h.repo.rows))
	}
	if report.NewCourses != 1 {
		t.Errorf("expected duplicate not to be counted, got %d", report.NewCourses)
	}
}

func TestRunCycle_PersistFailureNotCounted(t *testing.T) {
	h := newHarness(t, Options{Keywords: []string{"go"}})
	h.repo.addErr = errors.New("disk I/O error")
	h.api.setPage("go", 1, course(5, "Development"))
	h.api.setDetail(5, "/course/five/", testDay+"T08:00:00Z")

	report := h.monitor.RunCycle(context.Background())

	if report.NewCourses != 0 {
		t.Errorf("expected failed persist not to be counted, got %d", report.NewCourses)
	}
	if h.store.Seen(5) {
		t.Error("failed persist must not mark the course as seen")
	}
	if h.log.count("error", "Failed to save course 5") != 1 {
		t.Error("expected persist failure to be logged")
	}
	if len(h.notifier.posted) != 0 {
		t.Error("unsaved course must not be announced")
	}
}

func TestRunCycle_NotifierFailureDoesNotAffectCounts(t *testing.T) {
	h := newHarness(t, Options{Keywords: []string{"go"}})
	h.notifier.err = errors.New("telegram down")
	h.api.setPage("go", 1, course(5, "Development"))
	h.api.setDetail(5, "/course/five/", testDay+"T08:00:00Z")

	report := h.monitor.RunCycle(context.Background())

	if report.NewCourses != 1 || len(h.notifier.posted) != 1 {
		t.Errorf("expected course stored and announced, report %+v posted %v", report, h.notifier.posted)
	}
	if h.log.count("error", "Failed to post course to Telegram") != 1 {
		t.Error("expected notifier failure to be logged")
	}
}

func TestRun_SingleCycleWhenNotKeepRunning(t *testing.T) {
	h := newHarness(t, Options{
		Keywords:     []string{"go", "rust"},
		KeepRunning:  false,
		KeywordPause: 2 * time.Second,
		FinishPause:  10 * time.Minute,
	})

	if err := h.monitor.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if len(h.sleeps) != 2 || h.sleeps[0] != 2*time.Second || h.sleeps[1] != 2*time.Second {
		t.Errorf("expected only keyword pauses, got %v", h.sleeps)
	}
	if h.log.count("info", "Bot is shutting down..") != 1 {
		t.Error("expected shutdown line")
	}
	if h.monitor.Session().Cycles != 1 {
		t.Errorf("expected 1 cycle, got %d", h.monitor.Session().Cycles)
	}
}

func TestRun_KeepRunningStopsOnCancel(t *testing.T) {
	h := newHarness(t, Options{
		Keywords:     []string{"go"},
		KeepRunning:  true,
		KeywordPause: time.Second,
		FinishPause:  10 * time.Minute,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	finishPauses := 0
	h.monitor.sleep = func(ctx context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		if d == 10*time.Minute {
			finishPauses++
			if finishPauses == 2 {
				cancel()
			}
		}
		return ctx.Err()
	}

	if err := h.monitor.Run(ctx); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if h.monitor.Session().Cycles != 2 {
		t.Errorf("expected 2 cycles before cancellation, got %d", h.monitor.Session().Cycles)
	}
	if h.log.count("info", "Pausing for 10 minutes") != 2 {
		t.Error("expected a pause line after each cycle")
	}
	if h.log.count("info", "Pause time finished. Bot Starting...") != 1 {
		t.Error("expected one resume line")
	}
	if h.log.count("info", "Bot is shutting down..") != 1 {
		t.Error("expected shutdown line after cancellation")
	}
}

func TestRunCycle_FixedDayIgnoresMidnight(t *testing.T) {
	h := newHarness(t, Options{Keywords: []string{"go"}})
	h.monitor.now = func() time.Time { return time.Date(2024, 3, 2, 0, 5, 0, 0, time.UTC) }

	h.api.setPage("go", 1, course(1, "Development"))
	h.api.setDetail(1, "/course/one/", testDay+"T23:00:00Z")

	report := h.monitor.RunCycle(context.Background())

	if report.Day != testDay || report.NewCourses != 1 {
		t.Errorf("expected start-of-process day to be kept, report %+v", report)
	}
	if len(h.log.rotated) != 0 {
		t.Errorf("fixed day must not rotate the log, got %v", h.log.rotated)
	}
}

func TestRunCycle_PerCycleDayRefresh(t *testing.T) {
	h := newHarness(t, Options{Keywords: []string{"go"}, DayMode: DayPerCycle})
	h.monitor.now = func() time.Time { return time.Date(2024, 3, 2, 0, 5, 0, 0, time.UTC) }

	h.api.setPage("go", 1, course(1, "Development"), course(2, "Development"))
	h.api.setDetail(1, "/course/one/", testDay+"T23:00:00Z")
	h.api.setDetail(2, "/course/two/", "2024-03-02T00:01:00Z")

	report := h.monitor.RunCycle(context.Background())

	if report.Day != "2024-03-02" {
		t.Errorf("expected refreshed day, got %s", report.Day)
	}
	if len(h.repo.rows) != 1 || h.repo.rows[0].ID != 2 {
		t.Errorf("expected only the course published on the new day, got %+v", h.repo.rows)
	}
	if fmt.Sprint(h.log.rotated) != "[2024-03-02]" {
		t.Errorf("expected log rotation to the new day, got %v", h.log.rotated)
	}
}

func TestSleepContext(t *testing.T) {
	if err := sleepContext(context.Background(), time.Millisecond); err != nil {
		t.Errorf("expected timer to fire, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("expected cancellation, got %v", err)
	}
}
