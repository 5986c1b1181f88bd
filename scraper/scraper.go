package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"udemy-course-watcher/security"
)

const (
	DefaultBaseURL   = "https://www.udemy.com"
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

	maxErrorBody = 64 << 10
)

// SearchCourse is one entry of the search-courses result list.
// Only the fields the filter needs are decoded.
type SearchCourse struct {
	ID     int64   `json:"id"`
	Badges []Badge `json:"badges"`
}

type Badge struct {
	ContextInfo *BadgeContext `json:"context_info"`
}

type BadgeContext struct {
	Category *BadgeCategory `json:"category"`
}

type BadgeCategory struct {
	Title string `json:"title"`
}

// Category returns the title of the first badge's category.
func (c SearchCourse) Category() (string, bool) {
	if len(c.Badges) == 0 {
		return "", false
	}
	info := c.Badges[0].ContextInfo
	if info == nil || info.Category == nil || info.Category.Title == "" {
		return "", false
	}
	return info.Category.Title, true
}

// ErrMissingCourses is returned when a 200 response carries no course list,
// which is how rate limiting surfaces on the search endpoint.
var ErrMissingCourses = errors.New("response has no courses list")

type searchResponse struct {
	Courses *[]SearchCourse `json:"courses"`
}

// CourseDetail is the restricted field set returned by the course endpoint.
// URL is a path relative to the site root.
type CourseDetail struct {
	ID            int64  `json:"id"`
	Title         string `json:"title"`
	URL           string `json:"url"`
	Created       string `json:"created"`
	PublishedTime string `json:"published_time"`
}

// PublishedDay returns the calendar date part of the publish timestamp.
func (d *CourseDetail) PublishedDay() string {
	if len(d.PublishedTime) < 10 {
		return d.PublishedTime
	}
	return d.PublishedTime[:10]
}

// StatusError is returned for any response other than 200 OK.
type StatusError struct {
	StatusCode int
	Reason     string
}

func (e *StatusError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("received status code: %d (%s)", e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("received status code: %d", e.StatusCode)
}

type Options struct {
	BaseURL       string
	UserAgents    []string
	SearchTimeout time.Duration
	DetailTimeout time.Duration
}

type Scraper struct {
	client        *http.Client
	baseURL       string
	userAgents    []string
	searchTimeout time.Duration
	detailTimeout time.Duration
}

func New(opts Options) *Scraper {
	s := &Scraper{
		client:        &http.Client{},
		baseURL:       strings.TrimRight(opts.BaseURL, "/"),
		userAgents:    opts.UserAgents,
		searchTimeout: opts.SearchTimeout,
		detailTimeout: opts.DetailTimeout,
	}
	if s.baseURL == "" {
		s.baseURL = DefaultBaseURL
	}
	if len(s.userAgents) == 0 {
		s.userAgents = []string{DefaultUserAgent}
	}
	if s.searchTimeout <= 0 {
		s.searchTimeout = 10 * time.Second
	}
	if s.detailTimeout <= 0 {
		s.detailTimeout = 5 * time.Second
	}
	return s
}

func (s *Scraper) userAgent() string {
	return s.userAgents[rand.Intn(len(s.userAgents))]
}

func (s *Scraper) searchURL(keyword string, page int) string {
	query := url.Values{}
	query.Set("p", strconv.Itoa(page))
	query.Set("q", keyword)
	query.Set("sort", "newest")
	query.Set("src", "ukw")
	query.Set("skip_price", "true")
	query.Set("ordering", "newest")
	return s.baseURL + "/api-2.0/search-courses/?" + query.Encode()
}

func (s *Scraper) detailURL(id int64) string {
	query := url.Values{}
	query.Set("fields[course]", "title,url,created,published_time")
	return fmt.Sprintf("%s/api-2.0/courses/%d/?%s", s.baseURL, id, query.Encode())
}

// SearchPage fetches one page of newest courses for keyword.
func (s *Scraper) SearchPage(ctx context.Context, keyword string, page int) ([]SearchCourse, error) {
	ctx, cancel := context.WithTimeout(ctx, s.searchTimeout)
	defer cancel()

	headers := http.Header{}
	headers.Set("Referer", s.baseURL+"/courses/search/?q="+url.QueryEscape(keyword))

	var result searchResponse
	if err := s.getJSON(ctx, s.searchURL(keyword, page), headers, &result); err != nil {
		return nil, err
	}
	if result.Courses == nil {
		return nil, ErrMissingCourses
	}

	return *result.Courses, nil
}

// CourseDetail fetches title, url, created and published_time for one course.
func (s *Scraper) CourseDetail(ctx context.Context, id int64) (*CourseDetail, error) {
	ctx, cancel := context.WithTimeout(ctx, s.detailTimeout)
	defer cancel()

	var detail CourseDetail
	if err := s.getJSON(ctx, s.detailURL(id), nil, &detail); err != nil {
		return nil, err
	}
	if detail.ID == 0 {
		detail.ID = id
	}

	return &detail, nil
}

func (s *Scraper) getJSON(ctx context.Context, rawURL string, headers http.Header, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	for key, values := range headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	req.Header.Set("User-Agent", s.userAgent())
	req.Header.Set("Accept", "application/json, text/plain, */*")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &StatusError{
			StatusCode: resp.StatusCode,
			Reason:     errorReason(resp),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

// errorReason extracts a short description from an error body. Block pages
// are HTML, so their <title> is used; JSON errors carry a "detail" field.
func errorReason(resp *http.Response) string {
	body := io.LimitReader(resp.Body, maxErrorBody)
	contentType := resp.Header.Get("Content-Type")

	switch {
	case strings.Contains(contentType, "html"):
		doc, err := goquery.NewDocumentFromReader(body)
		if err != nil {
			return ""
		}
		return security.SanitizeString(doc.Find("title").First().Text())
	case strings.Contains(contentType, "json"):
		var payload struct {
			Detail string `json:"detail"`
		}
		if err := json.NewDecoder(body).Decode(&payload); err != nil {
			return ""
		}
		return security.SanitizeString(payload.Detail)
	default:
		return ""
	}
}
