package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"

	"udemy-course-watcher/config"
	"udemy-course-watcher/database"
	"udemy-course-watcher/dedup"
	"udemy-course-watcher/logger"
	"udemy-course-watcher/monitor"
	"udemy-course-watcher/scraper"
	"udemy-course-watcher/telegram"
)

// Options are the command-line flags; each can also come from the environment.
type Options struct {
	Config     string `long:"config" env:"WATCHER_CONFIG" default:"config.yaml" description:"Path to the YAML or JSON settings file"`
	Keywords   string `long:"keywords" env:"WATCHER_KEYWORDS" default:"keywords.txt" description:"Newline-delimited search keywords"`
	Categories string `long:"categories" env:"WATCHER_CATEGORIES" default:"categories.txt" description:"Newline-delimited accepted category names"`
	Once       bool   `long:"once" env:"WATCHER_ONCE" description:"Run a single cycle regardless of keep_running"`
	List       int    `long:"list" env:"WATCHER_LIST" description:"Print the N most recently stored courses and exit"`
}

func main() {
	// .env is optional
	_ = godotenv.Load()

	var opts Options
	if _, err := flags.NewParser(&opts, flags.Default).Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return
		}
		log.Fatalf("Failed to parse flags: %v", err)
	}

	cfg, err := config.Load(opts.Config)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if opts.List > 0 {
		if err := listCourses(cfg, opts.List); err != nil {
			log.Fatalf("Failed to list courses: %v", err)
		}
		return
	}

	keywords, err := config.LoadList(opts.Keywords)
	if err != nil {
		log.Fatalf("Failed to load keywords: %v", err)
	}

	categories, err := config.LoadList(opts.Categories)
	if err != nil {
		log.Fatalf("Failed to load categories: %v", err)
	}

	if opts.Once {
		cfg.KeepRunning = false
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, keywords, categories); err != nil {
		log.Fatalf("%v", err)
	}
}

func run(ctx context.Context, cfg *config.Config, keywords, categories []string) error {
	day := time.Now().Format("2006-01-02")

	appLogger, err := logger.New(cfg.Logging.Dir, day, cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	db, err := database.New(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	store, err := dedup.New(ctx, db)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	if removed := db.RemovedDuplicates(); removed > 0 {
		appLogger.Infof("Removed %d duplicate course rows while adding the unique course id index", removed)
	}
	appLogger.Infof("Loaded %d stored courses from %s (schema v%d)", store.Len(), cfg.DatabasePath(), db.SchemaVersion())

	deps := monitor.Deps{
		API: scraper.New(scraper.Options{
			BaseURL:       cfg.APIBaseURL,
			UserAgents:    cfg.UserAgents,
			SearchTimeout: time.Duration(cfg.SearchTimeout) * time.Second,
			DetailTimeout: time.Duration(cfg.DetailTimeout) * time.Second,
		}),
		Store:  store,
		Logger: appLogger,
	}

	if cfg.TelegramEnabled() {
		bot, err := telegram.New(cfg.Telegram.Token, cfg.Telegram.ChannelID)
		if err != nil {
			return fmt.Errorf("failed to initialize bot: %w", err)
		}
		appLogger.Infof("Announcing new courses as %s to %s", bot.Username(), cfg.Telegram.ChannelID)
		deps.Notifier = bot
	}

	m, err := monitor.New(deps, monitor.Options{
		Keywords:     keywords,
		Categories:   categories,
		Pages:        cfg.Pages,
		KeepRunning:  cfg.KeepRunning,
		KeywordPause: cfg.KeywordPause(),
		FinishPause:  cfg.FinishPause(),
		Domain:       cfg.Domain,
		DayMode:      dayMode(cfg.DayMode),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize monitor: %w", err)
	}
	// Log file and date filter share one day value.
	if err := appLogger.Rotate(m.Session().Day); err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	return m.Run(ctx)
}

func dayMode(mode string) monitor.DayMode {
	if mode == config.DayModePerCycle {
		return monitor.DayPerCycle
	}
	return monitor.DayFixed
}

func listCourses(cfg *config.Config, limit int) error {
	db, err := database.New(cfg.DatabasePath())
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()
	total, err := db.CountCourses(ctx)
	if err != nil {
		return err
	}

	courses, err := db.RecentCourses(ctx, limit)
	if err != nil {
		return err
	}

	fmt.Printf("Found %d courses in database, showing the latest %d:\n", total, len(courses))
	for i, course := range courses {
		fmt.Printf("%d. %s\n   URL: %s\n   Category: %s | Published: %s\n\n",
			i+1, course.Title, course.URL, course.Category, course.PublishedTime)
	}
	return nil
}
