package security

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	MaxMessageLength = 4096 // Telegram message limit
	MaxTextLength    = 1000
	MaxPages         = 50 // Max search pages fetched per keyword
)

var allowedDomains = []string{
	"udemy.com",
	"www.udemy.com",
}

// ValidateURL ensures URL is absolute and points to allowed domains
func ValidateURL(rawURL string) error {
	if len(rawURL) > 2048 {
		return fmt.Errorf("URL too long")
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	if parsedURL.Scheme != "https" && parsedURL.Scheme != "http" {
		return fmt.Errorf("invalid URL scheme: %s", parsedURL.Scheme)
	}

	host := strings.ToLower(parsedURL.Hostname())
	for _, domain := range allowedDomains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return nil
		}
	}

	return fmt.Errorf("domain not allowed: %s", host)
}

// ValidateFilePath ensures file path is safe
func ValidateFilePath(path string) error {
	if path == "" {
		return fmt.Errorf("file path is empty")
	}

	if len(path) > 255 {
		return fmt.Errorf("file path too long")
	}

	// Prevent path traversal
	if strings.Contains(path, "..") {
		return fmt.Errorf("path traversal detected")
	}

	return nil
}

// ValidateFileName accepts a bare file name with no directory component
func ValidateFileName(name string) error {
	if err := ValidateFilePath(name); err != nil {
		return err
	}
	if name == "." || filepath.Base(name) != name {
		return fmt.Errorf("file name must not contain a directory: %s", name)
	}
	return nil
}

// SanitizeString removes control characters from text received from remote sources
func SanitizeString(input string) string {
	input = truncateUTF8(input, MaxTextLength)

	input = strings.ReplaceAll(input, "\x00", "")
	input = strings.ReplaceAll(input, "\n", " ")
	input = strings.ReplaceAll(input, "\r", " ")
	input = strings.ReplaceAll(input, "\t", " ")

	return strings.TrimSpace(input)
}

// ValidateChannelID validates Telegram channel ID format
func ValidateChannelID(channelID string) error {
	if len(channelID) == 0 {
		return fmt.Errorf("channel ID cannot be empty")
	}

	// Allow @username, -chatid, or numeric user IDs
	if !strings.HasPrefix(channelID, "@") && !strings.HasPrefix(channelID, "-") {
		if _, err := strconv.ParseInt(channelID, 10, 64); err != nil {
			return fmt.Errorf("invalid channel ID format")
		}
	}

	return nil
}

// ValidatePages checks the number of search pages requested per keyword
func ValidatePages(pages int) error {
	if pages < 1 {
		return fmt.Errorf("pages must be at least 1, got %d", pages)
	}
	if pages > MaxPages {
		return fmt.Errorf("pages must be at most %d, got %d", MaxPages, pages)
	}
	return nil
}

// TruncateMessage cuts text to the Telegram message limit
func TruncateMessage(text string) string {
	if len(text) <= MaxMessageLength {
		return text
	}
	return truncateUTF8(text, MaxMessageLength-3) + "..."
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
