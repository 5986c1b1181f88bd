package telegram

import (
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"udemy-course-watcher/database"
	"udemy-course-watcher/security"
)

// sender is the part of tgbotapi.BotAPI the bot uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Bot announces newly stored courses to a channel.
type Bot struct {
	api       sender
	channelID string
}

func New(token, channelID string) (*Bot, error) {
	if err := security.ValidateChannelID(channelID); err != nil {
		return nil, fmt.Errorf("invalid channel ID: %w", err)
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot API: %w", err)
	}

	api.Debug = false

	return &Bot{api: api, channelID: channelID}, nil
}

// Username returns the bot account name, or "" when unknown.
func (b *Bot) Username() string {
	if api, ok := b.api.(*tgbotapi.BotAPI); ok {
		return api.Self.UserName
	}
	return ""
}

func (b *Bot) PostCourse(course *database.Course) error {
	msg, err := b.newChannelMessage(formatCourseMessage(course))
	if err != nil {
		return err
	}

	if course.URL != "" {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonURL("🔗 View Course", course.URL),
			),
		)
	}
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.DisableWebPagePreview = true

	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("failed to post course %d: %w", course.ID, err)
	}
	return nil
}

// newChannelMessage addresses either a numeric chat id or an @channel username.
func (b *Bot) newChannelMessage(text string) (tgbotapi.MessageConfig, error) {
	if strings.HasPrefix(b.channelID, "@") {
		return tgbotapi.NewMessageToChannel(b.channelID, text), nil
	}

	channelID, err := strconv.ParseInt(b.channelID, 10, 64)
	if err != nil {
		return tgbotapi.MessageConfig{}, fmt.Errorf("invalid channel ID: %w", err)
	}
	return tgbotapi.NewMessage(channelID, text), nil
}

func formatCourseMessage(course *database.Course) string {
	published := course.PublishedTime
	if len(published) >= 10 {
		published = published[:10]
	}

	text := fmt.Sprintf(`🎓 *%s*

📂 Category: %s
📅 Published: %s`,
		tgbotapi.EscapeText(tgbotapi.ModeMarkdown, security.SanitizeString(course.Title)),
		tgbotapi.EscapeText(tgbotapi.ModeMarkdown, security.SanitizeString(course.Category)),
		published,
	)

	return security.TruncateMessage(text)
}
