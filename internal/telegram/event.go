package telegram

import (
	"html"
	"sort"
	"strings"
	"unicode/utf16"

	"github.com/go-telegram/bot/models"

	"tg_guard_bot/internal/domain"
	"tg_guard_bot/internal/engine"
	"tg_guard_bot/internal/feature/conversation"
)

func eventFromMessage(msg *models.Message) engine.Event {
	ev := engine.Event{
		ChatID:    msg.Chat.ID,
		ChatKind:  domain.ChatKind(string(msg.Chat.Type)),
		ChatTitle: chatTitle(msg.Chat),
		MessageID: msg.ID,
		Text:      msg.Text,
		Caption:   msg.Caption,
		Content:   contentOf(msg),
	}
	if msg.From != nil {
		ev.Sender = domain.User{
			UserID:       msg.From.ID,
			FirstName:    msg.From.FirstName,
			LastName:     msg.From.LastName,
			Username:     msg.From.Username,
			LanguageCode: msg.From.LanguageCode,
		}
	}
	if msg.Document != nil {
		ev.HasDocument = true
		ev.DocumentName = msg.Document.FileName
	}
	return ev
}

// contentOf captures a message in a form that can be re-posted. Animations
// are checked before documents since Telegram sets both for GIFs.
func contentOf(msg *models.Message) *domain.Content {
	media := func(kind domain.ContentKind, fileID string) *domain.Content {
		return &domain.Content{
			Kind:         kind,
			FileID:       fileID,
			Caption:      entitiesToHTML(msg.Caption, msg.CaptionEntities),
			PlainCaption: msg.Caption,
		}
	}
	switch {
	case msg.Animation != nil:
		return media(domain.ContentAnimation, msg.Animation.FileID)
	case len(msg.Photo) > 0:
		return media(domain.ContentPhoto, msg.Photo[len(msg.Photo)-1].FileID)
	case msg.Video != nil:
		return media(domain.ContentVideo, msg.Video.FileID)
	case msg.Document != nil:
		return media(domain.ContentDocument, msg.Document.FileID)
	case msg.Text != "":
		return &domain.Content{
			Kind:      domain.ContentText,
			Text:      entitiesToHTML(msg.Text, msg.Entities),
			PlainText: msg.Text,
		}
	default:
		return nil
	}
}

func keyboard(rows [][]conversation.Button) *models.InlineKeyboardMarkup {
	if len(rows) == 0 {
		return nil
	}
	out := make([][]models.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]models.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			btn := models.InlineKeyboardButton{Text: b.Label}
			if b.URL != "" {
				btn.URL = b.URL
			} else {
				btn.CallbackData = b.Action
			}
			buttons = append(buttons, btn)
		}
		out = append(out, buttons)
	}
	return &models.InlineKeyboardMarkup{InlineKeyboard: out}
}

type span struct {
	start, end int
	open       string
	close      string
}

// entitiesToHTML renders text with its formatting entities as Telegram HTML.
// Entity offsets count UTF-16 code units.
func entitiesToHTML(text string, entities []models.MessageEntity) string {
	spans := make([]span, 0, len(entities))
	for _, e := range entities {
		openTag, closeTag, ok := entityTags(e)
		if !ok || e.Length <= 0 {
			continue
		}
		spans = append(spans, span{start: e.Offset, end: e.Offset + e.Length, open: openTag, close: closeTag})
	}
	if len(spans) == 0 {
		return html.EscapeString(text)
	}
	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].start != spans[j].start {
			return spans[i].start < spans[j].start
		}
		return spans[i].end > spans[j].end
	})

	var (
		b     strings.Builder
		stack []span
		next  int
		pos   int
	)
	flush := func() {
		for len(stack) > 0 && stack[len(stack)-1].end <= pos {
			b.WriteString(stack[len(stack)-1].close)
			stack = stack[:len(stack)-1]
		}
		for next < len(spans) && spans[next].start <= pos {
			b.WriteString(spans[next].open)
			stack = append(stack, spans[next])
			next++
		}
	}

	for _, r := range text {
		flush()
		b.WriteString(html.EscapeString(string(r)))
		pos += len(utf16.Encode([]rune{r}))
	}
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteString(stack[i].close)
	}
	return b.String()
}

func entityTags(e models.MessageEntity) (string, string, bool) {
	switch string(e.Type) {
	case "bold":
		return "<b>", "</b>", true
	case "italic":
		return "<i>", "</i>", true
	case "underline":
		return "<u>", "</u>", true
	case "strikethrough":
		return "<s>", "</s>", true
	case "spoiler":
		return "<tg-spoiler>", "</tg-spoiler>", true
	case "code":
		return "<code>", "</code>", true
	case "pre":
		if e.Language != "" {
			return `<pre><code class="language-` + html.EscapeString(e.Language) + `">`, "</code></pre>", true
		}
		return "<pre>", "</pre>", true
	case "text_link":
		return `<a href="` + html.EscapeString(e.URL) + `">`, "</a>", true
	case "blockquote":
		return "<blockquote>", "</blockquote>", true
	default:
		return "", "", false
	}
}
