package conversation

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"tg_guard_bot/internal/domain"
)

const (
	promptAddWords            = "Send the words to ban, separated by commas."
	promptRemoveWords         = "Send the words to unban, separated by commas."
	promptMuteChat            = "Choose the chat whose mute duration you want to change:"
	promptWhitelistAddChat    = "Choose the chat to whitelist a user in:"
	promptWhitelistRemoveChat = "Choose the chat to remove a whitelisted user from:"
	promptBroadcast           = "Send the post to broadcast: text, photo, video, animation or document."
	promptPickChat            = "Pick a chat from the list above."

	textDenied           = "⛔ You are not allowed to do that."
	textGroupAdminNeeded = "⛔ You need to be an administrator of this group to change its banned words."
	textFailure          = "⚠️ Something went wrong, please try again later."
	textUnknown          = "Unknown action."
	textNoChats          = "The bot is not in any groups yet."
	textBroadcastRunning = "A broadcast is already running. Use the main menu to stop it."
	textWordsNeeded      = "No words found. Send one or more words separated by commas."
	textUserIDInvalid    = "A user id is a positive number, for example 123456789."
	textContentInvalid   = "That message can't be broadcast. Send text, a photo, a video, an animation or a document."
)

const timeLayout = "2006-01-02 15:04 MST"

// MainMenu is the super-admin entry menu.
func MainMenu() Reply {
	return Reply{
		Text: "<b>Admin menu</b>\nChoose a section:",
		Buttons: [][]Button{
			{{Label: "📊 Stats", Action: "stats"}, {Label: "👥 Users", Action: "users:page:0"}},
			{{Label: "🚫 Banned words", Action: "bw:menu"}, {Label: "🔇 Mute duration", Action: "mute:menu"}},
			{{Label: "✅ Whitelist", Action: "wh:menu"}, {Label: "📣 Broadcast", Action: "media:start"}},
			{{Label: "ℹ️ Help", Action: "help_info"}},
		},
	}
}

// HelpText describes the bot for /help and the help button.
const HelpText = "<b>What this bot does</b>\n" +
	"• Deletes executable and script attachments and mutes the sender.\n" +
	"• Deletes messages containing banned words.\n" +
	"• Whitelisted users and super-admins are never moderated.\n\n" +
	"Add the bot to a group and make it an administrator with the delete and restrict permissions. " +
	"Use /start in a private chat to open the admin menu."

func helpReply() Reply {
	return Reply{Text: HelpText, Buttons: backRow()}
}

// IntroReply greets users who are not super-admins. botUsername builds the
// "add to group" deep link and may be empty.
func IntroReply(botUsername string) Reply {
	text := "<b>Hi!</b>\nThis bot keeps groups safe:\n" +
		"• filters banned words 🚫\n" +
		"• deletes dangerous files 🦠\n" +
		"• temporarily mutes offenders 🔇\n\n" +
		"Add it to your group and give it admin rights."

	var rows [][]Button
	if botUsername != "" {
		rows = append(rows, []Button{{
			Label: "➕ Add to group",
			URL:   "https://t.me/" + botUsername + "?startgroup=new",
		}})
	}
	rows = append(rows, []Button{{Label: "ℹ️ How does it work?", Action: "help_info"}})

	return Reply{Text: text, Buttons: rows}
}

// BannedWordsMenu lists the banned-word actions.
func BannedWordsMenu() Reply {
	return Reply{
		Text: "<b>Banned words</b>\nSuper-admins edit the global list. Group administrators edit their group's list from inside the group.",
		Buttons: [][]Button{
			{{Label: "➕ Add", Action: "bw:add"}, {Label: "➖ Remove", Action: "bw:remove"}},
			{{Label: "🌐 Global list", Action: "bw:list:g"}, {Label: "💬 This chat", Action: "bw:list:c"}},
			{{Label: "« Back", Action: "menu:main"}},
		},
	}
}

func whitelistMenu() Reply {
	return Reply{
		Text: "<b>Whitelist</b>\nWhitelisted users skip moderation in the chosen chat.",
		Buttons: [][]Button{
			{{Label: "➕ Add user", Action: "wh:add:choose_chat"}, {Label: "➖ Remove user", Action: "wh:rem:choose_chat"}},
			{{Label: "📋 List", Action: "wh:list"}},
			{{Label: "« Back", Action: "menu:main"}},
		},
	}
}

func backRow() [][]Button {
	return [][]Button{{{Label: "« Back", Action: "menu:main"}}}
}

func deniedReply() Reply {
	return Reply{Text: textDenied, Alert: true}
}

func unknownReply() Reply {
	return Reply{Text: textUnknown, Alert: true}
}

func failureReply() Reply {
	return Reply{Text: textFailure, Alert: true}
}

func pickerPrompt(flow FlowKind) string {
	switch flow {
	case FlowWhitelistAdd:
		return promptWhitelistAddChat
	case FlowWhitelistRemove:
		return promptWhitelistRemoveChat
	default:
		return promptMuteChat
	}
}

func promptMuteMinutes(title string, current int, limits domain.MuteLimits) string {
	return fmt.Sprintf("Chat <b>%s</b> mutes offenders for %d minutes.\nSend the new duration in minutes (%d-%d).",
		html.EscapeString(title), current, limits.Min, limits.Max)
}

func promptWhitelistUser(title string, add bool) string {
	verb := "whitelist in"
	if !add {
		verb = "remove from the whitelist of"
	}
	return fmt.Sprintf("Send the numeric id of the user to %s <b>%s</b>.", verb, html.EscapeString(title))
}

// chatPicker renders the current page of group chats as buttons whose
// actions carry prefix.
func (m *Machine) chatPicker(ctx context.Context, sl *slot, prefix, prompt string) (Reply, error) {
	chats, err := m.groupChats(ctx)
	if err != nil {
		return failureReply(), err
	}
	if len(chats) == 0 {
		sl.session = nil
		return Reply{Text: textNoChats, Buttons: backRow()}, nil
	}

	page := Paginate(len(chats), sl.session.Page, m.pageSize)
	sl.session.Page = page.Index

	rows := make([][]Button, 0, page.End-page.Start+2)
	for _, c := range chats[page.Start:page.End] {
		rows = append(rows, []Button{{
			Label:  c.Label(),
			Action: prefix + "chat:" + strconv.FormatInt(c.ChatID, 10),
		}})
	}
	if nav := navRow(prefix+"page:", page); len(nav) > 0 {
		rows = append(rows, nav)
	}
	rows = append(rows, backRow()...)

	text := fmt.Sprintf("%s\nPage %d/%d", prompt, page.Index+1, page.Pages)
	return Reply{Text: text, Buttons: rows}, nil
}

func navRow(prefix string, page Page) []Button {
	var nav []Button
	if page.HasPrev {
		nav = append(nav, Button{Label: "‹ Prev", Action: prefix + strconv.Itoa(page.Index-1)})
	}
	if page.HasNext {
		nav = append(nav, Button{Label: "Next ›", Action: prefix + strconv.Itoa(page.Index+1)})
	}
	return nav
}

func (m *Machine) groupChats(ctx context.Context) ([]domain.Chat, error) {
	chats, err := m.registry.ListChats(ctx)
	if err != nil {
		return nil, err
	}
	groups := chats[:0:0]
	for _, c := range chats {
		if c.Kind.IsGroup() {
			groups = append(groups, c)
		}
	}
	return groups, nil
}

func (m *Machine) chatTitle(ctx context.Context, chatID int64) string {
	chats, err := m.registry.ListChats(ctx)
	if err == nil {
		for _, c := range chats {
			if c.ChatID == chatID {
				return c.Label()
			}
		}
	}
	return strconv.FormatInt(chatID, 10)
}

func (m *Machine) listGlobalWords(ctx context.Context) (Reply, error) {
	words, err := m.registry.ListBannedWords(ctx, domain.GlobalScope())
	if err != nil {
		return failureReply(), err
	}
	return Reply{Text: wordList("Global banned words", words), Buttons: backRow()}, nil
}

func (m *Machine) listChatWords(ctx context.Context, actor Actor) (Reply, error) {
	if !actor.ChatKind.IsGroup() {
		return Reply{Text: "Open this list from inside a group.", Alert: true}, nil
	}
	if _, err := m.wordScope(ctx, actor, "list chat words"); err != nil {
		return Reply{Text: textGroupAdminNeeded, Alert: true}, err
	}
	words, err := m.registry.EffectiveBannedWords(ctx, actor.ChatID)
	if err != nil {
		return failureReply(), err
	}
	return Reply{Text: wordList("Banned words in this chat", words), Buttons: backRow()}, nil
}

func wordList(title string, words []string) string {
	if len(words) == 0 {
		return fmt.Sprintf("<b>%s</b>\n(none)", title)
	}
	escaped := make([]string, len(words))
	for i, w := range words {
		escaped[i] = html.EscapeString(w)
	}
	return fmt.Sprintf("<b>%s</b> (%d)\n%s", title, len(words), strings.Join(escaped, ", "))
}

func (m *Machine) statsView(ctx context.Context) (Reply, error) {
	stats, err := domain.CollectStats(ctx, m.registry)
	if err != nil {
		return failureReply(), err
	}
	text := fmt.Sprintf("<b>Stats</b>\nChats: %d\nBot is admin in: %d\nWithout admin rights: %d\nUsers: %d\nActive dialogs: %d",
		stats.Chats, stats.AdminChats, stats.Chats-stats.AdminChats, stats.Users, m.sessions.active())
	return Reply{Text: text, Buttons: backRow()}, nil
}

func (m *Machine) whitelistView(ctx context.Context) (Reply, error) {
	entries, err := m.registry.ListWhitelist(ctx)
	if err != nil {
		return failureReply(), err
	}
	if len(entries) == 0 {
		return Reply{Text: "<b>Whitelist</b>\n(empty)", Buttons: backRow()}, nil
	}

	titles := make(map[int64]string)
	if chats, err := m.registry.ListChats(ctx); err == nil {
		for _, c := range chats {
			titles[c.ChatID] = c.Label()
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<b>Whitelist</b> (%d)", len(entries))
	for _, e := range entries {
		title, ok := titles[e.ChatID]
		if !ok {
			title = strconv.FormatInt(e.ChatID, 10)
		}
		fmt.Fprintf(&b, "\n• <code>%d</code> in %s", e.UserID, html.EscapeString(title))
	}
	return Reply{Text: b.String(), Buttons: backRow()}, nil
}

func (m *Machine) usersView(ctx context.Context, page int) (Reply, error) {
	users, err := m.registry.ListUsers(ctx)
	if err != nil {
		return failureReply(), err
	}
	if len(users) == 0 {
		return Reply{Text: "<b>Users</b>\n(none yet)", Buttons: backRow()}, nil
	}

	p := Paginate(len(users), page, m.pageSize)

	var b strings.Builder
	fmt.Fprintf(&b, "<b>Users</b> (%d), page %d/%d", len(users), p.Index+1, p.Pages)
	rows := make([][]Button, 0, p.End-p.Start+2)
	for i, u := range users[p.Start:p.End] {
		fmt.Fprintf(&b, "\n%d. %s <code>%d</code>", p.Start+i+1, html.EscapeString(u.DisplayName()), u.UserID)
		rows = append(rows, []Button{{
			Label:  u.DisplayName(),
			Action: "user:detail:" + strconv.FormatInt(u.UserID, 10),
		}})
	}
	if nav := navRow("users:page:", p); len(nav) > 0 {
		rows = append(rows, nav)
	}
	rows = append(rows, backRow()...)

	return Reply{Text: b.String(), Buttons: rows}, nil
}

func (m *Machine) userDetail(ctx context.Context, userID int64) (Reply, error) {
	u, err := m.registry.GetUser(ctx, userID)
	if err != nil {
		if domain.KindOf(err) == domain.KindNotFound {
			return Reply{Text: "User not found.", Alert: true}, err
		}
		return failureReply(), err
	}

	username := "-"
	if u.Username != "" {
		username = "@" + u.Username
	}
	lang := u.LanguageCode
	if lang == "" {
		lang = "-"
	}

	text := fmt.Sprintf("<b>%s</b>\nID: <code>%d</code>\nUsername: %s\nLanguage: %s\nRole: %s\nFirst seen: %s\nLast seen: %s",
		html.EscapeString(u.DisplayName()), u.UserID, html.EscapeString(username), html.EscapeString(lang),
		u.Role, formatTime(u.FirstSeenAt), formatTime(u.LastSeenAt))

	return Reply{
		Text:    text,
		Buttons: [][]Button{{{Label: "« Users", Action: "users:page:0"}}, {{Label: "« Back", Action: "menu:main"}}},
	}, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(timeLayout)
}
