package domain

import (
	"fmt"
	"strconv"
)

// Scope kinds as persisted by registry backends.
const (
	ScopeKindGlobal = "global"
	ScopeKindChat   = "chat"
)

// Scope selects where a banned word applies: everywhere, or in one chat.
// The zero value is the global scope.
type Scope struct {
	chatID int64
	chat   bool
}

// GlobalScope returns the scope that applies to every chat.
func GlobalScope() Scope {
	return Scope{}
}

// ChatScope returns the scope bound to a single chat.
func ChatScope(chatID int64) Scope {
	return Scope{chatID: chatID, chat: true}
}

// IsGlobal reports whether the scope applies to every chat.
func (s Scope) IsGlobal() bool {
	return !s.chat
}

// ChatID returns the bound chat id, or 0 for the global scope.
func (s Scope) ChatID() int64 {
	if !s.chat {
		return 0
	}
	return s.chatID
}

// Kind returns the persisted scope discriminator.
func (s Scope) Kind() string {
	if s.chat {
		return ScopeKindChat
	}
	return ScopeKindGlobal
}

func (s Scope) String() string {
	if !s.chat {
		return ScopeKindGlobal
	}
	return fmt.Sprintf("%s:%d", ScopeKindChat, s.chatID)
}

// ScopeFromParts rebuilds a scope from its persisted columns.
func ScopeFromParts(kind string, chatID int64) (Scope, error) {
	switch kind {
	case ScopeKindGlobal, "":
		return GlobalScope(), nil
	case ScopeKindChat:
		return ChatScope(chatID), nil
	default:
		return Scope{}, NewError(KindValidation, "scope", fmt.Errorf("unknown scope kind %q", kind))
	}
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
