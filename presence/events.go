package presence

import "groupchat-server/core"

type (
	StatusChanged struct {
		UserID string      `json:"user_id"`
		Status core.Status `json:"status"`
	}

	TypingChanged struct {
		GroupID  string `json:"group_id"`
		UserID   string `json:"user_id"`
		IsTyping bool   `json:"is_typing"`
	}

	GroupRef struct {
		GroupID string `json:"group_id"`
	}

	UserRef struct {
		UserID string `json:"user_id"`
	}
)
