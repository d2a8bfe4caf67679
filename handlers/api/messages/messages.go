package messages

import (
	"context"
	"groupchat-server/core"
	"groupchat-server/handlers/api/respond"
	"groupchat-server/middleware"
	"groupchat-server/presence"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

type (
	SendMessageRequest struct {
		Content string `json:"content"`
		Type    string `json:"type"`
		ReplyTo string `json:"reply_to"`
	}

	EditMessageRequest struct {
		Content string `json:"content"`
	}

	MessageRef struct {
		MessageID string `json:"message_id"`
		GroupID   string `json:"group_id"`
	}

	Store interface {
		core.MessageStore
		GetGroup(ctx context.Context, id string) (*core.Group, error)
		TouchGroup(ctx context.Context, groupID string, at time.Time) error
	}

	// Fanout delivers group events to every online member.
	Fanout interface {
		ToGroup(ctx context.Context, groupID, event string, payload any, exclude string) error
	}

	// TypingClearer drops the sender's typing indicator once a message is sent.
	TypingClearer interface {
		MessageSent(ctx context.Context, userID, groupID string)
	}

	Deps struct {
		Store  Store
		Blobs  core.BlobStore
		Fanout Fanout
		Typing TypingClearer
	}
)

// memberGroup loads the group in the URL and requires the caller to belong
// to it.
func memberGroup(w http.ResponseWriter, r *http.Request, store Store) (*core.Group, bool) {
	group, err := store.GetGroup(r.Context(), chi.URLParam(r, "groupID"))
	if err != nil {
		respond.Error(w, r, err, "Failed to load group")
		return nil, false
	}
	if !group.IsMember(middleware.UserID(r.Context())) {
		respond.Message(w, r, http.StatusForbidden, "Not a member of this group")
		return nil, false
	}
	return group, true
}

// HandleList returns a page of messages in chronological order. before is
// an RFC 3339 timestamp; only older messages are returned when it is set.
func HandleList(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		group, ok := memberGroup(w, r, d.Store)
		if !ok {
			return
		}

		limit := defaultPageSize
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				respond.Message(w, r, http.StatusBadRequest, "Invalid limit")
				return
			}
			limit = min(n, maxPageSize)
		}

		var before time.Time
		if raw := r.URL.Query().Get("before"); raw != "" {
			t, err := time.Parse(time.RFC3339Nano, raw)
			if err != nil {
				respond.Message(w, r, http.StatusBadRequest, "Invalid date format")
				return
			}
			before = t
		}

		messages, err := d.Store.GroupMessages(r.Context(), group.ID, limit, before)
		if err != nil {
			respond.Error(w, r, err, "Failed to list messages")
			return
		}
		if messages == nil {
			messages = []core.Message{}
		}
		render.JSON(w, r, messages)
	}
}

func HandleSend(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		group, ok := memberGroup(w, r, d.Store)
		if !ok {
			return
		}

		var req SendMessageRequest
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			respond.Message(w, r, http.StatusBadRequest, "Invalid request body")
			return
		}
		if strings.TrimSpace(req.Content) == "" {
			respond.Message(w, r, http.StatusBadRequest, "Message content is required")
			return
		}
		if req.Type == "" {
			req.Type = core.MessageTypeText
		}

		message, err := post(r.Context(), d, &core.Message{
			GroupID:  group.ID,
			SenderID: middleware.UserID(r.Context()),
			Content:  req.Content,
			Type:     req.Type,
			ReplyTo:  req.ReplyTo,
		})
		if err != nil {
			respond.Error(w, r, err, "Failed to send message")
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, message)
	}
}

// post persists a message and fans it out to the group. Fan-out failures
// are logged; the message is already stored.
func post(ctx context.Context, d Deps, msg *core.Message) (*core.Message, error) {
	id, err := d.Store.CreateMessage(ctx, msg)
	if err != nil {
		return nil, err
	}
	message, err := d.Store.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}

	log := logrus.WithFields(logrus.Fields{
		"group_id":   message.GroupID,
		"message_id": message.ID,
	})
	if err := d.Store.TouchGroup(ctx, message.GroupID, message.CreatedAt); err != nil {
		log.WithError(err).Warn("Failed to bump group activity")
	}
	if d.Typing != nil {
		d.Typing.MessageSent(ctx, message.SenderID, message.GroupID)
	}
	if err := d.Fanout.ToGroup(ctx, message.GroupID, presence.EventNewMessage, message, ""); err != nil {
		log.WithError(err).Warn("Failed to fan out new message")
	}
	return message, nil
}

// loadMessage fetches the message in the URL together with its group.
func loadMessage(w http.ResponseWriter, r *http.Request, store Store) (*core.Message, *core.Group, bool) {
	message, err := store.GetMessage(r.Context(), chi.URLParam(r, "messageID"))
	if err != nil {
		respond.Error(w, r, err, "Failed to load message")
		return nil, nil, false
	}
	group, err := store.GetGroup(r.Context(), message.GroupID)
	if err != nil {
		respond.Error(w, r, err, "Failed to load group")
		return nil, nil, false
	}
	return message, group, true
}

func HandleEdit(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		message, _, ok := loadMessage(w, r, d.Store)
		if !ok {
			return
		}
		if message.SenderID != middleware.UserID(r.Context()) {
			respond.Message(w, r, http.StatusForbidden, "Only the sender can edit a message")
			return
		}

		var req EditMessageRequest
		if err := render.DecodeJSON(r.Body, &req); err != nil || strings.TrimSpace(req.Content) == "" {
			respond.Message(w, r, http.StatusBadRequest, "Message content is required")
			return
		}
		if err := d.Store.EditMessage(r.Context(), message.ID, req.Content); err != nil {
			respond.Error(w, r, err, "Failed to edit message")
			return
		}

		edited, err := d.Store.GetMessage(r.Context(), message.ID)
		if err != nil {
			respond.Error(w, r, err, "Failed to load message")
			return
		}
		if err := d.Fanout.ToGroup(r.Context(), edited.GroupID, presence.EventMessageEdited, edited, ""); err != nil {
			logrus.WithField("message_id", edited.ID).WithError(err).Warn("Failed to fan out edit")
		}
		render.JSON(w, r, edited)
	}
}

// HandleDelete removes a message. The sender and group admins may do so.
func HandleDelete(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		message, group, ok := loadMessage(w, r, d.Store)
		if !ok {
			return
		}
		caller := middleware.UserID(r.Context())
		if message.SenderID != caller && !group.IsAdmin(caller) {
			respond.Message(w, r, http.StatusForbidden, "Not authorized")
			return
		}

		if err := d.Store.DeleteMessage(r.Context(), message.ID); err != nil {
			respond.Error(w, r, err, "Failed to delete message")
			return
		}
		ref := MessageRef{MessageID: message.ID, GroupID: message.GroupID}
		if err := d.Fanout.ToGroup(r.Context(), message.GroupID, presence.EventMessageDeleted, ref, ""); err != nil {
			logrus.WithField("message_id", message.ID).WithError(err).Warn("Failed to fan out delete")
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func HandleMarkRead(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		group, ok := memberGroup(w, r, d.Store)
		if !ok {
			return
		}
		n, err := d.Store.MarkGroupRead(r.Context(), group.ID, middleware.UserID(r.Context()))
		if err != nil {
			respond.Error(w, r, err, "Failed to mark messages read")
			return
		}
		render.JSON(w, r, map[string]int{"marked": n})
	}
}
