package respond

import (
	"errors"
	"groupchat-server/core"
	"net/http"

	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

// Message renders {"error": msg} with the given status.
func Message(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, map[string]string{"error": msg})
}

// Error maps store errors to HTTP statuses. Anything unrecognised is logged
// and reported as a 500 carrying action.
func Error(w http.ResponseWriter, r *http.Request, err error, action string) {
	var partial *core.PartialFriendError
	switch {
	case errors.As(err, &partial):
		logrus.WithFields(logrus.Fields{
			"user_id":   partial.UserID,
			"friend_id": partial.FriendID,
		}).WithError(err).Error("Friend edge left one-sided")
		render.Status(r, http.StatusBadGateway)
		render.JSON(w, r, map[string]any{"error": action, "partial": true})
	case errors.Is(err, core.ErrNotFound):
		Message(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, core.ErrForbidden):
		Message(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, core.ErrConflict):
		Message(w, r, http.StatusConflict, err.Error())
	default:
		logrus.WithField("error", err).Error(action)
		http.Error(w, action, http.StatusInternalServerError)
	}
}
