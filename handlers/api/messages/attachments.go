package messages

import (
	"errors"
	"groupchat-server/core"
	"groupchat-server/handlers/api/respond"
	"groupchat-server/middleware"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/oklog/ulid/v2"
)

const maxAttachmentSize = 10 << 20

// AttachmentURL is the path an attachment is served from.
func AttachmentURL(key string) string {
	return "/api/attachments/" + key
}

// HandleUpload stores the multipart "file" field and posts a file message
// pointing at it.
func HandleUpload(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		group, ok := memberGroup(w, r, d.Store)
		if !ok {
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxAttachmentSize+1<<20)
		file, header, err := r.FormFile("file")
		if err != nil {
			respond.Message(w, r, http.StatusBadRequest, "A file field is required")
			return
		}
		defer file.Close()

		data, err := io.ReadAll(io.LimitReader(file, maxAttachmentSize+1))
		if err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				respond.Message(w, r, http.StatusRequestEntityTooLarge, "Attachment too large")
				return
			}
			respond.Message(w, r, http.StatusBadRequest, "Failed to read attachment")
			return
		}
		if len(data) > maxAttachmentSize {
			respond.Message(w, r, http.StatusRequestEntityTooLarge, "Attachment too large")
			return
		}

		contentType := header.Header.Get("Content-Type")
		if contentType == "" {
			contentType = http.DetectContentType(data)
		}
		key := ulid.Make().String() + strings.ToLower(filepath.Ext(header.Filename))
		if err := d.Blobs.PutBlob(r.Context(), key, contentType, data); err != nil {
			respond.Error(w, r, err, "Failed to store attachment")
			return
		}

		message, err := post(r.Context(), d, &core.Message{
			GroupID:  group.ID,
			SenderID: middleware.UserID(r.Context()),
			Content:  AttachmentURL(key),
			Type:     core.MessageTypeFile,
		})
		if err != nil {
			respond.Error(w, r, err, "Failed to send message")
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, message)
	}
}

func HandleDownload(blobs core.BlobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, contentType, err := blobs.GetBlob(r.Context(), chi.URLParam(r, "key"))
		if err != nil {
			if errors.Is(err, core.ErrForbidden) {
				respond.Message(w, r, http.StatusBadRequest, "Invalid attachment key")
				return
			}
			respond.Error(w, r, err, "Failed to load attachment")
			return
		}

		if contentType == "" {
			contentType = "application/octet-stream"
		}
		w.Header().Set("Content-Type", contentType)
		w.Write(data)
	}
}
