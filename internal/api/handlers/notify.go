// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/wingedpig/kernelsup/internal/notify"
)

// Notices lists and acknowledges open modal notices.
type Notices interface {
	Open() []notify.Notice
	Acknowledge(id string) error
}

// NoticeHandler handles notice API requests.
type NoticeHandler struct {
	notices Notices
}

// NewNoticeHandler creates a new notice handler.
func NewNoticeHandler(notices Notices) *NoticeHandler {
	return &NoticeHandler{notices: notices}
}

// List returns the notices awaiting acknowledgement.
func (h *NoticeHandler) List(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.notices.Open())
}

// Ack dismisses an open notice.
func (h *NoticeHandler) Ack(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.notices.Acknowledge(id); err != nil {
		if errors.Is(err, notify.ErrUnknownNotice) {
			WriteError(w, http.StatusNotFound, ErrNotFound, err.Error())
			return
		}
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"id": id})
}
