package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"palaver/internal/attach"
	"palaver/internal/auth"
	"palaver/internal/models"
	"palaver/internal/notify"
	"palaver/internal/pipeline"
	"palaver/internal/receipts"
	"palaver/internal/roster"
)

type API struct {
	auth     *auth.Service
	roster   *roster.Service
	pipeline *pipeline.Pipeline
	receipts *receipts.Tracker
	attach   *attach.Handler
	push     *notify.Pusher
}

func New(auth *auth.Service, roster *roster.Service, pipeline *pipeline.Pipeline, receipts *receipts.Tracker, attach *attach.Handler, push *notify.Pusher) *API {
	return &API{
		auth:     auth,
		roster:   roster,
		pipeline: pipeline,
		receipts: receipts,
		attach:   attach,
		push:     push,
	}
}

type authedHandler func(w http.ResponseWriter, r *http.Request, userID string)

// RequireAuth resolves the bearer token to a user identity or rejects the
// request with 401.
func (a *API) RequireAuth(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := a.auth.GetUserID(getToken(r))
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r, userID)
	}
}

func getToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); len(h) > 7 && h[:7] == "Bearer " {
		return h[7:]
	}
	if t := r.Header.Get("token"); t != "" {
		return t
	}
	if c, err := r.Cookie("token"); err == nil {
		return c.Value
	}
	return ""
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

// writeError maps the domain error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, models.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, models.ErrConflict):
		status = http.StatusConflict
	default:
		log.Printf("internal error: %v", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(models.APIResponse{Success: false, Message: err.Error()})
}

func (a *API) MeHandler(w http.ResponseWriter, r *http.Request, userID string) {
	writeJSON(w, map[string]string{"userId": userID})
}

func (a *API) UsersHandler(w http.ResponseWriter, r *http.Request, userID string) {
	users, err := a.roster.ListContacts(userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, users)
}

func (a *API) RoomsHandler(w http.ResponseWriter, r *http.Request, userID string) {
	rooms, err := a.roster.ListRooms(userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if rooms == nil {
		rooms = []models.RoomSummary{}
	}
	writeJSON(w, rooms)
}

func (a *API) CreateDirectHandler(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	room, err := a.roster.CreateDirect(userID, req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, room)
}

func (a *API) CreateGroupHandler(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		Name      string   `json:"name"`
		MemberIDs []string `json:"memberIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	room, err := a.roster.CreateGroup(userID, req.Name, req.MemberIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, room)
}

func (a *API) CreateSupportHandler(w http.ResponseWriter, r *http.Request, userID string) {
	room, err := a.roster.CreateOrGetSupport(userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, room)
}

func (a *API) JoinSupportHandler(w http.ResponseWriter, r *http.Request, userID string) {
	roomID := r.PathValue("id")
	if err := a.roster.JoinSupport(roomID, userID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, models.APIResponse{Success: true})
}

func (a *API) ResolveSupportHandler(w http.ResponseWriter, r *http.Request, userID string) {
	roomID := r.PathValue("id")
	if err := a.roster.ResolveSupport(roomID, userID); err != nil {
		writeError(w, err)
		return
	}
	if _, err := a.pipeline.System(roomID, "Conversation resolved"); err != nil {
		log.Printf("failed to append resolution notice: %v", err)
	}
	writeJSON(w, models.APIResponse{Success: true})
}

func (a *API) HistoryHandler(w http.ResponseWriter, r *http.Request, userID string) {
	roomID := r.PathValue("id")
	var before int64
	if v := r.URL.Query().Get("before"); v != "" {
		before, _ = strconv.ParseInt(v, 10, 64)
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}

	msgs, err := a.pipeline.History(roomID, userID, before, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	writeJSON(w, msgs)
}

func (a *API) PostMessageHandler(w http.ResponseWriter, r *http.Request, userID string) {
	roomID := r.PathValue("id")
	var req struct {
		Content      string             `json:"content"`
		Type         models.MessageType `json:"type"`
		AttachmentID string             `json:"attachmentId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Type == "" {
		req.Type = models.MessageText
	}

	msg, err := a.pipeline.Submit(roomID, userID, req.Content, req.Type, req.AttachmentID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, msg)
}

func (a *API) EditMessageHandler(w http.ResponseWriter, r *http.Request, userID string) {
	messageID := r.PathValue("id")
	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	msg, err := a.pipeline.Edit(messageID, userID, req.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, msg)
}

func (a *API) DeleteMessageHandler(w http.ResponseWriter, r *http.Request, userID string) {
	messageID := r.PathValue("id")
	msg, err := a.pipeline.Delete(messageID, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, msg)
}

func (a *API) MarkReadHandler(w http.ResponseWriter, r *http.Request, userID string) {
	roomID := r.PathValue("id")
	var req struct {
		Seq int64 `json:"seq"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	effective, err := a.receipts.MarkRead(roomID, userID, req.Seq)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]int64{"lastReadSeq": effective})
}

func (a *API) LeaveRoomHandler(w http.ResponseWriter, r *http.Request, userID string) {
	roomID := r.PathValue("id")
	if err := a.roster.RemoveMember(roomID, userID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, models.APIResponse{Success: true})
}

func (a *API) HideRoomHandler(w http.ResponseWriter, r *http.Request, userID string) {
	roomID := r.PathValue("id")
	if err := a.roster.Hide(roomID, userID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, models.APIResponse{Success: true})
}

func (a *API) UploadHandler(w http.ResponseWriter, r *http.Request, userID string) {
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Missing file", http.StatusBadRequest)
		return
	}
	defer func() { _ = file.Close() }()

	att, err := a.attach.Upload(file, header.Filename, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, att)
}

func (a *API) GetAttachmentHandler(w http.ResponseWriter, r *http.Request, userID string) {
	att, rc, err := a.attach.Open(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	defer func() { _ = rc.Close() }()

	w.Header().Set("Content-Type", att.MimeType)
	w.Header().Set("Content-Length", strconv.FormatInt(att.Size, 10))
	if _, err := io.Copy(w, rc); err != nil {
		log.Printf("failed to stream attachment %s: %v", att.ID, err)
	}
}

func (a *API) PushSubscribeHandler(w http.ResponseWriter, r *http.Request, userID string) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, 16*1024))
	if err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := a.push.Subscribe(userID, raw); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, models.APIResponse{Success: true})
}
