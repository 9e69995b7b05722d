package cacheworker

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// ControlPrefix is the path prefix of the worker control endpoints.
const ControlPrefix = "/__worker/"

const maxControlBody = 64 << 10

// Status is the worker view served on /__worker/status.
type Status struct {
	Version string   `json:"version"`
	State   State    `json:"state"`
	Origin  string   `json:"origin"`
	Caches  []string `json:"caches"`
	Entries int      `json:"entries"`
}

// Handler routes control requests to the worker and every other request to
// its fetch handler.
func (w *Worker) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(ControlPrefix+"status", w.handleStatus)
	mux.HandleFunc(ControlPrefix+"message", w.handleMessage)
	mux.HandleFunc(ControlPrefix+"push", w.handlePush)
	mux.HandleFunc(ControlPrefix+"sync", w.handleSync)
	mux.HandleFunc(ControlPrefix+"notificationclick", w.handleNotificationClick)
	mux.Handle("/", w)
	return mux
}

func (w *Worker) handleStatus(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.writeError(rw, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status := Status{Version: w.version, State: w.State(), Origin: w.origin.String()}
	caches, err := w.storage.Keys(r.Context())
	if err != nil {
		w.writeError(rw, http.StatusInternalServerError, err.Error())
		return
	}
	status.Caches = caches
	if cache := w.currentCache(); cache != nil {
		keys, err := cache.Keys(r.Context())
		if err != nil {
			w.writeError(rw, http.StatusInternalServerError, err.Error())
			return
		}
		status.Entries = len(keys)
	}
	w.writeJSON(rw, http.StatusOK, status)
}

func (w *Worker) handleMessage(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.writeError(rw, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var msg Message
	if err := json.NewDecoder(io.LimitReader(r.Body, maxControlBody)).Decode(&msg); err != nil {
		w.writeError(rw, http.StatusBadRequest, "invalid message: "+err.Error())
		return
	}

	if msg.Type == MessageGetVersion {
		reply := make(chan Reply, 1)
		if err := w.PostMessage(r.Context(), msg, reply); err != nil {
			w.writeError(rw, http.StatusInternalServerError, err.Error())
			return
		}
		w.writeJSON(rw, http.StatusOK, <-reply)
		return
	}
	if err := w.PostMessage(r.Context(), msg, nil); err != nil {
		w.writeError(rw, http.StatusConflict, err.Error())
		return
	}
	w.writeJSON(rw, http.StatusOK, map[string]State{"state": w.State()})
}

func (w *Worker) handlePush(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.writeError(rw, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxControlBody))
	if err != nil {
		w.writeError(rw, http.StatusBadRequest, err.Error())
		return
	}
	n, err := w.Push(r.Context(), payload)
	switch {
	case err != nil && n == nil:
		w.writeError(rw, http.StatusBadRequest, err.Error())
	case err != nil:
		w.writeError(rw, http.StatusBadGateway, err.Error())
	case n == nil:
		rw.WriteHeader(http.StatusNoContent)
	default:
		w.writeJSON(rw, http.StatusOK, n)
	}
}

func (w *Worker) handleSync(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.writeError(rw, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body struct {
		Tag string `json:"tag"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxControlBody)).Decode(&body); err != nil {
		w.writeError(rw, http.StatusBadRequest, "invalid sync request: "+err.Error())
		return
	}
	handled, err := w.Sync(r.Context(), strings.TrimSpace(body.Tag))
	if err != nil {
		w.writeError(rw, http.StatusBadGateway, err.Error())
		return
	}
	w.writeJSON(rw, http.StatusOK, map[string]bool{"handled": handled})
}

func (w *Worker) handleNotificationClick(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.writeError(rw, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body struct {
		Action string `json:"action"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, maxControlBody)).Decode(&body); err != nil && err != io.EOF {
			w.writeError(rw, http.StatusBadRequest, "invalid click: "+err.Error())
			return
		}
	}
	w.writeJSON(rw, http.StatusOK, w.NotificationClick(body.Action))
}

func (w *Worker) writeJSON(rw http.ResponseWriter, status int, payload any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(rw).Encode(payload); err != nil {
		w.logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

func (w *Worker) writeError(rw http.ResponseWriter, status int, message string) {
	w.writeJSON(rw, status, map[string]string{"error": message})
}
