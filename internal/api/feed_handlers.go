package api

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/onnwee/reelrank/internal/feed"
	"github.com/onnwee/reelrank/internal/middleware"
)

// FeedResponse is one page of friend activity.
type FeedResponse struct {
	Activities []feed.Activity `json:"activities"`
	NextCursor *string         `json:"nextCursor"`
}

// FeedHandlers serves the friend activity feed.
type FeedHandlers struct {
	service     *feed.Service
	broadcaster *feed.Broadcaster
	upgrader    websocket.Upgrader
}

// NewFeedHandlers creates a new FeedHandlers instance. Live connections are
// accepted from allowedOrigins, or from the API's own host when the list is
// empty.
func NewFeedHandlers(service *feed.Service, broadcaster *feed.Broadcaster, allowedOrigins []string) *FeedHandlers {
	h := &FeedHandlers{service: service, broadcaster: broadcaster}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

// originChecker returns a CheckOrigin for the upgrader.
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o = strings.TrimSpace(o); o != "" {
			set[o] = true
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if len(set) > 0 {
			return set[origin]
		}
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
}

// List handles GET /feed?limit=&cursor=.
func (h *FeedHandlers) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			fail(w, r, http.StatusBadRequest, ErrCodeValidation, "limit must be a positive integer")
			return
		}
		limit = n
	}
	cursor, err := feed.ParseCursor(q.Get("cursor"))
	if err != nil {
		fail(w, r, http.StatusBadRequest, ErrCodeInvalidCursor, "cursor is not valid")
		return
	}

	activities, next, err := h.service.List(r.Context(), middleware.GetUserID(r.Context()), feed.ClampLimit(limit), cursor)
	if err != nil {
		if errors.Is(err, feed.ErrInvalidCursor) {
			fail(w, r, http.StatusBadRequest, ErrCodeInvalidCursor, "cursor is not valid")
			return
		}
		failInternal(w, r, "failed to load feed", err)
		return
	}

	resp := FeedResponse{Activities: activities}
	if resp.Activities == nil {
		resp.Activities = []feed.Activity{}
	}
	if next != nil {
		encoded := next.Encode()
		resp.NextCursor = &encoded
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// Live handles GET /feed/live. The connection receives a JSON message for
// each ranking made by someone the caller follows.
func (h *FeedHandlers) Live(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		fail(w, r, http.StatusBadRequest, ErrCodeBadRequest, "Expected a websocket upgrade")
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		slog.InfoContext(r.Context(), "live feed upgrade failed", "error", err)
		return
	}
	h.broadcaster.Serve(r.Context(), middleware.GetUserID(r.Context()), conn)
}
