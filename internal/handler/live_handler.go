package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/noah-isme/mili-llama-api/internal/docstore"
	"github.com/noah-isme/mili-llama-api/internal/models"
	"github.com/noah-isme/mili-llama-api/internal/service"
	appErrors "github.com/noah-isme/mili-llama-api/pkg/errors"
	"github.com/noah-isme/mili-llama-api/pkg/response"
)

const (
	liveWriteWait  = 10 * time.Second
	livePongWait   = 60 * time.Second
	livePingPeriod = (livePongWait * 9) / 10
	liveSendBuffer = 16
)

type liveSource interface {
	Subscribe(ctx context.Context, collection string, filters docstore.Filters, onSnapshot docstore.SnapshotFunc, onError docstore.ErrorFunc) (docstore.Subscription, error)
}

// liveFrame is pushed to the client after every snapshot or terminal error.
type liveFrame struct {
	Type       string           `json:"type"`
	Collection string           `json:"collection"`
	Items      []any            `json:"items"`
	Error      *appErrors.Error `json:"error,omitempty"`
}

// liveCommand is sent by the client to change the filters of its view.
type liveCommand struct {
	Type    string           `json:"type"`
	Filters docstore.Filters `json:"filters"`
}

// LiveHandler streams live collection views over WebSocket.
type LiveHandler struct {
	source             liveSource
	metrics            *service.MetricsService
	logger             *zap.Logger
	clearOnResubscribe bool
	upgrader           websocket.Upgrader
}

// NewLiveHandler builds the handler. allowOrigin decides which browser
// origins may open a stream; nil accepts all.
func NewLiveHandler(source liveSource, metrics *service.MetricsService, logger *zap.Logger, clearOnResubscribe bool, allowOrigin func(origin string) bool) *LiveHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LiveHandler{
		source:             source,
		metrics:            metrics,
		logger:             logger,
		clearOnResubscribe: clearOnResubscribe,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowOrigin == nil || allowOrigin(origin)
			},
		},
	}
}

// liveMapper returns the typed mapper of a collection that may be streamed.
func liveMapper(collection string) (func(docstore.Document) any, bool) {
	parts := strings.Split(collection, "/")
	switch {
	case collection == models.CollectionAssignments:
		return func(d docstore.Document) any { return models.AssignmentFromDocument(d) }, true
	case collection == models.CollectionSchools:
		return func(d docstore.Document) any { return models.SchoolFromDocument(d) }, true
	case collection == models.CollectionTeachers:
		return func(d docstore.Document) any { return models.TeacherFromDocument(d) }, true
	case len(parts) == 3 && parts[0] == models.CollectionSchools && parts[1] != "" && parts[2] == "Classes":
		return func(d docstore.Document) any { return models.ClassFromDocument(d) }, true
	}
	return nil, false
}

// queryFilters turns query parameters into equality filters. "true" and
// "false" match booleans; everything else matches strings.
func queryFilters(c *gin.Context) docstore.Filters {
	filters := docstore.Filters{}
	for key, values := range c.Request.URL.Query() {
		if key == "access_token" || len(values) == 0 {
			continue
		}
		switch values[0] {
		case "true":
			filters[key] = true
		case "false":
			filters[key] = false
		default:
			filters[key] = values[0]
		}
	}
	return filters
}

// Stream godoc
// @Summary Live collection view
// @Description Upgrades to WebSocket and pushes the full filtered result set after every change. Query parameters are equality filters. Send {"type":"subscribe","filters":{...}} to change filters.
// @Tags Live
// @Param collection path string true "Assignments, Teachers, Schools or Schools/{schoolId}/Classes"
// @Success 101
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /live/{collection} [get]
func (h *LiveHandler) Stream(c *gin.Context) {
	collection := strings.Trim(c.Param("collection"), "/")
	mapper, ok := liveMapper(collection)
	if !ok {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "collection cannot be streamed"))
		return
	}
	filters := queryFilters(c)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	session := &liveSession{conn: conn, send: make(chan []byte, liveSendBuffer), done: make(chan struct{}), cancel: cancel, logger: h.logger}
	view := service.NewLiveCollection(h.source, collection, mapper, service.LiveCollectionOptions[any]{
		ClearOnResubscribe: h.clearOnResubscribe,
		Metrics:            h.metrics,
		Logger:             h.logger,
		OnChange: func(items []any, err error) {
			session.push(collection, items, err)
		},
	})

	go session.writePump()
	defer session.close()
	defer view.Unsubscribe()

	// a failed subscribe is already pushed to the client as an error frame
	_ = view.Subscribe(ctx, filters)
	session.readPump(func(cmd liveCommand) {
		if cmd.Type == "subscribe" {
			_ = view.Subscribe(ctx, cmd.Filters)
		}
	})
}

type liveSession struct {
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	cancel context.CancelFunc
	once   sync.Once
	logger *zap.Logger
}

// push never blocks the store callback. A client that falls behind a full
// buffer is disconnected.
func (s *liveSession) push(collection string, items []any, err error) {
	frame := liveFrame{Type: "snapshot", Collection: collection, Items: items}
	if err != nil {
		frame.Type = "error"
		frame.Error = appErrors.FromError(err)
	}
	payload, mErr := json.Marshal(frame)
	if mErr != nil {
		s.logger.Error("marshal live frame", zap.Error(mErr))
		return
	}
	select {
	case <-s.done:
	case s.send <- payload:
	default:
		s.logger.Warn("live client too slow, disconnecting", zap.String("collection", collection))
		s.close()
	}
}

func (s *liveSession) close() {
	s.once.Do(func() {
		close(s.done)
		s.cancel()
		_ = s.conn.Close()
	})
}

func (s *liveSession) readPump(onCommand func(liveCommand)) {
	s.conn.SetReadLimit(64 * 1024)
	_ = s.conn.SetReadDeadline(time.Now().Add(livePongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(livePongWait))
	})
	for {
		var cmd liveCommand
		if err := s.conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("live client closed", zap.Error(err))
			}
			return
		}
		onCommand(cmd)
	}
}

func (s *liveSession) writePump() {
	ticker := time.NewTicker(livePingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case payload := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.close()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.close()
				return
			}
		}
	}
}
