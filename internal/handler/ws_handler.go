package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/examhall/examhall-backend/internal/events"
	"github.com/examhall/examhall-backend/internal/middleware"
	"github.com/examhall/examhall-backend/internal/service"
	ws "github.com/examhall/examhall-backend/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams exam live events (announcements, working time
// updates, attendance checks) to connected exam participants.
type WSHandler struct {
	live       *events.RedisLiveEvents
	conduction *service.ConductionService
	log        zerolog.Logger
	upgrader   websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(live *events.RedisLiveEvents, conduction *service.ConductionService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		live:       live,
		conduction: conduction,
		log:        log.With().Str("component", "ws_handler").Logger(),
		upgrader:   buildUpgrader(allowedOrigins),
	}
}

// LiveEventStream godoc
// WS /ws/v1/student-exams/:student_exam_id/live
// Upgrades to WebSocket and forwards the exam's live events. Only the
// owner of the student exam may connect.
func (h *WSHandler) LiveEventStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	studentExamID, ok := parseUUIDParam(c, "student_exam_id")
	if !ok {
		return
	}
	studentExam, err := h.conduction.GetOwnStudentExam(c.Request.Context(), claims.UserID, studentExamID)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "no access to this student exam"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Int64("user_id", claims.UserID).
		Str("student_exam_id", studentExamID.String()).
		Logger()
	wsLog.Info().Msg("Student connected to live event stream")

	pubsub := h.live.Subscribe(c.Request.Context(), studentExam.ExamID.String())
	defer pubsub.Close()

	// Reader goroutine: answers pings and detects client close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var msg ws.RequestEnvelope
			if err := ws.ReadJSON(conn, &msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					wsLog.Warn().Err(err).Msg("Unexpected close")
				} else {
					wsLog.Debug().Msg("Connection closed")
				}
				return
			}
			switch msg.Action {
			case ws.ActionPing:
				ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong})
			default:
				ws.WriteError(conn, "unknown action: "+string(msg.Action))
			}
		}
	}()

	eventCh := pubsub.Channel()
	for {
		select {
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		case msg, open := <-eventCh:
			if !open {
				return
			}
			// Targeted events (attendance checks) only go to the
			// addressed student exam.
			var event service.LiveEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				wsLog.Warn().Err(err).Msg("Malformed live event payload")
				continue
			}
			if event.StudentExamID != nil && *event.StudentExamID != studentExamID {
				continue
			}
			out := ws.LiveEventMessage{
				Event:   ws.EventLiveEvent,
				Payload: []byte(msg.Payload),
			}
			if err := ws.WriteTyped(conn, out); err != nil {
				wsLog.Debug().Err(err).Msg("Write failed, dropping connection")
				return
			}
		}
	}
}
