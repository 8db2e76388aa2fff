package web

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"YoloBench/logger"
	"YoloBench/pipeline"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type instance struct {
	id          string
	conn        *websocket.Conn
	lastActive  atomic.Int64
	closeOnce   sync.Once
	cancelTimer chan struct{}
}

func (inst *instance) touch() {
	inst.lastActive.Store(time.Now().UnixNano())
}

func (inst *instance) idle() time.Duration {
	return time.Since(time.Unix(0, inst.lastActive.Load()))
}

// close sends a close frame with reason and stops the idle monitor.
func (inst *instance) close(reason string) {
	inst.closeOnce.Do(func() {
		deadline := time.Now().Add(time.Second)
		_ = inst.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason), deadline)
		_ = inst.conn.Close()
		close(inst.cancelTimer)
	})
}

type sessionTable struct {
	mu       sync.RWMutex
	sessions map[string]*instance
}

func newSessionTable() *sessionTable {
	return &sessionTable{sessions: map[string]*instance{}}
}

func (t *sessionTable) add(inst *instance) {
	t.mu.Lock()
	t.sessions[inst.id] = inst
	t.mu.Unlock()
}

func (t *sessionTable) release(id, reason string) bool {
	t.mu.Lock()
	inst, ok := t.sessions[id]
	if ok {
		delete(t.sessions, id)
	}
	t.mu.Unlock()
	if ok {
		inst.close(reason)
	}
	return ok
}

func (t *sessionTable) count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

func (t *sessionTable) closeAll() {
	t.mu.RLock()
	ids := make([]string, 0, len(t.sessions))
	for id := range t.sessions {
		ids = append(ids, id)
	}
	t.mu.RUnlock()
	for _, id := range ids {
		t.release(id, "server shutting down")
	}
}

func (s *Server) startIdleMonitor(inst *instance) {
	go func() {
		ticker := time.NewTicker(s.opts.IdleTimeout / 10)
		defer ticker.Stop()
		for {
			select {
			case <-inst.cancelTimer:
				return
			case <-ticker.C:
				if inst.idle() > s.opts.IdleTimeout {
					s.sessions.release(inst.id, fmt.Sprintf("%d ms not active, released", s.opts.IdleTimeout.Milliseconds()))
					logger.Log().Info("websocket session idle", zap.String("session", inst.id))
					return
				}
			}
		}
	}()
}

// handleWS runs a live session: every binary message (or base64 text,
// optionally a data URL) is an uploaded image, answered with the JSON
// outcome of a detection at the query's conf and imgsz.
func (s *Server) handleWS(c *gin.Context) {
	conf, size, err := s.parseNumbers(c.Query(fieldConf), c.Query(fieldSize))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(MaxUploadBytes)
	inst := &instance{id: uuid.NewString(), conn: conn, cancelTimer: make(chan struct{})}
	inst.touch()
	s.sessions.add(inst)
	defer s.opts.Metrics.SessionOpened()()
	s.startIdleMonitor(inst)
	log := logger.Log().With(zap.String("session", inst.id))
	log.Info("websocket session opened", zap.Float32("conf", conf), zap.Int("size", size))

	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			s.sessions.release(inst.id, "closed")
			log.Info("websocket session closed", zap.Error(err))
			return
		}
		inst.touch()
		var data []byte
		switch mt {
		case websocket.BinaryMessage:
			data = msg
		case websocket.TextMessage:
			data, err = decodeBase64Image(string(msg))
			if err != nil {
				_ = conn.WriteJSON(gin.H{"error": fmt.Sprintf("invalid image: %v", err)})
				continue
			}
		default:
			_ = conn.WriteJSON(gin.H{"error": "unsupported message type"})
			continue
		}
		reply := s.detectMessage(c, data, conf, size)
		if err := conn.WriteJSON(reply); err != nil {
			s.sessions.release(inst.id, "write failed")
			log.Warn("websocket write failed", zap.Error(err))
			return
		}
	}
}

func (s *Server) detectMessage(c *gin.Context, data []byte, conf float32, size int) (reply any) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log().Error("websocket detect panic recovered", zap.Any("panic", r))
			reply = gin.H{"error": fmt.Sprintf("inference error: %v", r)}
		}
	}()
	out, err := s.pipe.Run(c.Request.Context(), pipeline.Params{
		Source:        pipeline.SourceUpload,
		Upload:        data,
		Confidence:    conf,
		InferenceSize: size,
		Detect:        true,
	})
	if err != nil {
		body := gin.H{"error": err.Error(), "status": statusOf(err)}
		if out != nil {
			body["outcome"] = newOutcomeJSON(out)
		}
		return body
	}
	return newOutcomeJSON(out)
}

// decodeBase64Image accepts plain base64 or a data:image/...;base64, URL.
func decodeBase64Image(b64 string) ([]byte, error) {
	b64 = strings.TrimSpace(b64)
	if i := strings.Index(b64, ","); i != -1 && strings.HasPrefix(b64, "data:") {
		b64 = b64[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("empty image")
	}
	return data, nil
}
