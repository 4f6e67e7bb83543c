package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// 查询任务
func (h *Handler) GetTask(c *gin.Context) {
	task, err := h.svc.Task(c.Param("task_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// 会话进度 WebSocket 推送：流水线快照有变化时发送
func (h *Handler) SessionWebSocket(c *gin.Context) {
	sess, err := h.svc.Sessions.Get(c.Param("session_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// 读循环只用于感知断开
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.StreamInterval)
	defer ticker.Stop()

	var last []byte
	for {
		msg, err := json.Marshal(sess.Pipeline.Snapshot())
		if err != nil {
			h.log.Error("Snapshot encode failed", zap.Error(err))
			return
		}
		if !bytes.Equal(msg, last) {
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
			last = msg
		}
		select {
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
		}
	}
}
