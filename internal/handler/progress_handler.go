package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"yanbao-go/internal/pipeline"
	"yanbao-go/pkg/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ProgressHandler 结构体定义了摄取进度订阅的处理器。
type ProgressHandler struct {
	hub *pipeline.Hub
}

// NewProgressHandler 创建一个新的 ProgressHandler 实例。
func NewProgressHandler(hub *pipeline.Hub) *ProgressHandler {
	return &ProgressHandler{hub: hub}
}

// Subscribe 把连接升级为 WebSocket 并订阅摄取进度事件。
func (h *ProgressHandler) Subscribe(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Errorf("[ProgressHandler] WebSocket 升级失败: %v", err)
		return
	}
	h.hub.Register(conn)

	// 读取循环只用于感知对端关闭
	go func() {
		defer h.hub.Unregister(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
