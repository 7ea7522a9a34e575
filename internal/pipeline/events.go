package pipeline

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"yanbao-go/pkg/log"
)

// 事件类型。
const (
	EventDocumentStarted  = "document_started"
	EventPageCompleted    = "page_completed"
	EventPageFailed       = "page_failed"
	EventDocumentFinished = "document_finished"
)

// Event 是推送给订阅方的摄取进度事件。
type Event struct {
	Type         string    `json:"type"`
	DocumentHash string    `json:"documentHash"`
	FileName     string    `json:"fileName,omitempty"`
	Page         int       `json:"page,omitempty"`
	PagesDone    int       `json:"pagesDone"`
	PagesTotal   int       `json:"pagesTotal"`
	Status       string    `json:"status,omitempty"`
	Message      string    `json:"message,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Hub 管理进度订阅的 WebSocket 连接并向所有连接广播事件。
// 慢消费者直接断开，不阻塞流水线。
type Hub struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewHub 创建事件广播中心。
func NewHub() *Hub {
	return &Hub{conns: make(map[*websocket.Conn]struct{})}
}

// Register 登记一个订阅连接。
func (h *Hub) Register(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn] = struct{}{}
	log.Debugf("[Hub] 新增进度订阅, 当前连接数=%d", len(h.conns))
}

// Unregister 移除并关闭一个订阅连接。
func (h *Hub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[conn]; ok {
		delete(h.conns, conn)
		conn.Close()
	}
}

// Broadcast 向所有订阅连接推送事件。写失败的连接被移除。
func (h *Hub) Broadcast(event Event) {
	event.Timestamp = time.Now()
	data, err := json.Marshal(event)
	if err != nil {
		log.Errorf("[Hub] 序列化进度事件失败: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		conn.SetWriteDeadline(time.Now().Add(3 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			delete(h.conns, conn)
			conn.Close()
		}
	}
}
