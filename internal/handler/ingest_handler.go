// Package handler 存放 Gin 的 HTTP 处理器。
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"yanbao-go/internal/service"
	"yanbao-go/pkg/log"
)

// IngestHandler 结构体定义了摄取相关的处理器。
type IngestHandler struct {
	ingestService service.IngestService
}

// NewIngestHandler 创建一个新的 IngestHandler 实例。
func NewIngestHandler(ingestService service.IngestService) *IngestHandler {
	return &IngestHandler{ingestService: ingestService}
}

// Run 触发一次扫描投递。query 参数 reprocess=true 时全量重投。
func (h *IngestHandler) Run(c *gin.Context) {
	reprocess := c.Query("reprocess") == "true"
	log.Infof("[IngestHandler] 收到摄取触发请求, reprocess=%v, operator=%v", reprocess, c.GetString("operator"))

	summary, err := h.ingestService.Run(c.Request.Context(), reprocess)
	if err != nil {
		log.Errorf("[IngestHandler] 扫描投递失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "扫描投递失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": summary, "message": "success"})
}

// Retry 重投单个文档。
func (h *IngestHandler) Retry(c *gin.Context) {
	contentHash := c.Param("hash")
	log.Infof("[IngestHandler] 收到重投请求, hash=%s, operator=%v", contentHash, c.GetString("operator"))

	if err := h.ingestService.Retry(c.Request.Context(), contentHash); err != nil {
		if errors.Is(err, service.ErrDocumentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "文档不存在"})
			return
		}
		log.Errorf("[IngestHandler] 重投失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "重投失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "message": "success"})
}

// Remove 彻底下线单个文档。
func (h *IngestHandler) Remove(c *gin.Context) {
	contentHash := c.Param("hash")
	log.Infof("[IngestHandler] 收到下线请求, hash=%s, operator=%v", contentHash, c.GetString("operator"))

	if err := h.ingestService.Remove(c.Request.Context(), contentHash); err != nil {
		if errors.Is(err, service.ErrDocumentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "文档不存在"})
			return
		}
		log.Errorf("[IngestHandler] 下线失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "下线失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "message": "success"})
}

// Status 返回清单状态与双库计数。
func (h *IngestHandler) Status(c *gin.Context) {
	report, err := h.ingestService.Status(c.Request.Context())
	if err != nil {
		log.Errorf("[IngestHandler] 查询状态失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询状态失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": report, "message": "success"})
}

// Validation 返回校验报告: 成功率与跨库对账结果。
func (h *IngestHandler) Validation(c *gin.Context) {
	report, err := h.ingestService.Validation(c.Request.Context())
	if err != nil {
		log.Errorf("[IngestHandler] 生成校验报告失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "生成校验报告失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": report, "message": "success"})
}
