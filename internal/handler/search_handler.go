package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"yanbao-go/internal/service"
	"yanbao-go/pkg/log"
)

// SearchHandler 结构体定义了定性文本检索相关的处理器。
type SearchHandler struct {
	searchService service.SearchService
}

// NewSearchHandler 创建一个新的 SearchHandler 实例。
func NewSearchHandler(searchService service.SearchService) *SearchHandler {
	return &SearchHandler{searchService: searchService}
}

// SearchChunks 是处理定性块混合检索请求的 Gin 处理函数。
func (h *SearchHandler) SearchChunks(c *gin.Context) {
	query := c.Query("query")
	if query == "" {
		log.Warnf("[SearchHandler] 检索请求失败: query 参数为空")
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的查询参数"})
		return
	}
	companyName := c.Query("company")
	topK, err := strconv.Atoi(c.DefaultQuery("topK", "10"))
	if err != nil || topK <= 0 {
		topK = 10
	}

	results, err := h.searchService.HybridSearch(c.Request.Context(), query, companyName, topK)
	if err != nil {
		log.Errorf("[SearchHandler] 混合检索服务返回错误: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "检索失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": results, "message": "success"})
}
