package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"yanbao-go/internal/service"
	"yanbao-go/pkg/log"
)

// MetricHandler 结构体定义了公司与指标查询相关的处理器。
type MetricHandler struct {
	metricService service.MetricService
}

// NewMetricHandler 创建一个新的 MetricHandler 实例。
func NewMetricHandler(metricService service.MetricService) *MetricHandler {
	return &MetricHandler{metricService: metricService}
}

// ListCompanies 返回全部公司档案。
func (h *MetricHandler) ListCompanies(c *gin.Context) {
	companies, err := h.metricService.ListCompanies()
	if err != nil {
		log.Errorf("[MetricHandler] 查询公司列表失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询公司列表失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": companies, "message": "success"})
}

// CompanyMetrics 返回某公司的在役指标, 可按规范字段名过滤。
func (h *MetricHandler) CompanyMetrics(c *gin.Context) {
	name := c.Param("name")
	field := c.Query("field")

	metrics, err := h.metricService.CompanyMetrics(name, field)
	if err != nil {
		if errors.Is(err, service.ErrCompanyNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "公司不存在"})
			return
		}
		log.Errorf("[MetricHandler] 查询公司指标失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询公司指标失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": metrics, "message": "success"})
}

// Compare 按字段名横向对比多家公司, companies 参数为逗号分隔的公司名。
func (h *MetricHandler) Compare(c *gin.Context) {
	companiesParam := c.Query("companies")
	field := c.Query("field")
	if companiesParam == "" || field == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "companies 与 field 参数不能为空"})
		return
	}

	var names []string
	for _, name := range strings.Split(companiesParam, ",") {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			names = append(names, trimmed)
		}
	}

	result, err := h.metricService.Compare(names, field)
	if err != nil {
		if errors.Is(err, service.ErrCompanyNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		log.Errorf("[MetricHandler] 指标对比失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "指标对比失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": result, "message": "success"})
}
