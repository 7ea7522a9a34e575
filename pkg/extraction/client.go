// Package extraction 封装了对 OpenAI 兼容视觉接口的调用，负责单页研报的结构化抽取。
package extraction

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"yanbao-go/internal/config"
	"yanbao-go/internal/retry"
)

// CompanyFacts 是从概览页抽取出的公司与报告元信息。
type CompanyFacts struct {
	Name          string `json:"name"`
	Ticker        string `json:"ticker"`
	Sector        string `json:"sector"`
	BSECode       string `json:"bse_code"`
	BloombergCode string `json:"bloomberg_code"`
	ReportDate    string `json:"report_date"`
	ReportType    string `json:"report_type"`
	Rating        string `json:"rating"`
}

// MetricFact 是单条量化指标。FieldName 为模型原始输出，规范化由注册表完成。
type MetricFact struct {
	FieldName  string  `json:"field_name"`
	Value      float64 `json:"value"`
	Unit       string  `json:"unit"`
	TimePeriod string  `json:"time_period"`
	IsForecast bool    `json:"is_forecast"`
}

// QualitativeChunk 是单段定性文本。
type QualitativeChunk struct {
	SectionHeading string `json:"section_heading"`
	Text           string `json:"text"`
}

// PageResult 是单页抽取结果。Company 仅在概览页非空。
type PageResult struct {
	Company     *CompanyFacts      `json:"company,omitempty"`
	Metrics     []MetricFact       `json:"metrics"`
	Qualitative []QualitativeChunk `json:"qualitative"`
}

// Extractor 是抽取能力边界，便于在测试中替换为假实现。
type Extractor interface {
	// ExtractPage 抽取单页图片。knownFields 作为提示注入，引导模型复用既有字段名。
	ExtractPage(ctx context.Context, image []byte, pageNumber int, knownFields []string) (*PageResult, error)
	// Classify 判断候选字段名是否为既有字段的同义词。
	// 命中返回既有字段名，否则返回空串表示全新字段。
	Classify(ctx context.Context, candidate string, existing []string) (string, error)
}

type openAIClient struct {
	cfg    config.ExtractionConfig
	client *http.Client
}

// NewClient 创建一个 OpenAI 兼容的抽取客户端。
func NewClient(cfg config.ExtractionConfig) Extractor {
	return &openAIClient{
		cfg:    cfg,
		client: &http.Client{Timeout: 120 * time.Second},
	}
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
	Temperature    float64         `json:"temperature"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// pagePrompt 按页面角色返回抽取提示词。研报版式固定：
// 第1页概览、第2页季度数据、第3页财务报表、第4页估值，其后为附注。
func pagePrompt(pageNumber int, knownFields []string) string {
	var b strings.Builder
	b.WriteString("你是一个研报数据抽取引擎。分析图片并只输出一个 JSON 对象，不要输出任何解释文字。\n")
	b.WriteString("JSON 结构: {\"company\": {...} 或 null, \"metrics\": [...], \"qualitative\": [...]}\n")
	b.WriteString("metrics 元素: {\"field_name\", \"value\"(数字), \"unit\", \"time_period\", \"is_forecast\"(布尔)}\n")
	b.WriteString("qualitative 元素: {\"section_heading\", \"text\"}\n")

	switch pageNumber {
	case 1:
		b.WriteString("这是研报概览页。必须抽取 company 对象: name, ticker, sector, bse_code, bloomberg_code, report_date(YYYY-MM-DD), report_type, rating。")
		b.WriteString("同时抽取目标价、当前价、市值等概览指标。\n")
	case 2:
		b.WriteString("这是季度经营数据页。company 置为 null。逐项抽取季度指标，time_period 形如 Q1FY25。\n")
	case 3:
		b.WriteString("这是财务报表页。company 置为 null。抽取损益表、资产负债表、现金流量表中的年度指标，预测年份 is_forecast 置 true。\n")
	case 4:
		b.WriteString("这是估值页。company 置为 null。抽取 PE、PB、EV/EBITDA、ROE 等估值与回报指标。\n")
	default:
		b.WriteString("这是附注页。company 置为 null。抽取页面上出现的任何量化指标与定性段落。\n")
	}

	if len(knownFields) > 0 {
		b.WriteString("已知字段名(语义相同必须复用，不要造新名字): ")
		b.WriteString(strings.Join(knownFields, ", "))
		b.WriteString("\n")
	}
	return b.String()
}

func (c *openAIClient) ExtractPage(ctx context.Context, image []byte, pageNumber int, knownFields []string) (*PageResult, error) {
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(image)
	req := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: pagePrompt(pageNumber, knownFields)},
				{Type: "image_url", ImageURL: &imageURL{URL: dataURL}},
			},
		}},
		ResponseFormat: &responseFormat{Type: "json_object"},
	}

	raw, err := c.complete(ctx, req)
	if err != nil {
		return nil, err
	}

	var result PageResult
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &result); err != nil {
		return nil, fmt.Errorf("解析第%d页抽取结果失败: %w", pageNumber, retry.ErrMalformed)
	}
	for _, m := range result.Metrics {
		if strings.TrimSpace(m.FieldName) == "" {
			return nil, fmt.Errorf("第%d页存在空字段名指标: %w", pageNumber, retry.ErrMalformed)
		}
	}
	return &result, nil
}

func (c *openAIClient) Classify(ctx context.Context, candidate string, existing []string) (string, error) {
	if len(existing) == 0 {
		return "", nil
	}
	prompt := fmt.Sprintf(
		"判断候选指标名 %q 是否与下列既有指标名之一语义相同: %s。\n"+
			"只输出一个 JSON 对象: {\"match\": \"命中的既有名\"} 或 {\"match\": null}。",
		candidate, strings.Join(existing, ", "))
	req := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{{
			Role:    "user",
			Content: []contentPart{{Type: "text", Text: prompt}},
		}},
		ResponseFormat: &responseFormat{Type: "json_object"},
	}

	raw, err := c.complete(ctx, req)
	if err != nil {
		return "", err
	}

	var verdict struct {
		Match *string `json:"match"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &verdict); err != nil {
		return "", fmt.Errorf("解析同义词判定结果失败: %w", retry.ErrMalformed)
	}
	if verdict.Match == nil {
		return "", nil
	}
	// 模型可能返回列表外的名字，只接受既有名
	for _, name := range existing {
		if name == *verdict.Match {
			return name, nil
		}
	}
	return "", nil
}

// complete 发起一次非流式调用并返回首个回复文本。
func (c *openAIClient) complete(ctx context.Context, req chatRequest) (string, error) {
	reqBytes, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/chat/completions", bytes.NewReader(reqBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return "", fmt.Errorf("调用抽取接口超时: %w", retry.ErrTransient)
		}
		return "", fmt.Errorf("调用抽取接口失败: %v: %w", err, retry.ErrTransient)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return "", fmt.Errorf("抽取接口返回 %s: %w", resp.Status, retry.ErrTransient)
		}
		return "", fmt.Errorf("抽取接口返回非200状态: %s, body: %s: %w", resp.Status, string(bodyBytes), retry.ErrMalformed)
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("解析接口响应失败: %w", retry.ErrTransient)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("抽取接口未返回任何结果: %w", retry.ErrTransient)
	}
	return chatResp.Choices[0].Message.Content, nil
}

// stripCodeFence 去掉模型偶尔包裹的 markdown 代码块标记。
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}
