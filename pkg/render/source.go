// Package render 提供研报页面图片的读取边界。
// 页面渲染由上游离线完成，渲染产物以 <hash>_page_<n>.png 的命名存放在对象存储中。
package render

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/minio/minio-go/v7"

	"yanbao-go/internal/retry"
	"yanbao-go/pkg/storage"
)

// Page 是一页已渲染的研报图片。
type Page struct {
	Number int
	Object string
}

// Source 是页面来源边界，便于在测试中替换为内存实现。
type Source interface {
	// Pages 列出某文档的所有页面，按页码升序。
	Pages(ctx context.Context, contentHash string) ([]Page, error)
	// PageImage 读取单页图片字节。
	PageImage(ctx context.Context, page Page) ([]byte, error)
}

type minioSource struct {
	bucket string
}

// NewMinioSource 创建基于 MinIO 页面桶的来源。
func NewMinioSource(bucket string) Source {
	return &minioSource{bucket: bucket}
}

func (s *minioSource) Pages(ctx context.Context, contentHash string) ([]Page, error) {
	prefix := contentHash + "_page_"
	objectCh := storage.MinioClient.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})

	var pages []Page
	for object := range objectCh {
		if object.Err != nil {
			return nil, fmt.Errorf("列出页面对象失败: %v: %w", object.Err, retry.ErrTransient)
		}
		num, ok := parsePageNumber(object.Key, prefix)
		if !ok {
			continue
		}
		pages = append(pages, Page{Number: num, Object: object.Key})
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("文档 %s 没有任何已渲染页面: %w", contentHash, retry.ErrCorruptSource)
	}

	sort.Slice(pages, func(i, j int) bool { return pages[i].Number < pages[j].Number })
	return pages, nil
}

func (s *minioSource) PageImage(ctx context.Context, page Page) ([]byte, error) {
	data, err := storage.GetObjectBytes(ctx, s.bucket, page.Object)
	if err != nil {
		return nil, fmt.Errorf("读取第%d页图片失败: %v: %w", page.Number, err, retry.ErrTransient)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("第%d页图片为空: %w", page.Number, retry.ErrCorruptSource)
	}
	return data, nil
}

// parsePageNumber 从 <hash>_page_<n>.png 中解析页码。
func parsePageNumber(key, prefix string) (int, bool) {
	rest := strings.TrimPrefix(key, prefix)
	rest = strings.TrimSuffix(rest, ".png")
	num, err := strconv.Atoi(rest)
	if err != nil || num < 1 {
		return 0, false
	}
	return num, true
}
