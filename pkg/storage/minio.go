// Package storage 提供了与对象存储服务（如 MinIO）交互的功能。
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"yanbao-go/internal/config"
	"yanbao-go/pkg/log"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioClient 是一个全局的 MinIO 客户端实例。
var MinioClient *minio.Client

// ReportObject 描述研报桶中的一个源文件。
type ReportObject struct {
	Name        string
	ContentHash string // 对象的 ETag（MD5），作为文档内容指纹
	Size        int64
}

// InitMinIO 初始化 MinIO 客户端并确保研报桶与页面桶存在。
func InitMinIO(cfg config.MinIOConfig) {
	var err error

	MinioClient, err = minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		log.Fatal("初始化 MinIO 客户端失败", err)
	}

	log.Info("MinIO 客户端初始化成功")

	ctx := context.Background()
	for _, bucketName := range []string{cfg.ReportBucket, cfg.PageBucket} {
		exists, err := MinioClient.BucketExists(ctx, bucketName)
		if err != nil {
			log.Fatal("检查 MinIO 存储桶失败", err)
		}
		if !exists {
			log.Infof("存储桶 '%s' 不存在，正在创建...", bucketName)
			if err := MinioClient.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
				log.Fatal("创建 MinIO 存储桶失败", err)
			}
			log.Infof("存储桶 '%s' 创建成功", bucketName)
		} else {
			log.Infof("存储桶 '%s' 已存在", bucketName)
		}
	}
}

// ListReports 列出研报桶中所有 PDF 对象及其内容指纹。
func ListReports(ctx context.Context, bucketName string) ([]ReportObject, error) {
	var reports []ReportObject
	for object := range MinioClient.ListObjects(ctx, bucketName, minio.ListObjectsOptions{Recursive: true}) {
		if object.Err != nil {
			return nil, fmt.Errorf("列出研报桶对象失败: %w", object.Err)
		}
		if !strings.HasSuffix(strings.ToLower(object.Key), ".pdf") {
			continue
		}
		reports = append(reports, ReportObject{
			Name:        object.Key,
			ContentHash: strings.Trim(object.ETag, "\""),
			Size:        object.Size,
		})
	}
	return reports, nil
}

// GetObjectBytes 将指定对象完整读入内存并返回其内容。
func GetObjectBytes(ctx context.Context, bucketName, objectName string) ([]byte, error) {
	object, err := MinioClient.GetObject(ctx, bucketName, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("从 MinIO 下载对象失败: %w", err)
	}
	defer object.Close()

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, object); err != nil {
		return nil, fmt.Errorf("读取 MinIO 对象流失败: %w", err)
	}
	return buf.Bytes(), nil
}
