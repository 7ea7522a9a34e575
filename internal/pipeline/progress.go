package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"yanbao-go/pkg/log"
)

const progressTTL = 24 * time.Hour

// Progress 用 Redis 位图记录每个文档的页面完成情况。
// 进度只用于观测，写入失败不影响流水线，降级为日志。
type Progress struct {
	rdb *redis.Client
}

// NewProgress 创建进度记录器。
func NewProgress(rdb *redis.Client) *Progress {
	return &Progress{rdb: rdb}
}

func pagesKey(contentHash string) string {
	return fmt.Sprintf("ingest:pages:%s", contentHash)
}

// Start 重置文档的页面位图。
func (p *Progress) Start(ctx context.Context, contentHash string) {
	if p.rdb == nil {
		return
	}
	if err := p.rdb.Del(ctx, pagesKey(contentHash)).Err(); err != nil {
		log.Warnf("[Progress] 重置页面位图失败: %v", err)
	}
}

// MarkPage 标记某页已完成（成功或终态失败都算完成）。
func (p *Progress) MarkPage(ctx context.Context, contentHash string, page int) {
	if p.rdb == nil {
		return
	}
	key := pagesKey(contentHash)
	pipe := p.rdb.Pipeline()
	pipe.SetBit(ctx, key, int64(page), 1)
	pipe.Expire(ctx, key, progressTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warnf("[Progress] 标记页面完成失败: %v", err)
	}
}

// Done 返回已完成的页面数。
func (p *Progress) Done(ctx context.Context, contentHash string) int {
	if p.rdb == nil {
		return 0
	}
	count, err := p.rdb.BitCount(ctx, pagesKey(contentHash), nil).Result()
	if err != nil {
		log.Warnf("[Progress] 读取页面位图失败: %v", err)
		return 0
	}
	return int(count)
}

// Clear 清除文档的进度记录。
func (p *Progress) Clear(ctx context.Context, contentHash string) {
	if p.rdb == nil {
		return
	}
	if err := p.rdb.Del(ctx, pagesKey(contentHash)).Err(); err != nil {
		log.Warnf("[Progress] 清除页面位图失败: %v", err)
	}
}
