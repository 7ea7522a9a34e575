// Package main 是应用程序的入口点。
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"yanbao-go/internal/config"
	"yanbao-go/internal/handler"
	"yanbao-go/internal/manifest"
	"yanbao-go/internal/middleware"
	"yanbao-go/internal/pipeline"
	"yanbao-go/internal/repository"
	"yanbao-go/internal/schema"
	"yanbao-go/internal/service"
	"yanbao-go/pkg/database"
	"yanbao-go/pkg/embedding"
	"yanbao-go/pkg/es"
	"yanbao-go/pkg/extraction"
	"yanbao-go/pkg/kafka"
	"yanbao-go/pkg/log"
	"yanbao-go/pkg/render"
	"yanbao-go/pkg/storage"
	"yanbao-go/pkg/token"
)

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "配置文件路径")
	once := flag.Bool("once", false, "批处理模式: 同步处理全部待处理文档后退出")
	reprocess := flag.Bool("reprocess", false, "配合 -once: 忽略清单中的成功状态全量重处理")
	mintToken := flag.String("mint-token", "", "为指定操作员签发访问令牌后退出")
	flag.Parse()

	// 1. 初始化配置
	config.Init(*configPath)
	cfg := config.Conf

	// 运维入口: 签发操作员令牌
	if *mintToken != "" {
		tok, err := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.TokenExpireHours).GenerateToken(*mintToken)
		if err != nil {
			fmt.Fprintf(os.Stderr, "签发令牌失败: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(tok)
		return
	}

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、Redis、对象存储与 Elasticsearch
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	storage.InitMinIO(cfg.MinIO)
	if err := es.InitES(cfg.Elasticsearch); err != nil {
		log.Errorf("es 初始化失败 %s", err)
		return
	}

	// 4. 加载注册表与处理清单
	registry, err := schema.Load(cfg.Schema.RegistryPath)
	if err != nil {
		log.Fatal("加载字段注册表失败", err)
	}
	tracker, err := manifest.Load(cfg.Manifest.Path)
	if err != nil {
		log.Fatal("加载处理清单失败", err)
	}
	errLog := manifest.NewErrorLog(cfg.Manifest.ErrorLogPath)

	// 5. 初始化 Repository
	companyRepo := repository.NewCompanyRepository(database.DB)
	documentRepo := repository.NewDocumentRepository(database.DB)
	metricRepo := repository.NewMetricRepository(database.DB)
	statsRepo := repository.NewStatsRepository(database.DB)

	// 6. 初始化抽取与写入流水线
	embeddingClient := embedding.NewClient(cfg.Embedding)
	extractor := extraction.NewClient(cfg.Extraction)
	indexer := es.NewChunkIndexer(es.ESClient, cfg.Elasticsearch.IndexName)
	writer := pipeline.NewWriter(companyRepo, documentRepo, metricRepo, indexer, embeddingClient, cfg.Extraction.Model)
	hub := pipeline.NewHub()
	progress := pipeline.NewProgress(database.RDB)
	pageSource := render.NewMinioSource(cfg.MinIO.PageBucket)
	scheduler := pipeline.NewScheduler(cfg.Ingest, pageSource, extractor, registry, tracker, errLog, writer, hub, progress)

	// 7. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.TokenExpireHours)
	ingestService := service.NewIngestService(scheduler, writer, tracker, registry, progress, indexer, statsRepo, cfg.MinIO)
	metricService := service.NewMetricService(companyRepo, metricRepo)
	searchService := service.NewSearchService(embeddingClient, es.ESClient, cfg.Elasticsearch)

	// 批处理模式: 同步处理后按成功率决定退出码
	if *once {
		rate, err := ingestService.RunSync(context.Background(), *reprocess)
		if err != nil {
			log.Fatal("批处理执行失败", err)
		}
		if rate < cfg.Ingest.MinSuccessRate {
			log.Errorf("文档成功率 %.2f 低于阈值 %.2f", rate, cfg.Ingest.MinSuccessRate)
			log.Sync()
			os.Exit(1)
		}
		log.Infof("批处理完成, 文档成功率 %.2f", rate)
		return
	}

	// 8. 启动任务队列与后台消费者
	kafka.InitProducer(cfg.Kafka)
	go kafka.StartConsumer(cfg.Kafka, scheduler)

	// 9. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 10. 注册路由
	ingestHandler := handler.NewIngestHandler(ingestService)
	metricHandler := handler.NewMetricHandler(metricService)
	searchHandler := handler.NewSearchHandler(searchService)
	progressHandler := handler.NewProgressHandler(hub)

	apiV1 := r.Group("/api/v1")
	{
		// 摄取路由组: 变更类接口需要操作员认证
		ingest := apiV1.Group("/ingest")
		{
			authed := ingest.Group("/")
			authed.Use(middleware.OperatorAuth(jwtManager))
			{
				authed.POST("/run", ingestHandler.Run)
				authed.POST("/retry/:hash", ingestHandler.Retry)
				authed.DELETE("/:hash", ingestHandler.Remove)
			}
			ingest.GET("/status", ingestHandler.Status)
			ingest.GET("/validation", ingestHandler.Validation)
			ingest.GET("/progress", progressHandler.Subscribe)
		}

		// 公司与指标查询路由组
		companies := apiV1.Group("/companies")
		{
			companies.GET("", metricHandler.ListCompanies)
			companies.GET("/:name/metrics", metricHandler.CompanyMetrics)
		}
		apiV1.GET("/metrics/compare", metricHandler.Compare)

		// 检索路由组
		search := apiV1.Group("/search")
		{
			search.GET("/chunks", searchHandler.SearchChunks)
		}
	}

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}
	log.Info("服务已优雅关闭")
}
