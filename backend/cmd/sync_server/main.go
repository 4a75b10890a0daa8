package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/IBM/sarama"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"syncServer/backend/internal/cache"
	"syncServer/backend/internal/collab"
	"syncServer/backend/internal/httpapi/handlers"
	"syncServer/backend/internal/httpapi/middleware"
	"syncServer/backend/internal/room"
	"syncServer/backend/internal/store"
	"syncServer/backend/internal/ws"
)

type SyncConfig struct {
	Running struct {
		Port int `mapstructure:"Port"`
	} `mapstructure:"Running"`
	Mysql struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"Mysql"`
	Redis struct {
		Addrs    []string `mapstructure:"addrs"`
		Password string   `mapstructure:"password"`
	} `mapstructure:"Redis"`
	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"Kafka"`
	Auth struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"Auth"`
	Sync struct {
		// 去抖窗口（毫秒），默认 25
		DebounceMs int `mapstructure:"debounceMs"`
		// 单次提交超时（毫秒），默认 5000；超时按可重试失败处理
		CommitTimeoutMs int `mapstructure:"commitTimeoutMs"`
		// 并发提交上限
		MaxConcurrentCommits int `mapstructure:"maxConcurrentCommits"`
		// Redis 在线状态 TTL（秒）
		PresenceTTLSeconds int `mapstructure:"presenceTTLSeconds"`
	} `mapstructure:"Sync"`
}

func initConfig() (*SyncConfig, error) {
	cfg := &SyncConfig{}
	v := viper.New()
	v.SetConfigName("syncConfig")
	v.SetConfigType("yaml")
	// 兼容从项目根目录或 backend 目录启动
	v.AddConfigPath("./backend/config")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")
	v.SetDefault("Sync.debounceMs", 25)
	v.SetDefault("Sync.commitTimeoutMs", 5000)
	v.SetDefault("Sync.maxConcurrentCommits", 100)
	v.SetDefault("Sync.presenceTTLSeconds", 600)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	cfg, err := initConfig()
	if err != nil {
		log.Fatalf("init config failed: %v", err)
	}

	rdb := redis.NewClusterClient(&redis.ClusterOptions{
		Addrs:    cfg.Redis.Addrs,
		Password: cfg.Redis.Password,
	})
	if err = rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	defer rdb.Close()

	db, err := store.InitMySQL(cfg.Mysql.DSN)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// === 初始化 Kafka Producer ===
	kafkaCfg := sarama.NewConfig()
	// SyncProducer 必须开启 Return.Successes
	kafkaCfg.Producer.Return.Successes = true
	kafkaCfg.Producer.RequiredAcks = sarama.WaitForLocal
	producer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, kafkaCfg)
	if err != nil {
		log.Fatalf("Failed to connect kafka: %v", err)
	}
	defer producer.Close()

	presenceCache := cache.NewRedisPresence(rdb)
	registry := room.NewRegistry()
	hub := ws.NewHub(registry, presenceCache)

	fieldStore := store.NewFieldStore(db)
	documentStore := store.NewDocumentStore(db)

	dispatcher := collab.NewDispatcher(producer, cfg.Kafka.Topic, collab.DispatcherOptions{
		QueueSize:   10_000,
		Workers:     4,
		MaxRetry:    3,
		BaseBackoff: 50 * time.Millisecond,
		MaxBackoff:  1 * time.Second,
	})
	resolver := collab.NewResolver(hub, dispatcher)
	coalescer := collab.NewCoalescer(fieldStore, resolver, registry, collab.CoalescerOptions{
		Debounce:             time.Duration(cfg.Sync.DebounceMs) * time.Millisecond,
		CommitTimeout:        time.Duration(cfg.Sync.CommitTimeoutMs) * time.Millisecond,
		MaxConcurrentCommits: cfg.Sync.MaxConcurrentCommits,
	})

	presenceTTL := time.Duration(cfg.Sync.PresenceTTLSeconds) * time.Second
	manager := ws.NewManager(hub, coalescer, documentStore, presenceTTL)
	docHandlers := handlers.NewDocumentHandlers(documentStore)

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	sync := r.Group("/sync")
	// 鉴权中间件：从 Authorization 或 ?token= 提取 token，调用 /v1/auth/verify，写入 userId/username
	sync.Use(middleware.AuthMiddleware(cfg.Auth.Path))
	sync.GET("/ws", manager.WebSocketConnect)
	sync.POST("/documents", docHandlers.CreateDocument)
	sync.GET("/documents/:documentID", docHandlers.GetDocument)
	sync.POST("/documents/:documentID/blocks", docHandlers.CreateBlock)
	sync.GET("/documents/:documentID/blocks", docHandlers.ListBlocks)

	r.GET("/sync/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "ok"})
	})

	port := cfg.Running.Port
	_ = r.Run(fmt.Sprintf(":%d", port))
}
