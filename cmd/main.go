package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Gopher0727/ChatSync/config"
	"github.com/Gopher0727/ChatSync/internal/api"
	"github.com/Gopher0727/ChatSync/internal/broadcast"
	"github.com/Gopher0727/ChatSync/internal/cache"
	"github.com/Gopher0727/ChatSync/internal/echo"
	"github.com/Gopher0727/ChatSync/internal/handlers"
	"github.com/Gopher0727/ChatSync/internal/middlewares"
	"github.com/Gopher0727/ChatSync/internal/model"
	"github.com/Gopher0727/ChatSync/internal/push"
	"github.com/Gopher0727/ChatSync/internal/routers"
	"github.com/Gopher0727/ChatSync/internal/session"
	"github.com/Gopher0727/ChatSync/internal/storage"
	"github.com/Gopher0727/ChatSync/internal/utils"
	"github.com/Gopher0727/ChatSync/middleware/jwt"
	logger "github.com/Gopher0727/ChatSync/middleware/log"
	"github.com/Gopher0727/ChatSync/utils/ratelimit"
)

func main() {
	path := flag.String("config", "./config.toml", "path to the config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*path)
	if err != nil {
		log.Fatalf("配置初始化失败: %v", err)
	}

	lg, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		log.Fatalf("日志初始化失败: %v", err)
	}
	defer lg.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, lg); err != nil {
		lg.Error("chatsync exited", zap.Error(err))
		lg.Close()
		os.Exit(1)
	}
}

// closer 按注册的逆序释放资源
type closer []func()

func (c *closer) add(fn func()) { *c = append(*c, fn) }

func (c closer) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func run(ctx context.Context, cfg *config.Config, lg *logger.Logger) error {
	var cleanup closer
	defer func() { cleanup.run() }()

	// Redis 同时服务于缓存、跨标签页广播和限流
	var redisClient *redis.Client
	if cfg.Cache.Driver == "redis" || cfg.Broadcast.Driver == "redis" {
		client, err := storage.InitRedis(ctx, &cfg.Redis, lg.Component("redis"))
		if err != nil {
			return fmt.Errorf("redis 初始化失败: %w", err)
		}
		redisClient = client
		cleanup.add(func() { _ = client.Close() })
	}

	kv, err := buildKV(cfg, redisClient, lg)
	if err != nil {
		return err
	}
	store := cache.NewStore(kv, cfg.Cache.Prefix)

	transport, err := buildTransport(cfg, redisClient, lg)
	if err != nil {
		return err
	}
	bus := broadcast.New(transport, lg.Component("broadcast"))
	cleanup.add(func() { _ = bus.Close() })

	// 协程池：后台推送帧、广播发布以及意图接口的请求处理
	pool := utils.NewWorkerPool(cfg.WorkerPool.Size, cfg.WorkerPool.QueueSize, lg.Logger)
	pool.Start()
	cleanup.add(pool.Stop)

	me := model.User{ID: cfg.Session.UserID, Name: cfg.Session.UserName, DisplayName: cfg.Session.DisplayName}
	opts := []session.Option{
		session.WithBus(bus),
		session.WithStore(store),
		session.WithRunner(pool),
		session.WithLogger(lg.Logger),
		session.WithEchoTracker(echo.NewTracker(cfg.Session.EchoTTL)),
		session.WithTypingTTL(cfg.Session.TypingTTL),
	}
	if cfg.Realtime.URL != "" {
		source := push.NewWSSource(cfg.Realtime.URL,
			push.WithToken(cfg.API.Token),
			push.WithTimeouts(cfg.Realtime.WriteTimeout, cfg.Realtime.PingInterval*10/9),
			push.WithLogger(lg.Component("push")),
		)
		adapter := push.NewAdapter(source, lg.Component("push"))
		cleanup.add(adapter.Close)
		opts = append(opts, session.WithRealtime(adapter))
	} else {
		lg.Warn("realtime.url not set, running without push events")
	}

	client := api.NewClient(&cfg.API, lg.Logger)
	sess := session.New(me, cfg.Session.ProjectID, client, opts...)
	cleanup.add(func() { _ = sess.Close() })

	if err := sess.Start(ctx); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	if _, err := sess.LoadChannels(ctx); err != nil {
		// 离线时使用缓存的频道列表继续运行
		lg.Warn("failed to load channels, using cached registry", zap.Error(err))
	}

	tokens, err := buildTokenManager(cfg, me, lg)
	if err != nil {
		return err
	}
	var limiter ratelimit.Limiter = ratelimit.NewMemoryLimiter()
	if redisClient != nil {
		limiter = ratelimit.NewRedisLimiter(redisClient, lg.Component("ratelimit"), true)
	}

	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	mw := middlewares.NewMiddlewareManager(tokens, me.ID, limiter, lg)
	routers.SetupRoutes(r, &cfg.RateLimit, mw, pool, handlers.NewSessionHandler(sess, lg))

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		lg.Info("intent api listening", zap.String("addr", srv.Addr), zap.String("user_id", me.ID))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		lg.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("启动服务器失败: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Warn("http shutdown", zap.Error(err))
	}
	return nil
}

func buildKV(cfg *config.Config, redisClient *redis.Client, lg *logger.Logger) (cache.KV, error) {
	switch cfg.Cache.Driver {
	case "redis":
		return cache.NewRedisKV(redisClient), nil
	case "postgres":
		db, err := storage.InitPostgres(&cfg.Postgres, lg.Component("postgres"), &cache.Entry{})
		if err != nil {
			return nil, fmt.Errorf("postgres 初始化失败: %w", err)
		}
		return cache.NewGormKV(db), nil
	default:
		return cache.NewMemoryKV(), nil
	}
}

func buildTransport(cfg *config.Config, redisClient *redis.Client, lg *logger.Logger) (broadcast.Transport, error) {
	topic := cfg.BroadcastTopic()
	switch cfg.Broadcast.Driver {
	case "redis":
		return broadcast.NewRedisTransport(redisClient, topic, lg.Component("broadcast")), nil
	case "kafka":
		t, err := broadcast.NewKafkaTransport(&cfg.Kafka, topic, lg.Component("broadcast"))
		if err != nil {
			return nil, fmt.Errorf("kafka 初始化失败: %w", err)
		}
		return t, nil
	case "memory":
		// 单进程内没有其他标签页，加入一条私有总线
		return broadcast.NewMemoryBus().Join(), nil
	default:
		return broadcast.Noop{}, nil
	}
}

// buildTokenManager 未配置密钥时生成一次性密钥，并把令牌打印给 UI 壳使用
func buildTokenManager(cfg *config.Config, me model.User, lg *logger.Logger) (*jwt.TokenManager, error) {
	secret := cfg.JWT.Secret
	ephemeral := secret == ""
	if ephemeral {
		secret = uuid.NewString()
	}
	tokens := jwt.NewTokenManager(secret, cfg.JWT.ExpireHours, cfg.JWT.RefreshHours)
	if ephemeral {
		token, err := tokens.GenerateToken(me.ID, me.DisplayName)
		if err != nil {
			return nil, fmt.Errorf("issue shell token: %w", err)
		}
		lg.Warn("jwt.secret not set, using an ephemeral secret")
		fmt.Fprintf(os.Stdout, "intent api token: %s\n", token)
	}
	return tokens, nil
}
