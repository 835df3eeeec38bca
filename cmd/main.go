package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wb-go/wbf/config"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"campusevents/cmd/buildCFG"
	"campusevents/internal/api"
	"campusevents/internal/cache"
	notifyWorker "campusevents/internal/consumerWorker"
	"campusevents/internal/mailer"
	"campusevents/internal/rabbit"
	"campusevents/internal/repo"
	"campusevents/internal/service"
)

func main() {
	zlog.Init()
	log := zlog.Logger

	cfg := config.New()
	if err := cfg.Load("config.yaml", "", "'"); err != nil {
		log.Fatal().Msgf("failed to load configuration: %v", err)
	}
	serverCfg := buildCFG.BuildServerConfig(cfg, &log)

	masterDSN, slaveDSNs, poolOptions, err := buildCFG.BuildDBConfig(cfg, &log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build DB config")
	}
	db, err := dbpg.New(masterDSN, slaveDSNs, poolOptions)
	if err != nil {
		log.Fatal().Msgf("failed to connect to DB: %v", err)
	}
	if err := db.Master.Ping(); err != nil {
		log.Fatal().Msgf("DB ping failed: %v", err)
	}
	log.Info().Msg("Database connected successfully")

	repository, err := repo.NewRepository(db, &log)
	if err != nil {
		log.Fatal().Msgf("failed to initialize repository: %v", err)
	}
	cwd, err := os.Getwd()
	if err != nil {
		log.Fatal().Err(err).Msg("cannot get working directory")
	}
	migrationPath := filepath.Join(cwd, "migrations/postgres")
	if err := repository.MigrateUp(migrationPath); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}

	rabbitCfg, err := buildCFG.BuildRabbitConfig(cfg, &log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load RabbitMQ config")
	}
	rmq, err := rabbit.NewRabbit(rabbitCfg.Url, rabbitCfg.Exchange, rabbitCfg.Queue)
	if err != nil {
		log.Fatal().Msgf("Failed to connect to RabbitMQ: %v", err)
	}
	defer rmq.Close()

	redisCfg := buildCFG.BuildRedisConfig(cfg, &log)
	var redisClient *redis.Client
	if redisCfg.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     redisCfg.Addr,
			Password: redisCfg.Password,
			DB:       redisCfg.DB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			log.Warn().Err(err).Msg("redis unavailable, stats cache disabled")
			redisClient = nil
		}
		cancel()
	}
	statsCache := cache.NewStatsCache(redisClient, redisCfg.StatsTTL, &log)

	mail := mailer.New(buildCFG.BuildMailerConfig(cfg, &log), &log)

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	reader := notifyWorker.NewReader(rmq, mail)
	reader.Start(workerCtx)

	serviceInstance := service.NewService(repository, &log, rmq, statsCache)
	app := api.NewRouters(&api.Routers{
		Service:   serviceInstance,
		JWTSecret: serverCfg.JWTSecret,
		Health: func(c *ginext.Context) {
			if err := db.Master.Ping(); err != nil {
				c.JSON(503, map[string]string{"status": "unhealthy", "error": err.Error()})
				return
			}
			c.JSON(200, map[string]string{"status": "healthy"})
		},
	})

	serverErrChan := make(chan error, 1)
	go func() {
		log.Info().Msgf("Starting server on %s", serverCfg.Port)
		if err := app.Run(":" + serverCfg.Port); err != nil {
			serverErrChan <- fmt.Errorf("failed to start server: %w", err)
		}
	}()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-signalChan:
		log.Info().Msgf("Received signal %s. Initiating shutdown...", sig)
	case err := <-serverErrChan:
		log.Error().Msgf("Server error: %v", err)
	}

	cancelWorkers()
	reader.Stop()

	if redisClient != nil {
		_ = redisClient.Close()
	}

	log.Info().Msg("Shutdown complete")
}
