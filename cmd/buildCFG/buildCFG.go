package buildCFG

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/config"
	"github.com/wb-go/wbf/dbpg"

	"campusevents/internal/mailer"
)

type ServerConfig struct {
	Port      string
	JWTSecret string
}

type RabbitConfig struct {
	Url      string
	Exchange string
	Queue    string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	StatsTTL time.Duration
}

func BuildServerConfig(cfg *config.Config, log *zerolog.Logger) ServerConfig {
	port := cfg.GetString("server.port")
	if port == "" {
		port = "8080"
		log.Warn().Msg("server.port not set, defaulting to 8080")
	}
	return ServerConfig{
		Port:      port,
		JWTSecret: cfg.GetString("auth.jwt_secret"),
	}
}

func BuildDBConfig(cfg *config.Config, log *zerolog.Logger) (string, []string, *dbpg.Options, error) {
	masterDSN := cfg.GetString("database.master_dsn")
	if masterDSN == "" {
		return "", nil, nil, fmt.Errorf("database.master_dsn is required")
	}
	slaveDSNs := cfg.GetStringSlice("database.slave_dsns")

	opts := &dbpg.Options{
		MaxOpenConns:    cfg.GetInt("database.max_open_conns"),
		MaxIdleConns:    cfg.GetInt("database.max_idle_conns"),
		ConnMaxLifetime: cfg.GetDuration("database.conn_max_lifetime"),
	}

	log.Info().Int("slaves", len(slaveDSNs)).Msg("database configuration built")
	return masterDSN, slaveDSNs, opts, nil
}

func BuildRabbitConfig(cfg *config.Config, log *zerolog.Logger) (RabbitConfig, error) {
	rc := RabbitConfig{
		Url:      cfg.GetString("rabbit.url"),
		Exchange: cfg.GetString("rabbit.exchange"),
		Queue:    cfg.GetString("rabbit.queue"),
	}
	if rc.Url == "" {
		return rc, fmt.Errorf("rabbit.url is required")
	}
	if rc.Exchange == "" {
		rc.Exchange = "tickets"
	}
	if rc.Queue == "" {
		rc.Queue = "ticket-emails"
	}
	log.Info().Str("exchange", rc.Exchange).Str("queue", rc.Queue).Msg("rabbit configuration built")
	return rc, nil
}

func BuildRedisConfig(cfg *config.Config, log *zerolog.Logger) RedisConfig {
	rc := RedisConfig{
		Addr:     cfg.GetString("redis.addr"),
		Password: cfg.GetString("redis.password"),
		DB:       cfg.GetInt("redis.db"),
		StatsTTL: cfg.GetDuration("redis.stats_ttl"),
	}
	if rc.StatsTTL <= 0 {
		rc.StatsTTL = 30 * time.Second
	}
	if rc.Addr == "" {
		log.Warn().Msg("redis.addr not set, stats cache disabled")
	}
	return rc
}

func BuildMailerConfig(cfg *config.Config, log *zerolog.Logger) mailer.Config {
	mc := mailer.Config{
		Host:     cfg.GetString("smtp.host"),
		Port:     cfg.GetInt("smtp.port"),
		From:     cfg.GetString("smtp.from"),
		Password: cfg.GetString("smtp.password"),
	}
	if mc.Port == 0 {
		mc.Port = 587
	}
	if mc.Host == "" {
		log.Warn().Msg("smtp.host not set, ticket emails will fail and be dropped")
	}
	return mc
}
