package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"levelup/internal/cache"
	"levelup/internal/remote"
	"levelup/internal/tracker"
	"levelup/pkg/circuitbreaker"
	"levelup/pkg/config"
	"levelup/pkg/logger"
	redisclient "levelup/pkg/redis"
)

var (
	configDir string
	configEnv string
)

var rootCmd = &cobra.Command{
	Use:           "levelup",
	Short:         "Habit tracker with daily check marks, levels and XP",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "config", "Directory holding base.yaml and <env>.yaml")
	rootCmd.PersistentFlags().StringVar(&configEnv, "env", config.GetConfigEnv(), "Config environment (local, production, ...)")

	rootCmd.AddCommand(dashboardCmd, trackerCmd, addCmd, deleteCmd, toggleCmd, watchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// session 一次命令执行期间的依赖
type session struct {
	cfg     *config.Config
	log     *zap.Logger
	store   *tracker.Store
	closers []func()
}

func openSession(ctx context.Context) (*session, error) {
	cfg, err := config.Load(configEnv, configDir)
	if err != nil {
		return nil, err
	}

	log, err := logger.NewLogger(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	s := &session{cfg: cfg, log: log}
	s.closers = append(s.closers, func() { _ = log.Sync() })

	log.Debug("Starting levelup session",
		zap.String("env", configEnv),
		zap.String("remote", cfg.Remote.BaseURL),
		zap.Bool("redis_enabled", cfg.Redis.Enabled),
	)

	breaker := circuitbreaker.NewCircuitBreaker(cfg.Breaker)
	client := remote.NewClient(cfg.Remote.BaseURL, cfg.Remote.Timeout, breaker, log)

	var snapCache tracker.SnapshotCache
	if cfg.Redis.Enabled {
		rdb, err := redisclient.NewRedisClient(ctx, cfg.Redis, log)
		if err != nil {
			// 缓存只是兜底，连不上不影响使用
			log.Warn("Snapshot cache disabled", zap.Error(err))
		} else {
			s.closers = append(s.closers, func() { _ = rdb.Close() })
			snapCache = cache.NewRedisSnapshotCache(rdb, cfg.Redis.SnapshotKey, cfg.Redis.SnapshotTTL, log)
		}
	}

	s.store = tracker.NewStore(client, snapCache, log)
	if err := s.store.Load(ctx); err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

func (s *session) close() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Remote.Timeout+time.Second)
	defer cancel()
	if s.store != nil {
		if err := s.store.Close(ctx); err != nil {
			s.log.Warn("Store close timed out", zap.Error(err))
		}
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}
