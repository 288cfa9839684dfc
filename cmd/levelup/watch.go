package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"levelup/internal/tracker"
)

var (
	watchInterval    time.Duration
	watchMetricsAddr string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep the dashboard on screen, reloading on an interval",
	Args:  cobra.NoArgs,
	RunE:  runWatch,
}

func init() {
	watchCmd.Flags().DurationVar(&watchInterval, "interval", time.Minute, "Reload interval")
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	out := cmd.OutOrStdout()
	var mu sync.Mutex
	var last []byte
	draw := func(snap tracker.Snapshot) {
		var buf bytes.Buffer
		renderDashboard(&buf, snap, time.Now(), s.cfg.Tracker)

		mu.Lock()
		defer mu.Unlock()
		if bytes.Equal(buf.Bytes(), last) {
			return
		}
		last = buf.Bytes()
		fmt.Fprint(out, "\033[H\033[2J")
		_, _ = out.Write(last)
	}
	s.store.OnChange(draw)
	draw(s.store.Snapshot())

	var srv *http.Server
	if watchMetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv = &http.Server{Addr: watchMetricsAddr, Handler: mux}
		go func() {
			s.log.Info("Metrics server starting", zap.String("addr", watchMetricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Error("Metrics server failed", zap.Error(err))
			}
		}()
	}

	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if srv != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := srv.Shutdown(shutdownCtx); err != nil {
					s.log.Error("Metrics server shutdown error", zap.Error(err))
				}
				cancel()
			}
			fmt.Fprintln(os.Stderr, "bye")
			return nil
		case <-ticker.C:
			if err := s.store.Load(ctx); err != nil {
				s.log.Warn("Reload failed, keeping last state", zap.Error(err))
			}
			// 跨过午夜时日期变化，没有状态变化也要重绘
			draw(s.store.Snapshot())
		}
	}
}
