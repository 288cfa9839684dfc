package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 远端存储调用延迟（秒）
	RemoteCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "remote_call_duration_seconds",
			Help:    "Remote store call duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
		[]string{"operation", "status"},
	)

	// 打卡切换结果
	CheckToggleCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "check_toggle_total",
			Help: "Total number of check toggles by outcome",
		},
		[]string{"outcome"}, // outcome: committed, rolled_back
	)

	// 习惯增删结果
	HabitMutationCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "habit_mutation_total",
			Help: "Total number of habit add/delete operations by outcome",
		},
		[]string{"operation", "outcome"}, // outcome: success, failed, rejected
	)

	// 快照缓存读写
	SnapshotCacheCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapshot_cache_total",
			Help: "Snapshot cache operations by outcome",
		},
		[]string{"operation", "outcome"}, // operation: save, load; outcome: hit, miss, ok, error
	)
)

// RecordRemoteCall 记录远端调用延迟
func RecordRemoteCall(operation, status string, duration time.Duration) {
	RemoteCallDuration.WithLabelValues(operation, status).Observe(duration.Seconds())
}

// IncrementToggle 增加打卡切换计数
func IncrementToggle(outcome string) {
	CheckToggleCount.WithLabelValues(outcome).Inc()
}

// IncrementHabitMutation 增加习惯增删计数
func IncrementHabitMutation(operation, outcome string) {
	HabitMutationCount.WithLabelValues(operation, outcome).Inc()
}

// IncrementSnapshotCache 增加快照缓存计数
func IncrementSnapshotCache(operation, outcome string) {
	SnapshotCacheCount.WithLabelValues(operation, outcome).Inc()
}
