package typing

import (
	"context"
	"sync"
	"time"

	"linkwave/logger"
	"linkwave/tools/safe"

	"go.uber.org/zap"
)

// Notifier receives the entries removed by one sweep, e.g. to broadcast
// synthetic typing.stop events.
type Notifier func(expired []State)

// Sweeper 周期性清理超时的输入状态；Start/Stop 跟随进程生命周期
type Sweeper struct {
	m      *Manager
	every  time.Duration
	notify Notifier

	stopCh    chan struct{}
	doneCh    chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

func NewSweeper(m *Manager, every time.Duration, notify Notifier) *Sweeper {
	if every <= 0 {
		every = 2 * time.Second
	}
	return &Sweeper{
		m:      m,
		every:  every,
		notify: notify,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start 启动后台循环；首次清理在一个周期之后
func (s *Sweeper) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		go s.loop(ctx)
	})
}

// Stop 停止循环并等待其退出；未 Start 时直接返回
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	started := true
	s.startOnce.Do(func() { started = false })
	if started {
		<-s.doneCh
	}
}

func (s *Sweeper) loop(ctx context.Context) {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.RunOnce()
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce performs a single sweep and returns how many entries expired.
func (s *Sweeper) RunOnce() int {
	expired := s.m.SweepStale()
	if len(expired) == 0 {
		return 0
	}
	logger.Debug("[Typing] swept stale entries", zap.Int("n", len(expired)))
	if s.notify != nil {
		safe.Run("typing-notify", func() { s.notify(expired) })
	}
	return len(expired)
}
