package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PropServe/internal/pkg/env"
)

// Sweeper runs one expiry pass over staged registrations.
type Sweeper interface {
	Sweep(ctx context.Context) error
}

// Manager manages the global job queue and background tasks
type Manager struct {
	queue         *Queue
	sweeper       Sweeper
	sweepInterval time.Duration
	sweepTicker   *time.Ticker
	stopCh        chan struct{}
	wg            sync.WaitGroup
	mu            sync.Mutex
	running       bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// GetManager returns the global job queue manager (singleton)
func GetManager() *Manager {
	managerOnce.Do(func() {
		workerCount := int(env.GetEnvInt("JOBQUEUE_WORKERS", 5))
		globalManager = NewManager(NewQueue(workerCount))
	})
	return globalManager
}

func NewManager(queue *Queue) *Manager {
	return &Manager{
		queue:  queue,
		stopCh: make(chan struct{}),
	}
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// SetSweeper schedules s every interval while the manager runs.
func (m *Manager) SetSweeper(s Sweeper, interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweeper = s
	m.sweepInterval = interval
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and background tasks")

	m.queue.Start()

	if m.sweeper != nil && m.sweepInterval > 0 {
		m.sweepTicker = time.NewTicker(m.sweepInterval)
		m.wg.Add(1)
		go m.sweepWorker(m.sweeper, m.sweepInterval, m.sweepTicker, m.stopCh)
	}

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background tasks...")

	if m.sweepTicker != nil {
		m.sweepTicker.Stop()
		m.sweepTicker = nil
	}

	// Signal workers to stop
	close(m.stopCh)
	m.running = false
	m.mu.Unlock()

	// Wait for background workers to finish
	m.wg.Wait()

	m.queue.Stop()

	log.Info("[JobQueue Manager] Stopped successfully")
}

// sweepWorker runs the staging sweeper once on start and then on every tick
func (m *Manager) sweepWorker(s Sweeper, interval time.Duration, ticker *time.Ticker, stopCh <-chan struct{}) {
	defer m.wg.Done()
	log.Infof("[JobQueue Manager] Started staging sweeper (interval: %s)", interval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stopCh
		cancel()
	}()

	m.runSweep(ctx, s)
	for {
		select {
		case <-stopCh:
			log.Info("[JobQueue Manager] Staging sweeper stopping")
			return
		case <-ticker.C:
			m.runSweep(ctx, s)
		}
	}
}

func (m *Manager) runSweep(ctx context.Context, s Sweeper) {
	log.Debug("[JobQueue Manager] Running staging sweep")
	if err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
		log.Errorf("[JobQueue Manager] Staging sweep error: %v", err)
	}
}

// RunSweepOnce exposes a manual trigger for a single sweep (admin use).
func (m *Manager) RunSweepOnce(ctx context.Context) error {
	m.mu.Lock()
	s := m.sweeper
	m.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.Sweep(ctx)
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
