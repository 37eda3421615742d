package exporters

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/kubescape/go-logger"
	"github.com/kubescape/go-logger/helpers"
)

const (
	DefaultBulkMaxFacts   = 50
	DefaultBulkTimeout    = 10 * time.Second
	DefaultSendQueueSize  = 1000
	DefaultMaxRetries     = 3
	DefaultRetryBaseDelay = time.Second
	DefaultRetryMaxDelay  = 30 * time.Second
	defaultFlushInterval  = time.Second
	defaultEnqueueTimeout = time.Second
	defaultDrainTimeout   = 30 * time.Second
)

// workloadBulk holds the facts of a single workload
type workloadBulk struct {
	sync.Mutex
	workload      string
	facts         []Fact
	firstFactTime time.Time
	maxSize       int
	timeout       time.Duration
}

// shouldFlush returns true if the bulk is full or its oldest fact waited long enough
func (wb *workloadBulk) shouldFlush() bool {
	wb.Lock()
	defer wb.Unlock()

	if len(wb.facts) >= wb.maxSize {
		return true
	}
	return !wb.firstFactTime.IsZero() && time.Since(wb.firstFactTime) >= wb.timeout
}

func (wb *workloadBulk) addFact(fact Fact) {
	wb.Lock()
	defer wb.Unlock()

	wb.facts = append(wb.facts, fact)
	if wb.firstFactTime.IsZero() {
		wb.firstFactTime = time.Now()
	}
}

// flush returns the facts and resets the bulk
func (wb *workloadBulk) flush() []Fact {
	wb.Lock()
	defer wb.Unlock()

	facts := wb.facts
	wb.facts = nil
	wb.firstFactTime = time.Time{}
	return facts
}

// bulkQueueItem is a bulk waiting to be sent
type bulkQueueItem struct {
	workload string
	facts    []Fact
}

// FactBulkManager groups facts per workload and hands each group to sendFunc
// once it holds bulkMaxFacts facts or its first fact is bulkTimeout old.
// A single send worker keeps bulks in FIFO order.
type FactBulkManager struct {
	sync.RWMutex
	bulks         map[string]*workloadBulk
	bulkMaxFacts  int
	bulkTimeout   time.Duration
	flushInterval time.Duration

	sendQueue  chan *bulkQueueItem
	maxRetries uint
	newBackOff func() backoff.BackOff

	sendFunc func(workload string, facts []Fact) error
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewFactBulkManager creates a bulk manager, zero values select the defaults.
func NewFactBulkManager(
	bulkMaxFacts int,
	bulkTimeout time.Duration,
	sendQueueSize int,
	maxRetries int,
	retryBaseDelay time.Duration,
	retryMaxDelay time.Duration,
	sendFunc func(workload string, facts []Fact) error,
) *FactBulkManager {
	if bulkMaxFacts <= 0 {
		bulkMaxFacts = DefaultBulkMaxFacts
	}
	if bulkTimeout <= 0 {
		bulkTimeout = DefaultBulkTimeout
	}
	if sendQueueSize <= 0 {
		sendQueueSize = DefaultSendQueueSize
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	if retryBaseDelay <= 0 {
		retryBaseDelay = DefaultRetryBaseDelay
	}
	if retryMaxDelay <= 0 {
		retryMaxDelay = DefaultRetryMaxDelay
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &FactBulkManager{
		bulks:         make(map[string]*workloadBulk),
		bulkMaxFacts:  bulkMaxFacts,
		bulkTimeout:   bulkTimeout,
		flushInterval: min(defaultFlushInterval, bulkTimeout),
		sendQueue:     make(chan *bulkQueueItem, sendQueueSize),
		maxRetries:    uint(maxRetries),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = retryBaseDelay
			b.MaxInterval = retryMaxDelay
			return b
		},
		sendFunc: sendFunc,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins the background flush goroutine and the send worker
func (m *FactBulkManager) Start() {
	m.wg.Add(2)
	go m.backgroundFlush()
	go m.sendWorker()

	logger.L().Info("fact bulk manager started",
		helpers.Int("bulkMaxFacts", m.bulkMaxFacts),
		helpers.String("bulkTimeout", m.bulkTimeout.String()))
}

// Stop flushes every pending bulk and waits until the queue is drained
func (m *FactBulkManager) Stop() {
	m.cancel()
	m.wg.Wait()
	logger.L().Info("fact bulk manager stopped")
}

// AddFact adds a fact to the bulk of its workload
func (m *FactBulkManager) AddFact(fact Fact) {
	workload := fact.Workload.Key()

	m.Lock()
	bulk, exists := m.bulks[workload]
	if !exists {
		bulk = &workloadBulk{
			workload: workload,
			facts:    make([]Fact, 0, m.bulkMaxFacts),
			maxSize:  m.bulkMaxFacts,
			timeout:  m.bulkTimeout,
		}
		m.bulks[workload] = bulk
		logger.L().Debug("FactBulkManager - created new bulk", helpers.String("workload", workload))
	}
	bulk.addFact(fact)

	var bulkToFlush *workloadBulk
	if bulk.shouldFlush() {
		bulkToFlush = bulk
		delete(m.bulks, workload)
	}
	m.Unlock()

	if bulkToFlush != nil {
		m.sendBulk(bulkToFlush)
	}
}

// FlushWorkload immediately flushes the bulk of one workload
func (m *FactBulkManager) FlushWorkload(workload string) {
	m.Lock()
	bulk, exists := m.bulks[workload]
	if exists {
		delete(m.bulks, workload)
	}
	m.Unlock()

	if exists {
		m.sendBulk(bulk)
	}
}

// BulkCount returns the number of workloads with pending facts
func (m *FactBulkManager) BulkCount() int {
	m.RLock()
	defer m.RUnlock()
	return len(m.bulks)
}

func (m *FactBulkManager) sendBulk(bulk *workloadBulk) {
	facts := bulk.flush()
	if len(facts) == 0 {
		return
	}

	select {
	case m.sendQueue <- &bulkQueueItem{workload: bulk.workload, facts: facts}:
		logger.L().Debug("fact bulk enqueued",
			helpers.String("workload", bulk.workload),
			helpers.Int("factCount", len(facts)))
	case <-time.After(defaultEnqueueTimeout):
		logger.L().Error("failed to enqueue fact bulk, queue full",
			helpers.String("workload", bulk.workload),
			helpers.Int("factCount", len(facts)),
			helpers.Int("queueSize", cap(m.sendQueue)))
	}
}

func (m *FactBulkManager) sendWorker() {
	defer m.wg.Done()

	for {
		select {
		case item := <-m.sendQueue:
			m.processSendQueueItem(item)
		case <-m.ctx.Done():
			m.drainSendQueue()
			return
		}
	}
}

// processSendQueueItem sends a bulk, retrying in place to keep FIFO order.
// A shutdown during the retry delay gets one last attempt.
func (m *FactBulkManager) processSendQueueItem(item *bulkQueueItem) {
	attempts := 0
	_, err := backoff.Retry(m.ctx, func() (struct{}, error) {
		attempts++
		if err := m.sendFunc(item.workload, item.facts); err != nil {
			logger.L().Warning("fact bulk send failed",
				helpers.String("workload", item.workload),
				helpers.Int("factCount", len(item.facts)),
				helpers.Int("attempt", attempts),
				helpers.Error(err))
			return struct{}{}, err
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(m.newBackOff()), backoff.WithMaxTries(m.maxRetries+1))
	if err == nil {
		return
	}
	if m.ctx.Err() != nil {
		if err = m.sendFunc(item.workload, item.facts); err == nil {
			return
		}
	}
	logger.L().Error("fact bulk send failed after retries",
		helpers.String("workload", item.workload),
		helpers.Int("factCount", len(item.facts)),
		helpers.Int("attempts", attempts),
		helpers.Error(err))
}

// drainSendQueue enqueues the pending bulks and sends the queue without retries
func (m *FactBulkManager) drainSendQueue() {
	m.Lock()
	pending := make([]*workloadBulk, 0, len(m.bulks))
	for workload, bulk := range m.bulks {
		pending = append(pending, bulk)
		delete(m.bulks, workload)
	}
	m.Unlock()

	for _, bulk := range pending {
		facts := bulk.flush()
		if len(facts) == 0 {
			continue
		}
		select {
		case m.sendQueue <- &bulkQueueItem{workload: bulk.workload, facts: facts}:
		default:
			logger.L().Warning("queue full during drain, dropping fact bulk",
				helpers.String("workload", bulk.workload),
				helpers.Int("factCount", len(facts)))
		}
	}

	timeout := time.After(defaultDrainTimeout)
	for {
		select {
		case item := <-m.sendQueue:
			if err := m.sendFunc(item.workload, item.facts); err != nil {
				logger.L().Warning("failed to send fact bulk during drain",
					helpers.String("workload", item.workload),
					helpers.Error(err))
			}
		case <-timeout:
			if remaining := len(m.sendQueue); remaining > 0 {
				logger.L().Warning("timeout draining fact bulk queue", helpers.Int("remainingItems", remaining))
			}
			return
		default:
			return
		}
	}
}

func (m *FactBulkManager) backgroundFlush() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.flushTimedOutBulks()
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *FactBulkManager) flushTimedOutBulks() {
	m.Lock()
	var expired []*workloadBulk
	for workload, bulk := range m.bulks {
		if bulk.shouldFlush() {
			expired = append(expired, bulk)
			delete(m.bulks, workload)
		}
	}
	m.Unlock()

	for _, bulk := range expired {
		m.sendBulk(bulk)
	}
}
