package hub

import (
	"time"

	"go.uber.org/zap"

	"github.com/jonmccon/pocket-parrot-sub001/internal/protocol"
)

// enqueueBulkLocked appends one record to the bulk queue and flushes
// immediately once the queue reaches the batch size. While no bulk
// listener is attached the queue accumulates up to the configured limit,
// dropping the oldest record beyond it.
func (h *Hub) enqueueBulkLocked(rec protocol.BulkRecord) {
	h.bulkQueue = append(h.bulkQueue, rec)
	h.countFanout("bulk")

	if limit := h.cfg.Batch.QueueLimit; limit > 0 && len(h.bulkQueue) > limit && h.reg.count(RoleBulkListener) == 0 {
		over := len(h.bulkQueue) - limit
		h.bulkQueue = h.bulkQueue[over:]
		if h.metrics != nil {
			h.metrics.BulkRecordsDropped.Add(float64(over))
		}
	}

	if len(h.bulkQueue) >= h.cfg.Batch.MaxSize {
		h.flushBulkLocked()
	}
}

// flushBulkLocked dequeues up to one batch and sends it to every bulk
// listener. With no listeners attached the queue is left intact.
func (h *Hub) flushBulkLocked() {
	if len(h.bulkQueue) == 0 || h.reg.count(RoleBulkListener) == 0 {
		return
	}

	n := len(h.bulkQueue)
	if n > h.cfg.Batch.MaxSize {
		n = h.cfg.Batch.MaxSize
	}
	batch := make([]protocol.BulkRecord, n)
	copy(batch, h.bulkQueue[:n])
	h.bulkQueue = h.bulkQueue[n:]
	if len(h.bulkQueue) == 0 {
		h.bulkQueue = nil
	}

	h.sendToRoleLocked(RoleBulkListener, protocol.BulkBatch{
		Type:      protocol.TypeBulkBatch,
		Timestamp: protocol.Now(),
		BatchSize: n,
		Records:   batch,
	})
	if h.metrics != nil {
		h.metrics.BatchesFlushed.Inc()
	}
	h.logger.Debug("bulk batch flushed", zap.Int("batch_size", n), zap.Int("remaining", len(h.bulkQueue)))
}

// startBulkTickerLocked launches the interval flush loop. Called when the
// first bulk listener is admitted.
func (h *Hub) startBulkTickerLocked() {
	if h.bulkRunning {
		return
	}
	h.bulkRunning = true
	h.bulkStop = make(chan struct{})
	h.wg.Add(1)
	go h.bulkLoop(h.bulkStop)
	h.logger.Info("bulk flush interval started",
		zap.Duration("interval", h.cfg.Batch.Interval))
}

// stopBulkTickerLocked halts the interval flush loop. Called when the
// last bulk listener disconnects and at shutdown.
func (h *Hub) stopBulkTickerLocked() {
	if !h.bulkRunning {
		return
	}
	h.bulkRunning = false
	close(h.bulkStop)
	h.logger.Info("bulk flush interval stopped")
}

func (h *Hub) bulkLoop(stop chan struct{}) {
	defer h.wg.Done()
	ticker := time.NewTicker(h.cfg.Batch.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			h.mu.Lock()
			h.flushBulkLocked()
			h.mu.Unlock()
		}
	}
}
