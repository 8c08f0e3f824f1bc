package server

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nicktill/tinyfocus/pkg/pipeline"
	"github.com/nicktill/tinyfocus/pkg/storage"
)

// RunStoreGC reclaims value-log space on stores that need it, every interval,
// until ctx is done. Stores without GC return immediately.
func RunStoreGC(ctx context.Context, store storage.Store, interval time.Duration, log logrus.FieldLogger) {
	gc, ok := store.(storage.GCer)
	if !ok {
		log.Debug("Store has no garbage collection, skipping GC scheduler")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.WithField("interval", interval.String()).Info("Store GC scheduler started")

	for {
		select {
		case <-ctx.Done():
			log.Info("Stopping store GC scheduler")
			return
		case <-ticker.C:
			start := time.Now()
			// reclaim a file once half of it is garbage
			if err := gc.RunGC(0.5); err != nil {
				log.WithError(err).Warn("Store GC failed")
				continue
			}
			log.WithField("took", time.Since(start).Round(time.Millisecond).String()).Debug("Store GC completed")
		}
	}
}

// ForwardNotifications broadcasts pipeline notifications to WebSocket clients
// until ctx is done. Without clients notifications are consumed and dropped.
func ForwardNotifications(ctx context.Context, notes <-chan pipeline.Notification, hub *NotificationHub, log logrus.FieldLogger) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-notes:
			fields := logrus.Fields{
				"type":       n.Type,
				"session_id": n.SessionID,
				"chunk":      n.ChunkNumber,
			}
			if n.Type == pipeline.NotifyFailed {
				log.WithFields(fields).WithField("error", n.Error).Warn("Chunk analysis failed")
			} else {
				log.WithFields(fields).Debug("Chunk analysis delivered")
			}

			if !hub.HasClients() {
				continue
			}
			if err := hub.Publish(n.SessionID, n); err != nil {
				log.WithError(err).Warn("Failed to publish notification")
			}
		}
	}
}
