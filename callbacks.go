package jobprogress

import "log/slog"

// pending collects the events produced while the tracker lock is held so
// they can be delivered after it is released.
type pending struct {
	cfg      trackerConfig
	logger   *slog.Logger
	change   *ChangeEvent
	complete *CompleteEvent
	snapshot *Snapshot
	poll     *PollResult
}

// pendingLocked captures the callbacks registered at the time of the event.
func (t *Tracker) pendingLocked() pending {
	return pending{cfg: t.cfg, logger: t.logger}
}

// dispatch delivers events in order: change, complete, snapshot, poll.
// Must be called without holding t.mu.
func (t *Tracker) dispatch(p pending) {
	if p.change != nil {
		for _, cb := range p.cfg.changeCallbacks {
			invokeCallbackSafe("change", cb, *p.change, p.logger)
		}
	}
	if p.complete != nil {
		for _, cb := range p.cfg.completeCallbacks {
			invokeCallbackSafe("complete", cb, *p.complete, p.logger)
		}
	}
	if p.snapshot != nil {
		for _, cb := range p.cfg.snapshotCallbacks {
			invokeCallbackSafe("snapshot", cb, *p.snapshot, p.logger)
		}
	}
	if p.poll != nil {
		for _, cb := range p.cfg.pollCallbacks {
			invokeCallbackSafe("poll", cb, *p.poll, p.logger)
		}
	}
}

// invokeCallbackSafe calls a callback with panic recovery.
// Panics are logged but do not propagate.
func invokeCallbackSafe[E any](kind string, cb func(E), event E, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("callback panicked",
				"callback", kind,
				"panic", r,
			)
		}
	}()
	cb(event)
}
