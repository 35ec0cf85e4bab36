package plex

import (
	"log/slog"
	"reflect"
	"slices"
)

// StatusListener is notified after every reconciled media status.
type StatusListener interface {
	NewMediaStatus(status Status)
}

type StatusListenerFunc func(status Status)

func (f StatusListenerFunc) NewMediaStatus(status Status) {
	f(status)
}

// RegisterStatusListener adds l and reports whether it was added. Duplicates
// are accepted unless the controller was configured to reject them; listeners
// of non-comparable types are never considered duplicates.
func (c *Controller) RegisterStatusListener(l StatusListener) bool {
	if l == nil {
		return false
	}

	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	if c.rejectDupes && containsListener(c.listeners, l) {
		return false
	}
	c.listeners = append(c.listeners, l)
	return true
}

func containsListener(listeners []StatusListener, l StatusListener) bool {
	if !reflect.TypeOf(l).Comparable() {
		return false
	}
	for _, existing := range listeners {
		if existing == l {
			return true
		}
	}
	return false
}

// TearDown runs the configured teardown hook and drops every listener.
func (c *Controller) TearDown() {
	if c.tearDown != nil {
		c.tearDown()
	}

	c.listenersMu.Lock()
	c.listeners = nil
	c.listenersMu.Unlock()
	c.logger.Debug("plex_teardown")
}

func (c *Controller) fireStatusChanged(status Status) {
	c.listenersMu.Lock()
	listeners := slices.Clone(c.listeners)
	c.listenersMu.Unlock()

	for _, l := range listeners {
		c.notifyListener(l, status.clone())
	}
}

func (c *Controller) notifyListener(l StatusListener, status Status) {
	defer func() {
		if r := recover(); r != nil {
			c.metrics.IncListenerPanics()
			c.logger.Warn("plex_listener_panic", slog.Any("panic", r))
		}
	}()
	l.NewMediaStatus(status)
}
