package resilience

import (
	"context"
	"errors"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"gastos/internal/log"
)

// ProbeTimeout bounds a single connectivity probe.
const ProbeTimeout = 5 * time.Second

// Connectivity is the process-wide online/offline flag.
type Connectivity struct {
	online atomic.Bool

	mu        sync.Mutex
	listeners []func(online bool)
}

// NewConnectivity starts online.
func NewConnectivity() *Connectivity {
	c := &Connectivity{}
	c.online.Store(true)
	return c
}

// Online reports the last known state.
func (c *Connectivity) Online() bool {
	return c.online.Load()
}

// Set records the state and notifies listeners on a transition.
func (c *Connectivity) Set(online bool) {
	if c.online.Swap(online) == online {
		return
	}
	c.mu.Lock()
	listeners := append([]func(bool){}, c.listeners...)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn(online)
	}
}

// OnChange registers fn for every online/offline transition.
func (c *Connectivity) OnChange(fn func(online bool)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// Watch probes the backend every interval until ctx is done. Only transport
// failures flip the flag to offline; any HTTP response, error statuses
// included, proves the backend is reachable.
func (c *Connectivity) Watch(ctx context.Context, interval time.Duration, probe func(context.Context) error, logger *log.Logger) {
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentResilience)

	check := func() {
		pctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
		defer cancel()
		err := probe(pctx)
		if ctx.Err() != nil {
			return
		}
		online := err == nil || !isTransportError(err)
		if online != c.Online() {
			if online {
				logger.InfoContext(ctx, "Backend reachable again")
			} else {
				logger.WarnContext(ctx, "Backend unreachable", log.FieldError, err.Error())
			}
		}
		c.Set(online)
	}

	check()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}

// isTransportError reports whether err means no response came back at all.
func isTransportError(err error) bool {
	var be *BackendError
	if errors.As(err, &be) {
		return false
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
