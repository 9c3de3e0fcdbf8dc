package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"gastos/internal/cache"
	"gastos/internal/core"
	"gastos/internal/log"
	"gastos/internal/refresh"
	"gastos/internal/report"
	"gastos/internal/resilience"
)

const (
	liveWriteWait  = 10 * time.Second
	livePongWait   = 60 * time.Second
	livePingPeriod = livePongWait * 9 / 10
	liveReadLimit  = 4096
)

// Messages the page sends over the live socket.
const (
	liveVisibility = "visibility"
	liveFocus      = "focus"
	liveRefetch    = "refetch"
	liveClear      = "clear"
)

type liveMessage struct {
	Type    string `json:"type"`
	Visible *bool  `json:"visible,omitempty"`
}

// liveSnapshot is pushed to the page after every state change.
type liveSnapshot struct {
	Type      string     `json:"type"`
	Loading   bool       `json:"loading"`
	Error     string     `json:"error,omitempty"`
	FetchedAt *time.Time `json:"fetched_at,omitempty"`
	Data      any        `json:"data"`
}

func newLiveSnapshot[T any](snap cache.Snapshot[T]) liveSnapshot {
	m := liveSnapshot{Type: "snapshot", Loading: snap.Loading}
	if snap.Err != nil {
		_, m.Error = translate(snap.Err, msgDashboard)
	}
	if snap.HasData {
		at := snap.FetchedAt
		m.Data, m.FetchedAt = snap.Data, &at
	}
	return m
}

// handleLiveDashboard streams the dashboard of the signed-in user. Admins
// get the admin view for the requested period unless they ask for
// view=employee.
func (s *Server) handleLiveDashboard(w http.ResponseWriter, r *http.Request) {
	sessionID := sessionOf(r).ID
	current := func(ctx context.Context) (core.Viewer, error) {
		return s.sessions.Viewer(ctx, sessionID)
	}

	q := r.URL.Query()
	if viewer(r).IsAdmin() && q.Get("view") != "employee" {
		sel, err := parseSelection(q, s.reports.Today())
		if err != nil {
			s.fail(w, r, err, msgDashboard)
			return
		}
		runLive(s, w, r, sel.Key(), func(ctx context.Context) (*report.AdminStats, error) {
			v, err := current(ctx)
			if err != nil {
				return nil, err
			}
			return s.reports.Admin(ctx, v, sel)
		})
		return
	}
	runLive(s, w, r, report.EmployeeKey(viewer(r), s.reports.Today()), func(ctx context.Context) (*report.EmployeeStats, error) {
		v, err := current(ctx)
		if err != nil {
			return nil, err
		}
		return s.reports.Employee(ctx, v)
	})
}

// runLive upgrades the request and serves one resource over it until the
// page goes away or the server shuts down. The page reports visibility
// and focus; the resource refetches on those triggers and on the auto
// refresh period while visible.
func runLive[T any](s *Server, w http.ResponseWriter, r *http.Request, key string, fetch func(context.Context) (T, error)) {
	logger := log.FromContext(r.Context()).WithComponent(log.ComponentLive).With(log.FieldKey, key)
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnContext(r.Context(), "Websocket upgrade failed", log.FieldError, err.Error())
		return
	}
	s.live.Add(1)
	defer s.live.Done()
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	res := cache.NewResource(fetch, cache.ResourceOptions{
		Key:     key,
		TTL:     s.cacheTTL,
		Durable: s.durable,
		Now:     s.now,
		Logger:  logger,
	})
	monitor := refresh.NewMonitor(true)

	push := make(chan struct{}, 1)
	notify := func() {
		select {
		case push <- struct{}{}:
		default:
		}
	}

	var wg sync.WaitGroup
	spawn := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}
	settle := func(err error) {
		if err != nil && !errors.Is(err, cache.ErrSuperseded) && !errors.Is(err, cache.ErrNotMounted) && !resilience.IsCanceled(err) {
			logger.WarnContext(ctx, "Live fetch failed", log.FieldError, err.Error())
		}
		notify()
	}
	load := func(force bool) {
		notify()
		settle(res.Fetch(ctx, force))
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ping := time.NewTicker(livePingPeriod)
		defer ping.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
					time.Now().Add(liveWriteWait))
				return
			case <-push:
				_ = conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
				if err := conn.WriteJSON(newLiveSnapshot(res.Snapshot())); err != nil {
					logger.DebugContext(ctx, "Live write failed", log.FieldError, err.Error())
					cancel()
					return
				}
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(liveWriteWait)); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	go func() {
		select {
		case <-s.liveStop:
			cancel()
			_ = conn.UnderlyingConn().SetReadDeadline(time.Now())
		case <-ctx.Done():
		}
	}()

	spawn(func() {
		notify()
		settle(res.Mount(ctx))
	})
	stopVisible := monitor.OnVisible(func() { spawn(func() { load(false) }) })
	spawn(func() { refresh.AutoRefresh(ctx, monitor, s.autoRefresh, func() { load(true) }) })
	logger.DebugContext(ctx, "Live dashboard opened")

	conn.SetReadLimit(liveReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(livePongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(livePongWait))
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.DebugContext(ctx, "Live socket closed", log.FieldError, err.Error())
			}
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(livePongWait))

		var msg liveMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.DebugContext(ctx, "Ignoring malformed live message", log.FieldError, err.Error())
			continue
		}
		switch msg.Type {
		case liveVisibility:
			if msg.Visible != nil {
				monitor.SetVisible(*msg.Visible)
			}
		case liveFocus:
			monitor.Focus()
		case liveRefetch:
			spawn(func() { load(true) })
		case liveClear:
			if err := res.Clear(ctx); err != nil {
				logger.WarnContext(ctx, "Live cache clear failed", log.FieldError, err.Error())
			}
			notify()
		default:
			logger.DebugContext(ctx, "Ignoring unknown live message", "type", msg.Type)
		}
	}

	cancel()
	stopVisible()
	res.Unmount()
	wg.Wait()
	<-writerDone
	logger.DebugContext(context.WithoutCancel(ctx), "Live dashboard closed")
}
