package kodi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

type fakeCall struct {
	Method string
	Params map[string]any
}

// fakeTransport answers calls from canned results and delivers notifications synchronously.
type fakeTransport struct {
	mu        sync.Mutex
	results   map[string]func(params map[string]any) (any, error)
	calls     []fakeCall
	handlers  map[string][]func(json.RawMessage)
	onClose   []func(error)
	onError   []func(error)
	closed    bool
	listeners bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		results:  make(map[string]func(map[string]any) (any, error)),
		handlers: make(map[string][]func(json.RawMessage)),
	}
}

// reply makes method return result.
func (f *fakeTransport) reply(method string, result any) *fakeTransport {
	return f.handle(method, func(map[string]any) (any, error) { return result, nil })
}

func (f *fakeTransport) fail(method string, err error) *fakeTransport {
	return f.handle(method, func(map[string]any) (any, error) { return nil, err })
}

func (f *fakeTransport) handle(method string, fn func(map[string]any) (any, error)) *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[method] = fn
	return f
}

func (f *fakeTransport) Call(_ context.Context, method string, params any) (json.RawMessage, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	var decoded map[string]any
	_ = json.Unmarshal(raw, &decoded)

	f.mu.Lock()
	f.calls = append(f.calls, fakeCall{Method: method, Params: decoded})
	fn := f.results[method]
	f.mu.Unlock()

	if fn == nil {
		return nil, fmt.Errorf("unexpected call %s", method)
	}
	result, err := fn(decoded)
	if err != nil {
		return nil, err
	}
	return json.Marshal(result)
}

func (f *fakeTransport) Subscribe(method string, handler func(json.RawMessage)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[method] = append(f.handlers[method], handler)
}

func (f *fakeTransport) OnClose(handler func(error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onClose = append(f.onClose, handler)
	f.listeners = true
}

func (f *fakeTransport) OnError(handler func(error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onError = append(f.onError, handler)
	f.listeners = true
}

func (f *fakeTransport) RemoveAllListeners() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = make(map[string][]func(json.RawMessage))
	f.onClose = nil
	f.onError = nil
	f.listeners = false
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) hasListeners() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listeners
}

// notify delivers a notification with the given data object to subscribers.
func (f *fakeTransport) notify(method string, data any) {
	raw, _ := json.Marshal(map[string]any{"data": data, "sender": "xbmc"})
	f.mu.Lock()
	handlers := append([]func(json.RawMessage){}, f.handlers[method]...)
	f.mu.Unlock()
	for _, h := range handlers {
		h(raw)
	}
}

// drop fires the error then close listeners, as a failing connection does.
func (f *fakeTransport) drop(err error) {
	f.mu.Lock()
	errHandlers := append([]func(error){}, f.onError...)
	closeHandlers := append([]func(error){}, f.onClose...)
	f.mu.Unlock()
	for _, h := range errHandlers {
		h(err)
	}
	for _, h := range closeHandlers {
		h(err)
	}
}

func (f *fakeTransport) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.Method)
	}
	return out
}

func (f *fakeTransport) lastCall(method string) (fakeCall, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].Method == method {
			return f.calls[i], true
		}
	}
	return fakeCall{}, false
}

// fakeScheduler stands in for time.AfterFunc so tests fire timers by hand.
type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	sched   *fakeScheduler
	fn      func()
	stopped bool
	fired   bool
}

func (s *fakeScheduler) afterFunc(_ time.Duration, fn func()) stopper {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{sched: s, fn: fn}
	s.timers = append(s.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

func (s *fakeScheduler) pending() []*fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*fakeTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

// fireNext runs the single pending timer and reports whether there was one.
func (s *fakeScheduler) fireNext() bool {
	pending := s.pending()
	if len(pending) == 0 {
		return false
	}
	t := pending[0]
	s.mu.Lock()
	t.fired = true
	s.mu.Unlock()
	t.fn()
	return true
}

var errRefused = errors.New("connection refused")
