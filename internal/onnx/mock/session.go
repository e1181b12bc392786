package mock

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/MeKo-Tech/overlay-ocr/internal/onnx"
)

// Session is a scriptable onnx.Session.
type Session struct {
	Path   string
	Opts   onnx.SessionOptions
	RunFn  func(onnx.Tensor) (onnx.Tensor, error)
	calls  atomic.Int64
	closed atomic.Bool
}

// Run implements onnx.Session.
func (s *Session) Run(in onnx.Tensor) (onnx.Tensor, error) {
	if s.closed.Load() {
		return onnx.Tensor{}, errors.New("session closed")
	}
	s.calls.Add(1)
	if s.RunFn == nil {
		return onnx.Tensor{}, errors.New("no output scripted")
	}
	return s.RunFn(in)
}

// Close implements onnx.Session.
func (s *Session) Close() error {
	s.closed.Store(true)
	return nil
}

// Calls returns the number of Run calls.
func (s *Session) Calls() int64 { return s.calls.Load() }

// Closed reports whether Close was called.
func (s *Session) Closed() bool { return s.closed.Load() }

// Factory creates Sessions and remembers them by model path.
type Factory struct {
	mu sync.Mutex
	// Script returns the Run behaviour for a model path.
	Script func(path string) func(onnx.Tensor) (onnx.Tensor, error)
	// FailGPU makes every GPU session request fail.
	FailGPU  bool
	created  []*Session
	requests []onnx.SessionOptions
}

// NewSession implements onnx.SessionFactory.
func (f *Factory) NewSession(path string, opts onnx.SessionOptions) (onnx.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, opts)
	if f.FailGPU && opts.GPU.UseGPU {
		return nil, fmt.Errorf("cuda unavailable for %s", path)
	}
	s := &Session{Path: path, Opts: opts}
	if f.Script != nil {
		s.RunFn = f.Script(path)
	}
	f.created = append(f.created, s)
	return s, nil
}

// Sessions returns the sessions created so far.
func (f *Factory) Sessions() []*Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Session(nil), f.created...)
}

// Requests returns the options of every NewSession call, including failed ones.
func (f *Factory) Requests() []onnx.SessionOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]onnx.SessionOptions(nil), f.requests...)
}
