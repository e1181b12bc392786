package onnx

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/yalue/onnxruntime_go"
)

// Session runs a single-input, single-output model. Implementations must be
// safe for concurrent Run calls.
type Session interface {
	Run(input Tensor) (Tensor, error)
	Close() error
}

// SessionOptions configures session construction.
type SessionOptions struct {
	GPU        GPUConfig
	NumThreads int
}

// OptionsFor derives session options from the user-facing GPU toggle.
func OptionsFor(useGPU bool, base GPUConfig, threads int) SessionOptions {
	gpu := base
	gpu.UseGPU = useGPU
	return SessionOptions{GPU: gpu, NumThreads: threads}
}

// SessionFactory builds sessions from model files.
type SessionFactory interface {
	NewSession(modelPath string, opts SessionOptions) (Session, error)
}

// SessionFactoryFunc adapts a function to SessionFactory.
type SessionFactoryFunc func(modelPath string, opts SessionOptions) (Session, error)

func (f SessionFactoryFunc) NewSession(modelPath string, opts SessionOptions) (Session, error) {
	return f(modelPath, opts)
}

// RuntimeFactory creates sessions backed by ONNX Runtime.
type RuntimeFactory struct {
	LibraryPath string
}

// NewSession implements SessionFactory.
func (f RuntimeFactory) NewSession(modelPath string, opts SessionOptions) (Session, error) {
	if err := InitEnvironment(f.LibraryPath, opts.GPU.UseGPU); err != nil {
		return nil, err
	}

	inputs, outputs, err := onnxruntime_go.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get model input/output info: %w", err)
	}
	if len(inputs) != 1 || len(outputs) < 1 {
		return nil, fmt.Errorf("expected 1 input and at least 1 output, got %d/%d", len(inputs), len(outputs))
	}

	so, err := onnxruntime_go.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer func() {
		if err := so.Destroy(); err != nil {
			slog.Warn("failed to destroy session options", "error", err)
		}
	}()

	if opts.GPU.UseGPU {
		if err := configureCUDA(so, opts.GPU); err != nil {
			return nil, fmt.Errorf("failed to configure GPU: %w", err)
		}
	}
	if opts.NumThreads > 0 {
		if err := so.SetIntraOpNumThreads(opts.NumThreads); err != nil {
			return nil, fmt.Errorf("failed to set thread count: %w", err)
		}
	}

	s, err := onnxruntime_go.NewDynamicAdvancedSession(modelPath,
		[]string{inputs[0].Name}, []string{outputs[0].Name}, so)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	return &runtimeSession{session: s, path: modelPath}, nil
}

type runtimeSession struct {
	session *onnxruntime_go.DynamicAdvancedSession
	path    string
}

func (s *runtimeSession) Run(input Tensor) (Tensor, error) {
	if err := input.Validate(); err != nil {
		return Tensor{}, fmt.Errorf("invalid input tensor: %w", err)
	}
	in, err := onnxruntime_go.NewTensor(onnxruntime_go.NewShape(input.Shape...), input.Data)
	if err != nil {
		return Tensor{}, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer func() {
		if err := in.Destroy(); err != nil {
			slog.Warn("failed to destroy input tensor", "error", err)
		}
	}()

	outputs := []onnxruntime_go.Value{nil}
	if err := s.session.Run([]onnxruntime_go.Value{in}, outputs); err != nil {
		return Tensor{}, fmt.Errorf("inference failed: %w", err)
	}
	out := outputs[0]
	if out == nil {
		return Tensor{}, errors.New("model produced no output")
	}
	defer func() {
		if err := out.Destroy(); err != nil {
			slog.Warn("failed to destroy output tensor", "error", err)
		}
	}()

	ft, ok := out.(*onnxruntime_go.Tensor[float32])
	if !ok {
		return Tensor{}, fmt.Errorf("expected float32 tensor, got %T", out)
	}
	data := append([]float32(nil), ft.GetData()...)
	shape := append([]int64(nil), out.GetShape()...)
	return Tensor{Data: data, Shape: shape}, nil
}

func (s *runtimeSession) Close() error {
	if s.session == nil {
		return nil
	}
	err := s.session.Destroy()
	s.session = nil
	return err
}

type fallbackFactory struct {
	inner  SessionFactory
	logger *slog.Logger
}

// WithCPUFallback wraps a factory so that a failed GPU session is retried on
// the CPU. The degradation is logged as a warning.
func WithCPUFallback(inner SessionFactory, logger *slog.Logger) SessionFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return &fallbackFactory{inner: inner, logger: logger}
}

func (f *fallbackFactory) NewSession(modelPath string, opts SessionOptions) (Session, error) {
	s, err := f.inner.NewSession(modelPath, opts)
	if err == nil || !opts.GPU.UseGPU {
		return s, err
	}
	f.logger.Warn("GPU session creation failed, falling back to CPU", "model", modelPath, "error", err)
	cpu := opts
	cpu.GPU.UseGPU = false
	return f.inner.NewSession(modelPath, cpu)
}
