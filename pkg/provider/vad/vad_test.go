package vad_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/parrot/pkg/provider/vad"
	"github.com/MrWong99/parrot/pkg/provider/vad/mock"
)

func TestFrameAndContextSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		rate          int
		frame, contxt int
	}{
		{rate: 16000, frame: 512, contxt: 64},
		{rate: 8000, frame: 256, contxt: 32},
		{rate: 44100, frame: 0, contxt: 0},
	}
	for _, tt := range tests {
		if got := vad.FrameSize(tt.rate); got != tt.frame {
			t.Errorf("FrameSize(%d) = %d, want %d", tt.rate, got, tt.frame)
		}
		if got := vad.ContextSize(tt.rate); got != tt.contxt {
			t.Errorf("ContextSize(%d) = %d, want %d", tt.rate, got, tt.contxt)
		}
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		samples int
		rate    int
		wantErr error
	}{
		{name: "16k ok", samples: 512, rate: 16000},
		{name: "8k ok", samples: 256, rate: 8000},
		{name: "16k short", samples: 256, rate: 16000, wantErr: vad.ErrInvalidFrameSize},
		{name: "8k long", samples: 512, rate: 8000, wantErr: vad.ErrInvalidFrameSize},
		{name: "unsupported rate", samples: 512, rate: 48000, wantErr: vad.ErrInvalidSampleRate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := vad.Validate(make([]float32, tt.samples), tt.rate)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestState_Reset(t *testing.T) {
	t.Parallel()

	var st vad.State
	if st.Ready(16000) {
		t.Fatal("zero State must not be ready")
	}
	st.Reset(16000)
	if !st.Ready(16000) {
		t.Fatal("State not ready after Reset(16000)")
	}
	if len(st.Hidden) != vad.StateSize || len(st.Context) != 64 {
		t.Fatalf("sizes = %d/%d, want %d/64", len(st.Hidden), len(st.Context), vad.StateSize)
	}
	st.Hidden[0], st.Context[0] = 1, 1
	st.Reset(16000)
	if st.Hidden[0] != 0 || st.Context[0] != 0 {
		t.Error("Reset did not zero the state")
	}
	st.Reset(8000)
	if st.Ready(16000) || !st.Ready(8000) || len(st.Context) != 32 {
		t.Error("Reset(8000) did not rebind the state")
	}
}

func TestState_ContextCarriesTail(t *testing.T) {
	t.Parallel()

	eng := &mock.Engine{Probability: 0.1}
	var st vad.State
	frame := make([]float32, 512)
	for i := range frame {
		frame[i] = float32(i)
	}
	if _, err := eng.Infer(&st, frame, 16000); err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if st.Context[0] != 448 || st.Context[63] != 511 {
		t.Errorf("context = [%v .. %v], want [448 .. 511]", st.Context[0], st.Context[63])
	}
}

func TestMockEngine_ResetOnRateChange(t *testing.T) {
	t.Parallel()

	eng := &mock.Engine{ProbabilityFunc: mock.Sequence(0.9, 0.2)}
	var st vad.State

	p, err := eng.Infer(&st, make([]float32, 512), 16000)
	if err != nil || p != 0.9 {
		t.Fatalf("first Infer = %v, %v", p, err)
	}
	p, err = eng.Infer(&st, make([]float32, 512), 16000)
	if err != nil || p != 0.2 {
		t.Fatalf("second Infer = %v, %v", p, err)
	}
	if _, err := eng.Infer(&st, make([]float32, 256), 8000); err != nil {
		t.Fatalf("8k Infer: %v", err)
	}

	want := []bool{true, false, true}
	if len(eng.InferCalls) != len(want) {
		t.Fatalf("calls = %d, want %d", len(eng.InferCalls), len(want))
	}
	for i, c := range eng.InferCalls {
		if c.Reset != want[i] {
			t.Errorf("call %d reset = %v, want %v", i, c.Reset, want[i])
		}
	}
}

func TestMockEngine_InvalidFrameNotRecorded(t *testing.T) {
	t.Parallel()

	eng := &mock.Engine{}
	var st vad.State
	if _, err := eng.Infer(&st, make([]float32, 10), 16000); !errors.Is(err, vad.ErrInvalidFrameSize) {
		t.Errorf("Infer = %v, want ErrInvalidFrameSize", err)
	}
	if eng.CallCount() != 0 {
		t.Errorf("CallCount = %d, want 0", eng.CallCount())
	}
}

func TestMockEngine_FailureLeavesStateUntouched(t *testing.T) {
	t.Parallel()

	eng := &mock.Engine{InferErrFunc: func(call int) error {
		if call == 1 {
			return vad.ErrInference
		}
		return nil
	}}
	var st vad.State
	frame := make([]float32, 512)
	frame[511] = 0.5
	if _, err := eng.Infer(&st, frame, 16000); err != nil {
		t.Fatalf("Infer: %v", err)
	}
	other := make([]float32, 512)
	if _, err := eng.Infer(&st, other, 16000); !errors.Is(err, vad.ErrInference) {
		t.Fatalf("Infer = %v, want ErrInference", err)
	}
	if st.Context[63] != 0.5 {
		t.Errorf("context changed after failed inference: %v", st.Context[63])
	}
}
