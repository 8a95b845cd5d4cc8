package ai

import (
	"context"
	"errors"
	"testing"
)

func startLoop(t *testing.T, dec TokenDecoder, opts Options) *Loop {
	t.Helper()
	loop := NewLoop(dec, NewDetokenizer(newTestVocab(t)))
	if err := loop.Start(Request{Audio: testAudio(), Options: opts}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return loop
}

func TestLoop_ImmediateEndOfText(t *testing.T) {
	dec := &scriptedDecoder{script: []int{EndOfText}}
	loop := startLoop(t, dec, Options{})

	state, err := loop.Step(context.Background())
	if err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if state != StateFinished {
		t.Errorf("Expected finished, got %s", state)
	}
	if loop.Transcript() != "" {
		t.Errorf("Expected empty transcript, got %q", loop.Transcript())
	}
	if got := loop.Generated(); len(got) != 1 || got[0] != EndOfText {
		t.Errorf("Generated = %v", got)
	}
}

func TestLoop_HelloWorld(t *testing.T) {
	dec := &scriptedDecoder{script: []int{0, 1, EndOfText}}
	var deltas []string
	loop := startLoop(t, dec, Options{})
	loop.OnText = func(delta string) { deltas = append(deltas, delta) }

	ctx := context.Background()
	if s, _ := loop.Step(ctx); s != StateDecoding {
		t.Fatalf("after step 1: %s", s)
	}
	if loop.Transcript() != "Hello" {
		t.Errorf("after step 1: %q", loop.Transcript())
	}
	loop.Step(ctx)
	if loop.Transcript() != "Hello world" {
		t.Errorf("after step 2: %q", loop.Transcript())
	}
	if s, _ := loop.Step(ctx); s != StateFinished {
		t.Errorf("after step 3: %s", s)
	}
	if loop.Transcript() != "Hello world" {
		t.Errorf("final transcript %q", loop.Transcript())
	}
	if len(deltas) != 2 || deltas[0] != "Hello" || deltas[1] != " world" {
		t.Errorf("deltas = %q", deltas)
	}

	// Терминальное состояние: Step ничего не делает
	if s, err := loop.Step(ctx); s != StateFinished || err != nil {
		t.Errorf("Step after finish: %s, %v", s, err)
	}
	if dec.calls != 3 {
		t.Errorf("Expected 3 decoder calls, got %d", dec.calls)
	}
}

func TestLoop_FeedsFixedWidthSequence(t *testing.T) {
	dec := &scriptedDecoder{script: []int{0, EndOfText}}
	loop := startLoop(t, dec, Options{Language: "de", Capacity: 8})
	if _, err := loop.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := [][]int{
		{StartOfTranscript, German, Transcribe, NoTimestamps, 0, 0, 0, 0},
		{StartOfTranscript, German, Transcribe, NoTimestamps, 0, 0, 0, 0},
	}
	if len(dec.inputs) != len(want) {
		t.Fatalf("Expected %d calls, got %d", len(want), len(dec.inputs))
	}
	for i := range want {
		if len(dec.inputs[i]) != 8 {
			t.Fatalf("call %d: width %d", i, len(dec.inputs[i]))
		}
		for j := range want[i] {
			if dec.inputs[i][j] != want[i][j] {
				t.Errorf("call %d: input = %v, want %v", i, dec.inputs[i], want[i])
				break
			}
		}
	}
	if got := loop.Tokens(); len(got) != 6 || got[4] != 0 || got[5] != EndOfText {
		t.Errorf("Tokens = %v", got)
	}
}

func TestLoop_Truncated(t *testing.T) {
	// Без END_OF_TEXT декодер заполняет последовательность
	script := make([]int, 200)
	for i := range script {
		script[i] = 2 // "!"
	}
	dec := &scriptedDecoder{script: script}
	loop := startLoop(t, dec, Options{})

	res, err := loop.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.State != StateTruncated {
		t.Errorf("Expected truncated, got %s", res.State)
	}
	if len(loop.Tokens()) != DefaultCapacity {
		t.Errorf("Expected %d tokens, got %d", DefaultCapacity, len(loop.Tokens()))
	}
	generated := DefaultCapacity - 4
	if dec.calls != generated || len(res.Text) != generated {
		t.Errorf("Expected %d steps and chars, got %d/%d", generated, dec.calls, len(res.Text))
	}
}

func TestLoop_Deterministic(t *testing.T) {
	run := func() *Result {
		loop := startLoop(t, &scriptedDecoder{script: []int{5, 3, 4, 2, EndOfText}}, Options{})
		res, err := loop.Run(context.Background())
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		return res
	}
	a, b := run(), run()
	if a.Text != b.Text || a.Text != " café!" {
		t.Errorf("Results differ or wrong: %q vs %q", a.Text, b.Text)
	}
}

func TestLoop_DecoderFailure(t *testing.T) {
	dec := &scriptedDecoder{script: []int{0, 1, 2}, failAt: 3}
	loop := startLoop(t, dec, Options{})
	ctx := context.Background()

	loop.Step(ctx)
	loop.Step(ctx)
	state, err := loop.Step(ctx)
	if !errors.Is(err, ErrModelInference) || !errors.Is(err, errDecoderBroken) {
		t.Errorf("Expected wrapped decoder error, got %v", err)
	}
	if state != StateIdle {
		t.Errorf("Expected idle after failure, got %s", state)
	}
	if loop.Transcript() != "Hello world" {
		t.Errorf("Partial transcript lost: %q", loop.Transcript())
	}
	if _, err := loop.Step(ctx); !errors.Is(err, ErrNotDecoding) {
		t.Errorf("Expected ErrNotDecoding, got %v", err)
	}

	// После ошибки цикл снова принимает запросы
	if err := loop.Start(Request{Audio: testAudio()}); err != nil {
		t.Errorf("Restart failed: %v", err)
	}
}

func TestLoop_ShortPrediction(t *testing.T) {
	loop := startLoop(t, &scriptedDecoder{short: true}, Options{})
	state, err := loop.Step(context.Background())
	if !errors.Is(err, ErrModelInference) || state != StateIdle {
		t.Errorf("Expected inference error and idle, got %s, %v", state, err)
	}
}

func TestLoop_StartErrors(t *testing.T) {
	detok := NewDetokenizer(newTestVocab(t))

	loop := NewLoop(&scriptedDecoder{}, detok)
	if err := loop.Start(Request{}); !errors.Is(err, ErrModelInference) {
		t.Errorf("Expected ErrModelInference for missing audio, got %v", err)
	}
	if err := loop.Start(Request{Audio: testAudio(), Options: Options{Capacity: 4}}); !errors.Is(err, ErrSequenceCapacityExceeded) {
		t.Errorf("Expected ErrSequenceCapacityExceeded, got %v", err)
	}
	if err := loop.Start(Request{Audio: testAudio(), Options: Options{Capacity: MaxCapacity + 1}}); !errors.Is(err, ErrSequenceCapacityExceeded) {
		t.Errorf("Expected ErrSequenceCapacityExceeded above MaxCapacity, got %v", err)
	}
	if err := loop.Start(Request{Audio: testAudio(), Options: Options{Language: "xx"}}); err == nil {
		t.Error("Expected error for unknown language")
	}
	if loop.State() != StateIdle {
		t.Errorf("Expected idle, got %s", loop.State())
	}

	if err := loop.Start(Request{Audio: testAudio()}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := loop.Start(Request{Audio: testAudio()}); !errors.Is(err, ErrLoopBusy) {
		t.Errorf("Expected ErrLoopBusy, got %v", err)
	}
}

func TestLoop_MaxCapacity(t *testing.T) {
	dec := &scriptedDecoder{script: []int{EndOfText}}
	loop := startLoop(t, dec, Options{Capacity: MaxCapacity})
	if _, err := loop.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(dec.inputs[0]) != MaxCapacity {
		t.Errorf("Decoder got %d-wide sequence, want %d", len(dec.inputs[0]), MaxCapacity)
	}
}

// positionalDecoder предсказывает byPosition[i] в позиции i, иначе 0;
// токен виден только при чтении из правильной позиции
type positionalDecoder struct {
	byPosition map[int]int
}

func (d positionalDecoder) Predict(ctx context.Context, tokens []int, audio *Tensor) ([]int, error) {
	out := make([]int, len(tokens))
	for i := range out {
		out[i] = 2 // "!"
		if tok, ok := d.byPosition[i]; ok {
			out[i] = tok
		}
	}
	return out, nil
}

func TestLoop_ReadsPredictionAtLastToken(t *testing.T) {
	// Префикс занимает позиции 0..3: первое предсказание читается из 3
	dec := positionalDecoder{byPosition: map[int]int{3: 0, 4: 1, 5: EndOfText}}
	loop := startLoop(t, dec, Options{Capacity: 16})
	res, err := loop.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.State != StateFinished || res.Text != "Hello world" {
		t.Errorf("Expected finished \"Hello world\", got %s %q", res.State, res.Text)
	}
	if got := loop.Generated(); len(got) != 3 || got[0] != 0 || got[1] != 1 || got[2] != EndOfText {
		t.Errorf("Generated = %v", got)
	}
}

func TestLoop_CapacityFive(t *testing.T) {
	// Префикс 4 токена + один сгенерированный
	loop := startLoop(t, &scriptedDecoder{script: []int{0}}, Options{Capacity: 5})
	res, err := loop.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.State != StateTruncated || res.Text != "Hello" {
		t.Errorf("Expected truncated Hello, got %s %q", res.State, res.Text)
	}
}

func TestLoop_ContextCancelled(t *testing.T) {
	loop := startLoop(t, &scriptedDecoder{script: []int{0}}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	state, err := loop.Step(ctx)
	if !errors.Is(err, context.Canceled) || state != StateIdle {
		t.Errorf("Expected cancellation, got %s, %v", state, err)
	}
}

func TestLoop_Reset(t *testing.T) {
	loop := startLoop(t, &scriptedDecoder{script: []int{0, 1}}, Options{})
	loop.Step(context.Background())
	loop.Reset()
	if loop.State() != StateIdle {
		t.Errorf("Expected idle after reset, got %s", loop.State())
	}
	if err := loop.Start(Request{Audio: testAudio()}); err != nil {
		t.Errorf("Start after reset failed: %v", err)
	}
	if loop.Transcript() != "" {
		t.Errorf("Start must clear transcript, got %q", loop.Transcript())
	}
}

func TestLoop_TimestampsRendered(t *testing.T) {
	loop := startLoop(t, &scriptedDecoder{script: []int{StartTime, 0, StartTime + 50, EndOfText}}, Options{Timestamps: true})
	res, err := loop.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Text != "(time=0)Hello(time=1)" {
		t.Errorf("Text = %q", res.Text)
	}
}

func TestStateText(t *testing.T) {
	for state, want := range map[State]string{
		StateIdle: "idle", StateDecoding: "decoding", StateFinished: "finished", StateTruncated: "truncated",
	} {
		b, _ := state.MarshalText()
		if string(b) != want {
			t.Errorf("%d: %q, want %q", int(state), b, want)
		}
	}
	if StateDecoding.Terminal() || !StateTruncated.Terminal() {
		t.Error("Terminal is wrong")
	}
}

func TestOptions_Validate(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want error
	}{
		{"defaults", Options{}, nil},
		{"max capacity", Options{Capacity: MaxCapacity}, nil},
		{"above max", Options{Capacity: MaxCapacity + 1}, ErrSequenceCapacityExceeded},
		{"prefix only", Options{Capacity: 4}, ErrSequenceCapacityExceeded},
		{"huge", Options{Capacity: 50_000_000}, ErrSequenceCapacityExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()
			if tt.want == nil && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
	if err := (Options{Language: "xx"}).Validate(); err == nil {
		t.Error("Expected error for unknown language")
	}
}

func TestLoop_ResultCountsMalformed(t *testing.T) {
	loop := startLoop(t, &scriptedDecoder{script: []int{0, 8, EndOfText}}, Options{})
	res, err := loop.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "Hello�" || res.Malformed != 1 {
		t.Errorf("Unexpected result: %q malformed=%d", res.Text, res.Malformed)
	}
}
