package eou

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	onnxModelFile     = "onnx/model_q8.onnx"
	onnxTokenizerFile = "tokenizer.json"
	maxModelTokens    = 128
)

var (
	ortOnce    sync.Once
	ortInitErr error
)

// ensureOrtEnv initializes the ONNX runtime environment exactly once per
// process to avoid duplicate schema registration.
func ensureOrtEnv() error {
	ortOnce.Do(func() {
		if libPath := os.Getenv("ONNXRUNTIME_LIB"); libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		} else if runtime.GOOS == "darwin" {
			ort.SetSharedLibraryPath("/opt/homebrew/lib/libonnxruntime.dylib")
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

// Onnx scores end-of-utterance with a quantized language model. It only
// consults the model once a minimum silence gate has passed; before that it
// defers to the silence heuristic so the model can never cut the user off
// mid-breath.
type Onnx struct {
	modelPath string
	threshold float64
	heuristic *Heuristic

	tokenizer     *tokenizer.Tokenizer
	tokenizerOnce sync.Once
	tokenizerErr  error
}

// NewOnnx creates a model-backed detector. modelPath is the directory that
// holds onnx/model_q8.onnx and tokenizer.json; empty uses
// $VOICELOOP_MODEL_PATH or ~/.voiceloop/models.
func NewOnnx(modelPath string) (*Onnx, error) {
	if modelPath == "" {
		modelPath = defaultModelPath()
	}
	if _, err := os.Stat(filepath.Join(modelPath, onnxModelFile)); err != nil {
		return nil, fmt.Errorf("model file not found under %s: %w", modelPath, err)
	}
	return &Onnx{
		modelPath: modelPath,
		threshold: DefaultThreshold,
		heuristic: NewHeuristic(),
	}, nil
}

func (d *Onnx) Threshold() float64 {
	return d.threshold
}

// Score gates on a minimum silence window, then runs the model on the
// transcript.
func (d *Onnx) Score(ctx context.Context, seg Segment) (float64, error) {
	// Below half the base silence window the user may just be pausing.
	if seg.TrailingSilence < DefaultSilenceWindow/2 || seg.Transcript == "" {
		return d.heuristic.Score(ctx, seg)
	}

	tokens, err := d.tokenize(seg.Transcript)
	if err != nil {
		return 0, err
	}
	if len(tokens) == 0 {
		return 0.5, nil
	}
	return d.infer(ctx, tokens)
}

func (d *Onnx) tokenize(transcript string) ([]float32, error) {
	d.tokenizerOnce.Do(func() {
		file := filepath.Join(d.modelPath, onnxTokenizerFile)
		tk, err := pretrained.FromFile(file)
		if err != nil {
			d.tokenizerErr = fmt.Errorf("failed to load tokenizer: %w", err)
			return
		}
		d.tokenizer = tk
	})
	if d.tokenizerErr != nil {
		return nil, d.tokenizerErr
	}

	// Same chat template the model was trained on.
	text := fmt.Sprintf("<|im_start|><|user|>%s<|im_end|>", transcript)
	encoding, err := d.tokenizer.EncodeSingle(text, false)
	if err != nil {
		return nil, fmt.Errorf("tokenization failed: %w", err)
	}

	ids := encoding.GetIds()
	if len(ids) > maxModelTokens {
		ids = ids[len(ids)-maxModelTokens:]
	}

	out := make([]float32, len(ids))
	for i, id := range ids {
		out[i] = float32(id)
	}
	return out, nil
}

func (d *Onnx) infer(ctx context.Context, tokens []float32) (float64, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	if err := ensureOrtEnv(); err != nil {
		return 0, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
	}

	start := time.Now()

	inputShape := ort.NewShape(1, int64(len(tokens)))
	inputTensor, err := ort.NewTensor(inputShape, tokens)
	if err != nil {
		return 0, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		return 0, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	// Input length varies per call, so a session is created per inference.
	session, err := ort.NewSession[float32](
		filepath.Join(d.modelPath, onnxModelFile),
		[]string{"input_ids"},
		[]string{"logits"},
		[]*ort.Tensor[float32]{inputTensor},
		[]*ort.Tensor[float32]{outputTensor},
	)
	if err != nil {
		return 0, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	defer session.Destroy()

	if err := session.Run(); err != nil {
		return 0, fmt.Errorf("ONNX inference failed: %w", err)
	}

	out := outputTensor.GetData()
	if len(out) == 0 {
		return 0, fmt.Errorf("empty output tensor")
	}

	if latency := time.Since(start); latency > 25*time.Millisecond {
		slog.Debug("slow end-of-utterance inference", slog.Duration("latency", latency))
	}

	prob := float64(out[0])
	if prob < 0 {
		prob = 0
	} else if prob > 1 {
		prob = 1
	}
	return prob, nil
}

func defaultModelPath() string {
	if path := os.Getenv("VOICELOOP_MODEL_PATH"); path != "" {
		return path
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/voiceloop-models"
	}
	return filepath.Join(homeDir, ".voiceloop", "models")
}
