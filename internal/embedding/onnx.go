//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/hyperjump/chie/pkg/utils"
)

// modelTensors holds the pre-allocated input/output tensors for one session.
// Allocation happens once; Embed rewrites the input data in place before each
// Run, so inference never allocates tensors on the hot path.
type modelTensors struct {
	inputIDs      *ort.Tensor[int64]
	attentionMask *ort.Tensor[int64]
	tokenTypeIDs  *ort.Tensor[int64]
	output        *ort.Tensor[float32]
}

func newModelTensors(maxTokens, dimensions int) (*modelTensors, error) {
	tok := &SimpleTokenizer{}
	ids, mask, types := tok.Tokenize("", maxTokens)

	mt := &modelTensors{}
	var err error
	shape := ort.NewShape(1, int64(maxTokens))
	if mt.inputIDs, err = ort.NewTensor(shape, ids); err == nil {
		if mt.attentionMask, err = ort.NewTensor(shape, mask); err == nil {
			if mt.tokenTypeIDs, err = ort.NewTensor(shape, types); err == nil {
				mt.output, err = ort.NewTensor(ort.NewShape(1, int64(dimensions)), make([]float32, dimensions))
			}
		}
	}
	if err != nil {
		mt.destroy()
		return nil, fmt.Errorf("failed to allocate model tensors: %w", err)
	}
	return mt, nil
}

func (mt *modelTensors) inputs() []ort.ArbitraryTensor {
	return []ort.ArbitraryTensor{mt.inputIDs, mt.attentionMask, mt.tokenTypeIDs}
}

func (mt *modelTensors) destroy() {
	for _, t := range []ort.ArbitraryTensor{mt.inputIDs, mt.attentionMask, mt.tokenTypeIDs, mt.output} {
		if t != nil {
			_ = t.Destroy()
		}
	}
	mt.inputIDs, mt.attentionMask, mt.tokenTypeIDs, mt.output = nil, nil, nil, nil
}

// ONNXEmbedder runs a local ONNX model. It requires CGO and the onnxruntime
// shared library; builds without CGO get the stub that returns an error.
type ONNXEmbedder struct {
	session    *ort.AdvancedSession
	tensors    *modelTensors
	tokenizer  Tokenizer
	dimensions int
	maxTokens  int
	cache      *Cache
	mu         sync.Mutex
}

// NewONNXEmbedder loads the model at modelPath and prepares a reusable
// inference session. InitializeEnvironment is idempotent across embedders.
func NewONNXEmbedder(modelPath string, dimensions, maxTokens, cacheSize int) (*ONNXEmbedder, error) {
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
	}

	tensors, err := newModelTensors(maxTokens, dimensions)
	if err != nil {
		return nil, err
	}
	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"output"},
		tensors.inputs(),
		[]ort.ArbitraryTensor{tensors.output},
		nil,
	)
	if err != nil {
		tensors.destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &ONNXEmbedder{
		session:    session,
		tensors:    tensors,
		tokenizer:  &SimpleTokenizer{},
		dimensions: dimensions,
		maxTokens:  maxTokens,
		cache:      NewCache(cacheSize),
	}, nil
}

// Embed returns the L2-normalized embedding for text. Results are cached by
// exact text; the session itself admits one inference at a time.
func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if cached, ok := e.cache.Get(text); ok {
		return cached, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ids, mask, types := e.tokenizer.Tokenize(text, e.maxTokens)
	copy(e.tensors.inputIDs.GetData(), ids)
	copy(e.tensors.attentionMask.GetData(), mask)
	copy(e.tensors.tokenTypeIDs.GetData(), types)

	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	embedding := make([]float32, e.dimensions)
	copy(embedding, e.tensors.output.GetData()[:e.dimensions])
	utils.NormalizeL2(embedding)

	e.cache.Set(text, embedding)
	return embedding, nil
}

// EmbedBatch embeds texts sequentially; the single pre-allocated tensor set
// serializes inference anyway, so there is no gain in fanning out.
func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}

func (e *ONNXEmbedder) Dimensions() int {
	return e.dimensions
}

// Close destroys the session and its tensors.
func (e *ONNXEmbedder) Close() error {
	var err error
	if e.session != nil {
		err = e.session.Destroy()
		e.session = nil
	}
	if e.tensors != nil {
		e.tensors.destroy()
		e.tensors = nil
	}
	return err
}
