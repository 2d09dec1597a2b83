package ai

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// initRuntime loads the onnxruntime shared library once per process.
func initRuntime(libPath string) error {
	ortInitOnce.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			ortInitErr = fmt.Errorf("onnx init environment: %w", err)
		}
	})
	return ortInitErr
}

// ONNXEmbedder runs a sentence-transformers ONNX export locally. Inputs are
// padded to MaxSeqLength so one pre-allocated session serves every call; the
// attention mask keeps padding out of the mean pool.
type ONNXEmbedder struct {
	mu sync.Mutex

	model     string
	maxLen    int
	normalize bool
	dim       int
	pooled    bool

	tokenizer *WordPiece
	session   *ort.AdvancedSession
	inputIDs  *ort.Tensor[int64]
	mask      *ort.Tensor[int64]
	typeIDs   *ort.Tensor[int64]
	output    *ort.Tensor[float32]
}

func NewONNXEmbedder(opts EmbedderOptions) (*ONNXEmbedder, error) {
	maxLen := opts.MaxSeqLength
	if maxLen <= 0 {
		maxLen = 256
	}
	if err := initRuntime(opts.ONNXLibPath); err != nil {
		return nil, err
	}
	tokenizer, err := LoadWordPiece(opts.ONNXVocabPath)
	if err != nil {
		return nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfo(opts.ONNXModelPath)
	if err != nil {
		return nil, fmt.Errorf("onnx get input/output info: %w", err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, fmt.Errorf("onnx model has no inputs or outputs")
	}

	e := &ONNXEmbedder{
		model:     opts.ModelName,
		maxLen:    maxLen,
		normalize: opts.Normalize,
		tokenizer: tokenizer,
	}
	if err := e.allocate(opts, inputs, outputs); err != nil {
		e.Close()
		return nil, err
	}
	if opts.Dimension > 0 && opts.Dimension != e.dim {
		e.Close()
		return nil, fmt.Errorf("model %s produces %d dimensions, configured %d", opts.ModelName, e.dim, opts.Dimension)
	}
	return e, nil
}

func (e *ONNXEmbedder) allocate(opts EmbedderOptions, inputs, outputs []ort.InputOutputInfo) error {
	out := outputs[0]
	for _, o := range outputs {
		if o.Name == "last_hidden_state" || o.Name == "sentence_embedding" {
			out = o
			break
		}
	}
	dims := out.Dimensions
	if len(dims) < 2 || dims[len(dims)-1] <= 0 {
		return fmt.Errorf("unexpected output shape %v", dims)
	}
	e.dim = int(dims[len(dims)-1])
	e.pooled = len(dims) == 2

	seqShape := ort.NewShape(1, int64(e.maxLen))
	var (
		values []ort.Value
		names  []string
		err    error
	)
	for _, in := range inputs {
		var t *ort.Tensor[int64]
		t, err = ort.NewEmptyTensor[int64](seqShape)
		if err != nil {
			return fmt.Errorf("onnx new input tensor: %w", err)
		}
		switch in.Name {
		case "input_ids":
			e.inputIDs = t
		case "attention_mask":
			e.mask = t
		case "token_type_ids":
			e.typeIDs = t
		default:
			t.Destroy()
			return fmt.Errorf("unsupported model input %q", in.Name)
		}
		values = append(values, t)
		names = append(names, in.Name)
	}
	if e.inputIDs == nil || e.mask == nil {
		return fmt.Errorf("model needs input_ids and attention_mask inputs")
	}

	outShape := ort.NewShape(1, int64(e.maxLen), int64(e.dim))
	if e.pooled {
		outShape = ort.NewShape(1, int64(e.dim))
	}
	e.output, err = ort.NewEmptyTensor[float32](outShape)
	if err != nil {
		return fmt.Errorf("onnx new output tensor: %w", err)
	}

	sessionOpts, err := ort.NewSessionOptions()
	if err != nil {
		return fmt.Errorf("onnx session options: %w", err)
	}
	defer sessionOpts.Destroy()
	if opts.Device == "cuda" {
		cudaOpts, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return fmt.Errorf("onnx cuda options: %w", err)
		}
		defer cudaOpts.Destroy()
		if err := sessionOpts.AppendExecutionProviderCUDA(cudaOpts); err != nil {
			return fmt.Errorf("onnx enable cuda: %w", err)
		}
	}

	e.session, err = ort.NewAdvancedSession(opts.ONNXModelPath, names, []string{out.Name},
		values, []ort.Value{e.output}, sessionOpts)
	if err != nil {
		return fmt.Errorf("onnx new session: %w", err)
	}
	return nil
}

func (e *ONNXEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vec, err := e.embed(text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (e *ONNXEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.embed(text)
}

func (e *ONNXEmbedder) embed(text string) ([]float32, error) {
	ids := e.tokenizer.Encode(text, e.maxLen)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, fmt.Errorf("onnx embedder is closed")
	}

	idData := e.inputIDs.GetData()
	maskData := e.mask.GetData()
	for i := 0; i < e.maxLen; i++ {
		idData[i], maskData[i] = 0, 0
		if i < len(ids) {
			idData[i], maskData[i] = ids[i], 1
		}
	}
	if e.typeIDs != nil {
		typeData := e.typeIDs.GetData()
		for i := range typeData {
			typeData[i] = 0
		}
	}
	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("onnx run: %w", err)
	}

	raw := e.output.GetData()
	vec := make([]float32, e.dim)
	if e.pooled {
		copy(vec, raw[:e.dim])
	} else {
		for t := 0; t < len(ids); t++ {
			row := raw[t*e.dim : (t+1)*e.dim]
			for j := range vec {
				vec[j] += row[j]
			}
		}
		for j := range vec {
			vec[j] /= float32(len(ids))
		}
	}
	if e.normalize {
		normalizeL2(vec)
	}
	return vec, nil
}

func (e *ONNXEmbedder) Dimension() int    { return e.dim }
func (e *ONNXEmbedder) ModelName() string { return e.model }

func (e *ONNXEmbedder) Ping(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return fmt.Errorf("onnx session not loaded")
	}
	return nil
}

func (e *ONNXEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var err error
	if e.session != nil {
		err = e.session.Destroy()
		e.session = nil
	}
	for _, t := range []*ort.Tensor[int64]{e.inputIDs, e.mask, e.typeIDs} {
		if t != nil {
			t.Destroy()
		}
	}
	if e.output != nil {
		e.output.Destroy()
	}
	e.inputIDs, e.mask, e.typeIDs, e.output = nil, nil, nil, nil
	return err
}
