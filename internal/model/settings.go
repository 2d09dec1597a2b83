package model

const (
	SearchTypeSimilarity = "similarity"
	SearchTypeMMR        = "mmr"
)

type ChunkingConfig struct {
	ChunkSize    int    `json:"chunk_size" validate:"min=100,max=10000"`
	ChunkOverlap int    `json:"chunk_overlap" validate:"min=0,ltfield=ChunkSize"`
	Separator    string `json:"separator" validate:"required"`
}

type EmbeddingConfig struct {
	Provider  string `json:"provider" validate:"oneof=hash openai onnx"`
	ModelName string `json:"model_name" validate:"required"`
	Device    string `json:"device" validate:"oneof=cpu cuda"`
	Normalize bool   `json:"normalize"`
	Dimension int    `json:"dimension" validate:"min=0,max=8192"`
}

type RetrievalConfig struct {
	K              int      `json:"k" validate:"min=1,max=50"`
	SearchType     string   `json:"search_type" validate:"oneof=similarity mmr"`
	ScoreThreshold *float64 `json:"score_threshold" validate:"omitempty,min=0,max=1"`
	FetchK         int      `json:"fetch_k" validate:"gtefield=K,max=500"`
	LambdaMult     float64  `json:"lambda_mult" validate:"min=0,max=1"`
}

// GenerationConfig describes the external chat collaborator. It is read-only.
type GenerationConfig struct {
	Model      string `json:"model"`
	BaseURL    string `json:"base_url"`
	Configured bool   `json:"configured"`
}
