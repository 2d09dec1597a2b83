package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"legalrag/internal/ai"
	"legalrag/internal/chunker"
	"legalrag/internal/docstore"
	"legalrag/internal/metrics"
	"legalrag/internal/model"
	"legalrag/internal/pkg/pdfextract"
	"legalrag/internal/vectorindex"
)

type UploadInput struct {
	Filename     string
	DocumentType string
	Data         []byte
	ChunkSize    *int
	ChunkOverlap *int
	Overwrite    bool
}

type ProcessingStats struct {
	PagesExtracted      int `json:"pages_extracted"`
	TotalCharacters     int `json:"total_characters"`
	ChunksCreated       int `json:"chunks_created"`
	EmbeddingsGenerated int `json:"embeddings_generated"`
	VectorsAdded        int `json:"vectors_added"`
	EmbeddingDimension  int `json:"embedding_dimension"`
}

type UploadResult struct {
	Filename        string               `json:"filename"`
	SavedPath       string               `json:"saved_path"`
	DocumentType    model.DocumentType   `json:"document_type"`
	Folder          string               `json:"folder"`
	Overwritten     bool                 `json:"overwritten"`
	ChunkConfig     model.ChunkingConfig `json:"chunk_config"`
	ProcessingStats ProcessingStats      `json:"processing_stats"`
	ElapsedSeconds  float64              `json:"elapsed_seconds"`
}

type DocumentSummary struct {
	TotalDocuments      int `json:"total_documents"`
	TotalChunks         int `json:"total_chunks"`
	DocumentsNotIndexed int `json:"documents_not_indexed"`
}

type DocumentList struct {
	Documents []model.Document `json:"documents"`
	Summary   DocumentSummary  `json:"summary"`
}

type DeleteResult struct {
	DeletedFile         string  `json:"deleted_file"`
	ChunksRemoved       int     `json:"chunks_removed"`
	DiskSpaceFreedMB    float64 `json:"disk_space_freed_mb"`
	DiskSpaceFreedBytes int64   `json:"disk_space_freed_bytes"`
}

type ReprocessInput struct {
	Filename     string
	Folder       *string
	ChunkSize    *int
	ChunkOverlap *int
	Separator    *string
}

type ReprocessResult struct {
	Filename         string               `json:"filename"`
	Path             string               `json:"path"`
	OldChunksRemoved int                  `json:"old_chunks_removed"`
	NewChunksAdded   int                  `json:"new_chunks_added"`
	ChunksReducedBy  int                  `json:"chunks_reduced_by"`
	PercentageChange float64              `json:"percentage_change"`
	ChunkConfigUsed  model.ChunkingConfig `json:"chunk_config_used"`
	ElapsedSeconds   float64              `json:"elapsed_seconds"`
}

// processed is a document turned into index entries in memory. Entries have
// no id or source until bound to a stored path.
type processed struct {
	entries []vectorindex.Entry
	pages   int
	chars   int
	dim     int
}

func (p *processed) bind(source string) []vectorindex.Entry {
	out := make([]vectorindex.Entry, len(p.entries))
	for i, e := range p.entries {
		e.ID = vectorindex.ChunkID(source, e.Metadata.ChunkIndex)
		e.Metadata.Source = source
		out[i] = e
	}
	return out
}

// process extracts, chunks and embeds data. Nothing is written.
func (s *AdminService) process(ctx context.Context, emb ai.Embedder, name string, data []byte, docType model.DocumentType, cc model.ChunkingConfig) (*processed, error) {
	pages, err := pdfextract.ExtractPages(name, data)
	if err != nil {
		return nil, fmt.Errorf("extract text: %w", err)
	}
	split := chunker.New(
		chunker.WithChunkSize(cc.ChunkSize),
		chunker.WithOverlap(cc.ChunkOverlap),
		chunker.WithSeparator(cc.Separator),
	)
	chunks, total := split.Split(pages)
	if len(chunks) == 0 {
		return nil, pdfextract.ErrNoText
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := emb.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	p := &processed{pages: len(pages), chars: total, dim: emb.Dimension()}
	p.entries = make([]vectorindex.Entry, len(chunks))
	for i, c := range chunks {
		p.entries[i] = vectorindex.Entry{
			Vector: vectors[i],
			Text:   c.Text,
			Metadata: vectorindex.Metadata{
				Page:         c.Page,
				DocumentType: string(docType),
				ChunkIndex:   i,
			},
		}
	}
	return p, nil
}

// mergeChunking overlays the given overrides on the current chunking config.
func (s *AdminService) mergeChunking(size, overlap *int, sep *string) (model.ChunkingConfig, error) {
	cc := s.settings.Chunking()
	if size != nil {
		cc.ChunkSize = *size
	}
	if overlap != nil {
		cc.ChunkOverlap = *overlap
	}
	if sep != nil {
		cc.Separator = *sep
	}
	if err := s.settings.ValidateChunking(cc); err != nil {
		return model.ChunkingConfig{}, err
	}
	return cc, nil
}

func cleanFilename(name string) (string, error) {
	filename, err := docstore.CleanFilename(name)
	if err != nil {
		return "", newOpError(ErrInvalidInput, "invalid filename", err).with("filename", name)
	}
	return filename, nil
}

func searchFolders(folder *string) ([]string, error) {
	if folder == nil {
		return nil, nil
	}
	f, err := docstore.CleanFolder(*folder)
	if err != nil {
		return nil, newOpError(ErrInvalidInput, "invalid folder", err).with("folder", *folder)
	}
	return []string{f}, nil
}

func (s *AdminService) locate(ctx context.Context, filename string, folders []string) (model.Document, error) {
	doc, err := s.store.Locate(ctx, filename, folders...)
	if errors.Is(err, docstore.ErrNotFound) {
		searched := folders
		if len(searched) == 0 {
			searched = model.SearchFolders
		}
		return model.Document{}, newOpError(ErrFileNotFound, "document not found", nil).
			with("filename", filename).
			with("searched_folders", searched)
	}
	if err != nil {
		return model.Document{}, newOpError(ErrBackendUnavailable, "document store unavailable", err)
	}
	return doc, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func (s *AdminService) Upload(ctx context.Context, in UploadInput) (res *UploadResult, err error) {
	started := time.Now()
	defer func() { metrics.ObserveOperation("upload", started, err) }()
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	filename, err := cleanFilename(in.Filename)
	if err != nil {
		return nil, err
	}
	if !pdfextract.IsSupported(filename) {
		return nil, newOpError(ErrInvalidFileType, "unsupported file type", nil).
			with("filename", filename).
			with("allowed_extensions", pdfextract.SupportedExtensions())
	}
	docType := model.DocumentType(in.DocumentType)
	folder, ok := docType.Folder()
	if !ok {
		return nil, newOpError(ErrInvalidInput, "unknown document type", nil).
			with("document_type", in.DocumentType).
			with("allowed_types", model.DocumentTypes())
	}
	if len(in.Data) == 0 {
		return nil, newOpError(ErrInvalidInput, "uploaded file is empty", nil)
	}
	cc, err := s.mergeChunking(in.ChunkSize, in.ChunkOverlap, nil)
	if err != nil {
		return nil, err
	}
	emb, err := s.compatibleEmbedder()
	if err != nil {
		return nil, err
	}

	proc, err := s.process(ctx, emb, filename, in.Data, docType, cc)
	if err != nil {
		return nil, newOpError(ErrProcessing, "failed to process document", err).with("filename", filename)
	}

	unlock, err := s.lockDocument(folder, filename)
	if err != nil {
		return nil, err
	}
	defer unlock()
	if err := s.embedderUnchanged(emb); err != nil {
		return nil, err
	}

	existed, err := s.store.Exists(ctx, folder, filename)
	if err != nil {
		return nil, newOpError(ErrBackendUnavailable, "document store unavailable", err)
	}
	if existed && !in.Overwrite {
		return nil, newOpError(ErrDocumentExists, "document already exists; set overwrite to replace it", nil).
			with("filename", filename).
			with("folder", folder)
	}

	doc, err := s.store.Save(ctx, folder, filename, in.Data, in.Overwrite)
	if errors.Is(err, docstore.ErrExists) {
		return nil, newOpError(ErrDocumentExists, "document already exists", err).with("filename", filename)
	}
	if err != nil {
		return nil, newOpError(ErrBackendUnavailable, "failed to save document", err)
	}

	entries := proc.bind(doc.Path)
	if _, err := s.index.Replace(ctx, doc.Path, entries); err != nil {
		if !existed {
			if _, rmErr := s.store.Delete(context.WithoutCancel(ctx), doc); rmErr != nil {
				s.log.Error("rollback saved document failed", zap.String("path", doc.Path), zap.Error(rmErr))
			}
		}
		return nil, indexError("failed to index document", err)
	}

	s.log.Info("document uploaded",
		zap.String("path", doc.Path),
		zap.String("document_type", string(docType)),
		zap.Int("chunks", len(entries)))
	s.afterMutation(ctx, model.IndexEvent{
		Type:         model.EventDocumentUploaded,
		Source:       doc.Path,
		DocumentType: string(docType),
		Chunks:       len(entries),
	})

	return &UploadResult{
		Filename:     filename,
		SavedPath:    doc.Path,
		DocumentType: docType,
		Folder:       folder,
		Overwritten:  existed,
		ChunkConfig:  cc,
		ProcessingStats: ProcessingStats{
			PagesExtracted:      proc.pages,
			TotalCharacters:     proc.chars,
			ChunksCreated:       len(entries),
			EmbeddingsGenerated: len(entries),
			VectorsAdded:        len(entries),
			EmbeddingDimension:  proc.dim,
		},
		ElapsedSeconds: round2(time.Since(started).Seconds()),
	}, nil
}

func (s *AdminService) ListDocuments(ctx context.Context, folder *string) (*DocumentList, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if folder != nil {
		f, err := docstore.CleanFolder(*folder)
		if err != nil {
			return nil, newOpError(ErrInvalidInput, "invalid folder", err).with("folder", *folder)
		}
		folder = &f
	}
	docs, err := s.store.List(ctx, folder)
	if err != nil {
		return nil, newOpError(ErrBackendUnavailable, "failed to list documents", err)
	}
	sources, err := s.index.Sources(ctx)
	if err != nil {
		return nil, indexError("failed to read vector index", err)
	}

	list := &DocumentList{Documents: make([]model.Document, 0, len(docs))}
	for _, doc := range docs {
		if stat, ok := sources[doc.Path]; ok && stat.Chunks > 0 {
			doc.InVectorstore = true
			doc.ChunkCount = stat.Chunks
			if stat.DocumentType != "" {
				doc.DocumentType = model.DocumentType(stat.DocumentType)
			}
		} else {
			doc.InVectorstore = false
			doc.ChunkCount = 0
			list.Summary.DocumentsNotIndexed++
		}
		list.Summary.TotalChunks += doc.ChunkCount
		list.Documents = append(list.Documents, doc)
	}
	sort.Slice(list.Documents, func(i, j int) bool { return list.Documents[i].Path < list.Documents[j].Path })
	list.Summary.TotalDocuments = len(list.Documents)
	return list, nil
}

func (s *AdminService) DeleteDocument(ctx context.Context, filename string, folder *string) (res *DeleteResult, err error) {
	started := time.Now()
	defer func() { metrics.ObserveOperation("delete", started, err) }()
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	filename, err = cleanFilename(filename)
	if err != nil {
		return nil, err
	}
	folders, err := searchFolders(folder)
	if err != nil {
		return nil, err
	}
	doc, err := s.locate(ctx, filename, folders)
	if err != nil {
		return nil, err
	}

	unlock, err := s.lockDocument(doc.Folder, doc.Filename)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// another request may have removed it while we waited for the lock
	if ok, err := s.store.Exists(ctx, doc.Folder, doc.Filename); err != nil {
		return nil, newOpError(ErrBackendUnavailable, "document store unavailable", err)
	} else if !ok {
		return nil, newOpError(ErrFileNotFound, "document not found", nil).with("filename", filename)
	}

	removed, err := s.index.Delete(ctx, vectorindex.Filter{Source: doc.Path})
	if err != nil {
		return nil, indexError("failed to remove document chunks", err)
	}
	freed, err := s.store.Delete(ctx, doc)
	if err != nil {
		return nil, newOpError(ErrBackendUnavailable, "chunks removed but deleting the file failed", err).
			with("chunks_removed", removed)
	}

	s.log.Info("document deleted", zap.String("path", doc.Path), zap.Int("chunks_removed", removed))
	s.afterMutation(ctx, model.IndexEvent{
		Type:   model.EventDocumentDeleted,
		Source: doc.Path,
		Chunks: removed,
	})

	return &DeleteResult{
		DeletedFile:         doc.Path,
		ChunksRemoved:       removed,
		DiskSpaceFreedMB:    round2(float64(freed) / (1024 * 1024)),
		DiskSpaceFreedBytes: freed,
	}, nil
}

func (s *AdminService) Reprocess(ctx context.Context, in ReprocessInput) (res *ReprocessResult, err error) {
	started := time.Now()
	defer func() { metrics.ObserveOperation("reprocess", started, err) }()
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	filename, err := cleanFilename(in.Filename)
	if err != nil {
		return nil, err
	}
	folders, err := searchFolders(in.Folder)
	if err != nil {
		return nil, err
	}
	cc, err := s.mergeChunking(in.ChunkSize, in.ChunkOverlap, in.Separator)
	if err != nil {
		return nil, err
	}
	emb, err := s.compatibleEmbedder()
	if err != nil {
		return nil, err
	}
	doc, err := s.locate(ctx, filename, folders)
	if err != nil {
		return nil, err
	}

	// The lock covers the read as well as the write, so a delete either
	// finishes before the read or waits for the new chunks and removes them.
	unlock, err := s.lockDocument(doc.Folder, doc.Filename)
	if err != nil {
		return nil, err
	}
	defer unlock()
	if err := s.embedderUnchanged(emb); err != nil {
		return nil, err
	}

	data, err := s.store.Read(ctx, doc)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, newOpError(ErrFileNotFound, "document not found", err).with("filename", filename)
	}
	if err != nil {
		return nil, newOpError(ErrBackendUnavailable, "failed to read document", err)
	}
	docType := s.indexedType(ctx, doc)

	proc, err := s.process(ctx, emb, doc.Filename, data, docType, cc)
	if err != nil {
		return nil, newOpError(ErrProcessing, "failed to process document", err).with("filename", filename)
	}

	entries := proc.bind(doc.Path)
	old, err := s.index.Replace(ctx, doc.Path, entries)
	if err != nil {
		return nil, indexError("failed to replace document chunks", err)
	}

	s.log.Info("document reprocessed",
		zap.String("path", doc.Path),
		zap.Int("old_chunks", old),
		zap.Int("new_chunks", len(entries)))
	s.afterMutation(ctx, model.IndexEvent{
		Type:         model.EventDocumentReprocessed,
		Source:       doc.Path,
		DocumentType: string(docType),
		Chunks:       len(entries),
		Detail:       fmt.Sprintf("chunk_size=%d chunk_overlap=%d old_chunks=%d", cc.ChunkSize, cc.ChunkOverlap, old),
	})

	change := 0.0
	if old > 0 {
		change = round2(float64(len(entries)-old) / float64(old) * 100)
	}
	return &ReprocessResult{
		Filename:         doc.Filename,
		Path:             doc.Path,
		OldChunksRemoved: old,
		NewChunksAdded:   len(entries),
		ChunksReducedBy:  old - len(entries),
		PercentageChange: change,
		ChunkConfigUsed:  cc,
		ElapsedSeconds:   round2(time.Since(started).Seconds()),
	}, nil
}

// indexedType returns the document type recorded in the index for doc, or
// the folder default when the document is not indexed.
func (s *AdminService) indexedType(ctx context.Context, doc model.Document) model.DocumentType {
	sources, err := s.index.Sources(ctx)
	if err == nil {
		if stat, ok := sources[doc.Path]; ok && stat.DocumentType != "" {
			return model.DocumentType(stat.DocumentType)
		}
	}
	return model.DefaultTypeForFolder(doc.Folder)
}
