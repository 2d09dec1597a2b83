package model

import (
	"sort"
	"time"
)

type DocumentType string

const (
	DocumentTypeConstitution DocumentType = "constitution"
	DocumentTypeIPC          DocumentType = "ipc"
	DocumentTypeCrPC         DocumentType = "crpc"
	DocumentTypeBNS          DocumentType = "bns"
	DocumentTypeBNSS         DocumentType = "bnss"
	DocumentTypeBSA          DocumentType = "bsa"
	DocumentTypeSupremeCourt DocumentType = "supreme_court"
	DocumentTypeHighCourt    DocumentType = "high_court"
	DocumentTypeOther        DocumentType = "other"
)

// FolderBNS holds the new criminal codes; every other type lives in the flat
// data area (FolderRoot).
const (
	FolderRoot = ""
	FolderBNS  = "bns_data"
)

var documentFolders = map[DocumentType]string{
	DocumentTypeConstitution: FolderRoot,
	DocumentTypeIPC:          FolderRoot,
	DocumentTypeCrPC:         FolderRoot,
	DocumentTypeBNS:          FolderBNS,
	DocumentTypeBNSS:         FolderBNS,
	DocumentTypeBSA:          FolderBNS,
	DocumentTypeSupremeCourt: FolderRoot,
	DocumentTypeHighCourt:    FolderRoot,
	DocumentTypeOther:        FolderRoot,
}

var folderDefaultTypes = map[string]DocumentType{
	FolderRoot: DocumentTypeOther,
	FolderBNS:  DocumentTypeBNS,
}

// SearchFolders is the order in which a bare filename is looked up.
var SearchFolders = []string{FolderRoot, FolderBNS}

// Folder returns the storage folder for t; ok is false for unknown types.
func (t DocumentType) Folder() (string, bool) {
	folder, ok := documentFolders[t]
	return folder, ok
}

func (t DocumentType) Valid() bool {
	_, ok := documentFolders[t]
	return ok
}

// DefaultTypeForFolder is used for files that carry no indexed metadata.
func DefaultTypeForFolder(folder string) DocumentType {
	if t, ok := folderDefaultTypes[folder]; ok {
		return t
	}
	return DocumentTypeOther
}

func DocumentTypes() []DocumentType {
	types := make([]DocumentType, 0, len(documentFolders))
	for t := range documentFolders {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Document is a file in the document store joined with its index state.
type Document struct {
	Filename      string       `json:"filename"`
	Folder        string       `json:"folder"`
	Path          string       `json:"path"`
	Size          int64        `json:"size"`
	SizeMB        float64      `json:"size_mb"`
	ModifiedAt    time.Time    `json:"modified_at"`
	DocumentType  DocumentType `json:"document_type"`
	InVectorstore bool         `json:"in_vectorstore"`
	ChunkCount    int          `json:"chunk_count"`
}
