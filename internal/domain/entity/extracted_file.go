package entity

import "fmt"

// FileKind 提取结果类型
type FileKind string

const (
	FileKindText  FileKind = "text"
	FileKindImage FileKind = "image"
)

// ExtractedFile is the transient result of reading one upload. For text
// files Content is the extracted plain text; for images it is the base64
// encoding of the raw bytes.
type ExtractedFile struct {
	Kind     FileKind `json:"type"`
	Filename string   `json:"filename"`
	Content  string   `json:"content"`
	MIMEType string   `json:"mime_type,omitempty"`
}

// IsImage reports whether the file is sent as inline image data.
func (f ExtractedFile) IsImage() bool { return f.Kind == FileKindImage }

// FileExtractionError reports a file that could not be read.
type FileExtractionError struct {
	Filename string
	Err      error
}

func (e *FileExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Filename, e.Err)
}

func (e *FileExtractionError) Unwrap() error { return e.Err }

// Upload is one file received from the client, held in memory.
type Upload struct {
	Filename string
	Data     []byte
}

// Size returns the byte length of the upload.
func (u Upload) Size() int64 { return int64(len(u.Data)) }
