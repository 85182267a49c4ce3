package intake

import (
	"bytes"
	"io"
	"mime/multipart"
)

// BytesFile is an in-memory File.
type BytesFile struct {
	FileName string
	Type     string
	Data     []byte
}

func (f BytesFile) Name() string      { return f.FileName }
func (f BytesFile) MediaType() string { return f.Type }

func (f BytesFile) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.Data)), nil
}

type multipartFile struct {
	header *multipart.FileHeader
}

// FromMultipart wraps an uploaded multipart part.
func FromMultipart(fh *multipart.FileHeader) File {
	return multipartFile{header: fh}
}

func (f multipartFile) Name() string      { return f.header.Filename }
func (f multipartFile) MediaType() string { return f.header.Header.Get("Content-Type") }

func (f multipartFile) Open() (io.ReadCloser, error) {
	return f.header.Open()
}
