// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package splitter

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/poiesic/folio/core"
)

// PDFMimeType is the MIME type of content produced by PDFSource.
const PDFMimeType = "application/pdf"

var disableConfigDir sync.Once

// PDFOpener opens PDF files from the local filesystem.
type PDFOpener struct {
	logger *slog.Logger
}

var _ Opener = (*PDFOpener)(nil)

// NewPDFOpener creates an opener for PDF files.
func NewPDFOpener(logger *slog.Logger) *PDFOpener {
	if logger == nil {
		logger = slog.Default()
	}
	disableConfigDir.Do(api.DisableConfigDir)
	return &PDFOpener{logger: logger.With("component", "pdf-splitter")}
}

// Open reads the PDF at path into memory.
func (o *PDFOpener) Open(ctx context.Context, path string) (PageSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrInvalidDocument, err)
	}
	o.logger.Debug("opened pdf", "path", path, "bytes", len(data))
	return &PDFSource{
		data:   data,
		conf:   model.NewDefaultConfiguration(),
		logger: o.logger,
	}, nil
}

// PDFSource serves page ranges of an in-memory PDF as standalone PDFs.
type PDFSource struct {
	data   []byte
	conf   *model.Configuration
	logger *slog.Logger
}

// PageCount returns the number of pages in the PDF.
func (s *PDFSource) PageCount(ctx context.Context) (int, error) {
	return api.PageCount(bytes.NewReader(s.data), s.conf)
}

// Extract returns a new PDF containing only the pages in r.
func (s *PDFSource) Extract(ctx context.Context, r core.PageRange) ([]byte, error) {
	if r.Len() <= 0 {
		return nil, fmt.Errorf("%w: empty page range %s", core.ErrInvalidDocument, r)
	}
	// pdfcpu page selections are 1-based and inclusive.
	selection := fmt.Sprintf("%d-%d", r.Start+1, r.End)

	var out bytes.Buffer
	if err := api.Trim(bytes.NewReader(s.data), &out, []string{selection}, s.conf); err != nil {
		return nil, fmt.Errorf("%w: extract pages %s: %w", core.ErrInvalidDocument, r, err)
	}
	s.logger.Debug("extracted pages", "pages", r.String(), "bytes", out.Len())
	return out.Bytes(), nil
}

// Close releases the in-memory document.
func (s *PDFSource) Close() error {
	s.data = nil
	return nil
}
