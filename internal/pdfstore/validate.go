package pdfstore

import (
	"bytes"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/lienfeed/recorder-feed/internal/recorder"
)

var pdfMagic = []byte("%PDF")

// Validate rejects payloads that are not plausibly a PDF: the content must
// begin with the PDF magic header and exceed the minimum byte threshold.
// In strict mode the document structure is additionally parsed with pdfcpu.
func Validate(content []byte, minBytes int, strict bool) error {
	if len(content) < minBytes {
		return fmt.Errorf("payload is %d bytes, below minimum %d: %w",
			len(content), minBytes, recorder.ErrNoPdf)
	}
	if !bytes.HasPrefix(content, pdfMagic) {
		return fmt.Errorf("payload missing %%PDF header: %w", recorder.ErrNoPdf)
	}
	if strict {
		conf := model.NewDefaultConfiguration()
		if _, err := api.ReadValidateAndOptimize(bytes.NewReader(content), conf); err != nil {
			return fmt.Errorf("pdfcpu validation: %w", recorder.ErrNoPdf)
		}
	}
	return nil
}

// LooksLikePdf is the cheap header-only check used while sniffing network
// responses, where the minimum size gate does not yet apply.
func LooksLikePdf(content []byte) bool {
	return bytes.HasPrefix(content, pdfMagic)
}
