// Package extract pulls raw facility records out of files and the upstream
// locator API.
package extract

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/recovery-atlas/facility-etl/internal/model"
	"github.com/recovery-atlas/facility-etl/internal/normalize"
)

// Source yields a sequence of raw records. Errors are reported on the
// second channel; a send there ends the stream. Both channels close when
// extraction completes.
type Source interface {
	// Name identifies the source in logs and the run log.
	Name() string

	// Records starts extraction and returns the record and error channels.
	Records(ctx context.Context) (<-chan model.RawRecord, <-chan error)
}

// DetectFormat infers the source format from a file extension.
func DetectFormat(path string) (normalize.SourceFormat, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".txt", ".tsv":
		return normalize.FormatCSV, nil
	case ".json":
		return normalize.FormatJSON, nil
	case ".xlsx":
		return normalize.FormatXLSX, nil
	default:
		return "", eris.Errorf("extract: cannot infer format from %q (use --format)", path)
	}
}

// NewFileSource returns the source implementation for a local file of the
// given format.
func NewFileSource(path string, format normalize.SourceFormat) (Source, error) {
	switch format {
	case normalize.FormatCSV:
		return &CSVSource{Path: path}, nil
	case normalize.FormatJSON:
		return &JSONSource{Path: path}, nil
	case normalize.FormatXLSX:
		return &XLSXSource{Path: path}, nil
	default:
		return nil, eris.Errorf("extract: unsupported file format %q", format)
	}
}

// sendErr delivers err without blocking forever on a cancelled context.
func sendErr(ctx context.Context, errCh chan<- error, err error) {
	select {
	case errCh <- err:
	case <-ctx.Done():
	}
}
