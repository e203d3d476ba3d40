package extract

import (
	"context"
	"os"

	"github.com/rotisserie/eris"

	"github.com/recovery-atlas/facility-etl/internal/fetcher"
	"github.com/recovery-atlas/facility-etl/internal/model"
)

// CSVSource reads raw records from a delimited text file. The first row is
// the header.
type CSVSource struct {
	Path      string
	Delimiter rune // default ','
}

func (s *CSVSource) Name() string { return "file:" + s.Path }

func (s *CSVSource) Records(ctx context.Context) (<-chan model.RawRecord, <-chan error) {
	recCh := make(chan model.RawRecord, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(recCh)
		defer close(errCh)

		f, err := os.Open(s.Path)
		if err != nil {
			sendErr(ctx, errCh, eris.Wrapf(err, "extract: open %s", s.Path))
			return
		}
		defer f.Close() //nolint:errcheck

		rows, csvErrs := fetcher.StreamCSV(ctx, f, fetcher.CSVOptions{
			Delimiter:  s.Delimiter,
			LazyQuotes: true,
			TrimSpace:  true,
		})

		for row := range rows {
			select {
			case recCh <- rowToRaw(row):
			case <-ctx.Done():
				sendErr(ctx, errCh, eris.Wrap(ctx.Err(), "extract: cancelled"))
				return
			}
		}
		if err := <-csvErrs; err != nil {
			sendErr(ctx, errCh, err)
		}
	}()

	return recCh, errCh
}

// JSONSource reads raw records from a JSON array file.
type JSONSource struct {
	Path string
}

func (s *JSONSource) Name() string { return "file:" + s.Path }

func (s *JSONSource) Records(ctx context.Context) (<-chan model.RawRecord, <-chan error) {
	recCh := make(chan model.RawRecord, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(recCh)
		defer close(errCh)

		f, err := os.Open(s.Path)
		if err != nil {
			sendErr(ctx, errCh, eris.Wrapf(err, "extract: open %s", s.Path))
			return
		}
		defer f.Close() //nolint:errcheck

		items, jsonErrs := fetcher.DecodeJSONArray[model.RawRecord](ctx, f)

		for item := range items {
			select {
			case recCh <- item:
			case <-ctx.Done():
				sendErr(ctx, errCh, eris.Wrap(ctx.Err(), "extract: cancelled"))
				return
			}
		}
		if err := <-jsonErrs; err != nil {
			sendErr(ctx, errCh, err)
		}
	}()

	return recCh, errCh
}

// XLSXSource reads raw records from the first worksheet of an XLSX
// workbook. State registries publish facility rosters this way.
type XLSXSource struct {
	Path      string
	SheetName string
}

func (s *XLSXSource) Name() string { return "file:" + s.Path }

func (s *XLSXSource) Records(ctx context.Context) (<-chan model.RawRecord, <-chan error) {
	recCh := make(chan model.RawRecord, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(recCh)
		defer close(errCh)

		rows, err := fetcher.ReadXLSX(s.Path, fetcher.XLSXOptions{SheetName: s.SheetName})
		if err != nil {
			sendErr(ctx, errCh, err)
			return
		}

		for _, row := range rows {
			select {
			case recCh <- rowToRaw(row):
			case <-ctx.Done():
				sendErr(ctx, errCh, eris.Wrap(ctx.Err(), "extract: cancelled"))
				return
			}
		}
	}()

	return recCh, errCh
}

func rowToRaw(row map[string]string) model.RawRecord {
	raw := make(model.RawRecord, len(row))
	for k, v := range row {
		raw[k] = v
	}
	return raw
}
