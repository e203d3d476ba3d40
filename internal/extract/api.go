package extract

import (
	"context"
	"net/url"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/recovery-atlas/facility-etl/internal/fetcher"
	"github.com/recovery-atlas/facility-etl/internal/model"
)

// APISource pulls raw records from the paginated facility locator API.
// Pages are fetched sequentially; the fetcher handles retry, backoff, and
// rate limiting per host.
type APISource struct {
	BaseURL  string
	APIKey   string
	Location string // free-form "city, state" query
	PageSize int

	Fetcher fetcher.Fetcher
}

// apiPage matches the locator API's page envelope.
type apiPage struct {
	Rows       []model.RawRecord `json:"rows"`
	Page       int               `json:"page"`
	TotalPages int               `json:"totalPages"`
}

func (s *APISource) Name() string { return "api:" + s.Location }

func (s *APISource) Records(ctx context.Context) (<-chan model.RawRecord, <-chan error) {
	recCh := make(chan model.RawRecord, 64)
	errCh := make(chan error, 1)

	pageSize := s.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}

	go func() {
		defer close(recCh)
		defer close(errCh)

		log := zap.L().With(zap.String("component", "extract.api"), zap.String("location", s.Location))

		for page := 1; ; page++ {
			if ctx.Err() != nil {
				sendErr(ctx, errCh, eris.Wrap(ctx.Err(), "extract: cancelled"))
				return
			}

			pageURL, err := s.pageURL(page, pageSize)
			if err != nil {
				sendErr(ctx, errCh, err)
				return
			}

			body, err := s.Fetcher.Download(ctx, pageURL)
			if err != nil {
				sendErr(ctx, errCh, eris.Wrapf(err, "extract: fetch page %d", page))
				return
			}

			envelope, err := fetcher.DecodeJSONObject[apiPage](body)
			_ = body.Close()
			if err != nil {
				sendErr(ctx, errCh, eris.Wrapf(err, "extract: decode page %d", page))
				return
			}

			log.Debug("fetched page", zap.Int("page", page), zap.Int("rows", len(envelope.Rows)))

			for _, row := range envelope.Rows {
				select {
				case recCh <- row:
				case <-ctx.Done():
					sendErr(ctx, errCh, eris.Wrap(ctx.Err(), "extract: cancelled"))
					return
				}
			}

			if len(envelope.Rows) == 0 || (envelope.TotalPages > 0 && page >= envelope.TotalPages) {
				return
			}
		}
	}()

	return recCh, errCh
}

func (s *APISource) pageURL(page, pageSize int) (string, error) {
	u, err := url.Parse(s.BaseURL)
	if err != nil {
		return "", eris.Wrapf(err, "extract: parse base url %s", s.BaseURL)
	}
	q := u.Query()
	q.Set("location", s.Location)
	q.Set("page", strconv.Itoa(page))
	q.Set("pageSize", strconv.Itoa(pageSize))
	if s.APIKey != "" {
		q.Set("api_key", s.APIKey)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
