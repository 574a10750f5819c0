package roster

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/wardops/wardops/internal/platform/apperr"
)

// HTTPClient reads the roster from an external ward service exposing
// GET /patients and GET /patients/{id}.
type HTTPClient struct {
	http   *resty.Client
	logger zerolog.Logger
}

// NewHTTPClient returns a roster client for baseURL.
func NewHTTPClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *HTTPClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Accept", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})
	return &HTTPClient{http: client, logger: logger.With().Str("component", "roster_http").Logger()}
}

type patientList struct {
	Patients []Patient `json:"patients"`
}

func (c *HTTPClient) GetPatient(ctx context.Context, id string) (*Patient, error) {
	var p Patient
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&p).
		Get("/patients/" + url.PathEscape(id))
	if err != nil {
		c.logger.Warn().Err(err).Str("patient_id", id).Msg("roster lookup failed")
		return nil, apperr.Unavailable("get roster patient", err)
	}
	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return nil, apperr.NotFound("patient", id)
	case resp.IsError():
		c.logger.Warn().Int("status", resp.StatusCode()).Str("patient_id", id).Msg("roster lookup rejected")
		return nil, apperr.Unavailable("get roster patient", errStatus(resp))
	}
	if !p.Active {
		return nil, apperr.NotFound("patient", id)
	}
	return &p, nil
}

func (c *HTTPClient) ListPatients(ctx context.Context) ([]Patient, error) {
	var out patientList
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/patients")
	if err != nil {
		c.logger.Warn().Err(err).Msg("roster list failed")
		return nil, apperr.Unavailable("list roster", err)
	}
	if resp.IsError() {
		c.logger.Warn().Int("status", resp.StatusCode()).Msg("roster list rejected")
		return nil, apperr.Unavailable("list roster", errStatus(resp))
	}
	return out.Patients, nil
}

type statusError struct{ code int }

func (e statusError) Error() string { return "roster service returned " + http.StatusText(e.code) }

func errStatus(resp *resty.Response) error { return statusError{code: resp.StatusCode()} }
