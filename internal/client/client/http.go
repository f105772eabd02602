package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"

	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/common"
)

// Routes of the JSON notes API, relative to the base URL.
const (
	NotesPath   = "/api/notes"
	PublishPath = "/api/publish"
	PingPath    = "/api/ping"
)

const maxErrorBody = 64 << 10

// HTTPClient talks to the JSON notes API. Mutations are POSTs to NotesPath
// with a _method override, as the server expects.
type HTTPClient struct {
	baseURL  string
	clientID string
	hc       *http.Client
	breaker  *breaker
}

func NewHTTPClient(baseURL string, opts Options) *HTTPClient {
	opts = opts.withDefaults()
	return &HTTPClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		clientID: opts.ClientID,
		hc:       &http.Client{Timeout: opts.Timeout},
		breaker:  newBreaker("notes-http", opts),
	}
}

func (c *HTTPClient) Close() error {
	c.hc.CloseIdleConnections()
	return nil
}

// BreakerState reports the circuit breaker state.
func (c *HTTPClient) BreakerState() string { return c.breaker.State() }

func (c *HTTPClient) Ping(ctx context.Context) error {
	_, err := call(c.breaker, func() (struct{}, error) {
		resp, err := c.do(ctx, http.MethodGet, PingPath, nil, nil, nil)
		if err != nil {
			return struct{}{}, err
		}
		defer drain(resp)
		if resp.StatusCode != http.StatusOK {
			return struct{}{}, statusError(resp)
		}
		return struct{}{}, nil
	})
	return err
}

func (c *HTTPClient) ListNotes(ctx context.Context) (*models.NoteList, error) {
	return call(c.breaker, func() (*models.NoteList, error) {
		var body listResponse
		if err := c.roundTrip(ctx, http.MethodGet, NotesPath, nil, nil, nil, &body); err != nil {
			return nil, err
		}
		return body.toModel(), nil
	})
}

func (c *HTTPClient) GetByID(ctx context.Context, id, versionToken string) (*FetchResult, error) {
	return c.get(ctx, url.Values{"id": {id}}, versionToken)
}

func (c *HTTPClient) GetBySlug(ctx context.Context, slug, versionToken string) (*FetchResult, error) {
	return c.get(ctx, url.Values{"slug": {slug}}, versionToken)
}

func (c *HTTPClient) get(ctx context.Context, query url.Values, versionToken string) (*FetchResult, error) {
	return call(c.breaker, func() (*FetchResult, error) {
		var header http.Header
		if versionToken != "" {
			header = http.Header{"If-None-Match": {versionToken}}
		}

		resp, err := c.do(ctx, http.MethodGet, NotesPath, query, header, nil)
		if err != nil {
			return nil, err
		}
		defer drain(resp)

		if resp.StatusCode == http.StatusNotModified {
			token := resp.Header.Get("ETag")
			if token == "" {
				token = versionToken
			}
			return &FetchResult{NotModified: true, VersionToken: token}, nil
		}
		if resp.StatusCode != http.StatusOK {
			return nil, statusError(resp)
		}

		var body noteResponse
		if err := decode(resp, &body); err != nil {
			return nil, err
		}
		note := body.Note.toModel()
		if note == nil {
			return nil, fmt.Errorf("%w: response without note", ErrServer)
		}
		return &FetchResult{Note: note, VersionToken: tokenFor(resp.Header.Get("ETag"), body.ETag, note)}, nil
	})
}

type mutation struct {
	Method  string `json:"_method,omitempty"`
	ID      string `json:"id,omitempty"`
	Title   string `json:"title,omitempty"`
	Content string `json:"content,omitempty"`
	Tags    string `json:"tags,omitempty"`
	Slug    string `json:"slug,omitempty"`
	Version int64  `json:"version,omitempty"`
}

func (c *HTTPClient) Create(ctx context.Context, fields models.Fields) (*models.Note, error) {
	return call(c.breaker, func() (*models.Note, error) {
		req := mutation{
			Title:   fields.Title,
			Content: fields.Content,
			Tags:    strings.Join(fields.Tags, ","),
			Slug:    fields.Slug,
		}
		var body noteResponse
		if err := c.roundTrip(ctx, http.MethodPost, NotesPath, nil, nil, req, &body); err != nil {
			return nil, err
		}
		if body.Note == nil {
			return nil, fmt.Errorf("%w: response without note", ErrServer)
		}
		return body.Note.toModel(), nil
	})
}

func (c *HTTPClient) Update(ctx context.Context, id string, fields models.Fields, expectedVersion int64) (*models.Note, error) {
	return call(c.breaker, func() (*models.Note, error) {
		req := mutation{
			Method:  http.MethodPut,
			ID:      id,
			Title:   fields.Title,
			Content: fields.Content,
			Tags:    strings.Join(fields.Tags, ","),
			Slug:    fields.Slug,
			Version: expectedVersion,
		}
		header := http.Header{"If-Match": {VersionToken(expectedVersion)}}

		var body noteResponse
		if err := c.roundTrip(ctx, http.MethodPost, NotesPath, nil, header, req, &body); err != nil {
			return nil, err
		}
		if body.Note == nil {
			return nil, fmt.Errorf("%w: response without note", ErrServer)
		}
		return body.Note.toModel(), nil
	})
}

func (c *HTTPClient) Delete(ctx context.Context, id string) error {
	_, err := call(c.breaker, func() (struct{}, error) {
		req := mutation{Method: http.MethodDelete, ID: id}
		return struct{}{}, c.roundTrip(ctx, http.MethodPost, NotesPath, nil, nil, req, nil)
	})
	return err
}

func (c *HTTPClient) SetVisibility(ctx context.Context, id string, public bool) (bool, error) {
	return call(c.breaker, func() (bool, error) {
		flag := 0
		if public {
			flag = 1
		}
		req := map[string]any{"id": id, "public": flag}

		var body visibilityResponse
		if err := c.roundTrip(ctx, http.MethodPost, PublishPath, nil, nil, req, &body); err != nil {
			return false, err
		}
		return body.IsPublic, nil
	})
}

// roundTrip sends a request and decodes a 2xx JSON body into out.
func (c *HTTPClient) roundTrip(ctx context.Context, method, path string, query url.Values, header http.Header, in, out any) error {
	resp, err := c.do(ctx, method, path, query, header, in)
	if err != nil {
		return err
	}
	defer drain(resp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}
	if out == nil {
		return nil
	}
	return decode(resp, out)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, query url.Values, header http.Header, in any) (*http.Response, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.clientID != "" {
		req.Header.Set(common.ClientIDHeaderName, c.clientID)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return resp, nil
}

func decode(resp *http.Response, out any) error {
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrServer, err)
	}
	return nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	_ = resp.Body.Close()
}

func statusError(resp *http.Response) error {
	var body errorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(&body)
	detail := body.Message
	if detail == "" {
		detail = body.Error
	}
	if detail == "" {
		detail = http.StatusText(resp.StatusCode)
	}

	switch code := resp.StatusCode; {
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, detail)
	case code == http.StatusConflict:
		return &ConflictError{}
	case code == http.StatusBadRequest, code == http.StatusUnprocessableEntity, code == http.StatusPreconditionRequired:
		return fmt.Errorf("%w: %s", ErrValidation, detail)
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, detail)
	case code == http.StatusBadGateway, code == http.StatusServiceUnavailable, code == http.StatusGatewayTimeout:
		return fmt.Errorf("%w: status %d: %s", ErrUnavailable, code, detail)
	default:
		return fmt.Errorf("%w: status %d: %s", ErrServer, code, detail)
	}
}

func tokenFor(header, body string, note *models.Note) string {
	if header != "" {
		return header
	}
	if body != "" {
		return body
	}
	return VersionToken(note.Version)
}
