package strapi

import (
	"bytes"
	"context"
	"coursemigrate/internal/components/assert"
	"coursemigrate/internal/components/telemetry"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/semaphore"
)

const (
	report_client_fetch  = "client.fetch"
	report_client_query  = "client.query"
	report_client_create = "client.create"
	report_client_update = "client.update"
	report_client_delete = "client.delete"
	report_client_upload = "client.upload"
)

type ClientOptions struct {
	BaseUrl string
	Token   string
	// Concurrency bounds in-flight api calls, defaults to 8.
	Concurrency int
	// UploadConcurrency bounds in-flight uploads, defaults to 2.
	UploadConcurrency int
	Timeout           time.Duration
	UploadTimeout     time.Duration
}

// Client talks to the Strapi v4 REST api on behalf of every entity of a
// registry.
type Client struct {
	registry *Registry
	http     *resty.Client
	uploads  *resty.Client
	apiSem   *semaphore.Weighted
	upSem    *semaphore.Weighted
	tel      telemetry.API

	locksMutex sync.Mutex
	locks      map[string]*sync.Mutex
}

func NewClient(registry *Registry, opts ClientOptions, tel telemetry.API) *Client {
	assert.NotNil(registry)
	assert.NotNil(tel)
	assert.NotEmptyStr(opts.BaseUrl)

	tel = telemetry.NewScopedAPI("strapi", tel)

	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	if opts.UploadConcurrency <= 0 {
		opts.UploadConcurrency = 2
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UploadTimeout <= 0 {
		opts.UploadTimeout = time.Hour
	}

	newHttp := func(timeout time.Duration) *resty.Client {
		c := resty.New()
		c.SetBaseURL(opts.BaseUrl)
		c.SetTimeout(timeout)
		c.SetHeader("accept", "application/json")
		if opts.Token != "" {
			c.SetAuthToken(opts.Token)
		}
		telemetry.InstrumentResty(c, tel, "coursemigrate/strapi")
		return c
	}

	return &Client{
		registry: registry,
		http:     newHttp(opts.Timeout),
		uploads:  newHttp(opts.UploadTimeout),
		apiSem:   semaphore.NewWeighted(int64(opts.Concurrency)),
		upSem:    semaphore.NewWeighted(int64(opts.UploadConcurrency)),
		tel:      tel,
		locks:    map[string]*sync.Mutex{},
	}
}

func (c *Client) Registry() *Registry {
	return c.registry
}

// AssetUrl is where the contents of an uploaded asset can be read, the local
// upload provider returns urls relative to the server.
func (c *Client) AssetUrl(m *Media) string {
	if m == nil || m.Url == "" {
		return ""
	}
	ref, err := url.Parse(m.Url)
	if err != nil || ref.IsAbs() {
		return m.Url
	}
	base, err := url.Parse(c.http.BaseURL)
	if err != nil {
		return m.Url
	}
	return base.ResolveReference(ref).String()
}

// lock returns the mutex serializing check-then-create for one entity type.
func (c *Client) lock(entity string) *sync.Mutex {
	c.locksMutex.Lock()
	defer c.locksMutex.Unlock()
	m, ok := c.locks[entity]
	if !ok {
		m = &sync.Mutex{}
		c.locks[entity] = m
	}
	return m
}

type envelopeResponse struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Status  int    `json:"status"`
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"error"`
}

func decode(body []byte, out any) error {
	if len(body) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	return dec.Decode(out)
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, body any) (*resty.Response, error) {
	err := c.apiSem.Acquire(ctx, 1)
	if err != nil {
		return nil, err
	}
	defer c.apiSem.Release(1)

	req := c.http.R().SetContext(ctx)
	if params != nil {
		req.SetQueryParamsFromValues(params)
	}
	if body != nil {
		req.SetHeader("content-type", "application/json").SetBody(body)
	}
	res, err := req.Execute(method, path)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func persistError(res *resty.Response, method, path string) error {
	return &PersistError{
		Method: method,
		Path:   path,
		Status: res.StatusCode(),
		Body:   string(res.Body()),
	}
}

func deepParams() url.Values {
	return url.Values{"populate": []string{"deep"}}
}

// depthParams populates relations up to depth levels, depth <= 0 leaves the
// depth to the backend's populate=deep default.
func depthParams(depth int) url.Values {
	if depth <= 0 {
		return deepParams()
	}
	return url.Values{"populate": []string{"deep," + strconv.Itoa(depth)}}
}

// Fetch reads a single record, a missing record is (nil, nil).
func (c *Client) Fetch(ctx context.Context, e *Entity, id int64) (*Record, error) {
	path := fmt.Sprintf("%s/%d", e.Endpoint(), id)
	res, err := c.do(ctx, http.MethodGet, path, deepParams(), nil)
	if err != nil {
		c.tel.ReportBroken(report_client_fetch, fmt.Errorf("request: %w", err), path)
		return nil, err
	}
	if res.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if !res.IsSuccess() {
		err := persistError(res, http.MethodGet, path)
		c.tel.ReportBroken(report_client_fetch, err)
		return nil, err
	}

	var env envelopeResponse
	err = decode(res.Body(), &env)
	if err != nil {
		c.tel.ReportBroken(report_client_fetch, fmt.Errorf("decode: %w", err), path)
		return nil, err
	}
	var obj map[string]any
	err = decode(env.Data, &obj)
	if err != nil {
		c.tel.ReportBroken(report_client_fetch, fmt.Errorf("decode data: %w", err), path)
		return nil, err
	}
	if obj == nil {
		return nil, nil
	}
	return FromWire(e, obj)
}

// Query lists every record matching filters, pagination is disabled so the
// whole result set comes back in one response.
func (c *Client) Query(ctx context.Context, e *Entity, filters ...Filter) ([]*Record, error) {
	return c.QueryDepth(ctx, e, 0, filters...)
}

// QueryDepth is Query with relations populated up to depth levels.
func (c *Client) QueryDepth(ctx context.Context, e *Entity, depth int, filters ...Filter) ([]*Record, error) {
	params := depthParams(depth)
	params.Set("pagination[limit]", "-1")
	err := filterParams(e, filters, params)
	if err != nil {
		return nil, err
	}

	path := e.Endpoint()
	res, err := c.do(ctx, http.MethodGet, path, params, nil)
	if err != nil {
		c.tel.ReportBroken(report_client_query, fmt.Errorf("request: %w", err), path)
		return nil, err
	}
	if !res.IsSuccess() {
		err := persistError(res, http.MethodGet, path)
		c.tel.ReportBroken(report_client_query, err)
		return nil, err
	}

	var env struct {
		Data []map[string]any `json:"data"`
	}
	err = decode(res.Body(), &env)
	if err != nil {
		c.tel.ReportBroken(report_client_query, fmt.Errorf("decode: %w", err), path)
		return nil, err
	}

	records := make([]*Record, 0, len(env.Data))
	for _, obj := range env.Data {
		r, err := FromWire(e, obj)
		if err != nil {
			c.tel.ReportBroken(report_client_query, err, path)
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

func (c *Client) writeResponse(res *resty.Response, r *Record, report string) error {
	var env envelopeResponse
	err := decode(res.Body(), &env)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	var obj map[string]any
	err = decode(env.Data, &obj)
	if err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	if obj == nil {
		return fmt.Errorf("response without data")
	}
	server, errs := fromWire(r.Entity, obj, true)
	if server == nil {
		return errs[0]
	}
	for _, err := range errs {
		c.tel.ReportWarning(report, err)
	}
	r.absorb(server)
	return nil
}

// Create posts the record and takes its identity and server derived fields
// from the response.
func (c *Client) Create(ctx context.Context, r *Record) error {
	path := r.Entity.Endpoint()
	res, err := c.do(ctx, http.MethodPost, path, deepParams(), map[string]any{"data": r.payload()})
	if err != nil {
		c.tel.ReportBroken(report_client_create, fmt.Errorf("request: %w", err), path)
		return err
	}
	if !res.IsSuccess() {
		err := persistError(res, http.MethodPost, path)
		c.tel.ReportBroken(report_client_create, err)
		return err
	}
	err = c.writeResponse(res, r, report_client_create)
	if err != nil {
		c.tel.ReportBroken(report_client_create, err, path)
		return err
	}
	if _, ok := r.ID(); !ok {
		err := fmt.Errorf("%s: create response carried no id", r.Entity.Name)
		c.tel.ReportBroken(report_client_create, err, path)
		return err
	}
	return nil
}

// Update puts partial and applies it to the record once the backend accepts
// it, a nil partial sends every field of the record.
func (c *Client) Update(ctx context.Context, r *Record, partial map[string]Value) error {
	id, ok := r.ID()
	if !ok {
		return &PreconditionError{
			Op:     "update " + r.Entity.Name,
			Reason: "record has no identity, create it first",
		}
	}

	body := r.payload()
	if partial != nil {
		body = make(map[string]any, len(partial))
		for name, v := range partial {
			if _, ok := r.Entity.Field(name); !ok {
				return &PreconditionError{
					Op:     "update " + r.Entity.Name,
					Reason: fmt.Sprintf("%s has no field %q", r.Entity.Name, name),
				}
			}
			body[name] = v.Wire()
		}
	}

	path := fmt.Sprintf("%s/%d", r.Entity.Endpoint(), id)
	res, err := c.do(ctx, http.MethodPut, path, deepParams(), map[string]any{"data": body})
	if err != nil {
		c.tel.ReportBroken(report_client_update, fmt.Errorf("request: %w", err), path)
		return err
	}
	if !res.IsSuccess() {
		err := persistError(res, http.MethodPut, path)
		c.tel.ReportBroken(report_client_update, err)
		return err
	}
	for name, v := range partial {
		r.Set(name, v)
	}
	err = c.writeResponse(res, r, report_client_update)
	if err != nil {
		c.tel.ReportBroken(report_client_update, err, path)
		return err
	}
	return nil
}

// Delete removes the record and clears its identity.
func (c *Client) Delete(ctx context.Context, r *Record) error {
	id, ok := r.ID()
	if !ok {
		return &PreconditionError{
			Op:     "delete " + r.Entity.Name,
			Reason: "record has no identity",
		}
	}

	path := fmt.Sprintf("%s/%d", r.Entity.Endpoint(), id)
	res, err := c.do(ctx, http.MethodDelete, path, nil, nil)
	if err != nil {
		c.tel.ReportBroken(report_client_delete, fmt.Errorf("request: %w", err), path)
		return err
	}
	if !res.IsSuccess() {
		err := persistError(res, http.MethodDelete, path)
		c.tel.ReportBroken(report_client_delete, err)
		return err
	}
	r.ClearID()
	return nil
}

// Upload sends a local file to the media library. A path that does not exist
// is not an error, it returns (nil, nil) so callers can omit the field.
func (c *Client) Upload(ctx context.Context, path string) (*Media, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		c.tel.ReportDebug(report_client_upload, "skip missing file", path)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("upload %s: is a directory", path)
	}

	err = c.upSem.Acquire(ctx, 1)
	if err != nil {
		return nil, err
	}
	defer c.upSem.Release(1)

	c.tel.ReportDebug(report_client_upload, path, strconv.FormatInt(info.Size(), 10))
	res, err := c.uploads.R().
		SetContext(ctx).
		SetFile("files", path).
		Post("/api/upload")
	if err != nil {
		c.tel.ReportBroken(report_client_upload, fmt.Errorf("request: %w", err), path)
		return nil, err
	}
	if !res.IsSuccess() {
		err := persistError(res, http.MethodPost, "/api/upload")
		c.tel.ReportBroken(report_client_upload, err, path)
		return nil, err
	}

	var uploaded []map[string]any
	err = decode(res.Body(), &uploaded)
	if err != nil {
		c.tel.ReportBroken(report_client_upload, fmt.Errorf("decode: %w", err), path)
		return nil, err
	}
	if len(uploaded) == 0 {
		err := fmt.Errorf("upload %s: empty response", path)
		c.tel.ReportBroken(report_client_upload, err)
		return nil, err
	}
	return MediaFromWire(uploaded[0])
}
