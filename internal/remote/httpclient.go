package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ppds-sdk/sqlengine/internal/sqltypes"
)

// formattedValueAnnotation is the Dataverse Web API convention for a
// lookup/option-set/boolean attribute's display label, carried alongside the
// raw value under "{attribute}@OData.Community.Display.V1.FormattedValue".
const formattedValueAnnotation = "@OData.Community.Display.V1.FormattedValue"

// HTTPClientConfig configures the Dataverse Web API client. Acquiring
// BearerToken is out of scope (the engine's Non-goals exclude auth/credential
// storage) — callers obtain it however their deployment does and hand it in.
type HTTPClientConfig struct {
	BaseURL     string // e.g. "https://org.crm.dynamics.com/api/data/v9.2/"
	BearerToken string
	Timeout     time.Duration // 0 defaults to 30s
}

// HTTPClient implements QueryExecutor, BulkExecutor, and MetadataExecutor
// against the Dataverse Web API. No example in the retrieval pack wires a
// dedicated REST client library for a request shape this simple (one bearer
// header, one JSON body) — net/http plus encoding/json carries it without
// the indirection a client library would add, so this stays stdlib; see
// DESIGN.md.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewHTTPClient builds a client against one Dataverse environment.
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	base := cfg.BaseURL
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return &HTTPClient{baseURL: base, token: cfg.BearerToken, http: &http.Client{Timeout: timeout}}
}

func (c *HTTPClient) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("remote: building %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("OData-MaxVersion", "4.0")
	req.Header.Set("OData-Version", "4.0")
	req.Header.Set("Prefer", "odata.include-annotations=\"*\"")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// do sends req and decodes a JSON response into out (skipped when out is
// nil, for 204 No Content responses). A 429 is surfaced as
// *throttledHTTPError carrying the Retry-After duration; callers convert it
// to *ThrottledError so bulkexec.Run can retry.
func (c *HTTPClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("remote: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return &throttledHTTPError{retryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	}
	if resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("remote: %s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("remote: decoding %s %s response: %w", req.Method, req.URL.Path, err)
	}
	return nil
}

// throttledHTTPError is the HTTP-layer signal a 429 response maps to; callers
// that need bulkexec's retry contract convert it to *ThrottledError
// (asDomainError, runMultipleAction, DeleteMultiple).
type throttledHTTPError struct{ retryAfter time.Duration }

func (e *throttledHTTPError) Error() string { return "remote: throttled (429)" }

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return time.Second
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	return time.Second
}

// entitySetName approximates Dataverse's logical-name-to-entity-set-name
// pluralization (the real mapping comes from EntityDefinitions metadata,
// which this function does not consult; this covers the common regular
// cases).
func entitySetName(entity string) string {
	lower := strings.ToLower(entity)
	switch {
	case strings.HasSuffix(lower, "y") && len(lower) > 1 && !strings.ContainsRune("aeiou", rune(lower[len(lower)-2])):
		return lower[:len(lower)-1] + "ies"
	case strings.HasSuffix(lower, "s"), strings.HasSuffix(lower, "x"), strings.HasSuffix(lower, "ch"), strings.HasSuffix(lower, "sh"):
		return lower + "es"
	default:
		return lower + "s"
	}
}

// fetchEntity extracts the entity logical name from a generated FetchXML
// document's <entity name="..."> tag.
func fetchEntity(xml string) string {
	const marker = `<entity name="`
	i := strings.Index(xml, marker)
	if i < 0 {
		return ""
	}
	rest := xml[i+len(marker):]
	j := strings.IndexByte(rest, '"')
	if j < 0 {
		return ""
	}
	return rest[:j]
}

// withPaging inserts page, paging-cookie and returntotalrecordcount
// attributes into the generated <fetch> tag for a continuation request,
// leaving the count Generate wrote for the query's TOP as it is.
// FetchXmlScan drives subsequent pages with the cookie the remote handed
// back, which Generate never saw.
func withPaging(xmlDoc string, page int32, cookie string, includeCount bool) string {
	const marker = "<fetch"
	i := strings.Index(xmlDoc, marker)
	if i < 0 {
		return xmlDoc
	}
	end := strings.IndexByte(xmlDoc[i:], '>')
	if end < 0 {
		return xmlDoc
	}
	tagEnd := i + end
	var b strings.Builder
	b.WriteString(xmlDoc[:i])
	b.WriteString("<fetch")
	if page > 0 {
		fmt.Fprintf(&b, ` page="%d"`, page)
	}
	if cookie != "" {
		fmt.Fprintf(&b, ` paging-cookie="%s"`, escapeAttrValue(cookie))
	}
	if includeCount {
		b.WriteString(` returntotalrecordcount="true"`)
	}
	b.WriteString(xmlDoc[i+len(marker) : tagEnd+1])
	b.WriteString(xmlDoc[tagEnd+1:])
	return b.String()
}

func escapeAttrValue(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, `"`, "&quot;")
	return s
}

// fetchXmlResponse is the Dataverse Web API envelope for a $fetchXml query.
type fetchXmlResponse struct {
	Value        []map[string]any `json:"value"`
	PagingCookie string           `json:"@Microsoft.Dynamics.CRM.fetchxmlpagingcookie"`
	MoreRecords  bool             `json:"@Microsoft.Dynamics.CRM.morerecords"`
	TotalCount   int64            `json:"@Microsoft.Dynamics.CRM.totalrecordcount"`
}

// FetchXml implements QueryExecutor.
func (c *HTTPClient) FetchXml(ctx context.Context, xml string, pageNumber int32, pagingCookie string, includeCount bool) (*FetchResult, error) {
	entity := fetchEntity(xml)
	doc := withPaging(xml, pageNumber, pagingCookie, includeCount)

	path := entitySetName(entity) + "?fetchXml=" + url.QueryEscape(doc)
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var body fetchXmlResponse
	if err := c.do(req, &body); err != nil {
		return nil, asDomainError(err)
	}

	records := make([]*sqltypes.QueryRow, len(body.Value))
	for i, raw := range body.Value {
		records[i] = rowFromJSON(entity, raw)
	}
	return &FetchResult{
		Records:           records,
		EntityLogicalName: entity,
		MoreRecords:       body.MoreRecords,
		PagingCookie:      body.PagingCookie,
		PageNumber:        pageNumber + 1,
		TotalCount:        firstNonZero(body.TotalCount, -1),
	}, nil
}

func firstNonZero(v, fallback int64) int64 {
	if v != 0 {
		return v
	}
	return fallback
}

// countResponse is the envelope for a $count=true listing.
type countResponse struct {
	Count int64 `json:"@odata.count"`
}

// TotalRecordCount implements QueryExecutor via an unfiltered $count query.
func (c *HTTPClient) TotalRecordCount(ctx context.Context, entity string) (int64, error) {
	path := entitySetName(entity) + "?$count=true&$top=1&$select=" + pkColumn(entity)
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return 0, err
	}
	var body countResponse
	if err := c.do(req, &body); err != nil {
		return 0, asDomainError(err)
	}
	return body.Count, nil
}

// minMaxResponse is the envelope for a $apply=aggregate(createdon with
// min/max) query.
type minMaxResponse struct {
	Value []struct {
		Min *time.Time `json:"mn"`
		Max *time.Time `json:"mx"`
	} `json:"value"`
}

// MinMaxCreatedOn implements QueryExecutor via an OData $apply aggregate
// transformation, used by the plan builder (through the engine) to pick the
// date range it partitions aggregates over.
func (c *HTTPClient) MinMaxCreatedOn(ctx context.Context, entity string) (TimeRange, error) {
	path := entitySetName(entity) + "?$apply=aggregate(createdon with min as mn,createdon with max as mx)"
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return TimeRange{}, err
	}
	var body minMaxResponse
	if err := c.do(req, &body); err != nil {
		return TimeRange{}, asDomainError(err)
	}
	if len(body.Value) == 0 || body.Value[0].Min == nil || body.Value[0].Max == nil {
		return TimeRange{}, nil
	}
	return TimeRange{Min: *body.Value[0].Min, Max: *body.Value[0].Max}, nil
}

func pkColumn(entity string) string { return entity + "id" }

// recordsToTargets builds one CreateMultiple/UpdateMultiple request body
// entry per row, typed via the OData bound-action convention.
func recordsToTargets(entity string, rows []*sqltypes.QueryRow) []map[string]any {
	targets := make([]map[string]any, len(rows))
	for i, row := range rows {
		m := map[string]any{"@odata.type": "Microsoft.Dynamics.CRM." + entity}
		for _, col := range row.Columns {
			v, _ := row.Get(col)
			m[col] = v.Raw
		}
		targets[i] = m
	}
	return targets
}

// CreateMultiple implements BulkExecutor via the entity set's bound
// CreateMultiple action.
func (c *HTTPClient) CreateMultiple(ctx context.Context, entity string, records []*sqltypes.QueryRow) (*BulkResult, error) {
	return c.runMultipleAction(ctx, entity, "Microsoft.Dynamics.CRM.CreateMultiple", records)
}

// UpdateMultiple implements BulkExecutor via the entity set's bound
// UpdateMultiple action.
func (c *HTTPClient) UpdateMultiple(ctx context.Context, entity string, records []*sqltypes.QueryRow) (*BulkResult, error) {
	return c.runMultipleAction(ctx, entity, "Microsoft.Dynamics.CRM.UpdateMultiple", records)
}

func (c *HTTPClient) runMultipleAction(ctx context.Context, entity, action string, records []*sqltypes.QueryRow) (*BulkResult, error) {
	body, err := json.Marshal(map[string]any{"Targets": recordsToTargets(entity, records)})
	if err != nil {
		return nil, fmt.Errorf("remote: encoding %s body: %w", action, err)
	}
	path := entitySetName(entity) + "/" + action
	req, err := c.newRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	if err := c.do(req, nil); err != nil {
		if throttled, ok := err.(*throttledHTTPError); ok {
			return nil, &ThrottledError{RetryAfter: throttled.retryAfter}
		}
		return &BulkResult{FailureCount: len(records), Errors: []error{err}}, nil
	}
	return &BulkResult{SuccessCount: len(records)}, nil
}

// DeleteMultiple implements BulkExecutor via the entity set's bound
// DeleteMultiple action (Dataverse elastic tables; non-elastic environments
// reject it, which surfaces to the caller as a plain dispatch error).
func (c *HTTPClient) DeleteMultiple(ctx context.Context, entity string, ids []sqltypes.Guid) (*BulkResult, error) {
	targets := make([]map[string]string, len(ids))
	for i, id := range ids {
		targets[i] = map[string]string{"@odata.id": entitySetName(entity) + "(" + id.String() + ")"}
	}
	body, err := json.Marshal(map[string]any{"Targets": targets})
	if err != nil {
		return nil, fmt.Errorf("remote: encoding DeleteMultiple body: %w", err)
	}
	path := entitySetName(entity) + "/Microsoft.Dynamics.CRM.DeleteMultiple"
	req, err := c.newRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	if err := c.do(req, nil); err != nil {
		if throttled, ok := err.(*throttledHTTPError); ok {
			return nil, &ThrottledError{RetryAfter: throttled.retryAfter}
		}
		return &BulkResult{FailureCount: len(ids), Errors: []error{err}}, nil
	}
	return &BulkResult{SuccessCount: len(ids)}, nil
}

// entityDefinitionsResponse is the envelope for an EntityDefinitions listing.
type entityDefinitionsResponse struct {
	Value []struct {
		LogicalName string `json:"LogicalName"`
	} `json:"value"`
}

// Entities implements MetadataExecutor.
func (c *HTTPClient) Entities(ctx context.Context) ([]string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "EntityDefinitions?$select=LogicalName", nil)
	if err != nil {
		return nil, err
	}
	var body entityDefinitionsResponse
	if err := c.do(req, &body); err != nil {
		return nil, asDomainError(err)
	}
	names := make([]string, len(body.Value))
	for i, v := range body.Value {
		names[i] = v.LogicalName
	}
	return names, nil
}

// attributeDefinitionsResponse is the envelope for one entity's Attributes.
type attributeDefinitionsResponse struct {
	Value []struct {
		LogicalName string `json:"LogicalName"`
	} `json:"value"`
}

// Attributes implements MetadataExecutor.
func (c *HTTPClient) Attributes(ctx context.Context, entity string) ([]string, error) {
	path := fmt.Sprintf("EntityDefinitions(LogicalName='%s')/Attributes?$select=LogicalName", entity)
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var body attributeDefinitionsResponse
	if err := c.do(req, &body); err != nil {
		return nil, asDomainError(err)
	}
	names := make([]string, len(body.Value))
	for i, v := range body.Value {
		names[i] = v.LogicalName
	}
	return names, nil
}

// asDomainError upgrades a throttled response and the aggregate-limit
// message fragments (§4.5.1/§7) to their typed forms; everything else passes
// through as-is.
func asDomainError(err error) error {
	if throttled, ok := err.(*throttledHTTPError); ok {
		return &ThrottledError{RetryAfter: throttled.retryAfter}
	}
	if IsAggregateLimitExceeded(err) {
		return &AggregateLimitExceeded{}
	}
	return err
}

// rowFromJSON builds a QueryRow from one Dataverse Web API record, folding
// each "{attr}@OData.Community.Display.V1.FormattedValue" annotation into
// the base attribute's QueryValue.Formatted/Flags (§3 "QueryValue carries a
// flag set").
func rowFromJSON(entity string, raw map[string]any) *sqltypes.QueryRow {
	row := sqltypes.NewQueryRow(entity)
	formatted := map[string]string{}

	for key, val := range raw {
		if i := strings.Index(key, "@"); i >= 0 {
			if i == 0 {
				continue // record-level annotation, e.g. @odata.etag
			}
			if strings.HasSuffix(key, formattedValueAnnotation) {
				if s, ok := val.(string); ok {
					formatted[key[:i]] = s
				}
			}
			continue
		}
		row.Set(key, sqltypes.QueryValue{Raw: val})
	}

	for base, label := range formatted {
		v, ok := row.Values[base]
		if !ok {
			continue
		}
		v.Formatted = label
		switch raw := v.Raw.(type) {
		case bool:
			v.Flags.IsBoolean = true
		case string:
			if id, err := sqltypes.ParseGuid(raw); err == nil {
				v.Flags.IsLookup = true
				v.Lookup = &sqltypes.LookupTarget{ID: id}
			} else {
				v.Flags.IsOptionSet = true
			}
		default:
			v.Flags.IsOptionSet = true
		}
		row.Values[base] = v
	}
	return row
}
