package adapters

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/tidwall/gjson"
)

// HTTPAdapter is a generic adapter that can call any REST API endpoint and
// extract a sample using a gjson path.
//
// URL, Body and header values are templates with these variables:
//
//	{{.Query}} - the query being evaluated
//	{{.Now}}   - evaluation time as Unix seconds
//
// plus every key of TemplateVars. Use {{urlquery .Query}} when the query is
// embedded in the URL.
//
// Example configuration for a custom metrics API:
//
//	adapter := &HTTPAdapter{
//	    URL:       "https://api.example.com/eval?expr={{urlquery .Query}}",
//	    Headers:   map[string]string{"Authorization": "Bearer {{.Token}}"},
//	    ValuePath: "data.value",
//	}
type HTTPAdapter struct {
	// URL is the endpoint to call (required)
	URL string

	// Method is the HTTP method (GET, POST, etc.). Defaults to GET if empty.
	Method string

	// Headers are custom HTTP headers to include in the request.
	Headers map[string]string

	// Body is the request body template (for POST/PUT).
	Body string

	// ValuePath is the gjson path of the sample in the response. If it
	// resolves to an array, the first element is used.
	ValuePath string

	// Aggregate selects how an array result is reduced: AggregateFirst
	// (default) or AggregateSum.
	Aggregate string

	// HTTPClient is optional; if nil a default client with timeout is used.
	HTTPClient *http.Client

	// TemplateVars are custom variables available in templates.
	TemplateVars map[string]string
}

func (h *HTTPAdapter) Name() string { return "http" }

// Sample implements Adapter.
func (h *HTTPAdapter) Sample(ctx context.Context, query string) (float64, error) {
	if err := h.ValidateConfig(); err != nil {
		return 0, fmt.Errorf("http adapter: %w", err)
	}

	data := map[string]any{
		"Query": query,
		"Now":   time.Now().Unix(),
	}
	for k, v := range h.TemplateVars {
		data[k] = v
	}

	target, err := renderTemplate(h.URL, data)
	if err != nil {
		return 0, fmt.Errorf("render url template: %w", err)
	}

	var bodyReader io.Reader
	if h.Body != "" {
		body, err := renderTemplate(h.Body, data)
		if err != nil {
			return 0, fmt.Errorf("render body template: %w", err)
		}
		bodyReader = strings.NewReader(body)
	}

	method := h.Method
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for key, value := range h.Headers {
		rendered, err := renderTemplate(value, data)
		if err != nil {
			return 0, fmt.Errorf("render header %s: %w", key, err)
		}
		req.Header.Set(key, rendered)
	}

	cli := h.HTTPClient
	if cli == nil {
		cli = &http.Client{Timeout: 10 * time.Second}
	}

	resp, err := cli.Do(req)
	if err != nil {
		return 0, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return 0, fmt.Errorf("http status %d: %s", resp.StatusCode, string(body))
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return 0, fmt.Errorf("read response: %w", err)
	}
	if !gjson.ValidBytes(respBody) {
		return 0, fmt.Errorf("%w: response is not valid JSON", ErrInvalidSample)
	}

	return extractJSONSample(gjson.GetBytes(respBody, h.ValuePath), h.ValuePath, h.Aggregate)
}

func extractJSONSample(res gjson.Result, path, agg string) (float64, error) {
	if !res.Exists() {
		return 0, fmt.Errorf("%w: path %q not found", ErrNoData, path)
	}

	if res.IsArray() {
		items := res.Array()
		if len(items) == 0 {
			return 0, fmt.Errorf("%w: path %q is an empty array", ErrNoData, path)
		}
		if agg != AggregateSum {
			items = items[:1]
		}
		var sum float64
		for i, item := range items {
			v, err := jsonNumber(item)
			if err != nil {
				return 0, fmt.Errorf("element %d: %w", i, err)
			}
			sum += v
		}
		return checkSample(sum)
	}

	v, err := jsonNumber(res)
	if err != nil {
		return 0, err
	}
	return checkSample(v)
}

// jsonNumber accepts JSON numbers and numeric strings (Prometheus encodes
// sample values as strings).
func jsonNumber(r gjson.Result) (float64, error) {
	switch r.Type {
	case gjson.Number:
		return r.Num, nil
	case gjson.String:
		v, err := strconv.ParseFloat(strings.TrimSpace(r.Str), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidSample, r.Str)
		}
		return v, nil
	case gjson.Null:
		return 0, ErrNoData
	default:
		return 0, fmt.Errorf("%w: unexpected JSON %s", ErrInvalidSample, r.Type)
	}
}

// renderTemplate renders a text template with the given data
func renderTemplate(tmplStr string, data map[string]any) (string, error) {
	if !strings.Contains(tmplStr, "{{") {
		return tmplStr, nil
	}

	tmpl, err := template.New("").Parse(tmplStr)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}

	return buf.String(), nil
}

// ValidateConfig checks if the adapter configuration is valid
func (h *HTTPAdapter) ValidateConfig() error {
	if h.URL == "" {
		return errors.New("url is required")
	}
	if h.ValuePath == "" {
		return errors.New("valuePath is required")
	}
	return validateAggregate(h.Aggregate)
}
