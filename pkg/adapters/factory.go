package adapters

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Supported adapter kinds.
const (
	KindPrometheus      = "prometheus"
	KindVictoriaMetrics = "victoriametrics"
	KindHTTP            = "http"
)

// DefaultSourceURL returns the conventional base URL for kind.
func DefaultSourceURL(kind string) string {
	switch kind {
	case KindVictoriaMetrics:
		return "http://localhost:8428"
	case KindPrometheus:
		return "http://localhost:9090"
	default:
		return ""
	}
}

// New creates an adapter based on kind and a generic configuration map.
// The "url" and "aggregate" keys are shared by all kinds; client may be nil.
//
// Supported kinds:
//   - "prometheus": Prometheus adapter
//   - "victoriametrics": VictoriaMetrics adapter
//   - "http": Generic HTTP adapter (needs "valuePath")
func New(kind string, config map[string]string, client *http.Client) (Adapter, error) {
	agg := config["aggregate"]
	if err := validateAggregate(agg); err != nil {
		return nil, fmt.Errorf("%s adapter: %w", kind, err)
	}

	switch kind {
	case KindPrometheus:
		return &PrometheusAdapter{ServerURL: urlOrDefault(config, kind), HTTPClient: client, Aggregate: agg}, nil
	case KindVictoriaMetrics:
		return &VictoriaMetricsAdapter{ServerURL: urlOrDefault(config, kind), HTTPClient: client, Aggregate: agg}, nil
	case KindHTTP:
		return newHTTP(config, client)
	default:
		return nil, fmt.Errorf("unknown adapter kind: %s (must be prometheus, victoriametrics, or http)", kind)
	}
}

func urlOrDefault(config map[string]string, kind string) string {
	if u := config["url"]; u != "" {
		return u
	}
	return DefaultSourceURL(kind)
}

// newHTTP creates a generic HTTP adapter from generic config.
func newHTTP(config map[string]string, client *http.Client) (Adapter, error) {
	url := config["url"]
	if url == "" {
		return nil, fmt.Errorf("http adapter requires 'url' config")
	}

	valuePath := config["valuePath"]
	if valuePath == "" {
		return nil, fmt.Errorf("http adapter requires 'valuePath' config")
	}

	var headers map[string]string
	if headersJSON := config["headers"]; headersJSON != "" {
		if err := json.Unmarshal([]byte(headersJSON), &headers); err != nil {
			return nil, fmt.Errorf("invalid 'headers' JSON: %w", err)
		}
	}

	var templateVars map[string]string
	if varsJSON := config["templateVars"]; varsJSON != "" {
		if err := json.Unmarshal([]byte(varsJSON), &templateVars); err != nil {
			return nil, fmt.Errorf("invalid 'templateVars' JSON: %w", err)
		}
	}

	return &HTTPAdapter{
		URL:          url,
		Method:       config["method"],
		Headers:      headers,
		Body:         config["body"],
		ValuePath:    valuePath,
		HTTPClient:   client,
		TemplateVars: templateVars,
		Aggregate:    config["aggregate"],
	}, nil
}
