package catalog

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"mpsdash/internal/domain/mps"
	"mpsdash/internal/errs"
)

const catalogVersion = 1

var nameRE = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

type endpointConfig struct {
	Path       string   `toml:"path"`
	Method     string   `toml:"method"`
	Cache      bool     `toml:"cache"`
	TTLSeconds int      `toml:"ttl_seconds"`
	Required   []string `toml:"required"`
}

type catalogFile struct {
	Version   int                       `toml:"version"`
	Endpoints map[string]endpointConfig `toml:"endpoints"`
}

// Endpoint is one named route of the dashboard API.
type Endpoint struct {
	Name     string
	Path     string
	Method   string
	Cache    bool
	TTL      time.Duration
	Required []string
}

// Request turns a consumer payload into a gateway request for this endpoint.
func (e Endpoint) Request(body map[string]any) mps.Request {
	return mps.Request{
		Path:   e.Path,
		Method: e.Method,
		Body:   body,
		Options: mps.RequestOptions{
			UseCache:       e.Cache,
			TTL:            e.TTL,
			RequiredFields: e.Required,
		},
	}
}

// Catalog is an immutable set of endpoints.
type Catalog struct {
	endpoints map[string]Endpoint
}

func Load(path string) (*Catalog, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("endpoints file is required")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrapf(err, "read endpoints file %q", path)
	}
	cat, err := Parse(raw)
	if err != nil {
		return nil, errs.Wrapf(err, "load endpoints file %q", path)
	}
	return cat, nil
}

func Parse(raw []byte) (*Catalog, error) {
	var file catalogFile
	if err := toml.Unmarshal(raw, &file); err != nil {
		return nil, errs.Wrap(err, "decode endpoints toml")
	}
	if file.Version != catalogVersion {
		return nil, fmt.Errorf("unsupported endpoints version %d: expected version = %d", file.Version, catalogVersion)
	}

	endpoints := make(map[string]Endpoint, len(file.Endpoints))
	for rawName, cfg := range file.Endpoints {
		ep, err := buildEndpoint(rawName, cfg)
		if err != nil {
			return nil, err
		}
		endpoints[ep.Name] = ep
	}
	return &Catalog{endpoints: endpoints}, nil
}

func buildEndpoint(rawName string, cfg endpointConfig) (Endpoint, error) {
	name := strings.ToLower(strings.TrimSpace(rawName))
	if !nameRE.MatchString(name) {
		return Endpoint{}, fmt.Errorf("endpoints.%s: invalid name", rawName)
	}

	path := strings.Trim(strings.TrimSpace(cfg.Path), "/")
	if path == "" {
		return Endpoint{}, fmt.Errorf("endpoints.%s.path is required", name)
	}

	method := strings.ToUpper(strings.TrimSpace(cfg.Method))
	switch method {
	case "":
		method = http.MethodPost
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
	default:
		return Endpoint{}, fmt.Errorf("endpoints.%s.method %q is not supported", name, cfg.Method)
	}

	if cfg.TTLSeconds < 0 {
		return Endpoint{}, fmt.Errorf("endpoints.%s.ttl_seconds must not be negative", name)
	}

	required := make([]string, 0, len(cfg.Required))
	for _, field := range cfg.Required {
		if field = strings.TrimSpace(field); field != "" {
			required = append(required, field)
		}
	}

	return Endpoint{
		Name:     name,
		Path:     path,
		Method:   method,
		Cache:    cfg.Cache,
		TTL:      time.Duration(cfg.TTLSeconds) * time.Second,
		Required: required,
	}, nil
}

func (c *Catalog) Lookup(name string) (Endpoint, bool) {
	if c == nil {
		return Endpoint{}, false
	}
	ep, ok := c.endpoints[strings.ToLower(strings.TrimSpace(name))]
	return ep, ok
}

func (c *Catalog) Names() []string {
	if c == nil {
		return nil
	}
	names := make([]string, 0, len(c.endpoints))
	for name := range c.endpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.endpoints)
}
