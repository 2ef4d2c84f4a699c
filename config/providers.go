package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/AuralStack/ScribeFlow/credentials"
	"github.com/AuralStack/ScribeFlow/stt"
)

// Provider adapter types.
const (
	ProviderTypeWhisper = "whisper"
	ProviderTypeAzure   = "azure"
	ProviderTypeREST    = "rest"
)

//go:embed providers_schema.json
var providersSchema []byte

// ProviderEntry describes one STT provider adapter in providers.yaml.
type ProviderEntry struct {
	// Type selects the adapter: whisper, azure, or rest.
	Type string `yaml:"type" json:"type"`

	// BaseURL overrides the whisper endpoint (proxies, compatible servers).
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty"`

	// Model overrides the whisper model name.
	Model string `yaml:"model,omitempty" json:"model,omitempty"`

	// Endpoint and Deployment locate an Azure OpenAI Whisper deployment.
	Endpoint   string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	Deployment string `yaml:"deployment,omitempty" json:"deployment,omitempty"`

	// REST configures a generic JSON-over-HTTP adapter with JMESPath
	// response mapping.
	REST *stt.RESTConfig `yaml:"rest,omitempty" json:"rest,omitempty"`

	// Credentials is the optional credential block. When absent, keys
	// resolve through the provider's default environment variables.
	Credentials *credentials.Spec `yaml:"credentials,omitempty" json:"credentials,omitempty"`
}

// ProvidersFile is the parsed providers.yaml catalog keyed by provider name.
type ProvidersFile struct {
	Providers map[string]ProviderEntry `yaml:"providers" json:"providers"`
}

// SchemaValidationError is one schema violation in providers.yaml.
type SchemaValidationError struct {
	Field       string
	Description string
}

// Error implements the error interface.
func (e SchemaValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Description)
}

// LoadProviders reads and validates the provider catalog. A missing
// file is not an error when the deployment only uses env-configured
// built-in providers; callers get an empty catalog.
func LoadProviders(path string) (*ProvidersFile, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &ProvidersFile{Providers: map[string]ProviderEntry{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read providers config: %w", err)
	}
	return ParseProviders(data)
}

// ParseProviders validates raw YAML against the embedded schema and
// unmarshals it.
func ParseProviders(data []byte) (*ProvidersFile, error) {
	if err := validateProvidersYAML(data); err != nil {
		return nil, err
	}

	var pf ProvidersFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse providers config: %w", err)
	}
	if pf.Providers == nil {
		pf.Providers = map[string]ProviderEntry{}
	}

	for name, entry := range pf.Providers {
		if err := entry.validate(); err != nil {
			return nil, fmt.Errorf("provider %q: %w", name, err)
		}
	}
	return &pf, nil
}

func (e ProviderEntry) validate() error {
	switch e.Type {
	case ProviderTypeWhisper:
		return nil
	case ProviderTypeAzure:
		if e.Endpoint == "" || e.Deployment == "" {
			return fmt.Errorf("azure provider requires endpoint and deployment")
		}
		return nil
	case ProviderTypeREST:
		if e.REST == nil || e.REST.URL == "" {
			return fmt.Errorf("rest provider requires a rest block with a url")
		}
		return nil
	default:
		return fmt.Errorf("unknown provider type %q", e.Type)
	}
}

// validateProvidersYAML converts YAML to JSON and validates the
// document against the embedded JSON schema, mirroring how the config
// catalog gates malformed entries before any adapter is built.
func validateProvidersYAML(yamlData []byte) error {
	var doc interface{}
	if err := yaml.Unmarshal(yamlData, &doc); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	jsonData, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to convert to JSON: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(providersSchema),
		gojsonschema.NewBytesLoader(jsonData),
	)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, verr := range result.Errors() {
		msgs = append(msgs, SchemaValidationError{
			Field:       verr.Field(),
			Description: verr.Description(),
		}.Error())
	}
	return fmt.Errorf("providers config invalid:\n  - %s", strings.Join(msgs, "\n  - "))
}
