package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/roach88/shelfcast/internal/ir"
	"github.com/roach88/shelfcast/internal/push"
)

// Scenario is one scripted kiosk run.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Field is the kiosk's field identifier.
	Field string `yaml:"field"`

	// SessionToken is a fixed token for reproducible traces. Defaults to
	// "test-session-default".
	SessionToken string `yaml:"session_token,omitempty"`

	// Dwell overrides the default 3s dwell.
	Dwell Duration `yaml:"dwell,omitempty"`

	// Cache is the durable snapshot present before the run.
	Cache []ProductSpec `yaml:"cache,omitempty"`

	// Remote is the backend's answer to the bootstrap fetch.
	Remote RemoteSpec `yaml:"remote"`

	Steps []Step `yaml:"steps"`

	// Until advances the clock after the last step, firing due expiries.
	Until Duration `yaml:"until,omitempty"`

	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// RemoteSpec scripts the bootstrap fetch.
type RemoteSpec struct {
	Products  []ProductSpec `yaml:"products,omitempty"`
	FieldName string        `yaml:"field_name,omitempty"`
	// Error is "", "rejected" or "unavailable".
	Error string `yaml:"error,omitempty"`
}

// Remote error kinds.
const (
	RemoteRejected    = "rejected"
	RemoteUnavailable = "unavailable"
)

// ProductSpec is a product in scenario YAML. Prices are decimal strings.
type ProductSpec struct {
	ID            string `yaml:"id,omitempty"`
	Barcode       string `yaml:"barcode"`
	Name          string `yaml:"name,omitempty"`
	Label         string `yaml:"label,omitempty"`
	Price         string `yaml:"price,omitempty"`
	DiscountPrice string `yaml:"discount_price,omitempty"`
	MemberPrice   string `yaml:"member_price,omitempty"`
	Description   string `yaml:"description,omitempty"`
	Image         string `yaml:"image,omitempty"`
	ImageFileName string `yaml:"image_file_name,omitempty"`
}

// Step is one scripted input at an offset from the start of the run. A
// step with neither push nor connection only advances the clock.
type Step struct {
	At         Duration  `yaml:"at"`
	Push       *PushStep `yaml:"push,omitempty"`
	Connection string    `yaml:"connection,omitempty"` // "up" or "down"
	Expect     *Expect   `yaml:"expect,omitempty"`
}

// PushStep is a push envelope. The payload comes from Products
// (realogram), Label (productLabel) or Product (commercial); Raw, when
// set, is sent verbatim instead.
type PushStep struct {
	Channel  string        `yaml:"channel,omitempty"`
	Type     string        `yaml:"type"`
	Products []ProductSpec `yaml:"products,omitempty"`
	Label    string        `yaml:"label,omitempty"`
	Product  *ProductSpec  `yaml:"product,omitempty"`
	Raw      string        `yaml:"raw,omitempty"`
}

// Expect checks state right after a step.
type Expect struct {
	// Active is the expected active barcode; "" means nothing is active.
	Active *string `yaml:"active,omitempty"`
	// Catalog is the expected barcode order of the Local Catalog.
	Catalog []string `yaml:"catalog,omitempty"`
}

// Assertion validates the trace or the final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type     string   `yaml:"type"`
	Kind     string   `yaml:"kind,omitempty"`
	Barcode  string   `yaml:"barcode,omitempty"`
	Barcodes []string `yaml:"barcodes,omitempty"`
	Count    int      `yaml:"count,omitempty"`
	State    string   `yaml:"state,omitempty"`
}

// Assertion types.
const (
	AssertTraceContains  = "trace_contains"
	AssertTraceCount     = "trace_count"
	AssertFinalActive    = "final_active"
	AssertFinalCatalog   = "final_catalog"
	AssertDurableCatalog = "durable_catalog"
	AssertBootstrapState = "bootstrap_state"
)

// Duration is a time.Duration written as a Go duration string in YAML.
type Duration time.Duration

// UnmarshalYAML parses strings such as "1500ms" or "3s".
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Product converts the YAML form to a catalog product.
func (p ProductSpec) Product() (ir.Product, error) {
	out := ir.Product{
		ID:            p.ID,
		Barcode:       ir.NormalizeBarcode(p.Barcode),
		Name:          p.Name,
		Label:         p.Label,
		Description:   p.Description,
		Image:         p.Image,
		ImageFileName: p.ImageFileName,
	}
	prices := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"price", p.Price, &out.Price},
		{"discount_price", p.DiscountPrice, &out.DiscountPrice},
		{"member_price", p.MemberPrice, &out.MemberPrice},
	}
	for _, pr := range prices {
		if pr.raw == "" {
			continue
		}
		d, err := decimal.NewFromString(pr.raw)
		if err != nil {
			return ir.Product{}, fmt.Errorf("product %q %s: %w", p.Barcode, pr.name, err)
		}
		*pr.dst = d
	}
	return out, nil
}

func productsFromSpecs(specs []ProductSpec) ([]ir.Product, error) {
	out := make([]ir.Product, 0, len(specs))
	for _, s := range specs {
		p, err := s.Product()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "asertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadDir loads every *.yaml and *.yml scenario in dir, sorted by file name.
func LoadDir(dir string) ([]*Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	if len(names) == 0 {
		return nil, fmt.Errorf("no scenario files in %s", dir)
	}

	scenarios := make([]*Scenario, 0, len(names))
	for _, name := range names {
		s, err := LoadScenario(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Field == "" {
		return fmt.Errorf("field is required")
	}
	if s.Dwell < 0 {
		return fmt.Errorf("dwell must not be negative")
	}

	switch s.Remote.Error {
	case "", RemoteRejected, RemoteUnavailable:
	default:
		return fmt.Errorf("remote.error: unknown kind %q", s.Remote.Error)
	}

	for _, group := range [][]ProductSpec{s.Cache, s.Remote.Products} {
		if _, err := productsFromSpecs(group); err != nil {
			return err
		}
	}

	var last Duration
	for i, step := range s.Steps {
		if step.At < last {
			return fmt.Errorf("steps[%d]: at %s is before the previous step", i, step.At.Std())
		}
		last = step.At
		if err := validateStep(step); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	if s.Until != 0 && s.Until < last {
		return fmt.Errorf("until %s is before the last step", s.Until.Std())
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(step Step) error {
	if step.Push != nil && step.Connection != "" {
		return fmt.Errorf("push and connection are exclusive")
	}
	switch step.Connection {
	case "", "up", "down":
	default:
		return fmt.Errorf("connection must be up or down, got %q", step.Connection)
	}
	if step.Push == nil {
		return nil
	}

	p := step.Push
	if p.Type == "" {
		return fmt.Errorf("push.type is required")
	}
	if p.Raw != "" {
		return nil
	}
	switch p.Type {
	case push.TypeRealogram:
		_, err := productsFromSpecs(p.Products)
		return err
	case push.TypeProductLabel:
		if p.Label == "" {
			return fmt.Errorf("push.label is required for %s", p.Type)
		}
	case push.TypeCommercial:
		if p.Product == nil {
			return fmt.Errorf("push.product is required for %s", p.Type)
		}
		_, err := p.Product.Product()
		return err
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(a Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("type is required")
	case AssertTraceContains:
		if a.Kind == "" {
			return fmt.Errorf("kind is required for %s", a.Type)
		}
	case AssertTraceCount:
		if a.Kind == "" {
			return fmt.Errorf("kind is required for %s", a.Type)
		}
		if a.Count < 0 {
			return fmt.Errorf("count must be non-negative for %s", a.Type)
		}
	case AssertFinalActive:
	case AssertFinalCatalog, AssertDurableCatalog:
		if a.Barcodes == nil {
			return fmt.Errorf("barcodes is required for %s (use [] for empty)", a.Type)
		}
	case AssertBootstrapState:
		if a.State == "" {
			return fmt.Errorf("state is required for %s", a.Type)
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
