package seeder

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/vnmchuo/llm-cost-tracker/internal/auth"
	"github.com/vnmchuo/llm-cost-tracker/internal/billing"
	"github.com/vnmchuo/llm-cost-tracker/internal/telemetry"
)

const (
	TestAPIKey      = "test-api-key-12345"
	TestProjectID   = "00000000-0000-0000-0000-000000000001"
	TestProjectName = "local-dev"

	apiKeyPrefix = "lct_"
)

//go:embed pricing.yaml
var defaultPricing []byte

type pricingFile struct {
	Pricing []billing.PriceEntry `yaml:"pricing"`
}

// DefaultPricing returns the built-in price table.
func DefaultPricing() ([]billing.PriceEntry, error) {
	return LoadPricing(bytes.NewReader(defaultPricing))
}

// LoadPricing parses and validates a YAML price table.
func LoadPricing(r io.Reader) ([]billing.PriceEntry, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f pricingFile
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("pricing table is empty")
		}
		return nil, fmt.Errorf("failed to parse pricing table: %w", err)
	}
	if err := Validate(f.Pricing); err != nil {
		return nil, err
	}
	return f.Pricing, nil
}

// Validate rejects tables with blank keys, negative rates or duplicate
// provider/model pairs.
func Validate(entries []billing.PriceEntry) error {
	if len(entries) == 0 {
		return errors.New("pricing table is empty")
	}

	seen := make(map[string]struct{}, len(entries))
	var errs []error
	for i, e := range entries {
		if e.Provider == "" || e.Model == "" {
			errs = append(errs, fmt.Errorf("entry %d: provider and model are required", i))
			continue
		}
		id := e.Provider + "/" + e.Model
		if _, dup := seen[id]; dup {
			errs = append(errs, fmt.Errorf("entry %d: duplicate price for %s", i, id))
		}
		seen[id] = struct{}{}
		if e.InputCostPer1k < 0 || e.OutputCostPer1k < 0 {
			errs = append(errs, fmt.Errorf("entry %d: negative rate for %s", i, id))
		}
	}
	return errors.Join(errs...)
}

// SeedPricing replaces the whole pricing table with entries.
func SeedPricing(ctx context.Context, store billing.PricingReplacer, entries []billing.PriceEntry) error {
	if err := Validate(entries); err != nil {
		return fmt.Errorf("invalid pricing table: %w", err)
	}
	if err := store.ReplaceAll(ctx, entries); err != nil {
		return fmt.Errorf("failed to seed pricing: %w", err)
	}

	telemetry.FromContext(ctx).Info("[Seeder] pricing table replaced", zap.Int("entries", len(entries)))
	return nil
}

// SeedTestProject creates the local development project. An existing
// project is left untouched.
func SeedTestProject(ctx context.Context, store auth.Store) (*auth.Project, error) {
	logger := telemetry.FromContext(ctx)

	project := &auth.Project{
		ID:         TestProjectID,
		Name:       TestProjectName,
		APIKeyHash: auth.HashKey(TestAPIKey),
		Active:     true,
	}

	if err := store.Create(ctx, project); err != nil {
		logger.Warn("[Seeder] test project may already exist, skipping", zap.Error(err))
		return nil, err
	}
	logger.Info("[Seeder] test project created",
		zap.String("project_id", project.ID),
		zap.String("api_key", TestAPIKey),
	)
	return project, nil
}

// CreateProject registers a new active project under a freshly generated ID
// and API key. Only the key's hash is stored; the plaintext key is returned
// once to the caller.
func CreateProject(ctx context.Context, store auth.Store, name string) (*auth.Project, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, "", errors.New("project name is required")
	}

	key := NewAPIKey()
	project := &auth.Project{
		ID:         uuid.NewString(),
		Name:       name,
		APIKeyHash: auth.HashKey(key),
		Active:     true,
	}
	if err := store.Create(ctx, project); err != nil {
		return nil, "", fmt.Errorf("failed to create project: %w", err)
	}

	telemetry.FromContext(ctx).Info("[Seeder] project created",
		zap.String("project_id", project.ID),
		zap.String("name", project.Name),
	)
	return project, key, nil
}

// DeactivateProject disables a project. When lookup is non-nil its cached
// entry is evicted too, so the key stops working immediately instead of
// after the cache TTL.
func DeactivateProject(ctx context.Context, store auth.Store, lookup *auth.Lookup, projectID string) error {
	keyHash, err := store.Deactivate(ctx, projectID)
	if err != nil {
		return fmt.Errorf("failed to deactivate project %s: %w", projectID, err)
	}

	logger := telemetry.FromContext(ctx).With(zap.String("project_id", projectID))
	if lookup != nil {
		if err := lookup.ForgetHash(ctx, keyHash); err != nil {
			logger.Warn("[Seeder] project deactivated but cache eviction failed", zap.Error(err))
			return fmt.Errorf("failed to evict cached project %s: %w", projectID, err)
		}
	}
	logger.Info("[Seeder] project deactivated", zap.Bool("cache_evicted", lookup != nil))
	return nil
}

// NewAPIKey returns a random project API key.
func NewAPIKey() string {
	return apiKeyPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}
