package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"gymtrack/internal/domain"
	"gymtrack/internal/models"
	"gymtrack/internal/repository"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const BundleVersion = 1

var ErrUnsupportedBundle = errors.New("unsupported bundle version")

// Bundle is the portable backup of all domain data.
type Bundle struct {
	Version    int                    `json:"version"`
	ExportedAt time.Time              `json:"exported_at"`
	Members    []*models.Member       `json:"members"`
	Payments   []*models.Payment      `json:"payments"`
	Activities []*models.Activity     `json:"activities"`
	Pricing    models.PricingSettings `json:"pricing"`
}

// ImportResult counts the records written by Import.
type ImportResult struct {
	Members    int `json:"members"`
	Payments   int `json:"payments"`
	Activities int `json:"activities"`
}

type PricingStore interface {
	Pricing(ctx context.Context) models.PricingSettings
	SavePricing(ctx context.Context, pricing models.PricingSettings) error
}

// Exporter moves domain data in and out of bundles and reports.
type Exporter struct {
	members    domain.Store
	payments   domain.Store
	activities domain.Store
	pricing    PricingStore
	dir        string
	logger     *zerolog.Logger
	now        func() time.Time
}

func NewExporter(stores domain.StoreFactory, pricing PricingStore, dir string, logger *zerolog.Logger) *Exporter {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Exporter{
		members:    stores.Namespace(models.NamespaceMembers),
		payments:   stores.Namespace(models.NamespacePayments),
		activities: stores.Namespace(models.NamespaceActivities),
		pricing:    pricing,
		dir:        dir,
		logger:     logger,
		now:        time.Now,
	}
}

func (e *Exporter) skip(key string, err error) {
	e.logger.Warn().Err(err).Str("key", key).Msg("export: skipping undecodable record")
}

// Export snapshots every namespace into a bundle. Namespaces are read
// concurrently; the first failure cancels the others.
func (e *Exporter) Export(ctx context.Context) (*Bundle, error) {
	var (
		members    []*models.Member
		payments   []*models.Payment
		activities []*models.Activity
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		if members, err = repository.ListJSON[models.Member](gctx, e.members, e.skip); err != nil {
			return fmt.Errorf("export members: %w", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		if payments, err = repository.ListJSON[models.Payment](gctx, e.payments, e.skip); err != nil {
			return fmt.Errorf("export payments: %w", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		if activities, err = repository.ListJSON[models.Activity](gctx, e.activities, e.skip); err != nil {
			return fmt.Errorf("export activities: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	b := &Bundle{
		Version:    BundleVersion,
		ExportedAt: e.now(),
		Members:    members,
		Payments:   payments,
		Activities: activities,
	}
	if e.pricing != nil {
		b.Pricing = e.pricing.Pricing(ctx)
	}
	return b, nil
}

// Import writes every record of b under its own ID, replacing existing
// records with the same key. Records without an ID are skipped.
func (e *Exporter) Import(ctx context.Context, b *Bundle) (ImportResult, error) {
	var res ImportResult
	if b == nil {
		return res, errors.New("empty bundle")
	}
	if b.Version > BundleVersion {
		return res, fmt.Errorf("%w: %d", ErrUnsupportedBundle, b.Version)
	}

	for _, m := range b.Members {
		if m == nil || m.ID == "" {
			continue
		}
		if err := repository.SetJSON(ctx, e.members, m.ID, m); err != nil {
			return res, fmt.Errorf("import member %s: %w", m.ID, err)
		}
		res.Members++
	}
	for _, p := range b.Payments {
		if p == nil || p.ID == "" {
			continue
		}
		if err := repository.SetJSON(ctx, e.payments, p.ID, p); err != nil {
			return res, fmt.Errorf("import payment %s: %w", p.ID, err)
		}
		res.Payments++
	}
	for _, a := range b.Activities {
		if a == nil || a.ID == "" {
			continue
		}
		if err := repository.SetJSON(ctx, e.activities, a.ID, a); err != nil {
			return res, fmt.Errorf("import activity %s: %w", a.ID, err)
		}
		res.Activities++
	}
	if e.pricing != nil && b.Pricing != (models.PricingSettings{}) {
		if err := e.pricing.SavePricing(ctx, b.Pricing); err != nil {
			return res, fmt.Errorf("import pricing: %w", err)
		}
	}

	e.logger.Info().
		Int("members", res.Members).
		Int("payments", res.Payments).
		Int("activities", res.Activities).
		Msg("bundle imported")
	return res, nil
}

func WriteBundle(w io.Writer, b *Bundle) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(b)
}

func ReadBundle(r io.Reader) (*Bundle, error) {
	var b Bundle
	if err := json.NewDecoder(r).Decode(&b); err != nil {
		return nil, fmt.Errorf("decode bundle: %w", err)
	}
	return &b, nil
}
