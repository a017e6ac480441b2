// Package analytics computes code conversion figures at read time.
package analytics

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"recruitd.org/internal/domain"
	"recruitd.org/internal/store"
)

const revokedLabel = "Revoked code"

// Counts are the conversion figures for one code, owner or scope.
type Counts struct {
	Scans                 int     `json:"scans"`
	ApplicationsFromScans int     `json:"applications_from_scans"`
	SurveysFromScans      int     `json:"surveys_from_scans"`
	ConversionRate        float64 `json:"conversion_rate"`
}

func (c *Counts) add(o Counts) {
	c.Scans += o.Scans
	c.ApplicationsFromScans += o.ApplicationsFromScans
	c.SurveysFromScans += o.SurveysFromScans
}

func (c *Counts) finish() {
	c.ConversionRate = Rate(c.ApplicationsFromScans+c.SurveysFromScans, c.Scans)
}

// Rate is converted/scans clamped to [0, 1]; zero when there are no scans.
func Rate(converted, scans int) float64 {
	if scans <= 0 || converted <= 0 {
		return 0
	}
	r := float64(converted) / float64(scans)
	if r > 1 {
		return 1
	}
	return r
}

type CodeStats struct {
	Code     string      `json:"code"`
	Label    string      `json:"label"`
	Kind     domain.Kind `json:"kind,omitempty"`
	Location bool        `json:"location"`
	Revoked  bool        `json:"revoked,omitempty"`
	Counts
}

type OwnerStats struct {
	OwnerID   string      `json:"owner_id"`
	OwnerName string      `json:"owner_name"`
	StationID string      `json:"station_id,omitempty"`
	Codes     []CodeStats `json:"codes"`
	Counts
}

type Report struct {
	Totals      Counts       `json:"totals"`
	Owners      []OwnerStats `json:"owners"`
	GeneratedAt time.Time    `json:"generated_at"`
}

type Aggregator struct {
	store store.Store
	now   func() time.Time
	ttl   time.Duration

	mu    sync.Mutex
	cache map[string]cached
	group singleflight.Group
}

type cached struct {
	report  Report
	expires time.Time
}

type Option func(*Aggregator)

// WithCacheTTL keeps reports per scope for ttl. Zero disables caching.
func WithCacheTTL(ttl time.Duration) Option {
	return func(a *Aggregator) { a.ttl = ttl }
}

func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

func New(s store.Store, opts ...Option) *Aggregator {
	a := &Aggregator{store: s, now: time.Now, cache: map[string]cached{}}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Conversions reports on the codes visible to viewer: their own for
// recruiters, their station for commanders, everything for admins.
func (a *Aggregator) Conversions(ctx context.Context, viewer domain.User) (Report, error) {
	if a.ttl <= 0 {
		return a.compute(ctx, viewer)
	}
	key := string(viewer.Role) + "|" + viewer.StationID + "|" + viewer.ID
	if viewer.IsAdmin() {
		key = "admin"
	}
	a.mu.Lock()
	c, ok := a.cache[key]
	a.mu.Unlock()
	if ok && a.now().Before(c.expires) {
		return c.report, nil
	}
	v, err, _ := a.group.Do(key, func() (any, error) {
		r, err := a.compute(ctx, viewer)
		if err != nil {
			return Report{}, err
		}
		a.mu.Lock()
		a.cache[key] = cached{report: r, expires: a.now().Add(a.ttl)}
		a.mu.Unlock()
		return r, nil
	})
	if err != nil {
		return Report{}, err
	}
	return v.(Report), nil
}

func (a *Aggregator) compute(ctx context.Context, viewer domain.User) (Report, error) {
	report := Report{GeneratedAt: a.now().UTC(), Owners: []OwnerStats{}}
	err := a.store.Atomically(ctx, func(tx store.Tx) error {
		scope, err := store.ResolveScope(ctx, tx, viewer)
		if err != nil {
			return err
		}
		tallies, err := tx.Tally(ctx, scope)
		if err != nil {
			return err
		}
		owners := map[string]*OwnerStats{}
		for _, t := range tallies {
			ow, ok := owners[t.OwnerID]
			if !ok {
				ow = &OwnerStats{OwnerID: t.OwnerID, Codes: []CodeStats{}}
				u, err := tx.User(ctx, t.OwnerID)
				switch {
				case err == nil:
					ow.OwnerName, ow.StationID = u.FullName, u.StationID
				case !errors.Is(err, domain.ErrNotFound):
					return err
				}
				owners[t.OwnerID] = ow
			}
			cs := CodeStats{Code: t.Code, Counts: Counts{
				Scans:                 t.Scans + t.Unscanned,
				ApplicationsFromScans: t.Applications,
				SurveysFromScans:      t.Surveys,
			}}
			c, err := tx.Code(ctx, t.Code)
			switch {
			case err == nil:
				cs.Label, cs.Kind, cs.Location = c.DisplayLabel(), c.Kind, c.Location
			case errors.Is(err, domain.ErrNotFound):
				cs.Label, cs.Revoked = revokedLabel, true
			default:
				return err
			}
			cs.finish()
			ow.Codes = append(ow.Codes, cs)
			ow.add(cs.Counts)
		}
		for _, ow := range owners {
			ow.finish()
			report.Totals.add(ow.Counts)
			report.Owners = append(report.Owners, *ow)
		}
		return nil
	})
	if err != nil {
		return Report{}, err
	}
	report.Totals.finish()
	sort.Slice(report.Owners, func(i, j int) bool {
		if report.Owners[i].Scans == report.Owners[j].Scans {
			return report.Owners[i].OwnerID < report.Owners[j].OwnerID
		}
		return report.Owners[i].Scans > report.Owners[j].Scans
	})
	return report, nil
}
