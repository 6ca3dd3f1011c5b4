package entitlements

import "fmt"

// Catalog is the immutable feature registry. It is built once at process
// start from a versioned configuration artifact and passed by reference;
// hot reloading is a deployment concern, not handled here.
type Catalog struct {
	features map[FeatureID]Feature
	order    []FeatureID
}

// NewCatalog validates and freezes a feature set.
func NewCatalog(features []Feature) (*Catalog, error) {
	c := &Catalog{
		features: make(map[FeatureID]Feature, len(features)),
		order:    make([]FeatureID, 0, len(features)),
	}
	for _, f := range features {
		if f.ID == "" {
			return nil, fmt.Errorf("%w: empty feature id", ErrInvalidFeature)
		}
		if _, dup := c.features[f.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate feature %q", ErrInvalidFeature, f.ID)
		}
		switch f.Period {
		case PeriodDaily, PeriodMonthly:
		default:
			return nil, fmt.Errorf("%w: feature %q has unknown period %q", ErrInvalidFeature, f.ID, f.Period)
		}
		switch f.Lifecycle {
		case LifecycleActive, LifecycleDeprecated, LifecycleHidden:
		default:
			return nil, fmt.Errorf("%w: feature %q has unknown lifecycle %q", ErrInvalidFeature, f.ID, f.Lifecycle)
		}
		c.features[f.ID] = f
		c.order = append(c.order, f.ID)
	}
	return c, nil
}

// Get returns the feature for id. Unknown IDs are a caller error, never
// silently defaulted.
func (c *Catalog) Get(id FeatureID) (Feature, error) {
	f, ok := c.features[id]
	if !ok {
		return Feature{}, fmt.Errorf("%w: %q", ErrInvalidFeature, id)
	}
	return f, nil
}

// Has reports whether id is in the catalog.
func (c *Catalog) Has(id FeatureID) bool {
	_, ok := c.features[id]
	return ok
}

// IDs returns feature IDs in registration order.
func (c *Catalog) IDs() []FeatureID {
	out := make([]FeatureID, len(c.order))
	copy(out, c.order)
	return out
}

// Len returns the number of registered features.
func (c *Catalog) Len() int {
	return len(c.features)
}
