package tiers

import (
	"fmt"
	"sync/atomic"
)

// Lookup is the read side of a catalog.
type Lookup interface {
	Get(id TierID) (Tier, error)
	List() []Tier
}

// Catalog serves the active tier definitions. The definitions are swapped as a
// whole by Replace/Reload; a reader holding a View keeps a consistent version.
type Catalog struct {
	current atomic.Pointer[View]
}

// View is one immutable version of the catalog.
type View struct {
	version string
	ordered []Tier
	byID    map[TierID]Tier
}

func NewCatalog(doc Document) (*Catalog, error) {
	v, err := newView(doc)
	if err != nil {
		return nil, err
	}
	c := &Catalog{}
	c.current.Store(v)
	return c, nil
}

// NewDefaultCatalog panics only if the compiled-in defaults are broken.
func NewDefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultDocument())
	if err != nil {
		panic(fmt.Sprintf("default tier catalog: %v", err))
	}
	return c
}

func newView(doc Document) (*View, error) {
	tiers, err := Compile(doc)
	if err != nil {
		return nil, err
	}
	v := &View{version: doc.Version, ordered: tiers, byID: make(map[TierID]Tier, len(tiers))}
	for _, t := range tiers {
		v.byID[t.ID] = t
	}
	return v, nil
}

func (c *Catalog) Snapshot() *View { return c.current.Load() }

func (c *Catalog) Get(id TierID) (Tier, error) { return c.Snapshot().Get(id) }

func (c *Catalog) List() []Tier { return c.Snapshot().List() }

func (c *Catalog) Version() string { return c.Snapshot().Version() }

func (c *Catalog) Export() Document { return c.Snapshot().Export() }

// Replace validates doc completely before making it visible.
func (c *Catalog) Replace(doc Document) error {
	v, err := newView(doc)
	if err != nil {
		return err
	}
	c.current.Store(v)
	return nil
}

func (c *Catalog) Reload(path string) error {
	doc, err := ReadDocumentFile(path)
	if err != nil {
		return err
	}
	return c.Replace(doc)
}

func (v *View) Get(id TierID) (Tier, error) {
	t, ok := v.byID[id]
	if !ok {
		return Tier{}, fmt.Errorf("%w: %q", ErrUnknownTier, id)
	}
	return t.clone(), nil
}

func (v *View) List() []Tier {
	out := make([]Tier, 0, len(v.ordered))
	for _, t := range v.ordered {
		out = append(out, t.clone())
	}
	return out
}

func (v *View) Version() string { return v.version }

func (v *View) Export() Document { return ToDocument(v.version, v.ordered) }
