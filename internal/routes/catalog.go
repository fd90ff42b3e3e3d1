package routes

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/campus-shuttle/fleetsim/pkg/core"
)

var (
	ErrTooFewWaypoints = errors.New("route needs at least two waypoints")
	ErrUnknownRoute    = errors.New("unknown route")
)

// Catalog maps route ids to routes. Lookups of unknown ids resolve to the
// default route so that a simulation can always start.
type Catalog struct {
	mu        sync.RWMutex
	routes    map[string]core.Route
	defaultID string
}

// NewCatalog creates a catalog from routes. The first route becomes the
// default unless defaultID names another one.
func NewCatalog(defaultID string, routes ...core.Route) (*Catalog, error) {
	c := &Catalog{routes: make(map[string]core.Route, len(routes))}
	for _, r := range routes {
		if err := c.Add(r); err != nil {
			return nil, err
		}
	}
	if defaultID == "" && len(routes) > 0 {
		defaultID = routes[0].ID
	}
	if defaultID != "" {
		if err := c.SetDefault(defaultID); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// NewBuiltinCatalog returns the catalog of routes compiled into the binary.
func NewBuiltinCatalog() *Catalog {
	f := Builtin()
	c, err := NewCatalog(f.DefaultRoute, f.CoreRoutes()...)
	if err != nil {
		panic(fmt.Sprintf("builtin catalog: %v", err))
	}
	return c
}

// Add inserts or replaces a route.
func (c *Catalog) Add(r core.Route) error {
	if r.ID == "" {
		return fmt.Errorf("route id is empty")
	}
	if len(r.Waypoints) < 2 {
		return fmt.Errorf("%w: %s has %d", ErrTooFewWaypoints, r.ID, len(r.Waypoints))
	}
	r.Waypoints = append([]core.Waypoint(nil), r.Waypoints...)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.routes[r.ID] = r
	return nil
}

// Merge adds every route of a catalog file.
func (c *Catalog) Merge(f *File) error {
	for _, r := range f.CoreRoutes() {
		if err := c.Add(r); err != nil {
			return err
		}
	}
	if f.DefaultRoute != "" {
		return c.SetDefault(f.DefaultRoute)
	}
	return nil
}

// SetDefault selects the fallback route for unknown ids.
func (c *Catalog) SetDefault(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.routes[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRoute, id)
	}
	c.defaultID = id
	return nil
}

// DefaultID returns the id of the fallback route.
func (c *Catalog) DefaultID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.defaultID
}

// Get returns the route with the exact id.
func (c *Catalog) Get(id string) (core.Route, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.routes[id]
	return r, ok
}

// Lookup resolves id to a route. For an unknown id it returns the default
// route and false. An empty catalog returns a zero route and false.
func (c *Catalog) Lookup(id string) (core.Route, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if r, ok := c.routes[id]; ok {
		return r, true
	}
	return c.routes[c.defaultID], false
}

// Routes lists route ids in sorted order.
func (c *Catalog) Routes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.routes))
	for id := range c.routes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
