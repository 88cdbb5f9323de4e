package codec

import "sync"

// TypeKind classifies a catalog-resolved type: PostgreSQL represents enums
// on the wire exactly like TEXT (just the label bytes), so only composites
// need a dedicated binary layout.
type TypeKind int

const (
	KindComposite TypeKind = iota
	KindEnum
)

// CompositeField is one attribute of a composite (row) type, in catalog
// (ordinal) order.
type CompositeField struct {
	Name string
	OID  OID
}

// TypeInfo describes one catalog-resolved composite or enum type. The
// caller (the Connection layer, which can run a catalog query) builds this
// by querying pg_type/pg_attribute; codec itself never touches SQL.
type TypeInfo struct {
	OID    OID
	Kind   TypeKind
	Name   string
	Fields []CompositeField // composite only
}

// RegisterType wires info into r: composites get a compositeCodec bound to
// r (so nested composite/array fields resolve through the same registry),
// enums get the plain text codec since their wire format is identical.
func (r *Registry) RegisterType(info *TypeInfo) {
	switch info.Kind {
	case KindEnum:
		r.Register(info.OID, textCodec{oid: info.OID})
	case KindComposite:
		r.Register(info.OID, &compositeCodec{info: info, registry: r})
	}
}

// TypeInfoCache is the per-Connection "seen this OID before?" gate for
// composite and enum decoding: the first time an unknown OID is
// encountered, resolve is invoked to run the catalog query
// and the result is registered into the shared Registry; every later
// lookup (including from other columns or rows) is a plain map read.
type TypeInfoCache struct {
	mu       sync.Mutex
	registry *Registry
	resolved map[OID]bool
}

// NewTypeInfoCache wraps registry with the lazy-resolution bookkeeping.
func NewTypeInfoCache(registry *Registry) *TypeInfoCache {
	return &TypeInfoCache{registry: registry, resolved: make(map[OID]bool)}
}

// EnsureRegistered resolves oid via resolve exactly once per cache
// lifetime (i.e. per Connection), registering the result into the
// underlying Registry. Built-in OIDs already present in the Registry never
// invoke resolve.
func (c *TypeInfoCache) EnsureRegistered(oid OID, resolve func(OID) (*TypeInfo, error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.resolved[oid] {
		return nil
	}
	if _, ok := c.registry.Lookup(oid); ok {
		c.resolved[oid] = true
		return nil
	}

	info, err := resolve(oid)
	if err != nil {
		return err
	}
	c.registry.RegisterType(info)
	c.resolved[oid] = true
	return nil
}
