// Package pipe implements the streaming dataflow core: items, lazy
// iterators, the source/segment contracts, and the pipeline, script, and
// loop composers that drive items through a compiled graph.
package pipe

// Item is any value flowing through the engine. The engine is agnostic to
// the payload; segments interpret items as they see fit.
type Item = any

// Meta is the control-item variant the engine recognizes. Metadata items
// flow in-band with data and are invisible to segments that did not opt in.
type Meta struct {
	Kind string
}

// Flush signals "commit buffered work, then continue". It is the only
// builtin metadata kind.
var Flush = Meta{Kind: "flush"}

// IsMeta reports whether an item is a metadata item.
func IsMeta(it Item) bool {
	_, ok := it.(Meta)
	return ok
}

// IsFlush reports whether an item is a Flush marker.
func IsFlush(it Item) bool {
	m, ok := it.(Meta)
	return ok && m.Kind == Flush.Kind
}
