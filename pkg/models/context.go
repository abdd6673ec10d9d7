package models

// EventContext carries the payload of a domain event, keyed by resource name
// (e.g. "entity", "job", "quote"). Each resource maps to a flat field map.
// Both condition evaluation and message templating read from it.
type EventContext map[string]map[string]any

// Resource returns the field map for a resource name.
func (c EventContext) Resource(name string) (map[string]any, bool) {
	if c == nil {
		return nil, false
	}

	fields, ok := c[name]

	return fields, ok
}

// Field returns a single field value from a resource. The second return is
// false when either the resource or the field is absent.
func (c EventContext) Field(resource, field string) (any, bool) {
	fields, ok := c.Resource(resource)
	if !ok {
		return nil, false
	}

	value, ok := fields[field]

	return value, ok
}
