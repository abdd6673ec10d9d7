package models

import "time"

// Entity is the read-only projection of a business record (a customer, for
// most tenants) served by the entity source. The engine only needs an address
// to deliver messages to and a flat field map for conditions, templates and
// recurrence date matching.
type Entity struct {
	ID       string         `json:"id"`
	TenantID string         `json:"tenant_id"`
	Email    string         `json:"email"`
	Name     string         `json:"name"`
	Fields   map[string]any `json:"fields,omitempty"`
}

// Context builds the event context for an entity-scoped trigger. Base
// attributes and custom fields are merged under the "entity" resource.
func (e *Entity) Context() EventContext {
	fields := make(map[string]any, len(e.Fields)+3)

	for k, v := range e.Fields {
		fields[k] = v
	}

	fields["id"] = e.ID
	fields["email"] = e.Email
	fields["name"] = e.Name

	return EventContext{"entity": fields}
}

// recurrenceDateLayouts are the date encodings accepted on entity date
// fields. Year-bearing layouts match on month and day only.
var recurrenceDateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"01-02",
}

// DateFieldMatches reports whether a raw entity field value is a date whose
// month and day equal the given pair. Non-date values never match.
func DateFieldMatches(value any, month time.Month, day int) bool {
	s, ok := value.(string)
	if !ok || s == "" {
		return false
	}

	for _, layout := range recurrenceDateLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}

		return t.Month() == month && t.Day() == day
	}

	return false
}
