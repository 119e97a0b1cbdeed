package core

// CrossRef is a lower-confidence assertion of the same fact by another
// service, kept alongside the winning value.
type CrossRef struct {
	Service    string     `json:"service"`
	Value      any        `json:"value"`
	Confidence float64    `json:"confidence"`
	Provenance Provenance `json:"provenance"`
}

// ProfileField is one aggregated fact in a person profile, attributed to
// the service that asserted it. Namespace is the fact domain of that
// service, taken from its descriptor.
type ProfileField struct {
	Value      any        `json:"value"`
	Service    string     `json:"service"`
	Namespace  string     `json:"namespace,omitempty"`
	Confidence float64    `json:"confidence"`
	Provenance Provenance `json:"provenance"`
	CrossRefs  []CrossRef `json:"cross_refs,omitempty"`
}

// PersonProfile is the cross-service aggregate for one person.
//
// Names collects every distinct display spelling seen across service
// outputs. Gaps lists services that produced no record for this person;
// a gap is informational and never blocks aggregation.
type PersonProfile struct {
	PersonID   string                  `json:"person_id"`
	PersonName string                  `json:"person_name"`
	Names      []string                `json:"names,omitempty"`
	Fields     map[string]ProfileField `json:"fields"`
	Gaps       []string                `json:"gaps,omitempty"`
}
