package events

// SubjectPrefix is the canonical prefix for domain event subjects.
const SubjectPrefix = "payrail.v1"

// Subject returns the canonical subject for an event type.
func Subject(eventType string) string {
	if eventType == "" {
		eventType = "unknown"
	}
	return SubjectPrefix + "." + eventType
}

// WildcardSubject matches every domain event subject.
func WildcardSubject() string {
	return SubjectPrefix + ".>"
}
