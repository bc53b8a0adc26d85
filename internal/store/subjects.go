package store

import "errors"

// builtinSubjects is served when the Gateway's subject table can't be
// reached (scenario S6): a lobby still needs something to list even
// while the store is unavailable.
var builtinSubjects = []*Subject{
	{ID: "builtin-1", Title: "Remote work improves productivity", Body: "Is working from home net-positive for output and wellbeing?"},
	{ID: "builtin-2", Title: "AI will create more jobs than it destroys", Body: "Does automation expand the labor market or shrink it?"},
	{ID: "builtin-3", Title: "Social media does more harm than good", Body: "Do the connective benefits outweigh the attention and mental-health costs?"},
	{ID: "builtin-4", Title: "Standardized testing should be abolished", Body: "Is it a fair measure of ability, or a flawed proxy that rewards test-taking skill?"},
	{ID: "builtin-5", Title: "Space exploration spending is worth it", Body: "Does the scientific and economic return justify the cost versus terrestrial priorities?"},
}

// BuiltinSubjects returns the fixed fallback list directly, for seeding a
// fresh database (cmd/seed_subjects.go) rather than serving a live request.
func BuiltinSubjects() []*Subject {
	return builtinSubjects
}

// Subjects returns the live subject list, falling back to a fixed
// five-entry built-in list when the store is transiently unavailable.
// Any other error (a genuine bug, not a transient store failure) is
// still returned to the caller rather than papered over.
func Subjects(g Gateway) ([]*Subject, error) {
	subjects, err := g.ListSubjects()
	if err == nil {
		return subjects, nil
	}
	if errors.Is(err, ErrTransient) {
		return builtinSubjects, nil
	}
	return nil, err
}
