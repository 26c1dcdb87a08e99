package graph

import "time"

// SeedVocabulary returns the built-in relationship types every new graph
// starts with. Stores install these on first use; ingestion may extend the
// set when vocabulary expansion is enabled.
func SeedVocabulary() []RelType {
	now := time.Now().UTC()
	return []RelType{
		{Name: "IMPLIES", Description: "Concept A implies or leads to Concept B", IsActive: true, CreatedAt: now},
		{Name: "SUPPORTS", Description: "Concept A provides evidence or support for Concept B", IsActive: true, CreatedAt: now},
		{Name: "CONTRADICTS", Description: "Concept A contradicts or conflicts with Concept B", IsActive: true, CreatedAt: now},
		{Name: "RELATES_TO", Description: "General relationship between concepts", IsActive: true, CreatedAt: now},
		{Name: "PART_OF", Description: "Concept A is a component or part of Concept B", IsActive: true, CreatedAt: now},
	}
}

// maxMergeChain bounds merged_into resolution so a corrupt vocabulary
// cannot loop forever.
const maxMergeChain = 16

// ResolveMerged follows merged_into pointers from name to an active type.
// It returns the resolved name and true, or "" and false when the type is
// unknown, inactive with no successor, or the chain is cyclic.
func ResolveMerged(types map[string]RelType, name string) (string, bool) {
	cur := name
	for i := 0; i < maxMergeChain; i++ {
		rt, ok := types[cur]
		if !ok {
			return "", false
		}
		if rt.IsActive {
			return cur, true
		}
		if rt.MergedInto == "" || rt.MergedInto == cur {
			return "", false
		}
		cur = rt.MergedInto
	}
	return "", false
}
