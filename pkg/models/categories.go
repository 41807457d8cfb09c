package models

import "time"

// DefaultCategoryNames are synthesized for every owner. They are never
// persisted; writing them on first read would race concurrent readers
// into duplicate seeds.
var DefaultCategoryNames = []string{"Business", "Education", "Personal", "Creative"}

// MergeDefaultCategories unions the synthesized defaults with the
// owner's persisted categories. Pure: the input slice is not modified
// and no default is emitted when a persisted category already carries
// its name (case-sensitive, matching creation-time uniqueness).
func MergeDefaultCategories(ownerID string, persisted []Category, now time.Time) []Category {
	existing := make(map[string]struct{}, len(persisted))
	for _, c := range persisted {
		existing[c.Name] = struct{}{}
	}
	merged := make([]Category, 0, len(DefaultCategoryNames)+len(persisted))
	for _, name := range DefaultCategoryNames {
		if _, ok := existing[name]; ok {
			continue
		}
		merged = append(merged, Category{
			ID:        "default-" + lowerASCII(name),
			OwnerID:   ownerID,
			Name:      name,
			CreatedAt: now,
			IsDefault: true,
		})
	}
	return append(merged, persisted...)
}

// IsDefaultCategoryName reports whether the name collides with a
// synthesized default (case-sensitive).
func IsDefaultCategoryName(name string) bool {
	for _, n := range DefaultCategoryNames {
		if n == name {
			return true
		}
	}
	return false
}

func lowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 'a' - 'A'
		}
	}
	return string(b)
}
