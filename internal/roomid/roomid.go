// Package roomid derives the canonical identifier shared by the two
// participants of a direct conversation.
package roomid

import "sort"

// Separator joins the two sorted participant ids.
const Separator = "-"

// Canonical sorts a and b lexicographically and joins them, so
// Canonical(a, b) == Canonical(b, a).
func Canonical(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return ids[0] + Separator + ids[1]
}
