package datastructure

func SliceToSet[T comparable](ss []T) map[T]struct{} {
	sset := make(map[T]struct{}, len(ss))
	for _, s := range ss {
		sset[s] = struct{}{}
	}
	return sset
}

// Duplicates returns the values appearing more than once, in first-repeat order.
func Duplicates[T comparable](ss []T) []T {
	seen := make(map[T]int, len(ss))
	var ret []T
	for _, s := range ss {
		seen[s]++
		if seen[s] == 2 {
			ret = append(ret, s)
		}
	}
	return ret
}
