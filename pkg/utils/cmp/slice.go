package cmp

// detect two slices have same elements in same order.
func SliceEq[T comparable](a []T, b []T) bool {
	return SliceEqWith(a, b, func(x T, y T) bool { return x == y })
}

// detect two slices are equal in the rule given with eq.
func SliceEqWith[T any, U any](a []T, b []U, eq func(T, U) bool) bool {
	if len(a) != len(b) {
		return false
	}
	for nth := range a {
		if !eq(a[nth], b[nth]) {
			return false
		}
	}
	return true
}

// detect two slices have same elements, ignoring order.
//
// When elements duplicate, it cares multiplicity.
func SliceContentEq[T comparable](a []T, b []T) bool {
	if len(a) != len(b) {
		return false
	}
	count := map[T]int{}
	for _, x := range a {
		count[x] += 1
	}
	for _, y := range b {
		count[y] -= 1
		if count[y] < 0 {
			return false
		}
	}
	return true
}
