package generic

// MapValuesFunc applies f to every value of the map and returns the results in
// unspecified order.
func MapValuesFunc[K comparable, V, R any](m map[K]V, f func(V) R) []R {
	values := make([]R, 0, len(m))

	for _, v := range m {
		values = append(values, f(v))
	}

	return values
}
