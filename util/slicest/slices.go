package slicest

// Map applies fn to every element of s and returns the results.
func Map[T, U any, S ~[]T](s S, fn func(T) U) []U {
	result := make([]U, len(s))
	for i, t := range s {
		result[i] = fn(t)
	}
	return result
}

// MapX applies fn to every element of s, stopping on the first error.
func MapX[T, U any, S ~[]T](s S, fn func(T) (U, error)) ([]U, error) {
	result := make([]U, len(s))
	for i, t := range s {
		out, err := fn(t)
		if err != nil {
			return nil, err
		}
		result[i] = out
	}
	return result, nil
}

// Reversed returns a new slice with the elements of s in opposite order.
// The input is not modified.
func Reversed[T any, S ~[]T](s S) S {
	result := make(S, len(s))
	for i, t := range s {
		result[len(s)-1-i] = t
	}
	return result
}

// Filter returns the elements of s for which fn reports true.
func Filter[T any, S ~[]T](s S, fn func(T) bool) S {
	var result S
	for _, t := range s {
		if fn(t) {
			result = append(result, t)
		}
	}
	return result
}
