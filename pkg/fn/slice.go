package fn

func Map[T, U any](items []T, f func(T) U) []U {
	out := make([]U, len(items))
	for i, v := range items {
		out[i] = f(v)
	}
	return out
}

// Filter returns elements where pred is true. The result is never nil.
func Filter[T any](items []T, pred func(T) bool) []T {
	out := []T{}
	for _, v := range items {
		if pred(v) {
			out = append(out, v)
		}
	}
	return out
}

func Reduce[T, Acc any](items []T, init Acc, f func(Acc, T) Acc) Acc {
	acc := init
	for _, v := range items {
		acc = f(acc, v)
	}
	return acc
}

// Chunk splits items into consecutive slices of at most n. Returns nil if n <= 0.
func Chunk[T any](items []T, n int) [][]T {
	if n <= 0 {
		return nil
	}
	var out [][]T
	for i := 0; i < len(items); i += n {
		out = append(out, items[i:min(i+n, len(items))])
	}
	return out
}
