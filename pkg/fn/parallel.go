package fn

import "sync"

// ParMapResult applies f with at most workers goroutines in flight and
// returns the results in input order. workers <= 0 means one per item.
func ParMapResult[T, U any](items []T, workers int, f func(T) Result[U]) []Result[U] {
	out := make([]Result[U], len(items))
	if len(items) == 0 {
		return out
	}
	if workers <= 0 {
		workers = len(items)
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, workers)
	for i, v := range items {
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer func() { <-sem; wg.Done() }()
			out[i] = f(v)
		}()
	}
	wg.Wait()
	return out
}
