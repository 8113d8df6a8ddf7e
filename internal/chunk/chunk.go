// Package chunk splits slices into fixed-size batches.
package chunk

// Split returns consecutive sub-slices of items holding at most size elements each.
// The sub-slices share items' backing array. size < 1 is treated as 1.
func Split[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if size < 1 {
		size = 1
	}
	batches := make([][]T, 0, Count(len(items), size))
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		batches = append(batches, items[start:end:end])
	}
	return batches
}

// Count returns how many batches of size n items produce.
func Count(n, size int) int {
	if n <= 0 {
		return 0
	}
	if size < 1 {
		size = 1
	}
	return (n + size - 1) / size
}
