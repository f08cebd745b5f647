// Package staging implements the virtual staging store.
//
// The store is an in-memory, path-addressed set of files held outside any
// guest run. When a sandbox has staging mounted, every run sees a frozen,
// read-only snapshot of the store at /staging; guests cannot write to it.
//
// Usage:
//
//	store := staging.New()
//	if err := store.Write("data/input.txt", []byte("42")); err != nil {
//	    return err
//	}
//	data, err := store.Read("data/input.txt")
package staging
