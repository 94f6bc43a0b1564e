package messaging

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// DecodeEntries reads a delivery log: a plain concatenation of JSON
// objects, not a JSON array.
func DecodeEntries(r io.Reader) ([]Entry, error) {
	var entries []Entry
	err := EachEntry(r, func(e Entry) error {
		entries = append(entries, e)
		return nil
	})
	return entries, err
}

// EachEntry streams entries from r to fn, stopping at the first error.
func EachEntry(r io.Reader, fn func(Entry) error) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	for n := 1; ; n++ {
		var e Entry
		err := dec.Decode(&e)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("entry %d: %w", n, err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
}
