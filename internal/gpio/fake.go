package gpio

import "errors"

// FakeReader is a test double that returns scripted line values.
type FakeReader struct {
	// Values contains scripted obstacle readings. Each call to Read consumes
	// the next one; the last is repeated once they run out.
	Values []bool

	index int

	// Reads counts calls to Read.
	Reads int

	// Closed tracks if Close was called.
	Closed bool

	// ReadError, if set, will be returned by Read.
	ReadError error
}

// NewFakeReader creates a FakeReader with the given values.
func NewFakeReader(values ...bool) *FakeReader {
	return &FakeReader{Values: values}
}

// Read returns the next scripted value.
func (f *FakeReader) Read() (bool, error) {
	f.Reads++
	if f.ReadError != nil {
		return false, f.ReadError
	}
	if len(f.Values) == 0 {
		return false, errors.New("no values configured")
	}
	v := f.Values[f.index]
	if f.index < len(f.Values)-1 {
		f.index++
	}
	return v, nil
}

// Close marks the reader as closed.
func (f *FakeReader) Close() error {
	f.Closed = true
	return nil
}
