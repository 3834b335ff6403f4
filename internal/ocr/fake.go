package ocr

import "context"

// FakeParser is a Parser test double returning a fixed result or error.
type FakeParser struct {
	Result *Result
	Err    error
	Calls  int
}

func (f *FakeParser) Parse(_ context.Context, _ []byte, _ string) (*Result, error) {
	f.Calls++
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Result, nil
}
