package llm

import "context"

// FakeProvider is a Provider test double.
type FakeProvider struct {
	ProviderName string
	Responses    []string // successive Complete() calls pop from the front
	Usage        Usage
	Model        string
	Err          error
	Calls        int
}

func (f *FakeProvider) Name() string {
	if f.ProviderName != "" {
		return f.ProviderName
	}
	return "fake"
}

func (f *FakeProvider) Complete(_ context.Context, _, _ string) (string, Usage, string, error) {
	f.Calls++
	if f.Err != nil {
		return "", Usage{}, "", f.Err
	}
	if len(f.Responses) == 0 {
		return "", f.Usage, f.Model, nil
	}
	text := f.Responses[0]
	if len(f.Responses) > 1 {
		f.Responses = f.Responses[1:]
	}
	return text, f.Usage, f.Model, nil
}
