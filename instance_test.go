package espresso

import (
	"errors"
	"fmt"
)

// stubInstance is a minimal stateful object for tests: it stores its
// parameters and answers a few canned methods.
type stubInstance struct {
	params *VariantMap
	calls  []string
	closed bool
}

func newStubInstance() Instance {
	return &stubInstance{params: NewVariantMap()}
}

func (s *stubInstance) SetParameter(name string, value Variant) error {
	if name == "reject" {
		return fmt.Errorf("parameter '%s' is read-only", name)
	}
	s.params.Set(name, value)
	return nil
}

func (s *stubInstance) GetParameter(name string) (Variant, error) {
	v, ok := s.params.Get(name)
	if !ok {
		return nil, fmt.Errorf("no parameter '%s'", name)
	}
	return v, nil
}

func (s *stubInstance) CallMethod(name string, params *VariantMap) (Variant, error) {
	s.calls = append(s.calls, name)

	switch name {
	case "echo":
		v, _ := params.Get("value")
		if v == nil {
			return None{}, nil
		}
		return v, nil
	case "sum":
		var total int
		for _, key := range params.Keys() {
			v, _ := params.Get(key)
			if n, ok := v.(Int); ok {
				total += int(n)
			}
		}
		return Int(total), nil
	case "fail":
		return nil, errors.New("deliberate failure")
	default:
		return nil, fmt.Errorf("no method '%s'", name)
	}
}

func (s *stubInstance) Close() error {
	s.closed = true
	return nil
}
