// Package transport provides message serialization support for the authenticator core
// and the reference OOB gateway wire.
package transport

// Serializer is an interface that provides methods to Marshal/Unmarshal messages.
type Serializer interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Checker is an interface that provides a method Check to validate messages.
type Checker interface {
	Check() error
}

// A SafeSerializer wraps a Serializer ensuring that marshaled/unmarshaled messages are
// validated whenever they expose a Check method.
type SafeSerializer struct {
	Serializer
}

// WrapInSafeSerializer returns a SafeSerializer wrapping s.
func WrapInSafeSerializer(s Serializer) SafeSerializer {
	if c, isSafeSerializer := s.(SafeSerializer); isSafeSerializer {
		return c
	}

	return SafeSerializer{Serializer: s}

}

// Marshal performs 2 operations to deliver a serialized v.
// 1. If v has a Check method, Marshal calls it and errors in case it returns a non empty error.
// 2. It marshals v using the wrapped Serializer and errors in case it fails.
func (self SafeSerializer) Marshal(v any) (srzmsg []byte, err error) {

	// optionally validate v
	if c, validate := v.(Checker); validate {
		err = c.Check()
		if nil != err {
			return nil, wrapError(ErrValidation, "invalid, Check returned %v", err)
		}
	}

	// performs actual serialization
	srzmsg, err = self.Serializer.Marshal(v)
	if nil != err {
		return nil, wrapError(ErrSerialization, "failed marshalling msg, got error %v", err)
	}

	return srzmsg, nil
}

// Unmarshal performs 2 operations to deliver v.
// 1. It unmarshals data in v using the wrapped Serializer and errors in case it fails.
// 2. If v has a Check method, it calls it and errors in case it returns a non empty error.
func (self SafeSerializer) Unmarshal(data []byte, v any) error {
	var err error

	// performs actual deserialization
	err = self.Serializer.Unmarshal(data, v)
	if nil != err {
		return wrapError(ErrSerialization, "failed unmarshaling message, got error %v", err)
	}

	// optionally validate v
	if c, checkable := v.(Checker); checkable {
		err = c.Check()
		if nil != err {
			return wrapError(ErrValidation, "invalid, Check returned %v", err)
		}
	}

	return nil
}

var _ Serializer = SafeSerializer{}
