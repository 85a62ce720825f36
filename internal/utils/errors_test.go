package utils

import (
	"errors"
	"io"
	"testing"
)

func TestErrorNew(t *testing.T) {
	err := newError("Something bad happened")
	t.Logf("err -> %v", err)
	if !errors.Is(err, Error) {
		t.Error("Oops, err is not utils.Error")
	}
	_, ok := err.(RaisedErr)
	if !ok {
		t.Error("Oops, can not cast err to RaisedErr")
	}
}

func TestErrorWrap(t *testing.T) {
	err := wrapError(io.EOF, "io operation failed unexpectedly")
	t.Logf("err -> %v", err)
	if !errors.Is(err, Error) {
		t.Error("Oops, err is not utils.Error")
	}
	if !errors.Is(err, io.EOF) {
		t.Error("Oops, err is not an io.EOF")
	}
	_, ok := err.(RaisedErr)
	if !ok {
		t.Error("Oops, can not cast err to RaisedErr")
	}
}

func TestErrorWrapNil(t *testing.T) {
	err := wrapError(nil, "shall stay nil")
	if nil != err {
		t.Errorf("wrapError(nil, ...) returned non nil error %v", err)
	}
}

func TestErrorFormatArgs(t *testing.T) {
	errs := []error{
		newError("reached limit temperature %d", 123),
		wrapError(io.EOF, "can not read from %s", "missing.txt"),
	}
	for pos, err := range errs {
		t.Logf("#%d: err -> %v", pos, err)
		if !errors.Is(err, Error) {
			t.Errorf("#%d: err is not utils.Error", pos)
		}
		_, ok := err.(RaisedErr)
		if !ok {
			t.Errorf("#%d: can not cast err to RaisedErr", pos)
		}
	}
	if !errors.Is(errs[1], io.EOF) {
		t.Error("Oops, err is not an io.EOF")
	}
}
