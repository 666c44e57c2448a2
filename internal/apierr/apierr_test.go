package apierr

import (
	"errors"
	"net/http"
	"testing"
)

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		err  *Error
		want int
	}{
		{Validationf("bad"), http.StatusUnprocessableEntity},
		{Formatf("too big"), http.StatusBadRequest},
		{Authentication(), http.StatusUnauthorized},
		{Authorizationf("nope"), http.StatusForbidden},
		{NotFoundf("missing"), http.StatusNotFound},
		{Gonef("deleted"), http.StatusGone},
		{Conflictf("taken"), http.StatusConflict},
		{Internal(errors.New("boom")), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := c.err.Status(); got != c.want {
			t.Errorf("%v.Status() = %d, want %d", c.err.Code, got, c.want)
		}
	}
}

func TestAs_WrapsUnknownErrors(t *testing.T) {
	plain := errors.New("oops")
	got := As(plain)
	if got.Status() != http.StatusInternalServerError {
		t.Errorf("As(plain).Status() = %d, want 500", got.Status())
	}
}

func TestAs_PassesThroughTypedErrors(t *testing.T) {
	typed := Conflictf("alias taken")
	wrapped := errors.New("context: " + typed.Error())
	_ = wrapped
	got := As(typed)
	if got.Code != CodeConflict {
		t.Errorf("As(typed).Code = %v, want CodeConflict", got.Code)
	}
}
