package errors_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/featurebasedb/boxes/errors"
	"github.com/stretchr/testify/assert"
)

func TestErrors(t *testing.T) {
	t.Run("Is", func(t *testing.T) {
		uncoded := errors.New(errors.ErrUncoded, "uncoded error")
		bad := newErrBadID(-1)
		missing := newErrMissing("checked")
		badCustom := errors.New(errBadID, "custom message")

		tests := []struct {
			err    error
			target errors.Code
			exp    bool
		}{
			{err: uncoded, target: errors.ErrUncoded, exp: true},
			{err: uncoded, target: errBadID, exp: false},
			{err: bad, target: errBadID, exp: true},
			{err: bad, target: errMissing, exp: false},
			{err: errors.Wrap(missing, "with message"), target: errMissing, exp: true},
			{err: badCustom, target: errBadID, exp: true},
			{err: fmt.Errorf("plain"), target: errBadID, exp: false},
		}

		for i, test := range tests {
			t.Run(fmt.Sprintf("test-%d", i), func(t *testing.T) {
				assert.Equal(t, test.exp, errors.Is(test.err, test.target))
			})
		}
	})

	t.Run("CodeOf", func(t *testing.T) {
		assert.Equal(t, errBadID, errors.CodeOf(errors.Wrap(newErrBadID(600), "routing")))
		assert.Equal(t, errors.Code(""), errors.CodeOf(fmt.Errorf("plain")))
	})

	t.Run("JSONRoundTrip", func(t *testing.T) {
		err := errors.Wrap(newErrBadID(512), "set")
		s := errors.MarshalJSON(err)

		back := errors.UnmarshalJSON(strings.NewReader(s))
		assert.True(t, errors.Is(back, errBadID))
		assert.Equal(t, err.Error(), back.Error())
	})

	t.Run("UnmarshalPlainText", func(t *testing.T) {
		back := errors.UnmarshalJSON(strings.NewReader("gateway timeout"))
		assert.Equal(t, "gateway timeout", back.Error())
		assert.Equal(t, errors.Code(""), errors.CodeOf(back))
	})
}

const (
	errBadID   errors.Code = "BadID"
	errMissing errors.Code = "Missing"
)

func newErrBadID(id int) error {
	return errors.Newf(errBadID, "id %d outside of range", id)
}

func newErrMissing(field string) error {
	return errors.New(errMissing, "missing "+field)
}
