package result

import (
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
)

var errBoom = errors.New("boom")

func TestOkAndErr(t *testing.T) {
	ok := Ok(42)
	assert.True(t, ok.IsOk())
	v, err := ok.Unwrap()
	assert.NoError(t, err)
	assert.Equal(t, 42, v)

	bad := Err[int](errBoom)
	assert.False(t, bad.IsOk())
	_, err = bad.Unwrap()
	assert.ErrorIs(t, err, errBoom)
	assert.ErrorIs(t, bad.Err(), errBoom)
}

func TestWrap(t *testing.T) {
	assert.True(t, Wrap(7, nil).IsOk())
	assert.False(t, Wrap(0, errBoom).IsOk())
}

func TestUnwrapOr(t *testing.T) {
	assert.Equal(t, 42, Ok(42).UnwrapOr(-1))
	assert.Equal(t, -1, Err[int](errBoom).UnwrapOr(-1))
}

func TestMap(t *testing.T) {
	doubled := Map(Ok(21), func(v int) int { return v * 2 })
	assert.Equal(t, 42, doubled.UnwrapOr(0))

	// errors pass through untouched
	failed := Map(Err[int](errBoom), func(v int) int { return v * 2 })
	assert.ErrorIs(t, failed.Err(), errBoom)
}

func TestChain(t *testing.T) {
	parse := func(s string) Result[int] {
		return Wrap(strconv.Atoi(s))
	}

	assert.Equal(t, 42, Chain(Ok("42"), parse).UnwrapOr(0))
	assert.False(t, Chain(Ok("not a number"), parse).IsOk())
	assert.ErrorIs(t, Chain(Err[string](errBoom), parse).Err(), errBoom)
}

func TestMapChangesType(t *testing.T) {
	formatted := Map(Ok(42), strconv.Itoa)
	assert.Equal(t, "42", formatted.UnwrapOr(""))
}
