package token

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAmount_AddSub(t *testing.T) {
	a := NewAmount(500_000, 8)
	b := NewAmount(200_000, 8)

	assert.Equal(t, "700000", a.Add(b).UnitsString())

	diff, err := a.Sub(b)
	require.NoError(t, err)
	assert.Equal(t, "300000", diff.UnitsString())

	_, err = b.Sub(a)
	assert.ErrorIs(t, err, ErrNegativeAmount)
}

func TestAmount_DecimalsMismatchPanics(t *testing.T) {
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected panic")
		err, ok := r.(error)
		require.True(t, ok)
		assert.True(t, errors.Is(err, ErrDecimalsMismatch))
	}()

	NewAmount(1, 8).Add(NewAmount(1, 6))
}

func TestAmount_Immutable(t *testing.T) {
	a := NewAmount(10, 8)
	_ = a.Add(NewAmount(5, 8))
	_ = a.MulUint(3)
	assert.Equal(t, "10", a.UnitsString())
}

func TestAmount_ParseAndString(t *testing.T) {
	a, err := ParseAmount("0.01", 8)
	require.NoError(t, err)
	assert.Equal(t, "1000000", a.UnitsString())
	assert.Equal(t, "0.01", a.String())
}

func TestAmount_JSON(t *testing.T) {
	a := NewAmount(1_000_000, 8)
	data, err := json.Marshal(a)
	require.NoError(t, err)
	assert.JSONEq(t, `"1000000"`, string(data))

	var got Amount
	require.NoError(t, json.Unmarshal([]byte(`1000000`), &got))
	assert.True(t, got.WithDecimals(8).Equal(a))

	assert.Error(t, json.Unmarshal([]byte(`"-5"`), &got))
}

func TestFormatBps(t *testing.T) {
	assert.Equal(t, "25.00%", FormatBps(2500))
	assert.Equal(t, "0.01%", FormatBps(1))
	assert.Equal(t, "100.00%", FormatBps(10000))
	assert.Equal(t, "0.00%", FormatBps(0))
}
