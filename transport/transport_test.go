package transport

import (
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddressBytesSwap(t *testing.T) {
	b, err := AddressBytes(0x1234, 16, true)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x34, 0x12}, b)

	b, err = AddressBytes(0x1234, 16, false)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x12, 0x34}, b)

	b, err = AddressBytes(0xA1, 8, true)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xA1}, b)
}

func TestAddressBytesRange(t *testing.T) {
	_, err := AddressBytes(0x100, 8, false)
	assert.Error(t, err)

	_, err = AddressBytes(0x10000, 16, false)
	assert.Error(t, err)

	_, err = AddressBytes(0, 24, false)
	assert.True(t, errors.IsNotSupported(err))
}

func TestRegisterBytes(t *testing.T) {
	assert.Equal(t, 1, RegisterBytes(8))
	assert.Equal(t, 2, RegisterBytes(10))
	assert.Equal(t, 2, RegisterBytes(16))
	assert.Equal(t, 1, RegisterBytes(0))
}
