// File: api/errors_test.go
// Author: momentics <momentics@gmail.com>

package api_test

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-httpc/api"
)

func TestError_KindSentinels(t *testing.T) {
	tests := []struct {
		err  error
		want error
	}{
		{api.SetupError("init", io.EOF), api.ErrSetup},
		{api.ConfigurationError("bad url", nil), api.ErrConfiguration},
		{api.TransferError(7, "refused"), api.ErrTransfer},
		{api.SchedulingError("full"), api.ErrScheduling},
	}
	all := []error{api.ErrSetup, api.ErrConfiguration, api.ErrTransfer, api.ErrScheduling}
	for _, tt := range tests {
		for _, s := range all {
			assert.Equal(t, s == tt.want, errors.Is(tt.err, s), "%v is %v", tt.err, s)
		}
	}
}

func TestError_UnwrapAndContext(t *testing.T) {
	err := api.SetupError("event reactor", io.ErrClosedPipe).WithContext("fd", 3)
	assert.ErrorIs(t, err, io.ErrClosedPipe)
	assert.Equal(t, "setup: event reactor: io: read/write on closed pipe (context: map[fd:3])", err.Error())

	var target *api.Error
	wrapped := errors.Join(errors.New("outer"), api.TransferError(4, "refused"))
	require.ErrorAs(t, wrapped, &target)
	assert.Equal(t, api.KindTransfer, target.Kind)
	assert.Equal(t, 4, target.Code)
	assert.Equal(t, "transfer: refused", target.Error())
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "scheduling", api.KindScheduling.String())
	assert.Equal(t, "kind(99)", api.Kind(99).String())
	assert.False(t, errors.Is(api.NewError(api.Kind(99), "x"), api.ErrSetup))
}

func TestParseMethod(t *testing.T) {
	for _, m := range api.Methods {
		got, err := api.ParseMethod(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
		assert.True(t, m.Valid())
	}
	got, err := api.ParseMethod(" get ")
	require.NoError(t, err)
	assert.Equal(t, api.MethodGet, got)

	_, err = api.ParseMethod("PATCH")
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
	assert.False(t, api.Method(42).Valid())
	assert.Equal(t, "Method(42)", api.Method(42).String())
}
