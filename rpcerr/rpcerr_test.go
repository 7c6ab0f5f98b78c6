package rpcerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	err := New(NotFound, "no record for id %d", 42)
	assert.Equal(t, NotFound, err.Kind)
	assert.Equal(t, "no record for id 42", err.Message)
	assert.Equal(t, "NotFound: no record for id 42", err.Error())
}

func TestWithStatusCode(t *testing.T) {
	err := New(Generic, "boom").WithStatusCode(500)
	require := assert.New(t)
	require.NotNil(err.StatusCode)
	require.Equal(500, *err.StatusCode)
}

func TestNewExecError(t *testing.T) {
	err := NewExecError(1, "stdout text", "stderr text")
	assert.Equal(t, ExecError, err.Kind)
	assert.Contains(t, err.Message, "Return code: 1")
	assert.Contains(t, err.Message, "stderr text")
	assert.Equal(t, 1, err.Exec.ReturnCode)
	assert.Equal(t, "stdout text", err.Exec.Stdout)
}

func TestFromError(t *testing.T) {
	assert.Nil(t, FromError(nil))

	plain := errors.New("plain failure")
	wrapped := FromError(plain)
	assert.Equal(t, Generic, wrapped.Kind)
	assert.Equal(t, "plain failure", wrapped.Message)

	already := New(Timeout, "timed out")
	assert.Same(t, already, FromError(already))
}

func TestIs(t *testing.T) {
	err := New(DBDeadlock, "retry")
	assert.True(t, Is(err, DBDeadlock))
	assert.False(t, Is(err, DBError))
	assert.False(t, Is(errors.New("not an rpcerr"), DBDeadlock))
}
