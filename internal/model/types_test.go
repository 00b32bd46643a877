package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestProbeOutcome covers the success and failure constructors and the
// conversion of a failed outcome into a wrapped error.
func TestProbeOutcome(t *testing.T) {
	ok := Success(9001, 0)
	assert.True(t, ok.Succeeded())
	assert.NoError(t, ok.AsError())

	cause := errors.New("i/o timeout")
	failed := Failure(9000, ReasonTimeout, cause)
	assert.False(t, failed.Succeeded())

	err := failed.AsError()
	require.Error(t, err)
	assert.Equal(t, "probe port 9000: timeout: i/o timeout", err.Error())
	assert.True(t, errors.Is(err, cause), "ProbeError should unwrap to the cause")

	var probeErr *ProbeError
	require.True(t, errors.As(err, &probeErr))
	assert.Equal(t, uint16(9000), probeErr.Port)
	assert.Equal(t, ReasonTimeout, probeErr.Reason)
}

// TestResult_Succeeded checks the derived success count.
func TestResult_Succeeded(t *testing.T) {
	r := &Result{Probed: 3, Failed: []uint16{9000, 9002}}
	assert.Equal(t, 1, r.Succeeded())
}

// TestCLIError_Error verifies the error message format with and without
// an underlying error.
func TestCLIError_Error(t *testing.T) {
	err := NewCLIError(ExitError, "bind failed")
	assert.Equal(t, "bind failed", err.Error())
	assert.Nil(t, err.Unwrap())

	underlying := errors.New("address already in use")
	wrapped := WrapCLIError(ExitError, "bind failed", underlying)
	assert.Equal(t, "bind failed: address already in use", wrapped.Error())
	assert.Equal(t, underlying, wrapped.Unwrap())
}

// TestCLIError_ErrorsAs verifies that CLIError works with errors.As for
// exit code extraction in the CLI layer.
func TestCLIError_ErrorsAs(t *testing.T) {
	var err error = WrapCLIError(ExitError, "invalid flag", errors.New("bad port"))

	var cliErr *CLIError
	require.True(t, errors.As(err, &cliErr))
	assert.Equal(t, ExitError, cliErr.Code)
	assert.Equal(t, ExitCode(100), cliErr.Code)
}
