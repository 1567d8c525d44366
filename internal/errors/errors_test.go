package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	err := New(CategoryState, SeverityWarning, "transition not allowed")
	assert.Equal(t, "state (warning): transition not allowed", err.Error())

	cause := fmt.Errorf("exit status 128")
	wrapped := Wrap(cause, CategoryVcs, SeverityError, "git operation failed")
	assert.Contains(t, wrapped.Error(), "exit status 128")
	assert.ErrorIs(t, wrapped, cause)
}

func TestCategoryHelpers(t *testing.T) {
	err := BackendUnavailable("vexor", errors.New("binary not found"))
	assert.True(t, IsCategory(err, CategoryBackend))
	assert.False(t, IsCategory(err, CategoryVcs))
	assert.Equal(t, CategoryBackend, GetCategory(err))

	// Plain errors default to internal.
	assert.Equal(t, CategoryInternal, GetCategory(errors.New("boom")))
}

func TestExitCodes(t *testing.T) {
	adapter := NewCLIErrorAdapter(false, nil)

	cases := []struct {
		name string
		err  error
		code int
	}{
		{"nil", nil, ExitSuccess},
		{"validation", Validation("total_tasks must be > 0"), ExitUserError},
		{"state", State("cannot approve plan in verifying"), ExitPrecondition},
		{"conflict", Conflict("proposal already decided"), ExitPrecondition},
		{"storage", StorageUnavailable(errors.New("locked")), ExitInternal},
		{"timeout", Timeout("git merge"), ExitInternal},
		{"plain", errors.New("boom"), ExitUserError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.code, adapter.ExitCodeFor(tc.err))
		})
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	adapter := NewHTTPErrorAdapter(nil)

	assert.Equal(t, 200, adapter.StatusCodeFor(nil))
	assert.Equal(t, 400, adapter.StatusCodeFor(Validation("bad")))
	assert.Equal(t, 404, adapter.StatusCodeFor(NotFound("proposal", "p-1")))
	assert.Equal(t, 409, adapter.StatusCodeFor(State("not in verifying")))
	assert.Equal(t, 503, adapter.StatusCodeFor(StorageUnavailable(errors.New("locked"))))
	assert.Equal(t, 504, adapter.StatusCodeFor(Timeout("search")))
	assert.Equal(t, 500, adapter.StatusCodeFor(errors.New("boom")))
}

func TestContextFields(t *testing.T) {
	err := NotFound("slug", "add-logging")
	require.NotNil(t, err.Context)
	assert.Equal(t, "add-logging", err.Context["id"])

	err = err.WithContext("phase", "planning")
	assert.Equal(t, "planning", err.Context["phase"])
}
