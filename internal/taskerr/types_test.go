package taskerr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfClassification(t *testing.T) {
	cases := []struct {
		err  error
		kind Kind
	}{
		{NewValidation("path", "must be absolute"), KindValidation},
		{NewNotFound("artifact", "a-1"), KindNotFound},
		{&ExecutionError{TaskID: "root", Err: errors.New("boom")}, KindExecution},
		{&RegistryError{Path: "/tmp/x", Err: errors.New("merge")}, KindRegistry},
		{&CancelledError{TaskID: "root", Err: context.Canceled}, KindCancelled},
		{errors.New("opaque"), KindExecution},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.kind, KindOf(tc.err), tc.err.Error())
	}
}

func TestClassifiersSeeThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", NewValidation("name", "required"))
	assert.True(t, IsValidation(wrapped))
	assert.False(t, IsNotFound(wrapped))

	cancelled := fmt.Errorf("run: %w", &CancelledError{TaskID: "root.1", Err: context.Canceled})
	assert.True(t, IsCancelled(cancelled))
	assert.True(t, errors.Is(cancelled, context.Canceled))
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "validation failed for goal: goal is required",
		NewValidation("goal", "goal is required").Error())
	assert.Equal(t, `artifact "a-1" not found`, NewNotFound("artifact", "a-1").Error())
	assert.Contains(t, (&ExecutionError{TaskID: "root.2", Err: errors.New("timeout")}).Error(), "root.2")
}
