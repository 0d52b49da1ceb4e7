package errors

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUsesRegisteredMessage(t *testing.T) {
	err := New(CodeUpstreamDependencyFailed, "")
	assert.Equal(t, "UpstreamDependencyFailed", err.Message())
	assert.Equal(t, "UPSTREAM_DEPENDENCY_FAILED: UpstreamDependencyFailed", err.Error())
}

func TestWrapKeepsCause(t *testing.T) {
	err := Wrap(CodeTimeout, context.DeadlineExceeded, "tool web_fetch timed out")
	assert.True(t, Is(err, context.DeadlineExceeded))
	assert.Equal(t, CodeTimeout, CodeOf(err))

	wrapped := fmt.Errorf("dispatch: %w", err)
	assert.Equal(t, CodeTimeout, CodeOf(wrapped))
	assert.True(t, Is(wrapped, New(CodeTimeout, "other message")))
}

func TestCodeOfPlainError(t *testing.T) {
	assert.Equal(t, CodeUnknown, CodeOf(fmt.Errorf("boom")))
	assert.Equal(t, Code(""), CodeOf(nil))
}

func TestIsFatal(t *testing.T) {
	cases := map[Code]bool{
		CodeConfiguration:            true,
		CodeClassification:           true,
		CodePlanning:                 true,
		CodeCyclicPlan:               true,
		CodeUnresolvedTool:           true,
		CodeStorageFailure:           true,
		CodeToolFailure:              false,
		CodeTimeout:                  false,
		CodeUpstreamDependencyFailed: false,
		CodeMemoryUnavailable:        false,
		CodeValidation:               false,
	}
	for code, fatal := range cases {
		assert.Equal(t, fatal, IsFatal(New(code, "")), code)
	}
	assert.True(t, IsFatal(fmt.Errorf("unclassified")))
	assert.False(t, IsFatal(nil))
}

func TestRegisterOverrides(t *testing.T) {
	code := Code("TEST_ONLY")
	Register(code, Attributes{Message: "test only", Retryable: true})
	attr := AttributesOf(code)
	assert.Equal(t, "test only", attr.Message)
	assert.True(t, attr.Retryable)
	assert.False(t, attr.Fatal)
}

func TestMetadataIsCopied(t *testing.T) {
	err := New(CodeToolFailure, "", WithMetadata("tool", "answer"))
	md := err.Metadata()
	md["tool"] = "changed"

	e, ok := From(err)
	require.True(t, ok)
	assert.Equal(t, "answer", e.Metadata()["tool"])
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "", Describe(nil))
	assert.Equal(t, "boom", Describe(fmt.Errorf("boom")))
	assert.Equal(t, "UpstreamDependencyFailed", Describe(New(CodeUpstreamDependencyFailed, "")))
	assert.Equal(t, "tool web_search failed: down",
		Describe(fmt.Errorf("run: %w", Wrap(CodeToolFailure, fmt.Errorf("down"), "tool web_search failed"))))
}
