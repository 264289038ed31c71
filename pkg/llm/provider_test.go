package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserPrompt(t *testing.T) {
	req := UserPrompt("system", "question")
	assert.Equal(t, "system", req.SystemPrompt)
	assert.Equal(t, []Message{{Role: RoleUser, Content: "question"}}, req.Messages)
	assert.False(t, req.JSONMode)
}

func TestWithJSONInstruction(t *testing.T) {
	assert.Equal(t, jsonInstruction, WithJSONInstruction("  "))
	assert.Equal(t, "Bạn là bác sĩ.\n\n"+jsonInstruction, WithJSONInstruction("Bạn là bác sĩ.\n"))
}
