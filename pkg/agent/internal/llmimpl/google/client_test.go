package google

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"lessonforge/pkg/agent/llm"
	"lessonforge/pkg/agent/llmerrors"
)

func TestConvertMessagesWithMedia(t *testing.T) {
	contents, system, err := convertMessages([]llm.CompletionMessage{
		llm.NewSystemMessage("review the frame"),
		llm.NewUserMessageWithMedia("scene 2", llm.Attachment{MIMEType: "video/mp4", Data: []byte{0, 1}}),
		llm.NewAssistantMessage("<LGTM>"),
	})
	require.NoError(t, err)
	assert.Equal(t, "review the frame", system)
	require.Len(t, contents, 2)

	assert.Equal(t, genai.RoleUser, contents[0].Role)
	require.Len(t, contents[0].Parts, 2)
	assert.Equal(t, "video/mp4", contents[0].Parts[0].InlineData.MIMEType)
	assert.Equal(t, "scene 2", contents[0].Parts[1].Text)
	assert.Equal(t, genai.RoleModel, contents[1].Role)
}

func TestConvertMessagesEmpty(t *testing.T) {
	_, _, err := convertMessages(nil)
	assert.Error(t, err)
	_, _, err = convertMessages([]llm.CompletionMessage{llm.NewSystemMessage("only system")})
	assert.Error(t, err)
}

func TestClassifyError(t *testing.T) {
	err := classifyError(genai.APIError{Code: 429, Message: "quota"})
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeRateLimit))

	err = classifyError(genai.APIError{Code: 503})
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeTransient))

	err = classifyError(errors.New("RESOURCE_EXHAUSTED: try later"))
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeRateLimit))
}
