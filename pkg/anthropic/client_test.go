package anthropic

import (
	"errors"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromSDKMessage(t *testing.T) {
	msg := &sdk.Message{
		ID:         "msg_1",
		Model:      sdk.Model("claude-haiku-4-5-20251001"),
		StopReason: sdk.StopReason("end_turn"),
		Content: []sdk.ContentBlockUnion{
			{Type: "text", Text: "Hello "},
			{Type: "text", Text: "there"},
		},
		Usage: sdk.Usage{InputTokens: 12, OutputTokens: 4, CacheReadInputTokens: 900},
	}

	resp := fromSDKMessage(msg)
	assert.Equal(t, "msg_1", resp.ID)
	assert.Equal(t, "claude-haiku-4-5-20251001", resp.Model)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, "Hello there", resp.Text())
	assert.Equal(t, int64(12), resp.Usage.InputTokens)
	assert.Equal(t, int64(900), resp.Usage.CacheReadInputTokens)
}

func TestMessageResponse_TextSkipsNonText(t *testing.T) {
	resp := &MessageResponse{Content: []ContentBlock{
		{Type: "thinking", Text: "hmm"},
		{Type: "text", Text: "answer"},
	}}
	assert.Equal(t, "answer", resp.Text())
	assert.Empty(t, (&MessageResponse{}).Text())
}

func TestToSDKMessages(t *testing.T) {
	out := toSDKMessages([]Message{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
		{Role: "system", Content: "coerced"},
	})
	require.Len(t, out, 3)
	assert.Equal(t, sdk.MessageParamRoleUser, out[0].Role)
	assert.Equal(t, sdk.MessageParamRoleAssistant, out[1].Role)
	assert.Equal(t, sdk.MessageParamRoleUser, out[2].Role)
	assert.Empty(t, toSDKMessages(nil))
}

func TestToSDKSystemBlocks(t *testing.T) {
	out := toSDKSystemBlocks(BuildSystemBlocks("persona", "now: 10:00"))
	require.Len(t, out, 2)
	assert.Equal(t, "persona", out[0].Text)
	assert.Equal(t, sdk.CacheControlEphemeralTTL("5m"), out[0].CacheControl.TTL)
	assert.Equal(t, "now: 10:00", out[1].Text)
}

func TestBuildSystemBlocks_NoDynamic(t *testing.T) {
	blocks := BuildSystemBlocks("persona", "")
	require.Len(t, blocks, 1)
	require.NotNil(t, blocks[0].CacheControl)
	assert.Equal(t, "5m", blocks[0].CacheControl.TTL)
}

func TestStatusCode_NonAPIError(t *testing.T) {
	assert.Equal(t, 0, StatusCode(errors.New("dial tcp: refused")))
	assert.Equal(t, 0, StatusCode(nil))
}
