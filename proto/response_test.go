package proto

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageResponse_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name          string
		body          string
		expected      StageResponse
		errorContains string
	}{
		{
			name:     "retry without next",
			body:     `{"msg":"Invalid password, please try again.","success":0}`,
			expected: StageResponse{Success: 0, Next: NextAbsent(), Message: "Invalid password, please try again."},
		},
		{
			name:     "empty object",
			body:     `{}`,
			expected: StageResponse{Next: NextAbsent()},
		},
		{
			name: "first stage with session id",
			body: `{"msg":"Login sequence initialized.","session_id":"S1","next":"password","success":1}`,
			expected: StageResponse{
				Success:   1,
				Next:      NextStage(Stage_Password),
				SessionID: "S1",
				Message:   "Login sequence initialized.",
			},
		},
		{
			name: "final stage",
			body: `{"msg":"Face recognition validated.","next":null,"auth_session_id":"A1","success":1}`,
			expected: StageResponse{
				Success:       1,
				Next:          NextNull(),
				AuthSessionID: "A1",
				Message:       "Face recognition validated.",
			},
		},
		{
			name:     "null auth session id on intermediate stage",
			body:     `{"next":"motion_pattern","auth_session_id":null,"success":1}`,
			expected: StageResponse{Success: 1, Next: NextStage(Stage_MotionPattern)},
		},
		{
			name:     "unknown stage kept verbatim",
			body:     `{"next":"voice_print","success":1}`,
			expected: StageResponse{Success: 1, Next: NextStage("voice_print")},
		},
		{
			name:     "boolean success",
			body:     `{"next":"password","success":true}`,
			expected: StageResponse{Success: 1, Next: NextStage(Stage_Password)},
		},
		{
			name:          "not an object",
			body:          `["next"]`,
			errorContains: "decode response object",
		},
		{
			name:          "null body",
			body:          `null`,
			errorContains: "response body is null",
		},
		{
			name:          "next is not a string",
			body:          `{"next":3,"success":1}`,
			errorContains: "decode next",
		},
		{
			name:          "success is not a number",
			body:          `{"success":"yes"}`,
			errorContains: "decode success",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var res StageResponse
			err := json.Unmarshal([]byte(tt.body), &res)
			if tt.errorContains != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorContains)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, res)
		})
	}
}

func TestStageResponse_MarshalJSON_PreservesNextPresence(t *testing.T) {
	b, err := json.Marshal(StageResponse{Success: 0, Message: "try again"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":0,"msg":"try again"}`, string(b))

	b, err = json.Marshal(StageResponse{Success: 1, Next: NextNull(), AuthSessionID: "A1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":1,"next":null,"auth_session_id":"A1"}`, string(b))
}

func TestStageRequest_MarshalJSON(t *testing.T) {
	t.Run("first submission omits session", func(t *testing.T) {
		b, err := json.Marshal(&StageRequest{Stage: Stage_Email, Data: TextPayload("name@domain.com")})
		require.NoError(t, err)
		assert.JSONEq(t, `{"data":"name@domain.com"}`, string(b))
	})

	t.Run("motion pattern with device", func(t *testing.T) {
		b, err := json.Marshal(&StageRequest{
			Stage:     Stage_MotionPattern,
			Data:      MovesPayload([]string{"up", "left"}),
			SessionID: "S1",
			DeviceID:  "pico-1",
		})
		require.NoError(t, err)
		assert.JSONEq(t, `{"data":["up","left"],"session_id":"S1","pico_id":"pico-1"}`, string(b))
	})

	t.Run("image is base64", func(t *testing.T) {
		b, err := json.Marshal(&StageRequest{Stage: Stage_FaceRecognition, Data: ImagePayload([]byte{0xff, 0xd8, 0xff}), SessionID: "S1"})
		require.NoError(t, err)
		assert.JSONEq(t, `{"data":"/9j/","session_id":"S1"}`, string(b))
	})
}

func TestImagePayload_Copies(t *testing.T) {
	src := []byte{1, 2, 3}
	p := ImagePayload(src)
	src[0] = 9

	img := p.Image()
	assert.Equal(t, []byte{1, 2, 3}, img)

	img[1] = 9
	assert.Equal(t, []byte{1, 2, 3}, p.Image())
	assert.Equal(t, PayloadKind_Image, p.Kind())
}
