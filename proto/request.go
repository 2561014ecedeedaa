package proto

type StageRequest struct {
	Stage     Stage   `json:"-"`
	Data      Payload `json:"data"`
	SessionID string  `json:"session_id,omitempty"`
	DeviceID  string  `json:"pico_id,omitempty"`
}
