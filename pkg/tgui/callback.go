package tgui

import (
	"errors"
	"strings"
)

// MaxCallbackDataLen is Telegram's callback_data size limit in bytes.
const MaxCallbackDataLen = 64

var ErrCallbackDataTooLong = errors.New("tgui: callback_data too long")

// Data formats inline callback data as "action:payload". Payload is
// kept as-is (no escaping), so payloads must not contain ':'.
func Data(action, payload string) string {
	action = strings.TrimSpace(action)
	if payload == "" {
		return action
	}
	return action + ":" + payload
}

// Split parses "action:payload" callback data. A missing payload yields
// an empty string.
func Split(data string) (action, payload string) {
	action, payload, _ = strings.Cut(strings.TrimSpace(data), ":")
	return action, payload
}
