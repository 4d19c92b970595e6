package calls

import "github.com/google/uuid"

// NewConversationID returns "<direction>_<uuid>".
func NewConversationID(d Direction) string {
	return string(d) + "_" + uuid.NewString()
}
