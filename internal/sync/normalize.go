package sync

import (
	"errors"
	"strings"
	"time"

	"github.com/Martian-dev/watchlane/internal/model"
)

var errMalformed = errors.New("malformed message")

// NormalizedMessage is a provider message with its direction resolved.
type NormalizedMessage struct {
	ExternalID     string
	ConversationID string
	Subject        *string
	From           string
	To             []string
	Body           string
	Timestamp      time.Time
	Direction      model.Direction
}

// Normalize classifies a raw message as OUTBOUND when its sender is the account's own address
// (case-insensitive) and INBOUND otherwise. Messages missing an id, conversation id, sender or
// timestamp are rejected with a KindMalformed error.
func Normalize(raw RawMessage, accountAddress string) (NormalizedMessage, error) {
	from := strings.TrimSpace(raw.From)

	var missing []string
	if raw.ID == "" {
		missing = append(missing, "id")
	}
	if raw.ConversationID == "" {
		missing = append(missing, "conversation id")
	}
	if from == "" {
		missing = append(missing, "sender")
	}
	if raw.ReceivedAt.IsZero() {
		missing = append(missing, "timestamp")
	}
	if len(missing) > 0 {
		return NormalizedMessage{}, newError(KindMalformed, "", "normalize "+raw.ID,
			errors.Join(errMalformed, errors.New("missing "+strings.Join(missing, ", "))))
	}

	direction := model.DirectionInbound
	if strings.EqualFold(from, strings.TrimSpace(accountAddress)) {
		direction = model.DirectionOutbound
	}

	return NormalizedMessage{
		ExternalID:     raw.ID,
		ConversationID: raw.ConversationID,
		Subject:        raw.Subject,
		From:           from,
		To:             raw.To,
		Body:           raw.Body,
		Timestamp:      raw.ReceivedAt.UTC(),
		Direction:      direction,
	}, nil
}
