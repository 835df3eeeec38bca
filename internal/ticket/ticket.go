package ticket

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// DefaultPrefix is prepended to every ticket number issued by this service.
const DefaultPrefix = "TCK"

// randomBytes is the size of the random ticket suffix. 12 bytes gives 96 bits
// of entropy, enough to rule out collisions under burst concurrent issuance.
const randomBytes = 12

var ErrEmptyPayload = errors.New("empty ticket payload")

// Ticket is an issued ticket number together with its QR payload.
type Ticket struct {
	Number    string
	QRPayload string
}

// QRPayload is the structured content encoded into a ticket QR code. Scanners
// may send it back verbatim, or send just the bare ticket number typed by
// hand; Parse accepts both.
type QRPayload struct {
	TicketNumber  string `json:"ticket_number"`
	EventID       string `json:"event_id"`
	ParticipantID string `json:"participant_id"`
}

// Issue generates a globally unique ticket number and its QR payload.
func Issue(prefix, eventID, participantID string) (Ticket, error) {
	suffix := make([]byte, randomBytes)
	if _, err := rand.Read(suffix); err != nil {
		return Ticket{}, fmt.Errorf("read random suffix: %w", err)
	}

	number := fmt.Sprintf("%s-%s-%s", prefix, shortID(eventID), strings.ToUpper(hex.EncodeToString(suffix)))

	payload, err := json.Marshal(QRPayload{
		TicketNumber:  number,
		EventID:       eventID,
		ParticipantID: participantID,
	})
	if err != nil {
		return Ticket{}, fmt.Errorf("encode qr payload: %w", err)
	}

	return Ticket{Number: number, QRPayload: string(payload)}, nil
}

// Parse extracts the ticket number from a scanned payload. A structured QR
// payload is decoded first; anything else is treated as a bare ticket number.
// The raw-string branch is a supported input path for manual entry, not an
// error fallback.
func Parse(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", ErrEmptyPayload
	}

	if strings.HasPrefix(trimmed, "{") {
		var payload QRPayload
		if err := json.Unmarshal([]byte(trimmed), &payload); err == nil && payload.TicketNumber != "" {
			return payload.TicketNumber, nil
		}
	}

	return trimmed, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
