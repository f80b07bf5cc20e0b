package api

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const joinPrefix = "join_"

var ErrInvalidJoinPayload = errors.New("invalid join payload")

// JoinLink returns the deep link a buyer shares with the seller.
func (s *EscrowService) JoinLink(escrowId string) (string, error) {
	if s.botUsername == "" {
		return "", errors.New("bot username is not configured")
	}
	return fmt.Sprintf("https://t.me/%s?start=%s%s", strings.TrimPrefix(s.botUsername, "@"), joinPrefix, escrowId), nil
}

// ParseJoinPayload extracts the escrow id from a "/start join_<id>" payload.
func ParseJoinPayload(payload string) (string, error) {
	payload = strings.TrimSpace(payload)
	payload = strings.TrimPrefix(payload, "/start")
	payload = strings.TrimSpace(payload)

	id, ok := strings.CutPrefix(payload, joinPrefix)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidJoinPayload, payload)
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidJoinPayload, err)
	}
	return id, nil
}
