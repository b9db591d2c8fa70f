package channel

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when no channel has the given token.
var ErrNotFound = errors.New("channel: not found")

// Channel is a storefront channel. Its token is the public identifier shops
// send and the processor echoes back in webhook metadata.
type Channel struct {
	ID              string `json:"id"`
	Code            string `json:"code"`
	Token           string `json:"token"`
	DefaultCurrency string `json:"defaultCurrency"`
}

// Store loads channels.
type Store interface {
	FindByToken(ctx context.Context, token string) (Channel, error)
}

// Service resolves channels from tokens.
type Service struct {
	Store Store
}

// FromToken returns the channel identified by token.
func (s *Service) FromToken(ctx context.Context, token string) (Channel, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Channel{}, ErrNotFound
	}
	if s == nil || s.Store == nil {
		return Channel{}, errors.New("channel: store not configured")
	}
	ch, err := s.Store.FindByToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Channel{}, err
		}
		return Channel{}, fmt.Errorf("channel: lookup token: %w", err)
	}
	return ch, nil
}

// PrefixKey namespaces a cache key per channel.
func PrefixKey(channelID, key string) string {
	if channelID == "" {
		return key
	}
	return channelID + ":" + key
}
