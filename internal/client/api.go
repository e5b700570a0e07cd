package client

import (
	"github.com/dkeye/peercall/internal/domain"
	"github.com/dkeye/peercall/internal/media"
)

// Attach publishes a local stream to every peer. Attaching an id that
// is already attached does nothing and returns false.
func (c *Client) Attach(stream media.LocalStream) bool {
	return c.media.Attach(stream)
}

// Detach stops publishing the stream with id.
func (c *Client) Detach(streamID string) bool {
	return c.media.Detach(streamID)
}

// SetEncryptionKey turns frame encryption on for a non-empty passphrase
// and off otherwise. The result is also reported as an event.
func (c *Client) SetEncryptionKey(passphrase string) bool {
	active := false
	if c.opts.Caps.Encryption && c.opts.Codec != nil {
		active = c.opts.Codec.SetKey(passphrase)
	}
	c.emit(Event{Type: EventEncryptionChanged, Active: active})
	return active
}

func (c *Client) SendChat(text string) error {
	if c.Self().ID == "" {
		return newOpError("chat", "", ErrNotJoined)
	}
	if err := c.sig.Send(domain.MessageTypeMessage, "", struct {
		Text string `json:"text"`
	}{Text: text}); err != nil {
		return newOpError("chat", "", err)
	}
	return nil
}

// HangUp leaves the room. Run returns once the server acknowledges, or
// at once when the transport is already gone.
func (c *Client) HangUp() error {
	err := c.sig.Send(domain.MessageTypeHangUp, "", nil)
	if err == nil {
		return nil
	}
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return newOpError("hangup", "", err)
}
