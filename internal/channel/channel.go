// Package channel keeps the chat channel catalogue in the shared
// store. A channel is metadata plus a backing chat stream; membership
// lives on the stream and on each session.
package channel

import (
	"context"
	"fmt"
	"strings"

	"github.com/shirokane/gobancho/internal/kv"
	"github.com/shirokane/gobancho/internal/stream"
)

// Channel is one chat channel's metadata.
type Channel struct {
	Name        string
	Description string
	PublicRead  bool
	PublicWrite bool

	// Instance channels are one-offs bound to a spectator host or a
	// match, deleted when the last member leaves.
	Instance bool
}

// Streams is the slice of the stream registry the catalogue drives.
type Streams interface {
	Add(ctx context.Context, name string) error
	Remove(ctx context.Context, name string) error
}

const channelsSetKey = "bancho:channels"

func channelKey(name string) string {
	return "bancho:channels:" + name
}

// Registry owns the channel catalogue.
type Registry struct {
	store   kv.KV
	streams Streams
}

// New builds a Registry.
func New(store kv.KV, streams Streams) *Registry {
	return &Registry{store: store, streams: streams}
}

// Add creates the channel and its backing stream. Re-adding an
// existing channel refreshes its metadata.
func (r *Registry) Add(ctx context.Context, c Channel) error {
	if err := r.store.HSet(ctx, channelKey(c.Name), map[string]string{
		"description":  c.Description,
		"public_read":  flag(c.PublicRead),
		"public_write": flag(c.PublicWrite),
		"instance":     flag(c.Instance),
	}); err != nil {
		return fmt.Errorf("storing channel %s: %w", c.Name, err)
	}
	if err := r.store.SAdd(ctx, channelsSetKey, c.Name); err != nil {
		return fmt.Errorf("registering channel %s: %w", c.Name, err)
	}
	if err := r.streams.Add(ctx, stream.Chat(c.Name)); err != nil {
		return fmt.Errorf("adding channel stream: %w", err)
	}
	return nil
}

// Get returns the channel, or nil when it does not exist.
func (r *Registry) Get(ctx context.Context, name string) (*Channel, error) {
	fields, err := r.store.HGetAll(ctx, channelKey(name))
	if err != nil {
		return nil, fmt.Errorf("reading channel %s: %w", name, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return &Channel{
		Name:        name,
		Description: fields["description"],
		PublicRead:  fields["public_read"] == "1",
		PublicWrite: fields["public_write"] == "1",
		Instance:    fields["instance"] == "1",
	}, nil
}

// Remove drops the channel and its backing stream.
func (r *Registry) Remove(ctx context.Context, name string) error {
	if err := r.store.SRem(ctx, channelsSetKey, name); err != nil {
		return fmt.Errorf("unregistering channel %s: %w", name, err)
	}
	if err := r.store.Del(ctx, channelKey(name)); err != nil {
		return fmt.Errorf("deleting channel %s: %w", name, err)
	}
	if err := r.streams.Remove(ctx, stream.Chat(name)); err != nil {
		return fmt.Errorf("removing channel stream: %w", err)
	}
	return nil
}

// All returns every channel in the catalogue.
func (r *Registry) All(ctx context.Context) ([]*Channel, error) {
	names, err := r.store.SMembers(ctx, channelsSetKey)
	if err != nil {
		return nil, fmt.Errorf("listing channels: %w", err)
	}
	channels := make([]*Channel, 0, len(names))
	for _, name := range names {
		c, err := r.Get(ctx, name)
		if err != nil {
			return nil, err
		}
		if c == nil {
			continue
		}
		channels = append(channels, c)
	}
	return channels, nil
}

// ClientName maps an internal channel name to the name the client
// displays. Spectator and multiplayer instance channels all appear to
// the client under one fixed alias.
func ClientName(name string) string {
	switch {
	case strings.HasPrefix(name, "#spect_"):
		return "#spectator"
	case strings.HasPrefix(name, "#multi_"):
		return "#multiplayer"
	default:
		return name
	}
}

// SpectatorChannel returns the instance channel name for a host.
func SpectatorChannel(hostUserID int32) string {
	return fmt.Sprintf("#spect_%d", hostUserID)
}

// MatchChannel returns the instance channel name for a match.
func MatchChannel(matchID int32) string {
	return fmt.Sprintf("#multi_%d", matchID)
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
