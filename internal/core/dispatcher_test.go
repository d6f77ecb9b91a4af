package core

import (
	"context"
	"errors"
	"testing"

	"github.com/keepmind9/chatlink/internal/bot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_FanOutIsolatesHandlers(t *testing.T) {
	d := NewDispatcher(nil)
	platform := newMockPlatform("telegram")

	var seen []string
	d.Use("failing", func(context.Context, bot.Platform, bot.Event) error {
		return errors.New("always fails")
	})
	d.Use("panicking", func(context.Context, bot.Platform, bot.Event) error {
		panic("boom")
	})
	d.Use("recording", func(_ context.Context, p bot.Platform, ev bot.Event) error {
		seen = append(seen, p.Name()+":"+ev.(*bot.Message).Text)
		return nil
	})
	require.Equal(t, 3, d.Len())

	dispatch := d.For(platform)
	for _, text := range []string{"a", "b", "c"} {
		require.NoError(t, dispatch(context.Background(), message("telegram", "1", text)))
	}

	assert.Equal(t, []string{"telegram:a", "telegram:b", "telegram:c"}, seen)
}

func TestDispatcher_Whitelist(t *testing.T) {
	config := &Config{Security: SecurityConfig{
		WhitelistEnabled: true,
		AllowedUsers:     map[string][]string{"vk": {"5"}},
	}}
	d := NewDispatcher(config)

	var seen []string
	d.Use("recording", func(_ context.Context, _ bot.Platform, ev bot.Event) error {
		switch e := ev.(type) {
		case *bot.Message:
			seen = append(seen, "message:"+e.From.ID)
		case *bot.KeyboardCallback:
			seen = append(seen, "callback:"+e.From.ID)
		}
		return nil
	})

	platform := newMockPlatform("vk")
	ctx := context.Background()
	d.Dispatch(ctx, platform, message("vk", "5", "allowed"))
	d.Dispatch(ctx, platform, message("vk", "6", "blocked"))
	d.Dispatch(ctx, platform, &bot.KeyboardCallback{Platform: "vk", From: bot.Identity{ID: "5"}})
	d.Dispatch(ctx, platform, &bot.KeyboardCallback{Platform: "vk", From: bot.Identity{ID: "7"}})
	d.Dispatch(ctx, platform, message("telegram", "5", "other platform"))

	assert.Equal(t, []string{"message:5", "callback:5"}, seen)
}
