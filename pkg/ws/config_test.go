package ws

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"relative context path", func(c *Config) { c.ContextPath = "websocket" }},
		{"negative max connections", func(c *Config) { c.MaxConnections = -1 }},
		{"zero read buffer", func(c *Config) { c.ReadBufferSize = 0 }},
		{"zero message size", func(c *Config) { c.MaxMessageSize = 0 }},
		{"text limit above transport limit", func(c *Config) { c.MaxTextMessageSize = c.MaxMessageSize + 1 }},
		{"negative binary limit", func(c *Config) { c.MaxBinaryMessageSize = -1 }},
		{"zero queue", func(c *Config) { c.SendQueueSize = 0 }},
		{"pong wait not above ping interval", func(c *Config) { c.PongWait = c.PingInterval }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.modify(c)
			assert.True(t, errors.Is(c.Validate(), ErrInvalidConfig))
		})
	}

	_, err := NewRouter(WithHeartbeat(time.Minute, time.Second))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfig_Limits(t *testing.T) {
	c := DefaultConfig()
	c.MaxTextMessageSize = 0
	assert.Equal(t, c.MaxMessageSize, c.textLimit())
	c.MaxBinaryMessageSize = 10
	assert.EqualValues(t, 10, c.binaryLimit())

	c.ContextPath = "/websocket/"
	assert.Equal(t, "/websocket", c.normalizedContextPath())
	c.ContextPath = "/"
	assert.Equal(t, "", c.normalizedContextPath())
}

func TestCheckOriginWhitelist(t *testing.T) {
	c := DefaultConfig()
	WithCheckOriginWhitelist([]string{"https://example.com"})(c)
	u := newUpgrader(c)

	req := httptest.NewRequest("GET", "/", nil)
	assert.False(t, u.CheckOrigin(req))
	req.Header.Set("Origin", "https://example.com")
	assert.True(t, u.CheckOrigin(req))
	req.Header.Set("Origin", "https://evil.com")
	assert.False(t, u.CheckOrigin(req))

	WithAllowAllOrigins()(c)
	assert.True(t, newUpgrader(c).CheckOrigin(req))
}
