package presence

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/tokmz/qiws/pkg/logger"
	"github.com/tokmz/qiws/pkg/ws"
)

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"empty key", func(c *Config) { c.Key = "" }},
		{"zero timeout", func(c *Config) { c.OpTimeout = 0 }},
		{"standalone without addr", func(c *Config) { c.Addr = "" }},
		{"cluster without addrs", func(c *Config) { c.Mode = RedisCluster }},
		{"sentinel without master", func(c *Config) {
			c.Mode = RedisSentinel
			c.Addrs = []string{"127.0.0.1:26379"}
		}},
		{"unknown mode", func(c *Config) { c.Mode = "ring" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.modify(c)
			assert.True(t, errors.Is(c.Validate(), ErrInvalidConfig))
		})
	}
}

func TestConfig_NewClient(t *testing.T) {
	c := DefaultConfig()
	c.Mode = RedisCluster
	c.Addrs = []string{"127.0.0.1:7000", "127.0.0.1:7001"}
	client, err := c.NewClient()
	require.NoError(t, err)
	_, ok := client.(*redis.ClusterClient)
	assert.True(t, ok)
	assert.NoError(t, client.Close())
}

func registeredContext(t *testing.T) *ws.Context {
	t.Helper()
	req := httptest.NewRequest("GET", "/chat/lobby", nil)
	req.Host = "localhost:7070"
	c := ws.NewContext(req, ws.MustCompilePattern("/chat/:room"), ws.Params{"room": "lobby"})
	_, err := ws.NewRegistry(0, nil).Register(c)
	require.NoError(t, err)
	return c
}

func TestRedis_Entry(t *testing.T) {
	p, err := New(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}), &Config{Key: "k", NodeID: "node-1", OpTimeout: time.Second}, nil)
	require.NoError(t, err)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	c := registeredContext(t)
	e := p.entry(c)
	assert.Equal(t, c.SessionID(), e.SessionID)
	assert.Equal(t, "node-1", e.Node)
	assert.Equal(t, "/chat/:room", e.Route)
	assert.Equal(t, "/chat/lobby", e.Path)
	assert.Equal(t, "localhost", e.Host)
	assert.Equal(t, fixed, e.ConnectedAt)

	data, err := json.Marshal(e)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"route":"/chat/:room"`)
}

// TestRedis_Unavailable 测试 Redis 不可用时只记录日志
func TestRedis_Unavailable(t *testing.T) {
	core, recorded := observer.New(zapcore.WarnLevel)
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	p, err := New(client, &Config{Key: "qiws:test", OpTimeout: 200 * time.Millisecond}, logger.FromZap(zap.New(core)))
	require.NoError(t, err)
	defer p.Close()

	c := registeredContext(t)
	assert.NotPanics(t, func() {
		p.OnRegister(c)
		p.OnUnregister(c)
	})
	assert.Equal(t, 1, recorded.FilterMessage("presence register failed").Len())
	assert.Equal(t, 1, recorded.FilterMessage("presence unregister failed").Len())

	_, err = p.Count(context.Background())
	assert.ErrorIs(t, err, ErrOperation)
	_, _, err = p.Lookup(context.Background(), c.SessionID())
	assert.ErrorIs(t, err, ErrOperation)
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(redis.NewClient(&redis.Options{}), &Config{}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
