package main

import (
	"flag"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tokmz/qiws"
	"github.com/tokmz/qiws/pkg/presence"
	"github.com/tokmz/qiws/pkg/ws"
	"github.com/tokmz/qiws/pkg/wsmetrics"
)

type chatMessage struct {
	User string `json:"user"`
	Text string `json:"text"`
}

func main() {
	configFile := flag.String("config", "", "config file (yaml/json/toml)")
	redisAddr := flag.String("redis", "", "redis address for the presence table, empty to disable")
	flag.Parse()

	fc, cfg, err := qiws.LoadFile(*configFile)
	if err != nil {
		panic(err)
	}
	defer cfg.Close()

	log, err := fc.NewLogger()
	if err != nil {
		panic(err)
	}
	if cfg.ConfigFileUsed() != "" {
		qiws.WatchLogLevel(cfg, log)
	}

	metrics := wsmetrics.New("", nil).MustRegister(prometheus.DefaultRegisterer)
	wsOpts := []ws.Option{ws.WithMetrics(metrics)}

	if *redisAddr != "" {
		pc := presence.DefaultConfig()
		pc.Addr = *redisAddr
		pc.NodeID, _ = os.Hostname()
		p, err := presence.NewFromConfig(pc, log)
		if err != nil {
			panic(err)
		}
		defer p.Close()
		wsOpts = append(wsOpts, ws.WithRegistryObserver(p))
	}

	opts := append(fc.Options(),
		qiws.WithLogger(log),
		qiws.WithWsOptions(wsOpts...),
		qiws.WithAccessManager(tokenAccess),
	)
	e := qiws.Default(opts...)

	e.Gin().GET("/metrics", gin.WrapH(promhttp.Handler()))
	e.Gin().GET("/online", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"online": e.Router().Registry().Count()})
	})

	e.WS("/chat/:room", func(h *ws.Handler) {
		h.OnConnect(func(c *ws.Context) {
			user, _ := c.QueryParam("user")
			c.Set("user", user)
			_ = c.SendObject(chatMessage{User: "server", Text: "welcome to " + c.MustPathParam("room")})
		})
		h.OnMessage(func(c *ws.Context) {
			msg, err := ws.MessageAs[chatMessage](c)
			if err != nil {
				_ = c.CloseWithReason(websocket.ClosePolicyViolation, "invalid message")
				return
			}
			if user, ok := c.Get("user"); ok && msg.User == "" {
				msg.User, _ = user.(string)
			}
			room := c.MustPathParam("room")
			e.Router().Registry().ForEach(func(peer *ws.Context) bool {
				if peer.MustPathParam("room") == room {
					_ = peer.SendObject(msg)
				}
				return true
			})
		})
		h.OnClose(func(c *ws.Context) {
			code, reason := c.CloseStatus()
			log.Info("chat member left", zap.Int("code", code), zap.String("reason", reason))
		})
	})

	if err := e.Run(); err != nil {
		log.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
}

// tokenAccess 带 admin 角色的路由要求 token=secret
func tokenAccess(c *ws.Context, roles []ws.Role) ws.AccessDecision {
	for _, role := range roles {
		token, _ := c.QueryParam("token")
		if role == "admin" && !strings.EqualFold(token, "secret") {
			return ws.Deny()
		}
	}
	return ws.Allow()
}
