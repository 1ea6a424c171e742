// Package ws 提供嵌入式 HTTP 服务器的 WebSocket 子系统：
// 路径模式路由、升级前访问控制、连接注册表以及按连接串行的事件分发。
//
// # 路由
//
// 模式由 "/" 分隔的段组成：字面量（大小写敏感）、":name" 参数、末尾 "*" 通配。
// 多条路由同时匹配时选择逐段最具体的一条（字面量 > 参数 > 通配），
// 通配路由永远不会压过更具体的路由。
//
//	r, err := ws.NewRouter(
//	    ws.WithContextPath("/websocket"),
//	    ws.WithMaxTextMessageSize(64*1024),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	r.Register("/chat/:room", func(h *ws.Handler) {
//	    h.OnConnect(func(c *ws.Context) {
//	        room, _ := c.PathParam("room")
//	        _ = c.Send("welcome to " + room)
//	    })
//	    h.OnMessage(func(c *ws.Context) {
//	        r.Broadcast(c.Message())
//	    })
//	})
//
//	http.Handle("/websocket/", r)
//
// # 访问控制
//
// AccessManager 在协议升级之前执行。返回 Deny 时客户端收到 403；
// 返回 DenyWithError（或 panic）时记录日志，状态码取自 *errors.Error 的 HttpCode。
//
//	ws.WithAccessManager(func(c *ws.Context, roles []ws.Role) ws.AccessDecision {
//	    if _, ok := c.Header("Authorization"); !ok {
//	        return ws.DenyWithError(errors.ErrUnauthorized)
//	    }
//	    return ws.Allow()
//	})
//
// # 并发
//
// 同一连接的回调由一个 goroutine 依次执行；不同连接之间并发。
// Send 系列方法非阻塞，可以从任意 goroutine 调用，队列满时返回 ErrChannelFull。
//
// # 优雅关闭
//
//	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
//	defer cancel()
//	_ = r.Shutdown(ctx)
package ws
