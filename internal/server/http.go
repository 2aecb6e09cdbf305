package server

import (
	"context"
	"strconv"

	"GradeLane/internal/conf"
	"GradeLane/internal/server/middleware"
	"GradeLane/internal/service"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// NewHTTPServer new an HTTP server.
func NewHTTPServer(c *conf.Server, admin *service.AdminService, hub *ProgressHub, logger log.Logger) *http.Server {
	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
			middleware.Logging(logger),
		),
	}
	if c.Http.Network != "" {
		opts = append(opts, http.Network(c.Http.Network))
	}
	if c.Http.Addr != "" {
		opts = append(opts, http.Address(c.Http.Addr))
	}
	if c.Http.Timeout != nil {
		opts = append(opts, http.Timeout(c.Http.Timeout.AsDuration()))
	}
	srv := http.NewServer(opts...)

	registerAdminRoutes(srv, admin)

	// The websocket feed holds the connection open, so it bypasses the
	// request middleware and timeout.
	srv.HandleFunc("/ws/progress", hub.ServeHTTP)

	return srv
}

func registerAdminRoutes(srv *http.Server, admin *service.AdminService) {
	r := srv.Route("/api/v1")

	r.GET("/admin/keys", func(ctx http.Context) error {
		providerName := ctx.Query().Get("provider")
		return respond(ctx, func(c context.Context) (interface{}, error) {
			return admin.ListKeyMetrics(c, providerName)
		})
	})

	r.GET("/admin/keys/summary", func(ctx http.Context) error {
		providerName := ctx.Query().Get("provider")
		return respond(ctx, func(c context.Context) (interface{}, error) {
			return admin.KeySummary(c, providerName)
		})
	})

	r.POST("/admin/keys/{id}/reset", func(ctx http.Context) error {
		keyID := ctx.Vars().Get("id")
		return respond(ctx, func(c context.Context) (interface{}, error) {
			return admin.ResetKey(c, keyID)
		})
	})

	r.POST("/admin/keys/{id}/clear-throttle", func(ctx http.Context) error {
		keyID := ctx.Vars().Get("id")
		return respond(ctx, func(c context.Context) (interface{}, error) {
			return admin.ClearThrottle(c, keyID)
		})
	})

	r.POST("/admin/keys/{id}/throttle", func(ctx http.Context) error {
		keyID := ctx.Vars().Get("id")
		var req service.ThrottleRequest
		if err := ctx.Bind(&req); err != nil {
			return err
		}
		return respond(ctx, func(c context.Context) (interface{}, error) {
			return admin.MarkThrottled(c, keyID, &req)
		})
	})

	r.GET("/admin/metrics", func(ctx http.Context) error {
		return respond(ctx, func(c context.Context) (interface{}, error) {
			return admin.SystemMetrics(c)
		})
	})

	r.GET("/admin/alerts", func(ctx http.Context) error {
		limit, _ := strconv.Atoi(ctx.Query().Get("limit"))
		return respond(ctx, func(c context.Context) (interface{}, error) {
			return admin.RecentAlerts(c, limit)
		})
	})

	r.POST("/admin/tasks/requeue-stale", func(ctx http.Context) error {
		return respond(ctx, func(c context.Context) (interface{}, error) {
			return admin.RequeueStale(c)
		})
	})

	r.POST("/grading/results/{id}/process", func(ctx http.Context) error {
		req := service.GradeRequest{ResultID: ctx.Vars().Get("id")}
		req.UserID = ctx.Query().Get("user_id")
		req.SessionID = ctx.Query().Get("session_id")
		return respond(ctx, func(c context.Context) (interface{}, error) {
			return admin.Grade(c, &req)
		})
	})
}

// respond runs fn through the middleware chain and writes the JSON reply.
func respond(ctx http.Context, fn func(context.Context) (interface{}, error)) error {
	h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		return fn(c)
	})
	out, err := h(ctx, nil)
	if err != nil {
		return err
	}
	return ctx.Result(200, out)
}
