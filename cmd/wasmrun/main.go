// Command wasmrun runs the JSON-RPC surface over a content-addressed
// workflow scheduler: it exposes health/metrics over HTTP and
// health/metrics/subscribe_network_events/subscribe_run_workflow over a
// WebSocket JSON-RPC channel.
//
// Grounded on cmd/orchestrator/main.go's setupEcho/setupMiddleware/
// registerRoutes/startServer shape, generalized from REST routes registered
// through a service container to one JSON-RPC route plus one WebSocket
// route registered directly against the rpcsurface.Context.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/lyzr/wasmrun/common/bootstrap"
	"github.com/lyzr/wasmrun/common/server"
	"github.com/lyzr/wasmrun/internal/notifier"
	"github.com/lyzr/wasmrun/internal/receipt"
	"github.com/lyzr/wasmrun/internal/resource"
	"github.com/lyzr/wasmrun/internal/rpcsurface"
	"github.com/lyzr/wasmrun/internal/runnermailbox"
	"github.com/lyzr/wasmrun/internal/wsadapter"
)

func main() {
	ctx := context.Background()

	components, err := bootstrap.Setup(ctx, "wasmrun")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to bootstrap wasmrun: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	store := receipt.NewPostgresStore(components.DB)

	resourceFetcher := resource.Fetcher(resource.FuncFetcher(func(ctx context.Context, resources []resource.Resource) (map[resource.Resource][]byte, error) {
		return nil, fmt.Errorf("resource fetch: no resolver configured for %d resources", len(resources))
	}))
	if components.Config.Features.EnableResourceCache {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     components.Config.Redis.Addr,
			Password: components.Config.Redis.Password,
			DB:       components.Config.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			components.Logger.Error("failed to ping redis", "error", err)
			os.Exit(1)
		}
		components.Logger.Info("connected to redis")
		resourceFetcher = resource.NewCachedFetcher(redisClient, components.Logger, components.Cache, resourceFetcher)
	}

	n := notifier.New(components.Config.Notifier.BufferSize)
	mailbox := runnermailbox.NewSchedulerMailbox(store, resourceFetcher, components.Logger)

	rpcCtx := rpcsurface.NewContext(
		components.Telemetry,
		n.Events,
		n.WorkflowMessages,
		mailbox,
		components.Config.RPC.ReceiverTimeout,
		components.Logger,
	)

	e := setupEcho()
	setupMiddleware(e)
	registerRoutes(e, rpcCtx, components)

	startServer(e, components)
}

func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	return e
}

func setupMiddleware(e *echo.Echo) {
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())
}

func registerRoutes(e *echo.Echo, rpcCtx *rpcsurface.Context, components *bootstrap.Components) {
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(200, map[string]string{"status": "ok", "service": "wasmrun"})
	})

	e.POST("/rpc", func(c echo.Context) error {
		var req rpcsurface.Request
		if err := c.Bind(&req); err != nil {
			return c.JSON(400, rpcsurface.Response{
				JSONRPC: "2.0",
				Error:   &rpcsurface.Error{Code: rpcsurface.CodeParseError, Message: err.Error()},
			})
		}
		if rpcsurface.IsSubscribeMethod(req.Method) {
			return c.JSON(400, rpcsurface.Response{
				JSONRPC: "2.0",
				ID:      req.ID,
				Error:   &rpcsurface.Error{Code: rpcsurface.CodeInvalidParams, Message: "subscribe methods require the /ws endpoint"},
			})
		}
		resp := rpcsurface.Handle(c.Request().Context(), rpcCtx, req)
		return c.JSON(200, resp)
	})

	e.GET("/ws", wsadapter.Handler(rpcCtx, components.Logger))
}

func startServer(e *echo.Echo, components *bootstrap.Components) {
	port := components.Config.RPC.Port
	srv := server.New("wasmrun", port, e, components.Logger)
	if err := srv.Start(); err != nil {
		components.Logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
