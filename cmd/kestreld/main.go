package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/kestrel-web/kestrel/internal/request"
	"github.com/kestrel-web/kestrel/internal/response"
	"github.com/kestrel-web/kestrel/internal/router"
	"github.com/kestrel-web/kestrel/internal/server"
)

func main() {
	var (
		host     = flag.String("host", "", "bind address")
		port     = flag.Int("port", server.DefaultPort, "listen port")
		logLevel = flag.String("log-level", "info", "zerolog level")
	)
	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()

	r := router.New()

	r.GET("/", handleHome)
	r.GET("/health", handleHealth)
	r.GET("/users/{id}", handleGetUser)
	r.POST("/users", handleCreateUser)
	r.GET("/events", handleEvents)

	r.Group("/api/v1", func(api *router.Router) {
		api.Use(server.SecurityHeaders())
		api.GET("/data", handleAPIData)
	})

	cfg := server.DefaultConfig()
	cfg.Host = *host
	cfg.Port = *port
	cfg.Logger = &log

	srv := server.New(cfg, r)
	srv.Use(server.RequestID())
	srv.Use(server.AccessLog(log))
	srv.Use(server.BodyLimit(cfg.MaxBodySize))
	srv.Use(server.RateLimit(server.NewRateLimiter(100, time.Minute)))
	srv.Use(server.CORS(server.DefaultCORSConfig()))

	go func() {
		if err := srv.ListenAndServe(); err != nil {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown incomplete")
	}

	stats := srv.Metrics().Snapshot()
	log.Info().
		Int64("requests", stats.RequestsTotal).
		Int64("errors_4xx", stats.Errors4xx).
		Int64("errors_5xx", stats.Errors5xx).
		Dur("avg_latency", stats.AverageLatency).
		Msg("final stats")
}

func handleHome(req *request.Request, res *response.Response) {
	res.HTML(response.StatusOK, `<!DOCTYPE html>
<html>
<head><title>kestrel</title></head>
<body>
	<h1>kestrel</h1>
	<ul>
		<li><a href="/health">health</a></li>
		<li><a href="/users/42">user 42</a></li>
		<li><a href="/events">event stream</a></li>
		<li><a href="/api/v1/data">api data</a></li>
	</ul>
</body>
</html>`)
}

func handleHealth(req *request.Request, res *response.Response) {
	res.JSON(response.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func handleGetUser(req *request.Request, res *response.Response) {
	res.JSON(response.StatusOK, map[string]any{
		"id":   req.Param("id"),
		"name": "John Doe",
	})
}

func handleCreateUser(req *request.Request, res *response.Response) {
	body, err := req.Body()
	if err != nil {
		res.Error(response.StatusBadRequest, "unreadable body")
		return
	}
	res.JSON(response.StatusCreated, map[string]any{
		"message": "user created",
		"echo":    body,
	})
}

// handleEvents streams a counter until the client disconnects. The failed
// send is the only disconnect signal, so the loop exits on error.
func handleEvents(req *request.Request, res *response.Response) {
	if err := res.StartSSE(); err != nil {
		return
	}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		now := <-ticker.C
		err := res.SendEvent(response.Event{
			Name: "tick",
			Data: now.Format(time.RFC3339),
		})
		if err != nil {
			return
		}
	}
}

func handleAPIData(req *request.Request, res *response.Response) {
	res.JSON(response.StatusOK, map[string]any{
		"data":      []string{"item1", "item2", "item3"},
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
