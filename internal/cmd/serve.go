package cmd

import (
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/nexus-build/nexus/internal/config"
	"github.com/nexus-build/nexus/internal/core"
	"github.com/nexus-build/nexus/internal/coordinator"
	"github.com/nexus-build/nexus/internal/eventbus"
	"github.com/nexus-build/nexus/internal/review"
)

// controlServer exposes the coordinator's control surface and the event
// bus as an HTTP API: pause/resume/stop, pending-review resolution,
// Prometheus scraping, and a server-sent-events feed of every bus event.
//
// Grounded on codeready-toolchain-tarsy's pkg/api/handlers.go: a Server
// struct wrapping the collaborators handlers need, one method per gin
// route, gin.H for JSON bodies. tarsy pushes live updates over a
// gorilla/websocket hub (pkg/api/websocket.go); Nexus's go.mod carries no
// websocket dependency, so the event feed here uses gin's built-in
// c.SSEvent/c.Stream instead — one fewer moving part for the same
// "push every bus event to a connected client" job.
type controlServer struct {
	coord   *coordinator.Coordinator
	reviews *review.Service
	bus     *eventbus.Bus
	metrics http.Handler
}

func (s *controlServer) router() *gin.Engine {
	r := gin.Default()

	r.GET("/health", s.health)
	r.GET("/status", s.status)
	r.POST("/control/pause", s.pause)
	r.POST("/control/resume", s.resume)
	r.POST("/control/stop", s.stop)
	r.GET("/reviews", s.listReviews)
	r.POST("/reviews/:id/approve", s.approveReview)
	r.POST("/reviews/:id/reject", s.rejectReview)
	r.GET("/events", s.events)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics))
	}

	return r
}

func (s *controlServer) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *controlServer) status(c *gin.Context) {
	progress := s.coord.GetProgress()
	c.JSON(http.StatusOK, gin.H{
		"status":   s.coord.GetStatus(),
		"progress": progress,
	})
}

func (s *controlServer) pause(c *gin.Context) {
	reason := c.Query("reason")
	if reason == "" {
		reason = "manual"
	}
	s.coord.Pause(reason)
	c.JSON(http.StatusOK, gin.H{"status": s.coord.GetStatus()})
}

func (s *controlServer) resume(c *gin.Context) {
	s.coord.Resume()
	c.JSON(http.StatusOK, gin.H{"status": s.coord.GetStatus()})
}

func (s *controlServer) stop(c *gin.Context) {
	if err := s.coord.Stop(30 * time.Second); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": s.coord.GetStatus()})
}

func (s *controlServer) listReviews(c *gin.Context) {
	c.JSON(http.StatusOK, s.reviews.ListPendingReviews())
}

func (s *controlServer) approveReview(c *gin.Context) {
	id := c.Param("id")
	resolution := c.Query("resolution")
	r, err := s.reviews.ApproveReview(c.Request.Context(), id, resolution)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.coord.HandleReviewApproved(c.Request.Context(), id, resolution); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, r)
}

func (s *controlServer) rejectReview(c *gin.Context) {
	id := c.Param("id")
	feedback := c.Query("feedback")
	r, err := s.reviews.RejectReview(c.Request.Context(), id, feedback)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.coord.HandleReviewRejected(c.Request.Context(), id, feedback); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, r)
}

// events streams every bus event to the client as it is emitted, until
// the client disconnects.
func (s *controlServer) events(c *gin.Context) {
	ch := make(chan core.Event, 64)
	unsub := s.bus.OnAny(func(e core.Event) {
		select {
		case ch <- e:
		default:
			// a slow client drops events rather than blocking the bus.
		}
	})
	defer unsub()

	c.Stream(func(w io.Writer) bool {
		select {
		case e := <-ch:
			c.SSEvent(string(e.Type), e)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// NewServeCommand builds the serve subcommand: load config, construct the
// same coordinator graph the run subcommand builds, and expose it over
// HTTP instead of blocking until one project finishes.
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Expose the coordinator's control surface over HTTP",
		Long: `Serve starts the HTTP control surface: pause/resume/stop, pending
human-review resolution, a server-sent-events feed of every bus event, and
(if metrics are enabled) a Prometheus /metrics endpoint. It builds the same
coordinator graph the run subcommand does, but does not itself start a
project — drive it via the control API or a separate run invocation
against the same store.`,
		RunE: serveCommand,
	}

	cmd.Flags().String("config", "", "Path to config file (default: <project>/.nexus/config.yaml)")
	cmd.Flags().String("project", ".", "Path to the project root")
	cmd.Flags().String("addr", "", "Listen address (default: config's http.addr)")

	return cmd
}

func serveCommand(cmd *cobra.Command, args []string) error {
	projectPath, _ := cmd.Flags().GetString("project")
	absPath, err := filepath.Abs(projectPath)
	if err != nil {
		return fmt.Errorf("nexus: resolve project path: %w", err)
	}

	loader := config.NewLoader()
	if configPath, _ := cmd.Flags().GetString("config"); configPath != "" {
		loader = loader.WithConfigFile(configPath)
	}
	cfg, err := loader.Load(absPath)
	if err != nil {
		return fmt.Errorf("nexus: load config: %w", err)
	}
	cfg.ProjectPath = absPath
	cfg.Metrics.Enabled = true

	r, err := buildRig(cfg)
	if err != nil {
		return err
	}
	defer r.Close()

	srv := &controlServer{coord: r.coord, reviews: r.reviews, bus: r.bus}
	if r.registry != nil {
		srv.metrics = r.registry.Handler()
	}

	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = cfg.HTTP.Addr
	}

	fmt.Fprintf(cmd.OutOrStdout(), "nexus control surface listening on %s\n", addr)
	return srv.router().Run(addr)
}
