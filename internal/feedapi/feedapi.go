// Package feedapi exposes the cluster feed and audit surfaces over HTTP.
package feedapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sn3fru/silvanews-sub001/internal/admission"
	"github.com/sn3fru/silvanews-sub001/internal/logging"
	"github.com/sn3fru/silvanews-sub001/internal/model"
	"github.com/sn3fru/silvanews-sub001/internal/store"
)

// Server serves the read API plus the ingestion endpoint.
type Server struct {
	store *store.Store
	gate  *admission.Gate
	http  *http.Server
}

// New builds the server. gate may be nil, which disables ingestion.
func New(st *store.Store, gate *admission.Gate, addr string) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{store: st, gate: gate}
	s.routes(router)
	s.http = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

func (s *Server) routes(r *gin.Engine) {
	r.GET("/healthz", s.health)

	api := r.Group("/api")
	api.GET("/clusters", s.listClusters)
	api.GET("/clusters/:id", s.getCluster)
	api.GET("/clusters/:id/history", s.clusterHistory)
	api.GET("/entities/:id/timeline", s.entityTimeline)
	api.GET("/runs", s.listRuns)
	api.GET("/rejections", s.listRejections)
	api.POST("/documents", s.ingest)
	api.POST("/clusters/:id/archive", s.archiveCluster)
}

// Start serves until the listener fails. Blocks.
func (s *Server) Start() error {
	logging.Info("feedapi: listening", "addr", s.http.Addr)
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type listQuery struct {
	Day        string `form:"day"` // YYYY-MM-DD, default today
	Priority   string `form:"priority"`
	Tag        string `form:"tag"`
	SourceType string `form:"source_type"`
	Page       int    `form:"page"`
	PerPage    int    `form:"per_page"`
}

func (s *Server) listClusters(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	filter := store.FeedFilter{
		Priority:   model.Priority(q.Priority),
		Tag:        q.Tag,
		SourceType: model.SourceType(q.SourceType),
		Page:       q.Page,
		PerPage:    q.PerPage,
	}
	if q.Day != "" {
		day, err := time.Parse("2006-01-02", q.Day)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "day must be YYYY-MM-DD"})
			return
		}
		filter.Day = day
	}

	page, err := s.store.Feed(filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *Server) getCluster(c *gin.Context) {
	id := c.Param("id")
	cluster, err := s.store.GetCluster(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	docs, err := s.store.ClusterDocuments(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cluster": cluster, "documents": docs})
}

func (s *Server) clusterHistory(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.store.GetCluster(id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	history, err := s.store.ClusterHistory(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cluster_id": id, "history": history})
}

func (s *Server) entityTimeline(c *gin.Context) {
	id := c.Param("id")
	entity, err := s.store.GetEntity(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	days := 30
	since := time.Now().AddDate(0, 0, -days)
	edges, err := s.store.EntityEdgesSince(id, since)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entity": entity, "edges": edges})
}

type archiveRequest struct {
	Reason string `json:"reason"`
}

// archiveCluster pulls an invalidated cluster out of the active feed.
// The cluster and its history stay queryable.
func (s *Server) archiveCluster(c *gin.Context) {
	id := c.Param("id")
	cluster, err := s.store.GetCluster(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if cluster.Status != model.ClusterActive {
		c.JSON(http.StatusConflict, gin.H{"error": "cluster is not active"})
		return
	}

	var req archiveRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	reason := req.Reason
	if reason == "" {
		reason = "archived via API"
	}

	if err := s.store.ArchiveCluster(id, reason); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cluster_id": id, "status": model.ClusterArchived})
}

func (s *Server) listRuns(c *gin.Context) {
	runs, err := s.store.RecentRuns(20)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) listRejections(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	rejections, err := s.store.RecentRejections(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rejections": rejections})
}

type ingestRequest struct {
	Documents []ingestDoc `json:"documents" binding:"required"`
}

type ingestDoc struct {
	Title      string `json:"title"`
	Text       string `json:"text" binding:"required"`
	SourceType string `json:"source_type" binding:"required"`
}

func (s *Server) ingest(c *gin.Context) {
	if s.gate == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ingestion disabled"})
		return
	}
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	batch := make([]admission.Incoming, 0, len(req.Documents))
	for _, d := range req.Documents {
		st := model.SourceType(d.SourceType)
		if st != model.SourceDomestic && st != model.SourceInternational {
			c.JSON(http.StatusBadRequest, gin.H{"error": "source_type must be domestic or international"})
			return
		}
		batch = append(batch, admission.Incoming{Title: d.Title, Text: d.Text, SourceType: st})
	}

	res, err := s.gate.Admit(c.Request.Context(), batch)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"admitted": len(res.Admitted), "rejected": res.Rejected})
}
