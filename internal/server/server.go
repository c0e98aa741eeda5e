// Package server exposes the intelligence pipeline over HTTP.
package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"intelbrief/internal/cards"
	"intelbrief/internal/config"
	"intelbrief/internal/core"
	"intelbrief/internal/logger"
	"intelbrief/internal/store"
	"intelbrief/internal/syncer"
)

// Server wires the HTTP surface to the card assembler and the store.
type Server struct {
	assembler *cards.Assembler
	store     store.Store
	engine    *gin.Engine
	addr      string
}

func New(cfg config.Server, assembler *cards.Assembler, st store.Store) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestID())
	corsCfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "X-Request-ID"},
		MaxAge:       12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) > 0 {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsCfg.AllowAllOrigins = true
	}
	engine.Use(cors.New(corsCfg))

	s := &Server{
		assembler: assembler,
		store:     st,
		engine:    engine,
		addr:      cfg.Addr,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.engine.Group("/api")
	api.GET("/health", s.handleHealth)
	api.GET("/intelligence", s.handleIntelligence)
	api.GET("/raw-data", s.handleRawData)
	api.GET("/categories", s.handleCategories)
	api.GET("/topics", s.handleListTopics)
	api.POST("/topics", s.handleCreateTopic)
	api.GET("/topics/:id", s.handleTopicDetail)
	api.POST("/topics/:id/evidence", s.handleAddEvidence)
	api.POST("/topics/:id/updates", s.handleAddTopicUpdate)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run blocks serving HTTP until the listener fails.
func (s *Server) Run() error {
	logger.Info("http server listening", map[string]any{"addr": s.addr})
	return s.engine.Run(s.addr)
}

func (s *Server) handleHealth(c *gin.Context) {
	respond(c, http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleIntelligence(c *gin.Context) {
	opts := cards.Options{
		Limit:        queryInt(c, "limit", syncer.DefaultFetchLimit),
		SkipAnalysis: c.Query("skip_ai") == "true" || c.Query("skip_ai") == "1",
		Category:     c.Query("category"),
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Minute)
	defer cancel()

	listing, err := s.assembler.Build(ctx, opts)
	if err != nil {
		logger.Error("failed to build intelligence listing", err, nil)
		internalError(c, "failed to build intelligence listing")
		return
	}
	respond(c, http.StatusOK, gin.H{
		"cards": listing,
		"count": len(listing),
	})
}

func (s *Server) handleRawData(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Minute)
	defer cancel()

	batch, err := s.assembler.RawData(ctx, c.Query("category"), queryInt(c, "limit", syncer.DefaultFetchLimit))
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	respond(c, http.StatusOK, batch)
}

func (s *Server) handleCategories(c *gin.Context) {
	respond(c, http.StatusOK, s.assembler.Categories())
}

func (s *Server) handleListTopics(c *gin.Context) {
	topics, err := s.store.ListTopics(c.Request.Context())
	if err != nil {
		logger.Error("failed to list topics", err, nil)
		internalError(c, "failed to list topics")
		return
	}
	respond(c, http.StatusOK, topics)
}

type createTopicRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	ChannelKey  string `json:"channel_key"`
}

func (s *Server) handleCreateTopic(c *gin.Context) {
	var req createTopicRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "title is required")
		return
	}

	id, err := s.store.CreateTopic(c.Request.Context(), req.Title, req.Description, req.ChannelKey)
	if err != nil {
		logger.Error("failed to create topic", err, nil)
		internalError(c, "failed to create topic")
		return
	}
	respond(c, http.StatusCreated, gin.H{"id": id})
}

func (s *Server) handleTopicDetail(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, "topic id must be numeric")
		return
	}

	topic, err := s.store.GetTopicDetail(c.Request.Context(), id)
	if err != nil {
		logger.Error("failed to read topic", err, map[string]any{"id": id})
		internalError(c, "failed to read topic")
		return
	}
	if topic == nil {
		notFound(c, "topic not found")
		return
	}
	respond(c, http.StatusOK, topic)
}

type addEvidenceRequest struct {
	HighlightText string `json:"highlight_text"`
	Note          string `json:"note" binding:"required"`
	SourceTitle   string `json:"source_title"`
	SourceURL     string `json:"source_url"`
	Confidence    string `json:"confidence"`
}

func (s *Server) handleAddEvidence(c *gin.Context) {
	topicID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, "topic id must be numeric")
		return
	}

	var req addEvidenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "note is required")
		return
	}

	topic, err := s.store.GetTopicDetail(c.Request.Context(), topicID)
	if err != nil {
		logger.Error("failed to read topic", err, map[string]any{"id": topicID})
		internalError(c, "failed to read topic")
		return
	}
	if topic == nil {
		notFound(c, "topic not found")
		return
	}

	id, err := s.store.AddEvidence(c.Request.Context(), topicID, core.TopicEvidence{
		HighlightText: req.HighlightText,
		Note:          req.Note,
		SourceTitle:   req.SourceTitle,
		SourceURL:     req.SourceURL,
		Confidence:    req.Confidence,
	})
	if err != nil {
		logger.Error("failed to add evidence", err, map[string]any{"topic_id": topicID})
		internalError(c, "failed to add evidence")
		return
	}
	respond(c, http.StatusCreated, gin.H{"id": id})
}

type addTopicUpdateRequest struct {
	Version   string `json:"version" binding:"required"`
	Content   string `json:"content"`
	ChangeLog string `json:"change_log"`
}

func (s *Server) handleAddTopicUpdate(c *gin.Context) {
	topicID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, "topic id must be numeric")
		return
	}

	var req addTopicUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "version is required")
		return
	}

	topic, err := s.store.GetTopicDetail(c.Request.Context(), topicID)
	if err != nil {
		logger.Error("failed to read topic", err, map[string]any{"id": topicID})
		internalError(c, "failed to read topic")
		return
	}
	if topic == nil {
		notFound(c, "topic not found")
		return
	}

	id, err := s.store.AddTopicUpdate(c.Request.Context(), topicID, core.TopicUpdate{
		Version:   req.Version,
		Content:   req.Content,
		ChangeLog: req.ChangeLog,
	})
	if err != nil {
		logger.Error("failed to add topic update", err, map[string]any{"topic_id": topicID})
		internalError(c, "failed to add topic update")
		return
	}
	respond(c, http.StatusCreated, gin.H{"id": id})
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
