// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package glmocr serves the image recognition demo: an upload form, a JSON
// API and the health/readiness endpoints around one recognition model.
package glmocr

import (
	"context"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"time"

	"github.com/antflydb/glmocr/lib/model"
	"github.com/antflydb/glmocr/lib/paths"
	"github.com/antflydb/glmocr/lib/preprocess"
	"github.com/antflydb/glmocr/lib/recognition"
	"go.uber.org/zap"
)

// DefaultShutdownTimeout is the default time to wait for graceful shutdown
const DefaultShutdownTimeout = 30 * time.Second

// OCRNode holds the process-wide state shared by all requests. Nothing in it
// is mutated after NewOCRNode returns.
type OCRNode struct {
	logger *zap.Logger

	model      model.Model
	recognizer Recognizer

	// Request queue for backpressure control
	requestQueue *RequestQueue

	// Result cache (nil when disabled)
	recognitionCache *RecognitionCache
	cachedRecognizer *CachedRecognizer

	gallery  *Gallery
	markdown *MarkdownRenderer
	page     *template.Template

	maxUploadBytes int64
}

// NewOCRNode wires the request pipeline around an initialised model.
func NewOCRNode(zl *zap.Logger, config Config, m model.Model) (*OCRNode, error) {
	if zl == nil {
		zl = zap.NewNop()
	}
	if m == nil {
		return nil, fmt.Errorf("model is required")
	}

	requestTimeout, err := parseDuration("request_timeout", config.RequestTimeout)
	if err != nil {
		return nil, err
	}
	cacheTTL, err := parseDuration("cache_ttl", config.CacheTTL)
	if err != nil {
		return nil, err
	}

	if err := paths.EnsureDir(config.TempDir); err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}

	metered := meteredModel{Model: m}
	base, err := recognition.NewRecognizer(recognition.Config{
		Model:        metered,
		MaxNewTokens: config.Model.MaxNewTokens,
		TempDir:      config.TempDir,
		Logger:       zl.Named("recognizer"),
	})
	if err != nil {
		return nil, err
	}

	gallery, err := LoadGallery(config.ExamplesDir, config.Examples, zl.Named("examples"))
	if err != nil {
		return nil, err
	}

	page, err := parsePageTemplate()
	if err != nil {
		return nil, err
	}

	maxUpload := config.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUploadBytes
	}

	queue := NewRequestQueue(RequestQueueConfig{
		MaxConcurrentRequests: config.MaxConcurrentRequests,
		MaxQueueSize:          config.MaxQueueSize,
		RequestTimeout:        requestTimeout,
	}, zl.Named("queue"))
	queued := queuedRecognizer{recognizer: base, queue: queue}

	node := &OCRNode{
		logger:         zl,
		model:          m,
		recognizer:     queued,
		requestQueue:   queue,
		gallery:        gallery,
		markdown:       NewMarkdownRenderer(config.AllowHTML),
		page:           page,
		maxUploadBytes: maxUpload,
	}

	if cacheTTL > 0 {
		node.recognitionCache = NewRecognitionCache(cacheTTL, zl.Named("cache"))
		node.cachedRecognizer = node.recognitionCache.Wrap(queued, m.Name())
		node.recognizer = node.cachedRecognizer
	} else {
		zl.Info("Recognition cache disabled")
	}

	return node, nil
}

// Handler returns the HTTP handler serving the page, the API and health checks.
func (n *OCRNode) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health endpoints
	mux.HandleFunc("GET /healthz", n.handleHealthz)
	mux.HandleFunc("GET /readyz", n.handleReadyz)

	// JSON API
	mux.HandleFunc("POST /api/recognize", n.handleApiRecognize)
	mux.HandleFunc("GET /api/tasks", n.handleApiTasks)
	mux.HandleFunc("GET /api/examples", n.handleApiExamples)
	mux.HandleFunc("GET /api/version", n.handleApiVersion)

	// Page
	mux.HandleFunc("GET /{$}", n.handlePage)
	mux.HandleFunc("POST /{$}", n.handlePageSubmit)
	mux.Handle("GET /examples/{name}", n.gallery)
	addStaticRoutes(mux)

	return corsMiddleware(mux)
}

// Close releases the cache and the model handle.
func (n *OCRNode) Close() error {
	if n.recognitionCache != nil {
		n.recognitionCache.Close()
	}
	return n.model.Close()
}

// recognize runs one submission through the cache and the queue. Cache hits
// and requests joining an in-flight duplicate never wait for a queue slot.
func (n *OCRNode) recognize(ctx context.Context, src *preprocess.Source, task string) (string, error) {
	if src == nil || src.Image == nil {
		return recognition.NoImageMessage, nil
	}

	RecordRecognitionRequest(recognition.Resolve(task).ID())
	return n.recognizer.Recognize(ctx, src, task)
}

// corsMiddleware adds permissive CORS headers for the API
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With, Accept, Origin")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// NewModel creates the model handle described by cfg. Special tokens come
// from the hub when TokenizerRepo is set, else from the built-in list.
func NewModel(cfg ModelConfig, zl *zap.Logger) (model.Model, error) {
	timeout, err := parseDuration("model.timeout", cfg.Timeout)
	if err != nil {
		return nil, err
	}

	var special *model.SpecialTokens
	if cfg.TokenizerRepo != "" {
		special, err = model.LoadSpecialTokens(cfg.TokenizerRepo, cfg.HFToken)
		if err != nil {
			zl.Warn("Falling back to built-in special tokens",
				zap.String("repo", cfg.TokenizerRepo),
				zap.Error(err))
			special = nil
		}
	}

	return model.NewOpenAIModel(model.OpenAIConfig{
		BaseURL:       cfg.URL,
		APIKey:        cfg.APIKey,
		Model:         cfg.Name,
		Timeout:       timeout,
		SpecialTokens: special,
		Logger:        zl,
	})
}

// RunAsServer creates the model handle once, serves the demo on
// config.ApiUrl and blocks until ctx is cancelled.
// If readyC is non-nil, it will be closed when the server is ready to accept requests.
func RunAsServer(ctx context.Context, zl *zap.Logger, config Config, readyC chan struct{}) {
	zl = zl.Named("glmocr")
	zl.Info("Starting recognition server", zap.Any("config", redacted(config)))

	u, err := url.Parse(config.ApiUrl)
	if err != nil {
		zl.Fatal("Invalid API URL", zap.String("url", config.ApiUrl), zap.Error(err))
	}

	m, err := NewModel(config.Model, zl.Named("model"))
	if err != nil {
		zl.Fatal("Failed to create model client", zap.Error(err))
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 10*time.Second)
	if err := m.Ping(pingCtx); err != nil {
		zl.Warn("Model service not reachable yet", zap.Error(err))
	} else {
		zl.Info("Model service reachable", zap.String("model", m.Name()))
	}
	pingCancel()

	node, err := NewOCRNode(zl, config, m)
	if err != nil {
		zl.Fatal("Failed to initialize server", zap.Error(err))
	}
	defer func() { _ = node.Close() }()

	srv := &http.Server{
		Addr:              u.Host,
		Handler:           node.Handler(),
		ReadHeaderTimeout: 30 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		zl.Info("Recognition server starting", zap.String("address", config.ApiUrl))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	if readyC != nil {
		close(readyC)
	}

	select {
	case err := <-serverErr:
		if err != nil {
			zl.Fatal("HTTP server error", zap.Error(err))
		}
	case <-ctx.Done():
		zl.Info("Shutdown signal received, starting graceful shutdown...")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer shutdownCancel()

	srv.SetKeepAlivesEnabled(false)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Warn("Graceful shutdown failed, forcing close",
			zap.Error(err),
			zap.Duration("timeout", DefaultShutdownTimeout))
		_ = srv.Close()
	} else {
		zl.Info("Graceful shutdown completed successfully")
	}

	zl.Info("HTTP server stopped")
}

// redacted hides credentials before the config is logged.
func redacted(config Config) Config {
	if config.Model.APIKey != "" {
		config.Model.APIKey = "***"
	}
	if config.Model.HFToken != "" {
		config.Model.HFToken = "***"
	}
	return config
}
