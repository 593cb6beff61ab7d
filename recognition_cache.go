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

package glmocr

import (
	"context"
	"encoding/binary"
	"image"
	"image/png"
	"sync/atomic"
	"time"

	"github.com/antflydb/glmocr/lib/preprocess"
	"github.com/antflydb/glmocr/lib/recognition"
	"github.com/cespare/xxhash/v2"
	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Recognizer reads the text of an image for a task label.
type Recognizer interface {
	Recognize(ctx context.Context, src *preprocess.Source, task string) (string, error)
}

// CachedRecognizer reuses results for identical (model, prompt, image)
// submissions and collapses concurrent duplicates into one model call.
type CachedRecognizer struct {
	recognizer Recognizer
	model      string
	cache      *ttlcache.Cache[string, string]
	sfGroup    *singleflight.Group
	logger     *zap.Logger

	// Metrics
	hits   atomic.Uint64
	misses atomic.Uint64
	sfHits atomic.Uint64
}

// Recognize returns the cached transcription or runs the wrapped recognizer.
// Missing images bypass the cache.
func (c *CachedRecognizer) Recognize(ctx context.Context, src *preprocess.Source, task string) (string, error) {
	if src == nil || src.Image == nil {
		return c.recognizer.Recognize(ctx, src, task)
	}

	prompt := recognition.PromptFor(task)
	key := c.cacheKey(src, prompt)

	if item := c.cache.Get(key); item != nil {
		c.hits.Add(1)
		RecordCacheHit("recognition")
		c.logger.Debug("Recognition cache hit",
			zap.String("model", c.model),
			zap.String("prompt", prompt))
		return item.Value(), nil
	}

	// The flight outlives any single caller: a client that disconnects must
	// not fail the others sharing the call.
	flightCtx := context.WithoutCancel(ctx)
	resultC := c.sfGroup.DoChan(key, func() (any, error) {
		c.misses.Add(1)
		RecordCacheMiss("recognition")

		start := time.Now()
		text, err := c.recognizer.Recognize(flightCtx, src, task)
		if err != nil {
			return nil, err
		}

		c.cache.Set(key, text, ttlcache.DefaultTTL)

		c.logger.Debug("Recognition completed and cached",
			zap.String("model", c.model),
			zap.String("prompt", prompt),
			zap.Duration("duration", time.Since(start)))

		return text, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-resultC:
		if res.Err != nil {
			return "", res.Err
		}
		if res.Shared {
			c.sfHits.Add(1)
			c.logger.Debug("Singleflight hit for recognition request",
				zap.String("model", c.model))
		}
		return res.Val.(string), nil
	}
}

// cacheKey hashes model + prompt + orientation + pixels. Task labels that
// map to the same prompt share entries.
func (c *CachedRecognizer) cacheKey(src *preprocess.Source, prompt string) string {
	h := xxhash.New()

	_, _ = h.WriteString(c.model)
	_, _ = h.WriteString("|p:")
	_, _ = h.WriteString(prompt)
	_, _ = h.WriteString("|o:")
	_, _ = h.Write([]byte{byte(src.Orientation)})
	_, _ = h.WriteString("|i:")

	bounds := src.Image.Bounds()
	var dimBuf [16]byte
	binary.BigEndian.PutUint32(dimBuf[0:4], uint32(bounds.Min.X))
	binary.BigEndian.PutUint32(dimBuf[4:8], uint32(bounds.Min.Y))
	binary.BigEndian.PutUint32(dimBuf[8:12], uint32(bounds.Max.X))
	binary.BigEndian.PutUint32(dimBuf[12:16], uint32(bounds.Max.Y))
	_, _ = h.Write(dimBuf[:])

	var imgHashBuf [8]byte
	binary.BigEndian.PutUint64(imgHashBuf[:], hashImage(src.Image))
	_, _ = h.Write(imgHashBuf[:])

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], h.Sum64())
	return string(buf[:])
}

// hashImage hashes the pixel buffer directly when the type exposes one and
// falls back to hashing a fast PNG encoding. Lossy encodings would let two
// slightly different scans share a transcription.
func hashImage(img image.Image) uint64 {
	h := xxhash.New()

	_, _ = h.WriteString(string(preprocess.ModeOf(img)))
	switch m := img.(type) {
	case *preprocess.RGB:
		_, _ = h.Write(m.Pix)
	case *image.NRGBA:
		_, _ = h.Write(m.Pix)
	case *image.RGBA:
		_, _ = h.Write(m.Pix)
	case *image.Gray:
		_, _ = h.Write(m.Pix)
	case *image.Paletted:
		_, _ = h.Write(m.Pix)
		for _, c := range m.Palette {
			r, g, b, a := c.RGBA()
			var pb [8]byte
			binary.BigEndian.PutUint16(pb[0:2], uint16(r))
			binary.BigEndian.PutUint16(pb[2:4], uint16(g))
			binary.BigEndian.PutUint16(pb[4:6], uint16(b))
			binary.BigEndian.PutUint16(pb[6:8], uint16(a))
			_, _ = h.Write(pb[:])
		}
	case *image.YCbCr:
		_, _ = h.Write(m.Y)
		_, _ = h.Write(m.Cb)
		_, _ = h.Write(m.Cr)
	default:
		enc := png.Encoder{CompressionLevel: png.NoCompression}
		if err := enc.Encode(h, img); err != nil {
			bounds := img.Bounds()
			var buf [8]byte
			binary.BigEndian.PutUint32(buf[0:4], uint32(bounds.Dx()))
			binary.BigEndian.PutUint32(buf[4:8], uint32(bounds.Dy()))
			_, _ = h.Write(buf[:])
		}
	}

	return h.Sum64()
}

// Stats returns cache statistics for this recognizer
func (c *CachedRecognizer) Stats() RecognizerCacheStats {
	return RecognizerCacheStats{
		Model:            c.model,
		Hits:             c.hits.Load(),
		Misses:           c.misses.Load(),
		SingleflightHits: c.sfHits.Load(),
	}
}

// RecognizerCacheStats holds cache statistics for a recognizer
type RecognizerCacheStats struct {
	Model            string `json:"model"`
	Hits             uint64 `json:"hits"`
	Misses           uint64 `json:"misses"`
	SingleflightHits uint64 `json:"singleflight_hits"`
}

// RecognitionCache owns the TTL cache shared by wrapped recognizers.
type RecognitionCache struct {
	cache  *ttlcache.Cache[string, string]
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewRecognitionCache creates a cache whose entries expire after ttl.
func NewRecognitionCache(ttl time.Duration, logger *zap.Logger) *RecognitionCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	cache := ttlcache.New(
		ttlcache.WithTTL[string, string](ttl),
	)
	go cache.Start()

	ctx, cancel := context.WithCancel(context.Background())
	rc := &RecognitionCache{
		cache:  cache,
		logger: logger,
		cancel: cancel,
	}

	go rc.logStats(ctx)

	return rc
}

// Wrap wraps a recognizer with caching
func (rc *RecognitionCache) Wrap(recognizer Recognizer, model string) *CachedRecognizer {
	return &CachedRecognizer{
		recognizer: recognizer,
		model:      model,
		cache:      rc.cache,
		sfGroup:    &singleflight.Group{},
		logger:     rc.logger,
	}
}

// Close stops the cache
func (rc *RecognitionCache) Close() {
	rc.cancel()
	rc.cache.Stop()
}

func (rc *RecognitionCache) logStats(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics := rc.cache.Metrics()
			if metrics.Hits > 0 || metrics.Misses > 0 {
				total := metrics.Hits + metrics.Misses
				hitRate := float64(metrics.Hits) / float64(total) * 100
				rc.logger.Info("Recognition cache stats",
					zap.Uint64("hits", metrics.Hits),
					zap.Uint64("misses", metrics.Misses),
					zap.Float64("hit_rate_pct", hitRate),
					zap.Int("items", rc.cache.Len()))
			}
		}
	}
}
