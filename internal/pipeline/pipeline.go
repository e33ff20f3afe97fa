// Package pipeline turns a materialized content target into a rendered,
// cached image artifact, falling back to an error artifact when the
// generator misbehaves.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/Nixie-Tech-LLC/inkframe/internal/cache"
	"github.com/Nixie-Tech-LLC/inkframe/internal/model"
	"github.com/Nixie-Tech-LLC/inkframe/internal/plugin"
	"github.com/Nixie-Tech-LLC/inkframe/internal/storage"
	"github.com/Nixie-Tech-LLC/inkframe/internal/telemetry"
)

const defaultContentType = "image/png"

type Config struct {
	GeneratorTimeout time.Duration
	// ErrorTTL bounds how long an error artifact masks its fingerprint.
	ErrorTTL time.Duration
	Width    int
	Height   int
}

// Request identifies what to render.
type Request struct {
	PluginID   string
	InstanceID string
	Settings   model.Settings
}

// GenerationFailure accompanies an error artifact. It is recoverable: the
// artifact is still pushable.
type GenerationFailure struct {
	PluginID   string
	InstanceID string
	Reason     string
	Cached     bool
	Err        error
}

func (e *GenerationFailure) Error() string {
	return fmt.Sprintf("generation failed for %s/%s: %s", e.PluginID, e.InstanceID, e.Reason)
}

func (e *GenerationFailure) Unwrap() error { return e.Err }

var ErrEmptyImage = errors.New("generator returned an empty image")

type Pipeline struct {
	registry *plugin.Registry
	cache    *cache.LRU
	storage  storage.Storage
	cfg      Config
	logger   zerolog.Logger
	group    singleflight.Group
	now      func() time.Time
}

// New builds a pipeline. store may be nil to skip publishing artifacts.
func New(registry *plugin.Registry, c *cache.LRU, store storage.Storage, cfg Config, logger zerolog.Logger) *Pipeline {
	if cfg.GeneratorTimeout <= 0 {
		cfg.GeneratorTimeout = 30 * time.Second
	}
	if cfg.ErrorTTL <= 0 {
		cfg.ErrorTTL = 5 * time.Minute
	}
	return &Pipeline{
		registry: registry,
		cache:    c,
		storage:  store,
		cfg:      cfg,
		logger:   logger.With().Str("component", "pipeline").Logger(),
		now:      time.Now,
	}
}

type fingerprintInput struct {
	Plugin   string         `json:"plugin"`
	Instance string         `json:"instance"`
	Settings model.Settings `json:"settings"`
	CacheKey string         `json:"cache_key,omitempty"`
	Bucket   *int64         `json:"bucket,omitempty"`
}

// Fingerprint is the cache identity of req at now. The time bucket only
// participates when the plugin declares a TTL.
func Fingerprint(req Request, cacheKey string, ttl time.Duration, now time.Time) string {
	in := fingerprintInput{
		Plugin:   req.PluginID,
		Instance: req.InstanceID,
		Settings: req.Settings,
		CacheKey: cacheKey,
	}
	if in.Settings == nil {
		in.Settings = model.Settings{}
	}
	if ttl > 0 {
		secs := int64(ttl / time.Second)
		if secs < 1 {
			secs = 1
		}
		b := now.Unix() / secs
		in.Bucket = &b
	}
	// encoding/json sorts map keys, so equal settings encode identically.
	raw, err := json.Marshal(in)
	if err != nil {
		raw = []byte(fmt.Sprintf("%s|%s|%v|%s", in.Plugin, in.Instance, in.Settings, in.CacheKey))
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

type result struct {
	artifact model.ImageArtifact
	failure  *GenerationFailure
	// abandoned is set when the caller's context ended mid-generation.
	abandoned error
}

// Produce returns the artifact for req at now, generating it on a cache
// miss. A *GenerationFailure error comes with the error artifact. If ctx
// ends before the generator finishes, the error wraps ctx.Err(), the
// artifact is empty and nothing is cached.
func (p *Pipeline) Produce(ctx context.Context, req Request, now time.Time) (model.ImageArtifact, error) {
	pl, lookupErr := p.registry.Lookup(req.PluginID)
	var (
		cacheKey string
		ttl      time.Duration
	)
	if lookupErr == nil {
		cacheKey = pl.CacheKey(req.Settings)
		ttl = pl.CacheTTL(req.Settings)
	}
	fp := Fingerprint(req, cacheKey, ttl, now)

	if r, ok := p.cached(ctx, fp, now); ok {
		telemetry.CacheLookups.WithLabelValues("hit").Inc()
		return r.artifact, r.err()
	}
	telemetry.CacheLookups.WithLabelValues("miss").Inc()

	for {
		v, _, _ := p.group.Do(fp, func() (any, error) {
			// a caller that lost the race may find the entry already filled
			if r, ok := p.cached(ctx, fp, now); ok {
				return r, nil
			}
			if lookupErr != nil {
				return p.fail(ctx, req, fp, lookupErr, now), nil
			}
			return p.generate(ctx, pl, req, fp, ttl, now), nil
		})
		r := v.(result)
		// a shared call abandoned by another caller's context is retried
		if r.abandoned != nil && ctx.Err() == nil {
			continue
		}
		return r.artifact, r.err()
	}
}

func (r result) err() error {
	if r.abandoned != nil {
		return r.abandoned
	}
	if r.failure == nil {
		return nil
	}
	return r.failure
}

func (p *Pipeline) cached(ctx context.Context, fp string, now time.Time) (result, bool) {
	entry, ok := p.cache.GetAt(ctx, fp, now)
	if !ok {
		return result{}, false
	}
	r := result{artifact: entry.Artifact}
	if entry.Artifact.IsError {
		r.failure = &GenerationFailure{
			PluginID:   entry.Artifact.PluginID,
			InstanceID: entry.Artifact.InstanceID,
			Reason:     entry.Artifact.Reason,
			Cached:     true,
		}
	}
	return r, true
}

func (p *Pipeline) generate(ctx context.Context, pl plugin.Plugin, req Request, fp string, ttl time.Duration, now time.Time) result {
	logger := p.logger.With().Str("plugin_id", req.PluginID).Str("instance_id", req.InstanceID).Logger()

	if err := pl.Validate(req.Settings); err != nil {
		return p.fail(ctx, req, fp, err, now)
	}

	start := p.now()
	img, err := p.runGenerator(ctx, pl.Generator, req.Settings)
	telemetry.GenerationDuration.WithLabelValues(req.PluginID).Observe(p.now().Sub(start).Seconds())
	if err == nil && len(img.Data) == 0 {
		err = ErrEmptyImage
	}
	if err != nil {
		if ctx.Err() != nil {
			logger.Warn().Err(err).Msg("generation abandoned, caller context ended")
			return result{abandoned: fmt.Errorf("generation of %s/%s abandoned: %w", req.PluginID, req.InstanceID, ctx.Err())}
		}
		return p.fail(ctx, req, fp, err, now)
	}

	contentType := img.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}
	art := model.ImageArtifact{
		ID:          artifactID("img", img.Data),
		Fingerprint: fp,
		PluginID:    req.PluginID,
		InstanceID:  req.InstanceID,
		ContentType: contentType,
		Data:        img.Data,
		CreatedAt:   now,
	}
	p.publish(ctx, &art)

	p.cache.Put(ctx, model.CacheEntry{Fingerprint: fp, Artifact: art, CreatedAt: art.CreatedAt, TTL: ttl})
	logger.Info().Str("image_id", art.ID).Int("bytes", len(art.Data)).Msg("image generated")
	return result{artifact: art}
}

// runGenerator calls the untrusted generator with a deadline and converts
// panics into errors. A generator that ignores its context keeps running in
// the background but its result is discarded.
func (p *Pipeline) runGenerator(ctx context.Context, gen plugin.Generator, settings model.Settings) (plugin.Image, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.GeneratorTimeout)
	defer cancel()

	type outcome struct {
		img plugin.Image
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("generator panicked: %v", r)}
			}
		}()
		img, err := gen.GenerateImage(ctx, settings.Clone())
		done <- outcome{img: img, err: err}
	}()

	select {
	case o := <-done:
		return o.img, o.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return plugin.Image{}, fmt.Errorf("generator timed out after %s: %w", p.cfg.GeneratorTimeout, ctx.Err())
		}
		return plugin.Image{}, fmt.Errorf("generator stopped: %w", ctx.Err())
	}
}

// fail renders and caches the error artifact for fp.
func (p *Pipeline) fail(ctx context.Context, req Request, fp string, cause error, now time.Time) result {
	telemetry.GenerationFailures.WithLabelValues(req.PluginID).Inc()
	reason := cause.Error()
	p.logger.Warn().Err(cause).
		Str("plugin_id", req.PluginID).
		Str("instance_id", req.InstanceID).
		Msg("generation failed, using error artifact")

	data, err := renderErrorImage("Content unavailable: "+req.InstanceID, reason, p.cfg.Width, p.cfg.Height)
	if err != nil {
		p.logger.Error().Err(err).Msg("failed to render error artifact")
		data = []byte(reason)
	}
	art := model.ImageArtifact{
		ID:          artifactID("err", data),
		Fingerprint: fp,
		PluginID:    req.PluginID,
		InstanceID:  req.InstanceID,
		ContentType: defaultContentType,
		Data:        data,
		IsError:     true,
		Reason:      reason,
		CreatedAt:   now,
	}
	p.cache.Put(ctx, model.CacheEntry{Fingerprint: fp, Artifact: art, CreatedAt: art.CreatedAt, TTL: p.cfg.ErrorTTL})

	return result{
		artifact: art,
		failure: &GenerationFailure{
			PluginID:   req.PluginID,
			InstanceID: req.InstanceID,
			Reason:     reason,
			Err:        cause,
		},
	}
}

func (p *Pipeline) publish(ctx context.Context, art *model.ImageArtifact) {
	if p.storage == nil {
		return
	}
	ref, err := p.storage.SaveArtifact(ctx, art.ID, art.ContentType, art.Data)
	if err != nil {
		p.logger.Warn().Err(err).Str("image_id", art.ID).Msg("failed to publish artifact")
		return
	}
	art.Ref = ref
}

// Lookup returns a cached artifact by id regardless of its TTL.
func (p *Pipeline) Lookup(id string) (model.ImageArtifact, bool) {
	return p.cache.FindArtifact(id)
}

// Invalidate drops the entry for fingerprint.
func (p *Pipeline) Invalidate(ctx context.Context, fingerprint string) bool {
	return p.cache.Remove(ctx, fingerprint)
}

// InvalidateInstance drops every cached render of instanceID.
func (p *Pipeline) InvalidateInstance(instanceID string) int {
	removed := p.cache.RemoveFunc(context.Background(), func(e model.CacheEntry) bool {
		return e.Artifact.InstanceID == instanceID
	})
	return len(removed)
}

func artifactID(prefix string, data []byte) string {
	sum := sha256.Sum256(data)
	return prefix + "-" + hex.EncodeToString(sum[:8])
}
