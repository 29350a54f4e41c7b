package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/aman-churiwal/capital-proxy/internal/models"
	"github.com/google/uuid"
)

const (
	KeyPrefix   = "cg_"
	keyCacheTTL = 5 * time.Minute
)

var ErrUnknownTier = errors.New("unknown rate limit tier")

// Persistence used by APIKeyService, implemented by repository.APIKeyRepository
type APIKeyStore interface {
	Create(ctx context.Context, apiKey *models.APIKey) error
	FindByHash(ctx context.Context, hash string) (*models.APIKey, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.APIKey, error)
	List(ctx context.Context) ([]models.APIKey, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error
	UpdateLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error
	Delete(ctx context.Context, id uuid.UUID) error
	CountActive(ctx context.Context) (int64, error)
}

// Short-lived lookup cache, implemented by storage.RedisClient
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

type APIKeyService struct {
	store APIKeyStore
	cache Cache // optional
	tiers map[string]bool
}

// tiers lists the accepted tier names; empty accepts any
func NewAPIKeyService(store APIKeyStore, cache Cache, tiers []string) *APIKeyService {
	known := make(map[string]bool, len(tiers))
	for _, t := range tiers {
		known[t] = true
	}

	return &APIKeyService{
		store: store,
		cache: cache,
		tiers: known,
	}
}

// Returns the plain key, which is never stored and cannot be shown again
func (s *APIKeyService) Create(ctx context.Context, name, createdBy, tier string) (string, *models.APIKey, error) {
	if tier == "" {
		tier = "basic"
	}
	if len(s.tiers) > 0 && !s.tiers[tier] {
		return "", nil, fmt.Errorf("%w: %s", ErrUnknownTier, tier)
	}

	keyBytes := make([]byte, 32)
	if _, err := rand.Read(keyBytes); err != nil {
		return "", nil, fmt.Errorf("failed to generate random key: %w", err)
	}
	key := KeyPrefix + base64.RawURLEncoding.EncodeToString(keyBytes)

	apiKey := &models.APIKey{
		KeyHash:   hashKey(key),
		Prefix:    key[:len(KeyPrefix)+6],
		Name:      name,
		CreatedBy: createdBy,
		Tier:      tier,
		IsActive:  true,
	}

	if err := s.store.Create(ctx, apiKey); err != nil {
		return "", nil, fmt.Errorf("failed to create API key: %w", err)
	}

	log.Printf("Created API key %s (%s, tier %s)", apiKey.ID, apiKey.Prefix, tier)
	return key, apiKey, nil
}

// Resolves a presented key. Returns nil without error when the key is
// unknown or inactive.
func (s *APIKeyService) Validate(ctx context.Context, key string) (*models.APIKey, error) {
	key = strings.TrimSpace(key)
	if !strings.HasPrefix(key, KeyPrefix) {
		return nil, nil
	}

	keyHash := hashKey(key)

	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, cacheKey(keyHash)); err == nil && cached != "" {
			var apiKey models.APIKey
			if err := json.Unmarshal([]byte(cached), &apiKey); err == nil {
				return &apiKey, nil
			}
		}
	}

	apiKey, err := s.store.FindByHash(ctx, keyHash)
	if err != nil {
		return nil, err
	}
	if apiKey == nil {
		return nil, nil
	}

	if s.cache != nil {
		if encoded, err := json.Marshal(apiKey); err == nil {
			if err := s.cache.Set(ctx, cacheKey(keyHash), encoded, keyCacheTTL); err != nil {
				log.Printf("Failed to cache API key %s: %v", apiKey.ID, err)
			}
		}
	}

	return apiKey, nil
}

func (s *APIKeyService) Get(ctx context.Context, id uuid.UUID) (*models.APIKey, error) {
	return s.store.FindByID(ctx, id)
}

func (s *APIKeyService) List(ctx context.Context) ([]models.APIKey, error) {
	return s.store.List(ctx)
}

func (s *APIKeyService) CountActive(ctx context.Context) (int64, error) {
	return s.store.CountActive(ctx)
}

// Changes tier and/or active flag. Either may be nil.
func (s *APIKeyService) Update(ctx context.Context, id uuid.UUID, tier *string, isActive *bool) error {
	updates := make(map[string]interface{})
	if tier != nil {
		if len(s.tiers) > 0 && !s.tiers[*tier] {
			return fmt.Errorf("%w: %s", ErrUnknownTier, *tier)
		}
		updates["tier"] = *tier
	}
	if isActive != nil {
		updates["is_active"] = *isActive
	}
	if len(updates) == 0 {
		return nil
	}

	s.invalidateCache(ctx, id)
	return s.store.Update(ctx, id, updates)
}

func (s *APIKeyService) Delete(ctx context.Context, id uuid.UUID) error {
	s.invalidateCache(ctx, id)
	return s.store.Delete(ctx, id)
}

func (s *APIKeyService) UpdateLastUsed(ctx context.Context, id uuid.UUID) {
	if err := s.store.UpdateLastUsed(ctx, id, time.Now()); err != nil {
		log.Printf("Failed to update last use of API key %s: %v", id, err)
	}
}

func (s *APIKeyService) invalidateCache(ctx context.Context, id uuid.UUID) {
	if s.cache == nil {
		return
	}

	apiKey, err := s.store.FindByID(ctx, id)
	if err != nil || apiKey == nil {
		return
	}

	if err := s.cache.Del(ctx, cacheKey(apiKey.KeyHash)); err != nil {
		log.Printf("Failed to invalidate cached API key %s: %v", id, err)
	}
}

func hashKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

func cacheKey(hash string) string {
	return "apikey:cache:" + hash
}
