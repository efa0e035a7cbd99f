package service

import (
	"context"
	"errors"
	"strings"

	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/store"
)

func defaultSettings(ownerID string) domain.Settings {
	return domain.Settings{
		OwnerID:        ownerID,
		ShopName:       domain.DefaultShopName,
		LogoURL:        domain.DefaultLogoURL,
		NearExpiryDays: domain.DefaultNearExpiryDays,
	}
}

// GetSettings returns the owner's saved settings, or the defaults when none
// were saved yet.
func (s *Service) GetSettings(ctx context.Context) (domain.Settings, error) {
	ownerID, err := s.owner(ctx)
	if err != nil {
		return domain.Settings{}, err
	}
	return s.settingsOf(ctx, ownerID)
}

func (s *Service) settingsOf(ctx context.Context, ownerID string) (domain.Settings, error) {
	settings, err := s.repo.GetSettings(ctx, ownerID)
	if errors.Is(err, store.ErrNotFound) {
		return defaultSettings(ownerID), nil
	}
	if err != nil {
		return domain.Settings{}, err
	}
	if settings.NearExpiryDays < 1 {
		settings.NearExpiryDays = domain.DefaultNearExpiryDays
	}
	return *settings, nil
}

func (s *Service) UpdateSettings(ctx context.Context, req domain.SettingsRequest) (domain.Settings, error) {
	ownerID, err := s.owner(ctx)
	if err != nil {
		return domain.Settings{}, err
	}
	if err := checkRequest(req); err != nil {
		return domain.Settings{}, err
	}
	current, err := s.settingsOf(ctx, ownerID)
	if err != nil {
		return domain.Settings{}, err
	}

	current.OwnerName = strings.TrimSpace(req.OwnerName)
	current.ShopName = defaultString(req.ShopName, domain.DefaultShopName)
	current.Address = strings.TrimSpace(req.Address)
	current.Contact = strings.TrimSpace(req.Contact)
	current.LogoURL = defaultString(req.LogoURL, domain.DefaultLogoURL)
	if req.NearExpiryDays != nil {
		current.NearExpiryDays = *req.NearExpiryDays
	}

	saved, err := s.repo.UpsertSettings(ctx, current)
	if err != nil {
		return domain.Settings{}, err
	}
	s.invalidateStats(ctx, ownerID)
	return *saved, nil
}
