package mcp

import (
	"context"

	"github.com/custodia-labs/detectsearch/internal/core/domain"
)

// mockSearchService is a mock implementation of driving.SearchService.
type mockSearchService struct {
	page *domain.SearchPage
	err  error

	gotUser  string
	gotLabel string
	gotOpts  domain.SearchOptions
}

func (m *mockSearchService) Search(
	_ context.Context,
	userID, label string,
	opts domain.SearchOptions,
) (*domain.SearchPage, error) {
	m.gotUser, m.gotLabel, m.gotOpts = userID, label, opts
	if m.err != nil {
		return nil, m.err
	}
	if m.page == nil {
		return &domain.SearchPage{}, nil
	}
	return m.page, nil
}

// mockDetectionService is a mock implementation of driving.DetectionService.
type mockDetectionService struct {
	records map[string]*domain.DetectionRecord
	page    *domain.RecordPage
	err     error

	gotUser string
	gotOpts domain.SearchOptions
}

func (m *mockDetectionService) Get(_ context.Context, imageID string) (*domain.DetectionRecord, error) {
	if m.err != nil {
		return nil, m.err
	}
	rec, ok := m.records[imageID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return rec, nil
}

func (m *mockDetectionService) ListByUser(_ context.Context, userID string, opts domain.SearchOptions) (*domain.RecordPage, error) {
	m.gotUser, m.gotOpts = userID, opts
	if m.err != nil {
		return nil, m.err
	}
	if m.page == nil {
		return &domain.RecordPage{}, nil
	}
	return m.page, nil
}

func (m *mockDetectionService) Delete(_ context.Context, _ string) error {
	return m.err
}

func (m *mockDetectionService) State(_ context.Context, _ string) (domain.RecordState, error) {
	return domain.StateIndexed, m.err
}
