package embedding

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockProvider is a mock implementation of site.EmbeddingProvider for testing.
type MockProvider struct {
	mock.Mock
}

// Embed is the mock implementation of the Embed method.
func (m *MockProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if v := args.Get(0); v != nil {
		return v.([]float32), args.Error(1)
	}
	return nil, args.Error(1)
}
