package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"eduvideo-server/internal/compositor"
	"eduvideo-server/internal/models"
)

// Compositor - мок compositor.Compositor.
type Compositor struct {
	mock.Mock
}

func (m *Compositor) Compose(ctx context.Context, req compositor.Request) (*compositor.Result, models.StageCost, error) {
	args := m.Called(ctx, req)
	var res *compositor.Result
	if args.Get(0) != nil {
		res = args.Get(0).(*compositor.Result)
	}
	return res, args.Get(1).(models.StageCost), args.Error(2)
}
