package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"eduvideo-server/internal/models"
	"eduvideo-server/internal/validator"
)

// VisionValidator - мок validator.VisionValidator.
type VisionValidator struct {
	mock.Mock
}

func (m *VisionValidator) ValidateAssets(ctx context.Context, items []validator.Item, onDone func(completed, total int)) ([]models.AssetVerdict, models.StageCost, error) {
	args := m.Called(ctx, items, onDone)
	var verdicts []models.AssetVerdict
	if args.Get(0) != nil {
		verdicts = args.Get(0).([]models.AssetVerdict)
	}
	return verdicts, args.Get(1).(models.StageCost), args.Error(2)
}

func (m *VisionValidator) QuickCheck(ctx context.Context, item validator.Item) (bool, models.StageCost, error) {
	args := m.Called(ctx, item)
	return args.Bool(0), args.Get(1).(models.StageCost), args.Error(2)
}
