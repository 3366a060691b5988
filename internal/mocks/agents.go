// Package mocks содержит моки и in-memory фейки для юнит-тестов.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"eduvideo-server/internal/agents"
	"eduvideo-server/internal/models"
)

// NarrativeAgent - мок agents.NarrativeAgent.
type NarrativeAgent struct {
	mock.Mock
}

func (m *NarrativeAgent) Run(ctx context.Context, input agents.ScriptInput) (*agents.ScriptOutput, models.StageCost, error) {
	args := m.Called(ctx, input)
	var out *agents.ScriptOutput
	if args.Get(0) != nil {
		out = args.Get(0).(*agents.ScriptOutput)
	}
	return out, args.Get(1).(models.StageCost), args.Error(2)
}

// VisualAgent - мок agents.VisualAgent.
type VisualAgent struct {
	mock.Mock
}

func (m *VisualAgent) GenerateBatch(ctx context.Context, reqs []agents.VisualRequest, onDone func(completed, total int)) ([]agents.VisualResult, models.StageCost, error) {
	args := m.Called(ctx, reqs, onDone)
	var results []agents.VisualResult
	if args.Get(0) != nil {
		results = args.Get(0).([]agents.VisualResult)
	}
	return results, args.Get(1).(models.StageCost), args.Error(2)
}

func (m *VisualAgent) GenerateOne(ctx context.Context, req agents.VisualRequest) (*agents.VisualResult, models.StageCost, error) {
	args := m.Called(ctx, req)
	var res *agents.VisualResult
	if args.Get(0) != nil {
		res = args.Get(0).(*agents.VisualResult)
	}
	return res, args.Get(1).(models.StageCost), args.Error(2)
}

// AudioAgent - мок agents.AudioAgent.
type AudioAgent struct {
	mock.Mock
}

func (m *AudioAgent) Run(ctx context.Context, reqs []agents.AudioRequest, onDone func(completed, total int)) ([]agents.AudioResult, models.StageCost, error) {
	args := m.Called(ctx, reqs, onDone)
	var results []agents.AudioResult
	if args.Get(0) != nil {
		results = args.Get(0).([]agents.AudioResult)
	}
	return results, args.Get(1).(models.StageCost), args.Error(2)
}
