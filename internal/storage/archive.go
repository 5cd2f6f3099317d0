package storage

import (
	"context"

	"github.com/dennisdiepolder/monti/handoff/internal/types"
	"github.com/rs/zerolog"
)

// Archive stores summaries of ended sessions for reporting
type Archive interface {
	SaveSessionRecord(ctx context.Context, record types.SessionRecord) error
	GetSessionRecords(ctx context.Context, dateKey string) ([]types.SessionRecord, error)
	GetAgentSessionsByDate(ctx context.Context, agentID, date string) ([]types.SessionRecord, error)
	GetAgentDailyStats(ctx context.Context, agentID string) ([]types.AgentDailyStats, error)
	TruncateAll(ctx context.Context) error
}

// NoopArchive is a no-op implementation when DynamoDB is disabled
type NoopArchive struct{}

func NewNoopArchive() *NoopArchive { return &NoopArchive{} }

func (a *NoopArchive) SaveSessionRecord(context.Context, types.SessionRecord) error { return nil }
func (a *NoopArchive) GetSessionRecords(context.Context, string) ([]types.SessionRecord, error) {
	return nil, nil
}
func (a *NoopArchive) GetAgentSessionsByDate(context.Context, string, string) ([]types.SessionRecord, error) {
	return nil, nil
}
func (a *NoopArchive) GetAgentDailyStats(context.Context, string) ([]types.AgentDailyStats, error) {
	return nil, nil
}
func (a *NoopArchive) TruncateAll(context.Context) error { return nil }

// NewArchive creates the appropriate archive based on configuration
func NewArchive(ctx context.Context, logger zerolog.Logger) (Archive, error) {
	cfg := LoadDynamoConfig()

	switch cfg.Mode {
	case DynamoModeLocal, DynamoModeAWS:
		return NewDynamoDBArchive(ctx, cfg, logger)
	default:
		logger.Info().Msg("session archive disabled (DYNAMO_MODE=none)")
		return NewNoopArchive(), nil
	}
}
