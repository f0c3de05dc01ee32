package gateway

import (
	"context"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/xiaot623/llmgate/domain"
)

// EstimateCost computes the cost of an exchange from per-1K-token rates,
// rounded to precision decimal places.
func EstimateCost(inputTokens, outputTokens int, costPerKIn, costPerKOut float64, precision int) float64 {
	cost := float64(inputTokens)/1000*costPerKIn + float64(outputTokens)/1000*costPerKOut
	factor := math.Pow(10, float64(precision))
	return math.Round(cost*factor) / factor
}

// recordUsage emits the write-once accounting entry for one exchange.
// A sink failure is logged, never surfaced: accounting must not break the
// exchange outcome already delivered to the client.
func (s *Service) recordUsage(ctx context.Context, model *domain.ModelInfo, sessionID, modelID string, inputTokens, outputTokens int, started time.Time, success bool, errMsg string) {
	var costIn, costOut float64
	if model != nil {
		costIn = model.CostPerKInput
		costOut = model.CostPerKOutput
	}

	rec := &domain.UsageRecord{
		RecordID:      "usg_" + uuid.New().String()[:8],
		SessionID:     sessionID,
		ModelID:       modelID,
		InputTokens:   inputTokens,
		OutputTokens:  outputTokens,
		EstimatedCost: EstimateCost(inputTokens, outputTokens, costIn, costOut, s.cfg.CostPrecision),
		DurationMs:    time.Since(started).Milliseconds(),
		Success:       success,
		ErrorMessage:  errMsg,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.store.RecordUsage(ctx, rec); err != nil {
		log.Printf("ERROR: failed to record usage for session %s: %v", sessionID, err)
	}
}
