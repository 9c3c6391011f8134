package dispatch

import (
	"context"

	"github.com/agentmesh/agentmesh/internal/agent/classify"
	"github.com/agentmesh/agentmesh/internal/hub/wire"
)

// AwaitReply waits for mentions on a classified budget: the class wait
// window is issued as successive slices no larger than sliceMs, so the
// caller stays responsive and cancellable while a slow specialist still
// gets its full window. It returns the first non-empty batch, or an
// empty batch once the budget is exhausted.
func AwaitReply(ctx context.Context, client HubClient, d classify.Decision, sliceMs int64) ([]wire.MentionDelivery, error) {
	for _, slice := range classify.SliceBudget(d.WaitMs, sliceMs) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		batch, err := client.WaitForMentions(ctx, slice)
		if err != nil || len(batch) > 0 {
			return batch, err
		}
	}
	return nil, nil
}
