package clients

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
)

// Offline is a deterministic stand-in for both services, used when no
// service URL is configured. It never fails.
type Offline struct{}

var offlineActions = []string{"BUY", "SELL", "HOLD"}

// Invoke returns canned content derived from the request.
func (Offline) Invoke(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, context.Cause(ctx)
	}
	if len(req.Messages) == 0 {
		symbol := req.Params["symbol"]
		return Response{
			Content: fmt.Sprintf("%s data for %s", req.Operation, symbol),
			Data:    map[string]any{"symbol": symbol, "operation": req.Operation, "offline": true},
		}, nil
	}

	prompt := req.Messages[len(req.Messages)-1].Content
	h := fnv.New32a()
	_, _ = h.Write([]byte(prompt))
	action := offlineActions[h.Sum32()%uint32(len(offlineActions))]
	summary := prompt
	if i := strings.IndexByte(summary, '\n'); i >= 0 {
		summary = summary[:i]
	}
	return Response{Content: fmt.Sprintf("%s\nFINAL TRANSACTION PROPOSAL: **%s**", summary, action)}, nil
}
