package snapshot

import (
	"context"
	"time"

	"github.com/hazyhaar/snapwipe/kit"
	"github.com/hazyhaar/snapwipe/observability"
)

// RenderRequest is a decoded render call from any transport.
type RenderRequest struct {
	Tasks []Task
	// Legacy marks the single-task request shape, answered with a single
	// snapshot.
	Legacy bool
}

// BatchResponse answers a {tasks:[...]} request.
type BatchResponse struct {
	Snapshots []string `json:"snapshots"`
}

// SingleResponse answers the legacy single-task request.
type SingleResponse struct {
	Snapshot string `json:"snapshot"`
}

// Endpoint returns the transport-neutral render endpoint shared by HTTP
// and MCP.
func (s *Service) Endpoint() kit.Endpoint {
	return kit.Chain(s.logBatch)(s.render)
}

func (s *Service) render(ctx context.Context, req any) (any, error) {
	r := req.(*RenderRequest)
	out, err := s.Render(ctx, r.Tasks)
	if err != nil {
		return nil, err
	}
	if r.Legacy {
		return &SingleResponse{Snapshot: out[0]}, nil
	}
	return &BatchResponse{Snapshots: out}, nil
}

// logBatch writes one batch record per call when a batch log is wired.
func (s *Service) logBatch(next kit.Endpoint) kit.Endpoint {
	return func(ctx context.Context, req any) (any, error) {
		if s.batches == nil {
			return next(ctx, req)
		}
		r := req.(*RenderRequest)
		start := time.Now()
		resp, err := next(ctx, req)

		caller := kit.CallerOf(ctx)
		rec := &observability.BatchRecord{
			BatchID:    s.batches.NewID(),
			TraceID:    caller.TraceID,
			Transport:  caller.Transport,
			RemoteAddr: caller.RemoteAddr,
			TaskCount:  len(r.Tasks),
			Legacy:     r.Legacy,
			Status:     observability.StatusSuccess,
			Duration:   time.Since(start),
		}
		if err != nil {
			rec.Status = observability.StatusError
			if IsBadRequest(err) {
				rec.Status = observability.StatusRejected
			}
			rec.Error = err.Error()
		}
		s.batches.LogAsync(rec)
		return resp, err
	}
}
