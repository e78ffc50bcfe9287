package llm

import "context"

// FakeClient is an in-memory Client used by tests across the repo (agent
// runners, decomposer, estimator, interview engine) so they never shell
// out to a real CLI. Grounded on the capability-interface guidance in
// spec.md §9 — every consumer of Client must work against this fake.
type FakeClient struct {
	Responses []Response
	Errors    []error
	calls     int
	Requests  []Request
}

func (f *FakeClient) Complete(_ context.Context, req Request) (*Response, error) {
	f.Requests = append(f.Requests, req)
	idx := f.calls
	f.calls++
	if idx < len(f.Errors) && f.Errors[idx] != nil {
		return nil, f.Errors[idx]
	}
	if idx < len(f.Responses) {
		r := f.Responses[idx]
		return &r, nil
	}
	if len(f.Responses) > 0 {
		r := f.Responses[len(f.Responses)-1]
		return &r, nil
	}
	return &Response{Content: "{}"}, nil
}

// ChatStream fakes the streaming half of Client by replaying whatever
// Complete would have returned as a single ChunkDone, or a single
// ChunkError for a queued error. Tests exercising chatStream callers
// don't need a real subprocess to see a chunk arrive.
func (f *FakeClient) ChatStream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	resp, err := f.Complete(ctx, req)
	out := make(chan StreamChunk, 1)
	if err != nil {
		out <- StreamChunk{Kind: ChunkError, Err: err}
		close(out)
		return out, nil
	}
	out <- StreamChunk{Kind: ChunkDone, Text: resp.Content}
	close(out)
	return out, nil
}
