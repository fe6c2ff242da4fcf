package relay

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/fpang/blessing-relay/internal/asset"
	"github.com/fpang/blessing-relay/internal/taskstore"
)

type stubFetcher struct {
	calls int
	err   error
}

func (f *stubFetcher) Fetch(_ context.Context, locator string) (*asset.Encoded, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &asset.Encoded{Base64: "aW1n", MediaType: "image/jpeg", Size: 3}, nil
}

// flakyStore wraps a store and can fail individual operations.
type flakyStore struct {
	taskstore.Store
	getErr    error
	deleteErr error
}

func (s *flakyStore) Get(ctx context.Context, id string) (*taskstore.Record, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.Store.Get(ctx, id)
}

func (s *flakyStore) Delete(ctx context.Context, id string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	return s.Store.Delete(ctx, id)
}

func newTestService(t *testing.T) (*Service, *taskstore.MemoryStore, *stubFetcher) {
	t.Helper()
	store := taskstore.NewMemoryStore(taskstore.DefaultTTL)
	t.Cleanup(func() { store.Close() })
	fetcher := &stubFetcher{}
	return NewService(store, fetcher), store, fetcher
}

func put(t *testing.T, s taskstore.Store, id string, code int, msg, data string) {
	t.Helper()
	rec := &taskstore.Record{Code: code, Message: msg}
	if data != "" {
		rec.Payload = json.RawMessage(data)
	}
	if err := s.Put(context.Background(), id, rec); err != nil {
		t.Fatalf("Put: %v", err)
	}
}

func TestPoll_SuccessIsDeliveredOnce(t *testing.T) {
	svc, store, fetcher := newTestService(t)
	ctx := context.Background()
	put(t, store, "t1", 200, "success", `{"taskId":"t1","info":{"resultImageUrl":"https://x/img.jpg"}}`)

	res, err := svc.Poll(ctx, "t1")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if res.Outcome.Kind != Success || res.Asset == nil {
		t.Fatalf("expected success with asset, got %+v", res)
	}
	if res.Asset.Base64 != "aW1n" {
		t.Errorf("expected encoded asset, got %q", res.Asset.Base64)
	}

	res, err = svc.Poll(ctx, "t1")
	if err != nil {
		t.Fatalf("second Poll: %v", err)
	}
	if res.Outcome.Kind != Processing {
		t.Errorf("expected processing after consumption, got %s", res.Outcome.Kind)
	}
	if fetcher.calls != 1 {
		t.Errorf("expected 1 fetch, got %d", fetcher.calls)
	}
}

func TestPoll_ProviderFailureConsumed(t *testing.T) {
	svc, store, fetcher := newTestService(t)
	ctx := context.Background()
	put(t, store, "t2", 400, "policy", `{"taskId":"t2"}`)

	res, err := svc.Poll(ctx, "t2")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if res.Outcome.Reason != ReasonContentPolicy {
		t.Errorf("expected content policy, got %q", res.Outcome.Reason)
	}
	if got, _ := store.Get(ctx, "t2"); got != nil {
		t.Error("expected failure record to be deleted")
	}
	if fetcher.calls != 0 {
		t.Errorf("expected no fetch for a failed task, got %d", fetcher.calls)
	}
}

func TestPoll_NoRecordIsProcessing(t *testing.T) {
	svc, _, _ := newTestService(t)
	res, err := svc.Poll(context.Background(), "t3")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if res.Outcome.Kind != Processing || res.Outcome.Message != MsgProcessing {
		t.Errorf("expected processing, got %+v", res.Outcome)
	}
}

func TestPoll_MissingLocatorConsumed(t *testing.T) {
	svc, store, fetcher := newTestService(t)
	ctx := context.Background()
	put(t, store, "t4", 200, "success", `{"taskId":"t4","info":{}}`)

	res, err := svc.Poll(ctx, "t4")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if res.Outcome.Reason != ReasonAssetMissing {
		t.Errorf("expected asset_missing, got %q", res.Outcome.Reason)
	}
	if got, _ := store.Get(ctx, "t4"); got != nil {
		t.Error("expected record without locator to be deleted")
	}
	if fetcher.calls != 0 {
		t.Errorf("expected no fetch, got %d", fetcher.calls)
	}
}

func TestPoll_FetchFailureKeepsRecord(t *testing.T) {
	svc, store, fetcher := newTestService(t)
	ctx := context.Background()
	put(t, store, "t5", 200, "success", `{"info":{"resultImageUrl":"https://x/img.jpg"}}`)
	fetcher.err = asset.ErrFetch

	res, err := svc.Poll(ctx, "t5")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if res.Outcome.Kind != Failure || res.Outcome.Reason != ReasonAssetFetch {
		t.Errorf("expected asset_fetch failure, got %+v", res.Outcome)
	}
	if got, _ := store.Get(ctx, "t5"); got == nil {
		t.Fatal("expected record to be kept after fetch failure")
	}

	// The download recovers: the retry delivers and consumes.
	fetcher.err = nil
	res, err = svc.Poll(ctx, "t5")
	if err != nil {
		t.Fatalf("retry Poll: %v", err)
	}
	if res.Outcome.Kind != Success {
		t.Errorf("expected success on retry, got %s", res.Outcome.Kind)
	}
	if got, _ := store.Get(ctx, "t5"); got != nil {
		t.Error("expected record to be consumed after successful retry")
	}
}

func TestPoll_StoreErrors(t *testing.T) {
	ctx := context.Background()
	mem := taskstore.NewMemoryStore(taskstore.DefaultTTL)
	defer mem.Close()
	flaky := &flakyStore{Store: mem}
	svc := NewService(flaky, &stubFetcher{})

	flaky.getErr = taskstore.ErrStoreUnavailable
	if _, err := svc.Poll(ctx, "t6"); !errors.Is(err, taskstore.ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable on read, got %v", err)
	}

	// A failed delete must not report the result as delivered.
	flaky.getErr = nil
	flaky.deleteErr = taskstore.ErrStoreUnavailable
	put(t, mem, "t6", 200, "", `{"info":{"resultImageUrl":"https://x/a.jpg"}}`)
	if _, err := svc.Poll(ctx, "t6"); !errors.Is(err, taskstore.ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable on delete, got %v", err)
	}
	if got, _ := mem.Get(ctx, "t6"); got == nil {
		t.Error("expected record to remain when delete failed")
	}

	put(t, mem, "t7", 500, "", "")
	if _, err := svc.Poll(ctx, "t7"); !errors.Is(err, taskstore.ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable deleting a failure, got %v", err)
	}
}

func TestPoll_LateDuplicateCallbackAgesOut(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	payload := `{"info":{"resultImageUrl":"https://x/img.jpg"}}`

	put(t, store, "t8", 200, "", payload)
	if _, err := svc.Poll(ctx, "t8"); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	// A duplicate delivered after consumption recreates the record; it is
	// served again only to a new poll and otherwise ages out.
	put(t, store, "t8", 200, "", payload)
	if store.Len() != 1 {
		t.Errorf("expected recreated record, got %d records", store.Len())
	}
}
