package syncer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/bizsync/registry-sync/pkg/business"
	"github.com/bizsync/registry-sync/pkg/notify"
	"github.com/bizsync/registry-sync/pkg/upstream"
)

// MockFetcher is a mock implementation of PageFetcher
type MockFetcher struct {
	FetchPageFunc func(ctx context.Context, req upstream.PageRequest) (*upstream.PageResult, error)
	calls         atomic.Int32
}

func (m *MockFetcher) FetchPage(ctx context.Context, req upstream.PageRequest) (*upstream.PageResult, error) {
	m.calls.Add(1)
	if m.FetchPageFunc != nil {
		return m.FetchPageFunc(ctx, req)
	}
	return &upstream.PageResult{PageNo: req.PageNo}, nil
}

func (m *MockFetcher) Calls() int { return int(m.calls.Load()) }

// feed serves pages in order and an empty page after the last one.
func feed(pages ...[]upstream.RawItem) *MockFetcher {
	return &MockFetcher{
		FetchPageFunc: func(_ context.Context, req upstream.PageRequest) (*upstream.PageResult, error) {
			res := &upstream.PageResult{PageNo: req.PageNo, NumOfRows: req.NumOfRows, ResultCode: "00"}
			if req.PageNo <= len(pages) {
				res.Items = pages[req.PageNo-1]
			}
			return res, nil
		},
	}
}

func item(id int) upstream.RawItem {
	return upstream.RawItem{
		"bizesId":    fmt.Sprintf("B-%03d", id),
		"bizesNm":    fmt.Sprintf("가게 %d", id),
		"rdnmAdr":    "서울특별시 강남구 테헤란로 123",
		"indsLclsNm": "음식",
		"trdStateNm": "영업중",
	}
}

func items(from, to int) []upstream.RawItem {
	out := make([]upstream.RawItem, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, item(i))
	}
	return out
}

// MockStore is a mock implementation of RecordStore
type MockStore struct {
	ExistingIDsFunc func(ctx context.Context, ids []string) (map[string]struct{}, error)
	UpsertBatchFunc func(ctx context.Context, records []*business.Record) (int, error)
	upserts         atomic.Int32
}

func (m *MockStore) ExistingIDs(ctx context.Context, ids []string) (map[string]struct{}, error) {
	if m.ExistingIDsFunc != nil {
		return m.ExistingIDsFunc(ctx, ids)
	}
	return map[string]struct{}{}, nil
}

func (m *MockStore) UpsertBatch(ctx context.Context, records []*business.Record) (int, error) {
	m.upserts.Add(1)
	if m.UpsertBatchFunc != nil {
		return m.UpsertBatchFunc(ctx, records)
	}
	return len(records), nil
}

// recordingNotifier keeps every event it receives.
type recordingNotifier struct {
	mu        sync.Mutex
	started   []notify.StartEvent
	records   []notify.RecordEvent
	completed []notify.CompleteEvent
	failed    []notify.FailEvent
}

func (n *recordingNotifier) SyncStarted(_ context.Context, ev notify.StartEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.started = append(n.started, ev)
}

func (n *recordingNotifier) NewRecord(_ context.Context, ev notify.RecordEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.records = append(n.records, ev)
}

func (n *recordingNotifier) SyncCompleted(_ context.Context, ev notify.CompleteEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, ev)
}

func (n *recordingNotifier) SyncFailed(_ context.Context, ev notify.FailEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, ev)
}
