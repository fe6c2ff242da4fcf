package taskstore

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeDynamo is an in-memory stand-in for the three item operations.
type fakeDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
	err   error

	lastGet *dynamodb.GetItemInput
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func itemKey(key map[string]types.AttributeValue) string {
	pk := key["PK"].(*types.AttributeValueMemberS).Value
	sk := key["SK"].(*types.AttributeValueMemberS).Value
	return pk + "|" + sk
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.items[itemKey(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastGet = in
	if f.err != nil {
		return nil, f.err
	}
	return &dynamodb.GetItemOutput{Item: f.items[itemKey(in.Key)]}, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	delete(f.items, itemKey(in.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func newTestDynamoStore(clock *fakeClock) (*DynamoStore, *fakeDynamo) {
	fake := newFakeDynamo()
	s := NewDynamoStore(fake, "blessing-tasks", testTTL)
	s.now = clock.Now
	return s, fake
}

func TestDynamoStore_Contract(t *testing.T) {
	testStoreContract(t, func(t *testing.T, clock *fakeClock) Store {
		s, _ := newTestDynamoStore(clock)
		return s
	})
}

func TestDynamoStore_ItemLayout(t *testing.T) {
	clock := newFakeClock()
	s, fake := newTestDynamoStore(clock)

	if err := s.Put(context.Background(), "t1", successRecord("https://x/a.jpg")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	item, ok := fake.items["TASK#t1|RESULT"]
	if !ok {
		t.Fatalf("expected item under TASK#t1/RESULT, have %v", fake.items)
	}
	exp, ok := item["expiresAt"].(*types.AttributeValueMemberN)
	if !ok {
		t.Fatal("expected numeric expiresAt attribute")
	}
	want := strconv.FormatInt(clock.Now().Add(testTTL).Unix(), 10)
	if exp.Value != want {
		t.Errorf("expected expiresAt %s, got %s", want, exp.Value)
	}
	if _, ok := item["data"].(*types.AttributeValueMemberS); !ok {
		t.Error("expected payload stored as string attribute data")
	}
}

func TestDynamoStore_ConsistentRead(t *testing.T) {
	s, fake := newTestDynamoStore(newFakeClock())
	if _, err := s.Get(context.Background(), "t1"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if fake.lastGet == nil || fake.lastGet.ConsistentRead == nil || !*fake.lastGet.ConsistentRead {
		t.Error("expected GetItem to request a strongly consistent read")
	}
}

func TestDynamoStore_BackendError(t *testing.T) {
	s, fake := newTestDynamoStore(newFakeClock())
	fake.err = errors.New("ProvisionedThroughputExceededException")

	ctx := context.Background()
	if err := s.Put(ctx, "t1", successRecord("https://x/a.jpg")); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("Put: expected ErrStoreUnavailable, got %v", err)
	}
	if _, err := s.Get(ctx, "t1"); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("Get: expected ErrStoreUnavailable, got %v", err)
	}
	if err := s.Delete(ctx, "t1"); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("Delete: expected ErrStoreUnavailable, got %v", err)
	}
}
