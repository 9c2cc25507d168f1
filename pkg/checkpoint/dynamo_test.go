package checkpoint

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeDynamo implements DynamoAPI over an in-process item map.
type fakeDynamo struct {
	items    map[string]map[string]types.AttributeValue
	failWith error
	lastPut  *dynamodb.PutItemInput
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func fakeKey(key map[string]types.AttributeValue) string {
	user := key[attrUserID].(*types.AttributeValueMemberS).Value
	session := key[attrSessionID].(*types.AttributeValueMemberS).Value
	return user + "\x00" + session
}

func (f *fakeDynamo) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	item, ok := f.items[fakeKey(in.Key)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: item}, nil
}

func (f *fakeDynamo) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.lastPut = in
	f.items[fakeKey(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	delete(f.items, fakeKey(in.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func TestDynamoStorePutShapesItem(t *testing.T) {
	fake := newFakeDynamo()
	store := NewDynamoStoreFromClient(fake, "session_metadata")
	ctx := context.Background()
	key := SessionKey{UserID: "alice", SessionID: "trip42"}

	payload := map[string]any{"messages": []any{}}
	meta := map[string]any{"message_count": 2}

	if err := store.Put(ctx, key, payload, meta); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	item := fake.lastPut.Item
	if got := item[attrUserID].(*types.AttributeValueMemberS).Value; got != "alice" {
		t.Errorf("user_id = %q, want alice", got)
	}
	if got := item[attrSessionID].(*types.AttributeValueMemberS).Value; got != "trip42" {
		t.Errorf("session_id = %q, want trip42", got)
	}
	if _, ok := item[attrCheckpoint].(*types.AttributeValueMemberB); !ok {
		t.Errorf("checkpoint attribute is %T, want binary", item[attrCheckpoint])
	}
	if got := item[attrCheckpointType].(*types.AttributeValueMemberS).Value; got != JSONType {
		t.Errorf("checkpoint_type = %q, want %q", got, JSONType)
	}
	if _, ok := item[attrMetadata].(*types.AttributeValueMemberM); !ok {
		t.Errorf("metadata attribute is %T, want map", item[attrMetadata])
	}
}

func TestDynamoStoreGetRoundTrip(t *testing.T) {
	fake := newFakeDynamo()
	store := NewDynamoStoreFromClient(fake, "session_metadata")
	ctx := context.Background()
	key := SessionKey{UserID: "alice", SessionID: "trip42"}

	payload := map[string]any{
		"messages": []any{map[string]any{"role": "user", "content": "hi"}},
		"step":     int64(2),
	}
	if err := store.Put(ctx, key, payload, map[string]any{"count": 3}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	rec, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec == nil {
		t.Fatal("Get() returned nil record")
	}
	state := rec.State.(map[string]any)
	if state["step"] != int64(2) {
		t.Errorf("state.step = %v (%T), want int64(2)", state["step"], state["step"])
	}
	if rec.Metadata["count"] != int64(3) {
		t.Errorf("metadata.count = %v (%T), want int64(3)", rec.Metadata["count"], rec.Metadata["count"])
	}
}

func TestDynamoStoreGetAbsent(t *testing.T) {
	store := NewDynamoStoreFromClient(newFakeDynamo(), "session_metadata")
	ctx := context.Background()

	rec, err := store.Get(ctx, SessionKey{UserID: "nobody", SessionID: "none"})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec != nil {
		t.Errorf("Get() on absent key = %+v, want nil", rec)
	}
}

func TestDynamoStoreItemWithoutCheckpointTreatedAsAbsent(t *testing.T) {
	fake := newFakeDynamo()
	fake.items["alice\x00s"] = map[string]types.AttributeValue{
		attrUserID:    &types.AttributeValueMemberS{Value: "alice"},
		attrSessionID: &types.AttributeValueMemberS{Value: "s"},
	}
	store := NewDynamoStoreFromClient(fake, "session_metadata")

	rec, err := store.Get(context.Background(), SessionKey{UserID: "alice", SessionID: "s"})
	if err != nil || rec != nil {
		t.Errorf("Get() = %v, %v; want nil, nil", rec, err)
	}
}

func TestDynamoStoreBackendFailure(t *testing.T) {
	fake := newFakeDynamo()
	fake.failWith = errors.New("connection refused")
	store := NewDynamoStoreFromClient(fake, "session_metadata")
	ctx := context.Background()
	key := SessionKey{UserID: "a", SessionID: "b"}

	if _, err := store.Get(ctx, key); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Get() = %v, want ErrUnavailable", err)
	}
	if err := store.Put(ctx, key, map[string]any{}, nil); !errors.Is(err, ErrWriteFailed) {
		t.Errorf("Put() = %v, want ErrWriteFailed", err)
	}
	if err := store.Delete(ctx, key); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Delete() = %v, want ErrUnavailable", err)
	}
}

func TestDynamoStoreUnknownTypeTag(t *testing.T) {
	fake := newFakeDynamo()
	fake.items["alice\x00s"] = map[string]types.AttributeValue{
		attrUserID:         &types.AttributeValueMemberS{Value: "alice"},
		attrSessionID:      &types.AttributeValueMemberS{Value: "s"},
		attrCheckpoint:     &types.AttributeValueMemberB{Value: []byte("{}")},
		attrCheckpointType: &types.AttributeValueMemberS{Value: "pickle"},
	}
	store := NewDynamoStoreFromClient(fake, "session_metadata")

	_, err := store.Get(context.Background(), SessionKey{UserID: "alice", SessionID: "s"})
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("Get() error = %v, want *DecodeError", err)
	}
	if decodeErr.Tag != "pickle" {
		t.Errorf("DecodeError.Tag = %q, want pickle", decodeErr.Tag)
	}
}

func TestAttrToGoNormalization(t *testing.T) {
	in := map[string]types.AttributeValue{
		"count":   &types.AttributeValueMemberN{Value: "42"},
		"whole":   &types.AttributeValueMemberN{Value: "7.0"},
		"ratio":   &types.AttributeValueMemberN{Value: "0.5"},
		"label":   &types.AttributeValueMemberS{Value: "x"},
		"flag":    &types.AttributeValueMemberBOOL{Value: true},
		"nothing": &types.AttributeValueMemberNULL{Value: true},
		"nested": &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
			"depth": &types.AttributeValueMemberN{Value: "2"},
		}},
		"list": &types.AttributeValueMemberL{Value: []types.AttributeValue{
			&types.AttributeValueMemberN{Value: "1.5"},
		}},
	}

	out := attrMapToGo(in)

	if out["count"] != int64(42) {
		t.Errorf("count = %v (%T), want int64(42)", out["count"], out["count"])
	}
	if out["whole"] != int64(7) {
		t.Errorf("whole = %v (%T), want int64(7)", out["whole"], out["whole"])
	}
	if out["ratio"] != 0.5 {
		t.Errorf("ratio = %v, want 0.5", out["ratio"])
	}
	if out["label"] != "x" || out["flag"] != true || out["nothing"] != nil {
		t.Errorf("scalar conversion wrong: %v", out)
	}
	if nested := out["nested"].(map[string]any); nested["depth"] != int64(2) {
		t.Errorf("nested.depth = %v, want int64(2)", nested["depth"])
	}
	if list := out["list"].([]any); list[0] != 1.5 {
		t.Errorf("list[0] = %v, want 1.5", list[0])
	}
}
