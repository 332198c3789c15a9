// Package storetest provides an in-memory stand-in for the DynamoDB API used
// by the store package.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/austindbirch/task_sweeper/internal/task"
)

// FakeAPI is a single in-memory table keyed by task_id. It implements
// store.API and evaluates the "scheduled_time <= :now" scan filter.
// Scan pages honour Limit the way DynamoDB does: Limit bounds the items
// evaluated, not the items returned.
type FakeAPI struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue

	ScanErr     error
	DescribeErr error
	UpdateErrs  map[string]error // per task_id
	// ScanErrOnPage fails the Nth (1-based) Scan call with ScanErr.
	ScanErrOnPage int

	ScanCalls     int
	UpdateCalls   int
	DescribeCalls int
	UpdatedIDs    []string
}

func NewFakeAPI(tasks ...task.Task) *FakeAPI {
	f := &FakeAPI{
		items:      make(map[string]map[string]types.AttributeValue),
		UpdateErrs: make(map[string]error),
	}
	for _, t := range tasks {
		f.Put(t)
	}
	return f
}

// Put stores t, replacing any record with the same task_id.
func (f *FakeAPI) Put(t task.Task) {
	item, err := attributevalue.MarshalMap(t)
	if err != nil {
		panic(fmt.Sprintf("storetest: marshal task: %v", err))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[t.TaskID] = item
}

// PutItem stores a raw attribute map; the task_id attribute must be a string.
func (f *FakeAPI) PutItem(item map[string]types.AttributeValue) {
	id := item[task.AttrTaskID].(*types.AttributeValueMemberS).Value
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[id] = item
}

// Get returns the decoded record for id.
func (f *FakeAPI) Get(id string) (task.Task, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok {
		return task.Task{}, false
	}
	var t task.Task
	if err := attributevalue.UnmarshalMap(item, &t); err != nil {
		panic(fmt.Sprintf("storetest: unmarshal task: %v", err))
	}
	return t, true
}

// Status returns the raw status attribute of id when it is a string. Unlike
// Get it does not decode the rest of the item, so it works on malformed records.
func (f *FakeAPI) Status(id string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.items[id][task.AttrStatus].(*types.AttributeValueMemberS)
	if !ok {
		return "", false
	}
	return st.Value, true
}

// Len returns the number of stored records.
func (f *FakeAPI) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

func (f *FakeAPI) sortedKeys() []string {
	keys := make([]string, 0, len(f.items))
	for k := range f.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (f *FakeAPI) Scan(ctx context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ScanCalls++

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.ScanErr != nil && (f.ScanErrOnPage == 0 || f.ScanErrOnPage == f.ScanCalls) {
		return nil, f.ScanErr
	}

	nowAV, ok := in.ExpressionAttributeValues[":now"].(*types.AttributeValueMemberN)
	if !ok {
		return nil, fmt.Errorf("storetest: :now must be a number attribute")
	}
	now, err := strconv.ParseFloat(nowAV.Value, 64)
	if err != nil {
		return nil, fmt.Errorf("storetest: parse :now: %w", err)
	}

	keys := f.sortedKeys()
	start := 0
	if in.ExclusiveStartKey != nil {
		last := in.ExclusiveStartKey[task.AttrTaskID].(*types.AttributeValueMemberS).Value
		start = sort.SearchStrings(keys, last)
		if start < len(keys) && keys[start] == last {
			start++
		}
	}

	limit := len(keys)
	if in.Limit != nil {
		limit = int(aws.ToInt32(in.Limit))
	}

	out := &dynamodb.ScanOutput{}
	end := start
	for ; end < len(keys) && end-start < limit; end++ {
		item := f.items[keys[end]]
		due, ok := item[task.AttrScheduledTime].(*types.AttributeValueMemberN)
		if !ok {
			continue
		}
		// DynamoDB compares numbers by value, fractions included.
		v, err := strconv.ParseFloat(due.Value, 64)
		if err != nil || v > now {
			continue
		}
		out.Items = append(out.Items, item)
	}
	out.Count = int32(len(out.Items))
	out.ScannedCount = int32(end - start)

	if end < len(keys) {
		out.LastEvaluatedKey = map[string]types.AttributeValue{
			task.AttrTaskID: &types.AttributeValueMemberS{Value: keys[end-1]},
		}
	}
	return out, nil
}

func (f *FakeAPI) UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.UpdateCalls++

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, ok := in.Key[task.AttrTaskID].(*types.AttributeValueMemberS)
	if !ok {
		return nil, fmt.Errorf("storetest: missing %s key", task.AttrTaskID)
	}
	if err := f.UpdateErrs[key.Value]; err != nil {
		return nil, err
	}

	attr := in.ExpressionAttributeNames["#st"]
	val := in.ExpressionAttributeValues[":st"]

	// UpdateItem upserts, like DynamoDB.
	item, ok := f.items[key.Value]
	if !ok {
		item = map[string]types.AttributeValue{task.AttrTaskID: key}
		f.items[key.Value] = item
	}
	item[attr] = val
	f.UpdatedIDs = append(f.UpdatedIDs, key.Value)
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *FakeAPI) DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DescribeCalls++

	if f.DescribeErr != nil {
		return nil, f.DescribeErr
	}
	return &dynamodb.DescribeTableOutput{
		Table: &types.TableDescription{
			TableName:   in.TableName,
			TableStatus: types.TableStatusActive,
			ItemCount:   aws.Int64(int64(len(f.items))),
		},
	}, nil
}
