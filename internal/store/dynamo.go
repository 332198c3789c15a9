package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/austindbirch/task_sweeper/internal/config"
	"github.com/austindbirch/task_sweeper/internal/task"
)

// API is the subset of the DynamoDB client the store uses.
type API interface {
	dynamodb.ScanAPIClient
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// Connect builds a DynamoDB client from the store configuration.
func Connect(ctx context.Context, cfg config.Store) (*dynamodb.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

type DynamoStore struct {
	api         API
	tableName   string
	pageSize    int32
	callTimeout time.Duration
}

type Option func(*DynamoStore)

// WithPageSize sets the Scan Limit per page. Zero leaves it to DynamoDB.
func WithPageSize(n int) Option {
	return func(s *DynamoStore) {
		s.pageSize = int32(n)
	}
}

// WithCallTimeout bounds each individual DynamoDB call.
func WithCallTimeout(d time.Duration) Option {
	return func(s *DynamoStore) {
		s.callTimeout = d
	}
}

func New(api API, tableName string, opts ...Option) *DynamoStore {
	s := &DynamoStore{api: api, tableName: tableName}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects a fresh client and wraps it in a DynamoStore configured from cfg.
func Open(ctx context.Context, cfg config.Config) (*DynamoStore, error) {
	client, err := Connect(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	return New(client, cfg.Store.TableName,
		WithPageSize(cfg.Sweep.PageSize),
		WithCallTimeout(cfg.Sweep.CallTimeout),
	), nil
}

func (s *DynamoStore) TableName() string {
	return s.tableName
}

func (s *DynamoStore) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.callTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.callTimeout)
}

// ScanDue returns every record whose scheduled_time is <= now, following
// LastEvaluatedKey until the table is exhausted. The filter is evaluated by
// DynamoDB; records are returned in store order. Items are decoded one at a
// time, see decodeItem.
func (s *DynamoStore) ScanDue(ctx context.Context, now int64) ([]task.Task, error) {
	input := &dynamodb.ScanInput{
		TableName:            aws.String(s.tableName),
		FilterExpression:     aws.String("#due <= :now"),
		ProjectionExpression: aws.String("#id, #due, #st"),
		ExpressionAttributeNames: map[string]string{
			"#id":  task.AttrTaskID,
			"#due": task.AttrScheduledTime,
			"#st":  task.AttrStatus,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now, 10)},
		},
	}
	if s.pageSize > 0 {
		input.Limit = aws.Int32(s.pageSize)
	}

	var tasks []task.Task
	p := dynamodb.NewScanPaginator(s.api, input)
	for page := 1; p.HasMorePages(); page++ {
		callCtx, cancel := s.callContext(ctx)
		out, err := p.NextPage(callCtx)
		cancel()
		if err != nil {
			return nil, classify(fmt.Sprintf("scan page %d", page), err)
		}

		for _, item := range out.Items {
			tasks = append(tasks, decodeItem(item))
		}
	}
	return tasks, nil
}

// decodeItem reads one scanned item. Only task_id is needed to complete a
// record, so a malformed scheduled_time or status does not drop the item; an
// unusable task_id is returned as a Task carrying DecodeErr.
func decodeItem(item map[string]types.AttributeValue) task.Task {
	var t task.Task
	if err := attributevalue.UnmarshalMap(item, &t); err == nil && t.TaskID != "" {
		return t
	}

	id, ok := item[task.AttrTaskID].(*types.AttributeValueMemberS)
	if !ok || id.Value == "" {
		raw := describeAttr(item[task.AttrTaskID])
		return task.Task{
			TaskID:    raw,
			DecodeErr: fmt.Errorf("decode item: %s is %s, want a non-empty string", task.AttrTaskID, raw),
		}
	}

	t = task.Task{TaskID: id.Value}
	if n, ok := item[task.AttrScheduledTime].(*types.AttributeValueMemberN); ok {
		if f, err := strconv.ParseFloat(n.Value, 64); err == nil {
			t.ScheduledTime = int64(f)
		}
	}
	if st, ok := item[task.AttrStatus].(*types.AttributeValueMemberS); ok {
		t.Status = st.Value
	}
	return t
}

// describeAttr renders an attribute value for logs.
func describeAttr(av types.AttributeValue) string {
	switch v := av.(type) {
	case nil:
		return "<missing>"
	case *types.AttributeValueMemberS:
		return fmt.Sprintf("S(%q)", v.Value)
	case *types.AttributeValueMemberN:
		return "N(" + v.Value + ")"
	case *types.AttributeValueMemberB:
		return fmt.Sprintf("B(%x)", v.Value)
	case *types.AttributeValueMemberBOOL:
		return fmt.Sprintf("BOOL(%t)", v.Value)
	case *types.AttributeValueMemberNULL:
		return "NULL"
	default:
		return fmt.Sprintf("%T", av)
	}
}

// MarkCompleted sets status = COMPLETED on the record keyed by taskID.
// The write is unconditional.
func (s *DynamoStore) MarkCompleted(ctx context.Context, taskID string) error {
	callCtx, cancel := s.callContext(ctx)
	defer cancel()

	_, err := s.api.UpdateItem(callCtx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			task.AttrTaskID: &types.AttributeValueMemberS{Value: taskID},
		},
		UpdateExpression: aws.String("SET #st = :st"),
		ExpressionAttributeNames: map[string]string{
			"#st": task.AttrStatus,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":st": &types.AttributeValueMemberS{Value: task.StatusCompleted},
		},
	})
	return classify("update item", err)
}

// Ping verifies the table is reachable.
func (s *DynamoStore) Ping(ctx context.Context) error {
	callCtx, cancel := s.callContext(ctx)
	defer cancel()

	_, err := s.api.DescribeTable(callCtx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.tableName),
	})
	return classify("describe table", err)
}
