package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"discover-engine/internal/domain"
	"discover-engine/internal/storage"
)

// swipeItem is the DynamoDB item layout of a swipe.
type swipeItem struct {
	ID          string `dynamodbav:"id"`
	SwiperID    string `dynamodbav:"swiperId"`
	CandidateID string `dynamodbav:"candidateId"`
	Decision    string `dynamodbav:"decision"`
	CreatedAt   int64  `dynamodbav:"createdAt"`
	UndoneAt    int64  `dynamodbav:"undoneAt"`
}

func toItem(sw *domain.Swipe) swipeItem {
	return swipeItem{
		ID:          sw.ID,
		SwiperID:    sw.SwiperID,
		CandidateID: sw.CandidateID,
		Decision:    string(sw.Decision),
		CreatedAt:   sw.CreatedAt,
		UndoneAt:    sw.UndoneAt,
	}
}

func (it swipeItem) toDomain() *domain.Swipe {
	return &domain.Swipe{
		ID:          it.ID,
		SwiperID:    it.SwiperID,
		CandidateID: it.CandidateID,
		Decision:    domain.Decision(it.Decision),
		CreatedAt:   it.CreatedAt,
		UndoneAt:    it.UndoneAt,
	}
}

// SwipeStore implements storage.SwipeStore on a DynamoDB table created by EnsureTable.
type SwipeStore struct {
	client *dynamodb.Client
	table  string
}

// NewSwipeStore creates a new SwipeStore.
func NewSwipeStore(client *dynamodb.Client, table string) *SwipeStore {
	return &SwipeStore{client: client, table: table}
}

// Compile-time interface check.
var _ storage.SwipeStore = (*SwipeStore)(nil)

// pairKey is the id of the lock item held while a swiper has a standing
// swipe on a candidate. Lock items carry no index attributes, so neither
// GSI sees them.
func pairKey(swiperID, candidateID string) string {
	return "pair#" + swiperID + "#" + candidateID
}

// Insert adds a new swipe. Returns ErrDuplicateKey if the swipe ID exists
// and ErrAlreadySwiped if the pair already has a standing swipe. The swipe
// and its pair lock are written in one transaction.
func (s *SwipeStore) Insert(ctx context.Context, sw *domain.Swipe) error {
	if sw == nil || sw.ID == "" || sw.SwiperID == "" || sw.CandidateID == "" {
		return storage.ErrInvalidInput
	}

	item, err := attributevalue.MarshalMap(toItem(sw))
	if err != nil {
		return fmt.Errorf("marshal swipe: %w", err)
	}

	items := []types.TransactWriteItem{
		{Put: &types.Put{
			TableName:           aws.String(s.table),
			Item:                item,
			ConditionExpression: aws.String("attribute_not_exists(id)"),
		}},
	}
	if sw.UndoneAt == 0 {
		items = append(items, types.TransactWriteItem{Put: &types.Put{
			TableName: aws.String(s.table),
			Item: map[string]types.AttributeValue{
				"id":      &types.AttributeValueMemberS{Value: pairKey(sw.SwiperID, sw.CandidateID)},
				"swipeId": &types.AttributeValueMemberS{Value: sw.ID},
			},
			ConditionExpression: aws.String("attribute_not_exists(id)"),
		}})
	}

	start := time.Now()
	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if failed := conditionFailures(err); failed != nil {
		observe("swipe_insert", start, nil)
		if failed[0] {
			return storage.ErrDuplicateKey
		}
		return storage.ErrAlreadySwiped
	}
	observe("swipe_insert", start, err)
	if err != nil {
		return fmt.Errorf("put swipe: %w", err)
	}
	return nil
}

// GetByID retrieves a swipe by its ID. Returns ErrNotFound if not exists.
func (s *SwipeStore) GetByID(ctx context.Context, id string) (*domain.Swipe, error) {
	start := time.Now()
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: id}},
		ConsistentRead: aws.Bool(true),
	})
	observe("swipe_get", start, err)
	if err != nil {
		return nil, fmt.Errorf("get swipe: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, storage.ErrNotFound
	}

	var item swipeItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshal swipe: %w", err)
	}
	if item.SwiperID == "" {
		// pair lock, not a swipe
		return nil, storage.ErrNotFound
	}
	return item.toDomain(), nil
}

// MarkUndone sets undoneAt on a standing swipe and releases its pair lock.
// A swipe already undone is left unchanged.
func (s *SwipeStore) MarkUndone(ctx context.Context, id string, undoneAt int64) error {
	sw, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if sw.UndoneAt != 0 {
		return nil
	}

	start := time.Now()
	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Update: &types.Update{
				TableName:           aws.String(s.table),
				Key:                 map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: id}},
				UpdateExpression:    aws.String("SET undoneAt = :at"),
				ConditionExpression: aws.String("attribute_exists(id) AND undoneAt = :zero"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":at":   &types.AttributeValueMemberN{Value: strconv.FormatInt(undoneAt, 10)},
					":zero": &types.AttributeValueMemberN{Value: "0"},
				},
			}},
			{Delete: &types.Delete{
				TableName:           aws.String(s.table),
				Key:                 map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: pairKey(sw.SwiperID, sw.CandidateID)}},
				ConditionExpression: aws.String("attribute_not_exists(id) OR swipeId = :swipe"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":swipe": &types.AttributeValueMemberS{Value: id},
				},
			}},
		},
	})
	if conditionFailures(err) != nil {
		// Undone concurrently.
		observe("swipe_undo", start, nil)
		return nil
	}
	observe("swipe_undo", start, err)
	if err != nil {
		return fmt.Errorf("mark swipe undone: %w", err)
	}
	return nil
}

// ListBySwiper retrieves the standing swipes made by a user.
func (s *SwipeStore) ListBySwiper(ctx context.Context, swiperID string) ([]*domain.Swipe, error) {
	start := time.Now()
	paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		IndexName:              aws.String(SwiperIndex),
		KeyConditionExpression: aws.String("swiperId = :swiper"),
		FilterExpression:       aws.String("undoneAt = :zero"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":swiper": &types.AttributeValueMemberS{Value: swiperID},
			":zero":   &types.AttributeValueMemberN{Value: "0"},
		},
	})

	var swipes []*domain.Swipe
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			observe("swipe_list", start, err)
			return nil, fmt.Errorf("query swipes by swiper: %w", err)
		}

		var items []swipeItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("unmarshal swipes: %w", err)
		}
		for _, it := range items {
			swipes = append(swipes, it.toDomain())
		}
	}
	observe("swipe_list", start, nil)

	// The index orders by createdAt only.
	sort.SliceStable(swipes, func(i, j int) bool {
		if swipes[i].CreatedAt != swipes[j].CreatedAt {
			return swipes[i].CreatedAt < swipes[j].CreatedAt
		}
		return swipes[i].ID < swipes[j].ID
	})
	return swipes, nil
}

// CountReceived counts standing swipes on a user with one of the given decisions.
func (s *SwipeStore) CountReceived(ctx context.Context, candidateID string, decisions []domain.Decision) (int, error) {
	if len(decisions) == 0 {
		return 0, nil
	}

	values := map[string]types.AttributeValue{
		":candidate": &types.AttributeValueMemberS{Value: candidateID},
		":zero":      &types.AttributeValueMemberN{Value: "0"},
	}
	placeholders := ""
	for i, d := range decisions {
		key := fmt.Sprintf(":d%d", i)
		values[key] = &types.AttributeValueMemberS{Value: string(d)}
		if i > 0 {
			placeholders += ", "
		}
		placeholders += key
	}

	start := time.Now()
	paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:                 aws.String(s.table),
		IndexName:                 aws.String(CandidateIndex),
		KeyConditionExpression:    aws.String("candidateId = :candidate"),
		FilterExpression:          aws.String("undoneAt = :zero AND #decision IN (" + placeholders + ")"),
		ExpressionAttributeNames:  map[string]string{"#decision": "decision"},
		ExpressionAttributeValues: values,
		Select:                    types.SelectCount,
	})

	count := 0
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			observe("swipe_count", start, err)
			return 0, fmt.Errorf("count received swipes: %w", err)
		}
		count += int(page.Count)
	}
	observe("swipe_count", start, nil)
	return count, nil
}

// conditionFailures reports, per transaction item, whether its condition
// check failed. It returns nil unless err is a cancelled transaction with
// at least one failed condition.
func conditionFailures(err error) []bool {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return nil
	}
	failed := make([]bool, len(tce.CancellationReasons))
	hit := false
	for i, r := range tce.CancellationReasons {
		if aws.ToString(r.Code) == "ConditionalCheckFailed" {
			failed[i] = true
			hit = true
		}
	}
	if !hit {
		return nil
	}
	return failed
}
