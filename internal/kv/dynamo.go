package kv

import (
	"context"
	"fmt"
	"reflect"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoStore implements Store on a DynamoDB table with a composite
// (PK, SK) key and a local secondary index named "LSI1" whose sort key is
// the "LSI1" attribute.
type DynamoStore struct {
	client *dynamodb.Client
	table  string
}

// NewDynamoStore creates a store bound to the given table.
func NewDynamoStore(client *dynamodb.Client, table string) *DynamoStore {
	return &DynamoStore{client: client, table: table}
}

func (s *DynamoStore) Get(ctx context.Context, pk, sk string, out any) error {
	resp, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pk},
			"SK": &types.AttributeValueMemberS{Value: sk},
		},
	})
	if err != nil {
		return fmt.Errorf("kv: get %s/%s: %w", pk, sk, err)
	}
	if resp.Item == nil {
		return ErrNotFound
	}
	if err := attributevalue.UnmarshalMap(resp.Item, out); err != nil {
		return fmt.Errorf("kv: unmarshal %s/%s: %w", pk, sk, err)
	}
	return nil
}

func (s *DynamoStore) Put(ctx context.Context, put Put) error {
	item, err := marshalPut(put)
	if err != nil {
		return err
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("kv: put %s/%s: %w", put.PK, put.SK, err)
	}
	return nil
}

func (s *DynamoStore) TransactPut(ctx context.Context, puts ...Put) error {
	if len(puts) == 0 {
		return nil
	}
	items := make([]types.TransactWriteItem, 0, len(puts))
	for _, put := range puts {
		item, err := marshalPut(put)
		if err != nil {
			return err
		}
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName: aws.String(s.table),
				Item:      item,
			},
		})
	}
	if _, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	}); err != nil {
		return fmt.Errorf("kv: transact put: %w", err)
	}
	return nil
}

func (s *DynamoStore) Update(ctx context.Context, pk, sk string, set map[string]any) error {
	if len(set) == 0 {
		return nil
	}
	expr := ""
	names := map[string]string{}
	values := map[string]types.AttributeValue{}
	i := 0
	for name, value := range set {
		av, err := attributevalue.Marshal(value)
		if err != nil {
			return fmt.Errorf("kv: marshal attribute %s: %w", name, err)
		}
		placeholder := fmt.Sprintf("#a%d", i)
		valueKey := fmt.Sprintf(":v%d", i)
		if expr == "" {
			expr = "SET "
		} else {
			expr += ", "
		}
		expr += placeholder + " = " + valueKey
		names[placeholder] = name
		values[valueKey] = av
		i++
	}
	if _, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pk},
			"SK": &types.AttributeValueMemberS{Value: sk},
		},
		UpdateExpression:          aws.String(expr),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	}); err != nil {
		return fmt.Errorf("kv: update %s/%s: %w", pk, sk, err)
	}
	return nil
}

func (s *DynamoStore) Add(ctx context.Context, pk, sk string, add map[string]int64) error {
	if len(add) == 0 {
		return nil
	}
	expr := "ADD "
	names := map[string]string{}
	values := map[string]types.AttributeValue{}
	i := 0
	for name, delta := range add {
		placeholder := fmt.Sprintf("#a%d", i)
		valueKey := fmt.Sprintf(":v%d", i)
		if i > 0 {
			expr += ", "
		}
		expr += placeholder + " " + valueKey
		names[placeholder] = name
		values[valueKey] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", delta)}
		i++
	}
	if _, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pk},
			"SK": &types.AttributeValueMemberS{Value: sk},
		},
		UpdateExpression:          aws.String(expr),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	}); err != nil {
		return fmt.Errorf("kv: add %s/%s: %w", pk, sk, err)
	}
	return nil
}

func (s *DynamoStore) Query(ctx context.Context, q Query, out any) error {
	outValue := reflect.ValueOf(out)
	if outValue.Kind() != reflect.Pointer || outValue.Elem().Kind() != reflect.Slice {
		return fmt.Errorf("kv: query output must be a pointer to a slice")
	}

	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: q.PK},
		},
		ScanIndexForward: aws.Bool(!q.Reverse),
	}
	if q.UseLSI1 {
		input.IndexName = aws.String("LSI1")
	}
	sortAttr := "SK"
	if q.UseLSI1 {
		sortAttr = "LSI1"
	}
	switch {
	case q.AfterKey != "" && q.BeforeKey != "":
		// A key condition allows one comparator per key, so the two-bound
		// range has to use inclusive BETWEEN; the boundary rows are trimmed
		// below to keep the documented exclusive semantics.
		input.KeyConditionExpression = aws.String("PK = :pk AND " + sortAttr + " BETWEEN :lo AND :hi")
		input.ExpressionAttributeValues[":lo"] = &types.AttributeValueMemberS{Value: q.AfterKey}
		input.ExpressionAttributeValues[":hi"] = &types.AttributeValueMemberS{Value: q.BeforeKey}
	case q.AfterKey != "":
		input.KeyConditionExpression = aws.String("PK = :pk AND " + sortAttr + " > :lo")
		input.ExpressionAttributeValues[":lo"] = &types.AttributeValueMemberS{Value: q.AfterKey}
	case q.BeforeKey != "":
		input.KeyConditionExpression = aws.String("PK = :pk AND " + sortAttr + " < :hi")
		input.ExpressionAttributeValues[":hi"] = &types.AttributeValueMemberS{Value: q.BeforeKey}
	}

	trimBounds := q.AfterKey != "" && q.BeforeKey != ""

	var raw []map[string]types.AttributeValue
	if q.Limit > 0 {
		limit := q.Limit
		if trimBounds {
			// Each boundary key matches at most one row.
			limit += 2
		}
		input.Limit = aws.Int32(limit)
		resp, err := s.client.Query(ctx, input)
		if err != nil {
			return fmt.Errorf("kv: query %s: %w", q.PK, err)
		}
		raw = resp.Items
	} else {
		// Limit 0 means the caller wants everything; follow pagination.
		for {
			resp, err := s.client.Query(ctx, input)
			if err != nil {
				return fmt.Errorf("kv: query %s: %w", q.PK, err)
			}
			raw = append(raw, resp.Items...)
			if resp.LastEvaluatedKey == nil {
				break
			}
			input.ExclusiveStartKey = resp.LastEvaluatedKey
		}
	}

	if trimBounds {
		raw = trimBoundaryKeys(raw, sortAttr, q.AfterKey, q.BeforeKey)
	}
	if q.Limit > 0 && len(raw) > int(q.Limit) {
		raw = raw[:q.Limit]
	}

	if err := attributevalue.UnmarshalListOfMaps(raw, out); err != nil {
		return fmt.Errorf("kv: unmarshal query %s: %w", q.PK, err)
	}
	return nil
}

// trimBoundaryKeys drops rows whose sort attribute equals either bound,
// turning an inclusive BETWEEN result into the exclusive range Query
// documents.
func trimBoundaryKeys(items []map[string]types.AttributeValue, sortAttr, after, before string) []map[string]types.AttributeValue {
	kept := items[:0]
	for _, item := range items {
		if s, ok := item[sortAttr].(*types.AttributeValueMemberS); ok && (s.Value == after || s.Value == before) {
			continue
		}
		kept = append(kept, item)
	}
	return kept
}

func marshalPut(put Put) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(put.Item)
	if err != nil {
		return nil, fmt.Errorf("kv: marshal %s/%s: %w", put.PK, put.SK, err)
	}
	item["PK"] = &types.AttributeValueMemberS{Value: put.PK}
	item["SK"] = &types.AttributeValueMemberS{Value: put.SK}
	if put.LSI1 != "" {
		item["LSI1"] = &types.AttributeValueMemberS{Value: put.LSI1}
	}
	return item, nil
}
