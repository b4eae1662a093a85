package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"conectazap/internal/domain"
)

// Transaction batches are capped well under the DynamoDB limit.
const markReadBatchSize = 25

// Seams for tests.
var (
	newMessageID = uuid.NewString
	nowUTC       = func() time.Time { return time.Now().UTC() }
)

// msgSK builds the message sort key: timestamp first so the natural key
// order is chronological, then a fragment of the message id so two messages
// written in the same instant still sort deterministically.
func msgSK(ts time.Time, id string) string {
	suffix := id
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return skPrefixTS + formatTS(ts) + "#" + suffix
}

// ListMessages returns the conversation's messages ordered by timestamp
// ascending. An empty conversation yields an empty slice.
func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: msgPK(conversationID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixTS},
		},
		ScanIndexForward: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: ListMessages query: %w", err)
	}

	msgs := make([]domain.Message, 0, len(out.Items))
	for _, item := range out.Items {
		msg, err := itemToMessage(item)
		if err != nil {
			return nil, fmt.Errorf("repository: ListMessages unmarshal: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// SendMessage persists a new message with a store-assigned timestamp. An
// ordinary message and its conversation preview update are committed in one
// transaction so the list never shows a conversation out of step with its
// messages. A note writes only the message item; the parent conversation's
// updatedAt and lastMessage are untouched.
func (c *Client) SendMessage(ctx context.Context, conv domain.Conversation, senderID, content string, typ domain.MessageType) (domain.Message, error) {
	if conv.ID == "" {
		return domain.Message{}, errors.New("repository: SendMessage: conversation id is required")
	}
	if senderID == "" {
		return domain.Message{}, errors.New("repository: SendMessage: sender id is required")
	}

	ts := nowUTC()
	msg := domain.Message{
		ID:             newMessageID(),
		ConversationID: conv.ID,
		SenderID:       senderID,
		Content:        content,
		Timestamp:      ts,
		Status:         domain.StatusSent,
		Type:           typ,
	}

	if typ == domain.TypeNote {
		_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:           aws.String(c.tableName),
			Item:                messageItem(msg),
			ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
		})
		if err != nil {
			return domain.Message{}, fmt.Errorf("repository: SendMessage note: %w", err)
		}
		return msg, nil
	}

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                messageItem(msg),
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				},
			},
			{
				Update: &types.Update{
					TableName: aws.String(c.tableName),
					Key: map[string]types.AttributeValue{
						"PK": &types.AttributeValueMemberS{Value: agentPK(conv.AgentID)},
						"SK": &types.AttributeValueMemberS{Value: convSK(conv.ClientID)},
					},
					UpdateExpression:    aws.String("SET updatedAt = :ts, lastMessage = :lm"),
					ConditionExpression: aws.String("attribute_exists(PK)"),
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":ts": &types.AttributeValueMemberS{Value: formatTS(ts)},
						":lm": lastMessageValue(domain.LastMessage{
							Content:   content,
							Timestamp: ts,
							SenderID:  senderID,
						}),
					},
				},
			},
		},
	})
	if err != nil {
		return domain.Message{}, fmt.Errorf("repository: SendMessage: %w", err)
	}
	return msg, nil
}

// MarkRead flips every message not sent by readerID and not already read to
// read, in transactional batches. Returns the number of messages updated;
// a repeat call matches nothing and writes nothing.
func (c *Client) MarkRead(ctx context.Context, conversationID, readerID string) (int, error) {
	msgs, err := c.ListMessages(ctx, conversationID)
	if err != nil {
		return 0, fmt.Errorf("repository: MarkRead: %w", err)
	}

	var pending []types.TransactWriteItem
	for _, m := range msgs {
		if m.SenderID == readerID || m.Status == domain.StatusRead {
			continue
		}
		pending = append(pending, types.TransactWriteItem{
			Update: &types.Update{
				TableName: aws.String(c.tableName),
				Key: map[string]types.AttributeValue{
					"PK": &types.AttributeValueMemberS{Value: msgPK(conversationID)},
					"SK": &types.AttributeValueMemberS{Value: msgSK(m.Timestamp, m.ID)},
				},
				UpdateExpression: aws.String("SET #s = :read"),
				ExpressionAttributeNames: map[string]string{
					"#s": "status",
				},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":read": &types.AttributeValueMemberS{Value: string(domain.StatusRead)},
				},
			},
		})
	}
	if len(pending) == 0 {
		return 0, nil
	}

	for start := 0; start < len(pending); start += markReadBatchSize {
		end := start + markReadBatchSize
		if end > len(pending) {
			end = len(pending)
		}
		_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
			TransactItems: pending[start:end],
		})
		if err != nil {
			return 0, fmt.Errorf("repository: MarkRead batch: %w", err)
		}
	}
	return len(pending), nil
}

func messageItem(msg domain.Message) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: msgPK(msg.ConversationID)},
		"SK":             &types.AttributeValueMemberS{Value: msgSK(msg.Timestamp, msg.ID)},
		"id":             &types.AttributeValueMemberS{Value: msg.ID},
		"conversationId": &types.AttributeValueMemberS{Value: msg.ConversationID},
		"senderId":       &types.AttributeValueMemberS{Value: msg.SenderID},
		"content":        &types.AttributeValueMemberS{Value: msg.Content},
		"timestamp":      &types.AttributeValueMemberS{Value: formatTS(msg.Timestamp)},
		"status":         &types.AttributeValueMemberS{Value: string(msg.Status)},
		"type":           &types.AttributeValueMemberS{Value: string(msg.Type)},
	}
}

func itemToMessage(item map[string]types.AttributeValue) (domain.Message, error) {
	id, err := strAttr(item, "id")
	if err != nil {
		return domain.Message{}, err
	}
	conversationID, err := strAttr(item, "conversationId")
	if err != nil {
		return domain.Message{}, err
	}
	senderID, err := strAttr(item, "senderId")
	if err != nil {
		return domain.Message{}, err
	}
	ts, err := timeAttr(item, "timestamp")
	if err != nil {
		return domain.Message{}, err
	}

	typ := domain.MessageType(optStrAttr(item, "type"))
	if typ == "" {
		typ = domain.TypeMessage
	}
	return domain.Message{
		ID:             id,
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        optStrAttr(item, "content"),
		Timestamp:      ts,
		Status:         domain.MessageStatus(optStrAttr(item, "status")),
		Type:           typ,
	}, nil
}
