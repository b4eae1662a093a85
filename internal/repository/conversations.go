package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"conectazap/internal/domain"
)

// ListConversations returns every conversation owned by the agent, ordered
// by updatedAt descending. The sort key carries the client identifier, not
// the update time, so ordering happens here after the query.
func (c *Client) ListConversations(ctx context.Context, agentID string) ([]domain.Conversation, error) {
	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: agentPK(agentID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixConv},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("repository: ListConversations query: %w", err)
	}

	convs := make([]domain.Conversation, 0, len(out.Items))
	for _, item := range out.Items {
		conv, err := itemToConversation(item)
		if err != nil {
			return nil, fmt.Errorf("repository: ListConversations unmarshal: %w", err)
		}
		convs = append(convs, conv)
	}
	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})
	return convs, nil
}

// FindConversation looks up the single conversation for an (agent, client)
// pair. The second return is false when none exists.
func (c *Client) FindConversation(ctx context.Context, agentID, clientID string) (domain.Conversation, bool, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: agentPK(agentID)},
			"SK": &types.AttributeValueMemberS{Value: convSK(clientID)},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Conversation{}, false, fmt.Errorf("repository: FindConversation get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Conversation{}, false, nil
	}
	conv, err := itemToConversation(out.Item)
	if err != nil {
		return domain.Conversation{}, false, fmt.Errorf("repository: FindConversation unmarshal: %w", err)
	}
	return conv, true, nil
}

// CreateConversation persists a new conversation. The conditional put is the
// uniqueness guard: a concurrent create for the same (agent, client) pair
// loses with ErrConversationExists and must re-read instead.
func (c *Client) CreateConversation(ctx context.Context, conv domain.Conversation) error {
	if conv.AgentID == "" || conv.ClientID == "" {
		return errors.New("repository: CreateConversation: agent and client ids are required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                conversationItem(conv),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrConversationExists
		}
		return fmt.Errorf("repository: CreateConversation: %w", err)
	}
	return nil
}

// NewConversation constructs an open conversation for first outbound contact
// with a new client identifier. The display name falls back to the
// identifier itself when none was supplied.
func NewConversation(agentID, clientID, displayName string) domain.Conversation {
	name := strings.TrimSpace(displayName)
	if name == "" {
		name = clientID
	}
	now := time.Now().UTC()
	return domain.Conversation{
		ID:         uuid.NewString(),
		ClientID:   clientID,
		ClientName: name,
		AgentID:    agentID,
		Status:     domain.ConversationOpen,
		Tags:       []string{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func conversationItem(conv domain.Conversation) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":         &types.AttributeValueMemberS{Value: agentPK(conv.AgentID)},
		"SK":         &types.AttributeValueMemberS{Value: convSK(conv.ClientID)},
		"id":         &types.AttributeValueMemberS{Value: conv.ID},
		"clientId":   &types.AttributeValueMemberS{Value: conv.ClientID},
		"clientName": &types.AttributeValueMemberS{Value: conv.ClientName},
		"agentId":    &types.AttributeValueMemberS{Value: conv.AgentID},
		"status":     &types.AttributeValueMemberS{Value: string(conv.Status)},
		"tags":       listValue(conv.Tags),
		"createdAt":  &types.AttributeValueMemberS{Value: formatTS(conv.CreatedAt)},
		"updatedAt":  &types.AttributeValueMemberS{Value: formatTS(conv.UpdatedAt)},
	}
	if conv.ClientAvatarURL != "" {
		item["clientAvatarUrl"] = &types.AttributeValueMemberS{Value: conv.ClientAvatarURL}
	}
	if conv.LastMessage != nil {
		item["lastMessage"] = lastMessageValue(*conv.LastMessage)
	}
	return item
}

func lastMessageValue(lm domain.LastMessage) types.AttributeValue {
	return &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
		"content":   &types.AttributeValueMemberS{Value: lm.Content},
		"timestamp": &types.AttributeValueMemberS{Value: formatTS(lm.Timestamp)},
		"senderId":  &types.AttributeValueMemberS{Value: lm.SenderID},
	}}
}

func itemToConversation(item map[string]types.AttributeValue) (domain.Conversation, error) {
	id, err := strAttr(item, "id")
	if err != nil {
		return domain.Conversation{}, err
	}
	clientID, err := strAttr(item, "clientId")
	if err != nil {
		return domain.Conversation{}, err
	}
	agentID, err := strAttr(item, "agentId")
	if err != nil {
		return domain.Conversation{}, err
	}
	createdAt, err := timeAttr(item, "createdAt")
	if err != nil {
		return domain.Conversation{}, err
	}
	updatedAt, err := timeAttr(item, "updatedAt")
	if err != nil {
		return domain.Conversation{}, err
	}

	conv := domain.Conversation{
		ID:              id,
		ClientID:        clientID,
		ClientName:      optStrAttr(item, "clientName"),
		ClientAvatarURL: optStrAttr(item, "clientAvatarUrl"),
		AgentID:         agentID,
		Status:          domain.ConversationStatus(optStrAttr(item, "status")),
		Tags:            listAttr(item, "tags"),
		CreatedAt:       createdAt,
		UpdatedAt:       updatedAt,
	}
	if conv.ClientName == "" {
		conv.ClientName = clientID
	}

	if raw, ok := item["lastMessage"]; ok {
		m, ok := raw.(*types.AttributeValueMemberM)
		if !ok {
			return domain.Conversation{}, errors.New("repository: lastMessage is not a map")
		}
		ts, err := timeAttr(m.Value, "timestamp")
		if err != nil {
			return domain.Conversation{}, err
		}
		conv.LastMessage = &domain.LastMessage{
			Content:   optStrAttr(m.Value, "content"),
			Timestamp: ts,
			SenderID:  optStrAttr(m.Value, "senderId"),
		}
	}
	return conv, nil
}
