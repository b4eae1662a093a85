package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"conectazap/internal/domain"
)

// Contacts and templates share the conversation table under fixed partition
// keys. Both collections are small and read whole.

// ListContacts returns the address book sorted by name.
func (c *Client) ListContacts(ctx context.Context) ([]domain.Contact, error) {
	items, err := c.queryPartition(ctx, pkContacts, skPrefixContact)
	if err != nil {
		return nil, fmt.Errorf("repository: ListContacts: %w", err)
	}
	contacts := make([]domain.Contact, 0, len(items))
	for _, item := range items {
		phone, err := strAttr(item, "phone")
		if err != nil {
			return nil, fmt.Errorf("repository: ListContacts unmarshal: %w", err)
		}
		contacts = append(contacts, domain.Contact{
			Name:      optStrAttr(item, "name"),
			Phone:     phone,
			AvatarURL: optStrAttr(item, "avatarUrl"),
		})
	}
	sort.Slice(contacts, func(i, j int) bool {
		return strings.ToLower(contacts[i].Name) < strings.ToLower(contacts[j].Name)
	})
	return contacts, nil
}

// PutContact writes or replaces a contact keyed by phone number.
func (c *Client) PutContact(ctx context.Context, contact domain.Contact) error {
	if strings.TrimSpace(contact.Phone) == "" {
		return errors.New("repository: PutContact: phone is required")
	}
	item := map[string]types.AttributeValue{
		"PK":    &types.AttributeValueMemberS{Value: pkContacts},
		"SK":    &types.AttributeValueMemberS{Value: skPrefixContact + contact.Phone},
		"name":  &types.AttributeValueMemberS{Value: contact.Name},
		"phone": &types.AttributeValueMemberS{Value: contact.Phone},
	}
	if contact.AvatarURL != "" {
		item["avatarUrl"] = &types.AttributeValueMemberS{Value: contact.AvatarURL}
	}
	if _, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("repository: PutContact: %w", err)
	}
	return nil
}

// ListTemplates returns every canned message template.
func (c *Client) ListTemplates(ctx context.Context) ([]domain.Template, error) {
	items, err := c.queryPartition(ctx, pkTemplates, skPrefixTemplate)
	if err != nil {
		return nil, fmt.Errorf("repository: ListTemplates: %w", err)
	}
	templates := make([]domain.Template, 0, len(items))
	for _, item := range items {
		id, err := strAttr(item, "id")
		if err != nil {
			return nil, fmt.Errorf("repository: ListTemplates unmarshal: %w", err)
		}
		templates = append(templates, domain.Template{
			ID:      id,
			Title:   optStrAttr(item, "title"),
			Content: optStrAttr(item, "content"),
		})
	}
	return templates, nil
}

// PutTemplate writes a template, assigning an id when the caller left it
// empty, and returns the stored record.
func (c *Client) PutTemplate(ctx context.Context, t domain.Template) (domain.Template, error) {
	if strings.TrimSpace(t.Title) == "" {
		return domain.Template{}, errors.New("repository: PutTemplate: title is required")
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if _, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item: map[string]types.AttributeValue{
			"PK":      &types.AttributeValueMemberS{Value: pkTemplates},
			"SK":      &types.AttributeValueMemberS{Value: skPrefixTemplate + t.ID},
			"id":      &types.AttributeValueMemberS{Value: t.ID},
			"title":   &types.AttributeValueMemberS{Value: t.Title},
			"content": &types.AttributeValueMemberS{Value: t.Content},
		},
	}); err != nil {
		return domain.Template{}, fmt.Errorf("repository: PutTemplate: %w", err)
	}
	return t, nil
}

func (c *Client) queryPartition(ctx context.Context, pk, skPrefix string) ([]map[string]types.AttributeValue, error) {
	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: pk},
			":prefix": &types.AttributeValueMemberS{Value: skPrefix},
		},
	})
	if err != nil {
		return nil, err
	}
	return out.Items, nil
}
