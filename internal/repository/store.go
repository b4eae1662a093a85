package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"conectazap/internal/domain"
)

const (
	pkPrefixAgent = "AGENT#"
	pkPrefixMsg   = "MSG#"
	skPrefixConv  = "CONV#"
	skPrefixTS    = "TS#"

	pkContacts       = "CONTACTS"
	skPrefixContact  = "CONTACT#"
	pkTemplates      = "TEMPLATES"
	skPrefixTemplate = "TEMPLATE#"
)

// ErrConversationExists is returned by CreateConversation when another
// conversation already holds the (agent, client) key.
var ErrConversationExists = errors.New("repository: conversation already exists")

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Store defines the conversation, message and directory operations consumed
// by the session layer.
type Store interface {
	ListConversations(ctx context.Context, agentID string) ([]domain.Conversation, error)
	FindConversation(ctx context.Context, agentID, clientID string) (domain.Conversation, bool, error)
	CreateConversation(ctx context.Context, conv domain.Conversation) error
	ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error)
	SendMessage(ctx context.Context, conv domain.Conversation, senderID, content string, typ domain.MessageType) (domain.Message, error)
	MarkRead(ctx context.Context, conversationID, readerID string) (int, error)
}

// Directory defines the contact and template operations consumed by the
// HTTP API.
type Directory interface {
	ListContacts(ctx context.Context) ([]domain.Contact, error)
	PutContact(ctx context.Context, c domain.Contact) error
	ListTemplates(ctx context.Context) ([]domain.Template, error)
	PutTemplate(ctx context.Context, t domain.Template) (domain.Template, error)
}

// Client wraps a DynamoDB table holding conversations, their message
// subsequences, contacts and templates.
type Client struct {
	api       dynamodbAPI
	tableName string
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName}, nil
}

// agentPK returns the partition key under which an agent's conversations live.
func agentPK(agentID string) string {
	return pkPrefixAgent + agentID
}

// convSK returns the sort key for a conversation. Keying by client
// identifier is what makes the one-conversation-per-(agent,client) rule a
// conditional put instead of a read-then-write race.
func convSK(clientID string) string {
	return skPrefixConv + clientID
}

// msgPK returns the partition key for a conversation's message sequence.
func msgPK(conversationID string) string {
	return pkPrefixMsg + conversationID
}
