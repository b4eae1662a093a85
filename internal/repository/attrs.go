package repository

import (
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Timestamps cross the store boundary as RFC3339Nano strings and nowhere
// else; everything above the adapter sees time.Time in UTC.

func formatTS(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTS(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("repository: parse timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

// optStrAttr returns "" when the attribute is absent or not a string.
func optStrAttr(item map[string]types.AttributeValue, key string) string {
	v, ok := item[key]
	if !ok {
		return ""
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return ""
	}
	return s.Value
}

func timeAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	s, err := strAttr(item, key)
	if err != nil {
		return time.Time{}, err
	}
	return parseTS(s)
}

func listAttr(item map[string]types.AttributeValue, key string) []string {
	v, ok := item[key]
	if !ok {
		return nil
	}
	l, ok := v.(*types.AttributeValueMemberL)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(l.Value))
	for _, el := range l.Value {
		if s, ok := el.(*types.AttributeValueMemberS); ok {
			out = append(out, s.Value)
		}
	}
	return out
}

func listValue(vals []string) types.AttributeValue {
	els := make([]types.AttributeValue, 0, len(vals))
	for _, v := range vals {
		els = append(els, &types.AttributeValueMemberS{Value: v})
	}
	return &types.AttributeValueMemberL{Value: els}
}
