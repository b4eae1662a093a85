package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanTransition_ForwardOnly(t *testing.T) {
	cases := []struct {
		from, to MessageStatus
		want     bool
	}{
		{StatusSending, StatusSent, true},
		{StatusSent, StatusDelivered, true},
		{StatusDelivered, StatusRead, true},
		{StatusSending, StatusRead, true},
		{StatusRead, StatusRead, true},
		{StatusRead, StatusDelivered, false},
		{StatusDelivered, StatusSent, false},
		{StatusSent, StatusSending, false},
		{MessageStatus("bogus"), StatusSent, false},
		{StatusSent, MessageStatus("bogus"), false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, tc.from.CanTransition(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestUnreadFor(t *testing.T) {
	msgs := []Message{
		{SenderID: "client", Status: StatusSent, Type: TypeMessage},
		{SenderID: "client", Status: StatusDelivered, Type: TypeMessage},
		{SenderID: "client", Status: StatusRead, Type: TypeMessage},
		{SenderID: "client", Status: StatusSent, Type: TypeNote},
		{SenderID: "agent", Status: StatusSent, Type: TypeMessage},
	}
	require.Equal(t, 2, UnreadFor(msgs, "agent"))
	require.Equal(t, 1, UnreadFor(msgs, "client"))
	require.Zero(t, UnreadFor(nil, "agent"))
}
