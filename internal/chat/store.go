package chat

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

var ErrNotFound = errors.New("not found")

type Message struct {
	ID         int64     `json:"id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId,omitempty"`
	GroupID    string    `json:"groupId,omitempty"`
	Text       string    `json:"text"`
	Image      string    `json:"image,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

type Group struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	GroupImage  string    `json:"groupImage,omitempty"`
	AdminID     string    `json:"adminId"`
	Members     []string  `json:"members"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (g Group) HasMember(id string) bool {
	for _, m := range g.Members {
		if m == id {
			return true
		}
	}
	return false
}

// Store is the durable side of the chat: the engine is only told about
// changes after they are persisted here.
type Store interface {
	CreateDirectMessage(ctx context.Context, m Message) (Message, error)
	DirectHistory(ctx context.Context, a, b string, limit int) ([]Message, error)

	CreateGroup(ctx context.Context, g Group) (Group, error)
	Group(ctx context.Context, id string) (Group, error)
	GroupsOf(ctx context.Context, user string) ([]Group, error)
	UpdateGroup(ctx context.Context, g Group) (Group, error)
	AddMembers(ctx context.Context, groupID string, members []string) (Group, error)
	// RemoveMember drops member and, when newAdmin is set, hands the group
	// over to it.
	RemoveMember(ctx context.Context, groupID, member, newAdmin string) (Group, error)
	DeleteGroup(ctx context.Context, id string) error

	CreateGroupMessage(ctx context.Context, m Message) (Message, error)
	GroupHistory(ctx context.Context, groupID string, limit int) ([]Message, error)
}
