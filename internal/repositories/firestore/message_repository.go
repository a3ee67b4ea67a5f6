package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/taketaketaketake/bol-sub000/internal/domain"
	pfirestore "github.com/taketaketaketake/bol-sub000/internal/platform/firestore"
	"github.com/taketaketaketake/bol-sub000/internal/repositories"
)

const messageSubcollection = "messages"

// MessageRepository stores staff notes on an order thread.
type MessageRepository struct {
	provider *pfirestore.Provider
}

// NewMessageRepository constructs a Firestore-backed message repository.
func NewMessageRepository(provider *pfirestore.Provider) (*MessageRepository, error) {
	if provider == nil {
		return nil, errors.New("message repository requires firestore provider")
	}
	return &MessageRepository{provider: provider}, nil
}

// Append writes one message to the order thread.
func (r *MessageRepository) Append(ctx context.Context, message domain.OrderMessage) error {
	if r == nil || r.provider == nil {
		return errors.New("message repository not initialised")
	}
	if strings.TrimSpace(message.ID) == "" {
		return errors.New("message repository: message id is required")
	}
	coll, err := r.collection(ctx, message.OrderID)
	if err != nil {
		return err
	}
	if _, err := coll.Doc(message.ID).Create(ctx, fromDomainMessage(message)); err != nil {
		return pfirestore.WrapError("messages.append", err)
	}
	return nil
}

// ListByOrder returns messages for an order, oldest first so the thread reads top down.
func (r *MessageRepository) ListByOrder(ctx context.Context, orderID string, pager domain.Pagination) (domain.CursorPage[domain.OrderMessage], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.OrderMessage]{}, errors.New("message repository not initialised")
	}
	coll, err := r.collection(ctx, orderID)
	if err != nil {
		return domain.CursorPage[domain.OrderMessage]{}, err
	}

	query := coll.OrderBy("createdAt", firestore.Asc).OrderBy(firestore.DocumentID, firestore.Asc)

	limit := pager.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := 0
	if limit > 0 {
		fetchLimit = limit + 1
		query = query.Limit(fetchLimit)
	}
	if token := strings.TrimSpace(pager.PageToken); token != "" {
		tokenTime, tokenID, err := decodeTimeToken(token)
		if err != nil {
			return domain.CursorPage[domain.OrderMessage]{}, fmt.Errorf("messages.list: invalid page token: %w", err)
		}
		query = query.StartAfter(tokenTime, tokenID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var messages []domain.OrderMessage
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.OrderMessage]{}, pfirestore.WrapError("messages.list", err)
		}
		var doc messageDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.OrderMessage]{}, fmt.Errorf("messages.list: decode %s: %w", snap.Ref.ID, err)
		}
		messages = append(messages, toDomainMessage(snap.Ref.ID, orderID, doc))
	}

	nextToken := ""
	if limit > 0 && len(messages) == fetchLimit {
		last := messages[len(messages)-1]
		nextToken = encodeTimeToken(last.CreatedAt, last.ID)
		messages = messages[:len(messages)-1]
	}

	return domain.CursorPage[domain.OrderMessage]{Items: messages, NextPageToken: nextToken}, nil
}

func (r *MessageRepository) collection(ctx context.Context, orderID string) (*firestore.CollectionRef, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, errors.New("message repository: order id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(orderCollection).Doc(orderID).Collection(messageSubcollection), nil
}

type messageDocument struct {
	AuthorID  string    `firestore:"authorId"`
	Body      string    `firestore:"body"`
	CreatedAt time.Time `firestore:"createdAt"`
}

func fromDomainMessage(message domain.OrderMessage) messageDocument {
	return messageDocument{
		AuthorID:  strings.TrimSpace(message.AuthorID),
		Body:      message.Body,
		CreatedAt: message.CreatedAt.UTC(),
	}
}

func toDomainMessage(id, orderID string, doc messageDocument) domain.OrderMessage {
	return domain.OrderMessage{
		ID:        id,
		OrderID:   orderID,
		AuthorID:  doc.AuthorID,
		Body:      doc.Body,
		CreatedAt: doc.CreatedAt,
	}
}

var _ repositories.MessageRepository = (*MessageRepository)(nil)
