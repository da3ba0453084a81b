package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tinywideclouds/go-broadcast-service/pkg/broadcast"
)

const tokensCollection = "notifications_tokens"

// FirestoreStore implements TokenStore using Google Cloud Firestore.
type FirestoreStore struct {
	client *firestore.Client
}

var _ broadcast.TokenStore = (*FirestoreStore)(nil)

func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client}
}

// tokenRecord is the internal DB representation.
type tokenRecord struct {
	PushToken string `firestore:"expoPushToken"`
	Notified  bool   `firestore:"notified"`
	IsForTest bool   `firestore:"isForTest"`
	Status    string `firestore:"status"`
}

// Put writes a full record. Registration is owned elsewhere; this exists for seeding.
func (s *FirestoreStore) Put(ctx context.Context, record broadcast.TokenRecord) error {
	_, err := s.tokenRef(record.PushToken).Set(ctx, tokenRecord{
		PushToken: record.PushToken,
		Notified:  record.Notified,
		IsForTest: record.IsForTest,
		Status:    string(record.Status),
	})
	return err
}

// Get reads a single record by token.
func (s *FirestoreStore) Get(ctx context.Context, token string) (*broadcast.TokenRecord, error) {
	doc, err := s.tokenRef(token).Get(ctx)
	if err != nil {
		return nil, err
	}
	var record tokenRecord
	if err := doc.DataTo(&record); err != nil {
		return nil, fmt.Errorf("corrupt token record %s: %w", doc.Ref.ID, err)
	}
	return &broadcast.TokenRecord{
		PushToken: record.PushToken,
		Notified:  record.Notified,
		IsForTest: record.IsForTest,
		Status:    broadcast.TokenStatus(record.Status),
	}, nil
}

func (s *FirestoreStore) ResetNotified(ctx context.Context) error {
	// Only the references are needed.
	iter := s.client.Collection(tokensCollection).Select().Documents(ctx)
	defer iter.Stop()

	var refs []*firestore.DocumentRef
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return fmt.Errorf("firestore iteration failed: %w", err)
		}
		refs = append(refs, doc.Ref)
	}

	return s.bulkUpdate(ctx, refs, []firestore.Update{{Path: "notified", Value: false}})
}

func (s *FirestoreStore) FindTokens(ctx context.Context, query broadcast.TokenQuery) ([]string, error) {
	iter := s.client.Collection(tokensCollection).
		Where("isForTest", "==", query.IsForTest).
		Where("status", "==", string(query.Status)).
		Documents(ctx)
	defer iter.Stop()

	var tokens []string
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}

		var record tokenRecord
		if err := doc.DataTo(&record); err != nil {
			// Corrupt rows are skipped; they can never be delivered to anyway.
			continue
		}
		tokens = append(tokens, record.PushToken)
	}
	return tokens, nil
}

func (s *FirestoreStore) MarkNotified(ctx context.Context, tokens []string) error {
	return s.bulkUpdate(ctx, s.tokenRefs(tokens), []firestore.Update{
		{Path: "notified", Value: true},
	})
}

func (s *FirestoreStore) MarkInvalid(ctx context.Context, tokens []string) error {
	return s.bulkUpdate(ctx, s.tokenRefs(tokens), []firestore.Update{
		{Path: "notified", Value: false},
		{Path: "status", Value: string(broadcast.StatusDraft)},
	})
}

// bulkUpdate applies the same update to every reference. Missing documents are
// ignored, matching the semantics of an UPDATE ... WHERE IN.
func (s *FirestoreStore) bulkUpdate(ctx context.Context, refs []*firestore.DocumentRef, updates []firestore.Update) error {
	if len(refs) == 0 {
		return nil
	}

	bw := s.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(refs))
	var errs []error
	for _, ref := range refs {
		job, err := bw.Update(ref, updates)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		jobs = append(jobs, job)
	}
	bw.End()

	for _, job := range jobs {
		if _, err := job.Results(); err != nil && status.Code(err) != codes.NotFound {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("firestore bulk update failed for %d of %d documents: %w", len(errs), len(refs), errors.Join(errs...))
	}
	return nil
}

// --- Helpers ---

func (s *FirestoreStore) tokenRefs(tokens []string) []*firestore.DocumentRef {
	refs := make([]*firestore.DocumentRef, 0, len(tokens))
	for _, t := range tokens {
		refs = append(refs, s.tokenRef(t))
	}
	return refs
}

// tokenRef: notifications_tokens/{tokenHash}
func (s *FirestoreStore) tokenRef(token string) *firestore.DocumentRef {
	return s.client.Collection(tokensCollection).Doc(hashToken(token))
}

func hashToken(t string) string {
	sum := sha256.Sum256([]byte(t))
	return hex.EncodeToString(sum[:])
}
