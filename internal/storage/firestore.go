package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/pauljones0/free-games-bot/internal/ledger"
	"github.com/pauljones0/free-games-bot/internal/models"
)

const defaultCollection = "giveaways"

// FirestoreBackend stores one document per ledger record.
type FirestoreBackend struct {
	client     *firestore.Client
	collection string
}

func NewFirestore(ctx context.Context, projectID, collection, credentialsFile string) (*FirestoreBackend, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore.NewClient: %w", err)
	}
	if collection == "" {
		collection = defaultCollection
	}
	return &FirestoreBackend{client: client, collection: collection}, nil
}

func (c *FirestoreBackend) Close() error {
	return c.client.Close()
}

// Load reads every record, oldest post first.
func (c *FirestoreBackend) Load(ctx context.Context) ([]models.GiveawayRecord, error) {
	iter := c.client.Collection(c.collection).OrderBy("postedAt", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var records []models.GiveawayRecord
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to iterate giveaways: %w", err)
		}
		var rec models.GiveawayRecord
		if err := doc.DataTo(&rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal giveaway %s: %w", doc.Ref.ID, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// Persist applies the single change; the snapshot is not needed here.
func (c *FirestoreBackend) Persist(ctx context.Context, change ledger.Change, _ []models.GiveawayRecord) error {
	docRef := c.client.Collection(c.collection).Doc(DocumentID(change.Record.Title))

	switch change.Op {
	case ledger.OpUpsert:
		if _, err := docRef.Set(ctx, change.Record); err != nil {
			return fmt.Errorf("failed to set giveaway %q: %w", change.Record.Title, err)
		}
	case ledger.OpRemove:
		if _, err := docRef.Delete(ctx); err != nil {
			if status.Code(err) == codes.NotFound {
				return nil
			}
			return fmt.Errorf("failed to delete giveaway %q: %w", change.Record.Title, err)
		}
	default:
		return fmt.Errorf("unknown ledger op %d", change.Op)
	}
	return nil
}

// DocumentID derives a stable document id from the normalized title. Titles may
// contain characters Firestore does not allow in ids, so the id is a hash.
func DocumentID(title string) string {
	hash := sha256.Sum256([]byte(models.NormalizeTitle(title)))
	return hex.EncodeToString(hash[:])
}
