package s3

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/hupe1980/veccodec/blobstore"
)

// DDBClient is the interface for DynamoDB operations.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DDBCommitter implements blobstore.Committer with DynamoDB as the commit
// log. Manifests are written to the store next to their segments_N name and
// the generation is claimed with a conditional PutItem, which gives the
// compare-and-swap S3 lacks.
//
// Table schema:
//   - Partition key: base_uri (string) - the S3 prefix/path
//   - Sort key: version (number) - the commit generation
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name veccodec-commits \
//	  --attribute-definitions AttributeName=base_uri,AttributeType=S AttributeName=version,AttributeType=N \
//	  --key-schema AttributeName=base_uri,KeyType=HASH AttributeName=version,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type DDBCommitter struct {
	store     blobstore.Store
	ddbClient DDBClient
	tableName string
	baseURI   string
}

var _ blobstore.Committer = (*DDBCommitter)(nil)

// NewDDBCommitter creates a committer. baseURI ("s3://bucket/prefix") is
// used as partition key.
func NewDDBCommitter(store blobstore.Store, ddbClient DDBClient, tableName, baseURI string) *DDBCommitter {
	return &DDBCommitter{
		store:     store,
		ddbClient: ddbClient,
		tableName: tableName,
		baseURI:   baseURI,
	}
}

// Commit writes the manifest under a writer-unique name and then claims
// gen. When the claim fails the manifest blob is removed again.
func (c *DDBCommitter) Commit(ctx context.Context, gen uint64, manifest []byte) error {
	name := blobstore.CommitName(gen) + "." + uuid.NewString()
	if err := c.store.Put(ctx, name, manifest); err != nil {
		return err
	}

	_, err := c.ddbClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item: map[string]types.AttributeValue{
			"base_uri":      &types.AttributeValueMemberS{Value: c.baseURI},
			"version":       &types.AttributeValueMemberN{Value: strconv.FormatUint(gen, 10)},
			"manifest_path": &types.AttributeValueMemberS{Value: name},
		},
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	if err != nil {
		_ = c.store.Delete(ctx, name)
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return fmt.Errorf("%w: generation %d", blobstore.ErrConcurrentModification, gen)
		}
		return fmt.Errorf("failed to commit version to DynamoDB: %w", err)
	}
	return nil
}

// Latest queries the newest generation and reads its manifest.
func (c *DDBCommitter) Latest(ctx context.Context) (uint64, []byte, error) {
	gen, name, err := c.latestVersion(ctx)
	if err != nil || gen == 0 {
		return 0, nil, err
	}
	b, err := c.store.Open(ctx, name)
	if err != nil {
		return 0, nil, err
	}
	defer b.Close()

	data, err := blobstore.ReadAll(ctx, b)
	if err != nil {
		return 0, nil, err
	}
	return gen, data, nil
}

func (c *DDBCommitter) latestVersion(ctx context.Context) (uint64, string, error) {
	resp, err := c.ddbClient.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("base_uri = :uri"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uri": &types.AttributeValueMemberS{Value: c.baseURI},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return 0, "", fmt.Errorf("failed to query DynamoDB: %w", err)
	}
	if len(resp.Items) == 0 {
		return 0, "", nil
	}

	item := resp.Items[0]
	versionAttr, ok := item["version"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, "", errors.New("invalid version attribute in DynamoDB")
	}
	pathAttr, ok := item["manifest_path"].(*types.AttributeValueMemberS)
	if !ok {
		return 0, "", errors.New("invalid manifest_path attribute in DynamoDB")
	}
	version, err := strconv.ParseUint(versionAttr.Value, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("failed to parse version: %w", err)
	}
	return version, pathAttr.Value, nil
}

// ConditionalCommitter implements blobstore.Committer with S3 conditional
// writes (If-None-Match) on the segments_N object.
type ConditionalCommitter struct {
	store *Store
}

var _ blobstore.Committer = (*ConditionalCommitter)(nil)

// NewConditionalCommitter creates a committer over store.
func NewConditionalCommitter(store *Store) *ConditionalCommitter {
	return &ConditionalCommitter{store: store}
}

func (c *ConditionalCommitter) Commit(ctx context.Context, gen uint64, manifest []byte) error {
	err := c.store.PutIfNotExists(ctx, blobstore.CommitName(gen), manifest)
	if errors.Is(err, ErrConflict) {
		return fmt.Errorf("%w: generation %d", blobstore.ErrConcurrentModification, gen)
	}
	return err
}

func (c *ConditionalCommitter) Latest(ctx context.Context) (uint64, []byte, error) {
	names, err := c.store.List(ctx, blobstore.CommitPrefix)
	if err != nil {
		return 0, nil, err
	}
	var latest uint64
	for _, name := range names {
		if gen, ok := blobstore.ParseCommitName(name); ok && gen > latest {
			latest = gen
		}
	}
	if latest == 0 {
		return 0, nil, nil
	}
	b, err := c.store.Open(ctx, blobstore.CommitName(latest))
	if err != nil {
		return 0, nil, err
	}
	defer b.Close()
	data, err := blobstore.ReadAll(ctx, b)
	if err != nil {
		return 0, nil, err
	}
	return latest, data, nil
}
