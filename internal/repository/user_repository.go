package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sirupsen/logrus"

	"github.com/authgate/authgate/internal/models"
)

// ErrUserExists is returned by Create when the id or username is taken.
var ErrUserExists = errors.New("user already exists")

const usernameIndex = "username-index"

type UserRepository struct {
	client    *dynamodb.Client
	tableName string
	logger    *logrus.Logger
}

func NewUserRepository(client *dynamodb.Client, tableName string, logger *logrus.Logger) *UserRepository {
	return &UserRepository{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

// providerPK is the partition key of the link item that maps a federated
// subject back to a local user id.
func providerPK(provider, subjectID string) string {
	return fmt.Sprintf("IDP#%s#%s", provider, subjectID)
}

// usernamePK is the partition key of the reservation item that makes a
// username unique across concurrent creates.
func usernamePK(username string) string {
	return "USERNAME#" + username
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	user := &models.User{ID: id}

	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: user.GetPK()},
			"SK": &types.AttributeValueMemberS{Value: user.GetSK()},
		},
	})
	if err != nil {
		r.logger.WithError(err).Error("Failed to get user from DynamoDB")
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if result.Item == nil {
		return nil, nil // user not found
	}

	var dbUser models.User
	if err := attributevalue.UnmarshalMap(result.Item, &dbUser); err != nil {
		r.logger.WithError(err).Error("Failed to unmarshal user from DynamoDB")
		return nil, fmt.Errorf("failed to unmarshal user: %w", err)
	}
	return &dbUser, nil
}

func (r *UserRepository) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	result, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String(usernameIndex),
		KeyConditionExpression: aws.String("username = :username"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":username": &types.AttributeValueMemberS{Value: username},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		r.logger.WithError(err).Error("Failed to query user by username")
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	if len(result.Items) == 0 {
		return nil, nil
	}

	var dbUser models.User
	if err := attributevalue.UnmarshalMap(result.Items[0], &dbUser); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user: %w", err)
	}
	return &dbUser, nil
}

// FindByProviderID resolves a federated subject to the linked local user,
// or nil when no user has linked that identity yet.
func (r *UserRepository) FindByProviderID(ctx context.Context, provider, subjectID string) (*models.User, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: providerPK(provider, subjectID)},
			"SK": &types.AttributeValueMemberS{Value: "LINK"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get provider link: %w", err)
	}
	if result.Item == nil {
		return nil, nil
	}

	userID, ok := result.Item["user_id"].(*types.AttributeValueMemberS)
	if !ok {
		return nil, fmt.Errorf("provider link for %s is missing user_id", provider)
	}
	return r.FindByID(ctx, userID.Value)
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	// Reserve the username first; two concurrent creates of the same name
	// race on this conditional put, not on the GSI precheck.
	if user.Username != "" {
		if err := r.reserveUsername(ctx, user.Username, user.ID); err != nil {
			return err
		}
	}

	item, err := attributevalue.MarshalMap(user)
	if err != nil {
		r.logger.WithError(err).Error("Failed to marshal user for DynamoDB")
		return fmt.Errorf("failed to marshal user: %w", err)
	}
	item["PK"] = &types.AttributeValueMemberS{Value: user.GetPK()}
	item["SK"] = &types.AttributeValueMemberS{Value: user.GetSK()}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrUserExists
		}
		r.logger.WithError(err).Error("Failed to create user in DynamoDB")
		return fmt.Errorf("failed to create user: %w", err)
	}

	for provider, identity := range user.Platforms {
		if err := r.putProviderLink(ctx, user.ID, provider, identity.SubjectID); err != nil {
			return err
		}
	}
	return nil
}

// LinkProvider attaches a federated identity to an existing user and writes
// the reverse-lookup link item.
func (r *UserRepository) LinkProvider(ctx context.Context, userID, provider string, identity models.ProviderIdentity) error {
	identityAttr, err := attributevalue.Marshal(identity)
	if err != nil {
		return fmt.Errorf("failed to marshal provider identity: %w", err)
	}

	user := &models.User{ID: userID}
	key := map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: user.GetPK()},
		"SK": &types.AttributeValueMemberS{Value: user.GetSK()},
	}

	// Setting a map member fails when the map attribute itself is absent,
	// so make sure it exists before the nested write.
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(r.tableName),
		Key:              key,
		UpdateExpression: aws.String("SET platforms = if_not_exists(platforms, :empty)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":empty": &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{}},
		},
	})
	if err != nil {
		r.logger.WithError(err).Error("Failed to initialize platforms map")
		return fmt.Errorf("failed to link provider: %w", err)
	}

	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(r.tableName),
		Key:              key,
		UpdateExpression: aws.String("SET platforms.#p = :identity, updated_at = :updated_at"),
		ExpressionAttributeNames: map[string]string{
			"#p": provider,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":identity":   identityAttr,
			":updated_at": &types.AttributeValueMemberS{Value: time.Now().Format(time.RFC3339)},
		},
	})
	if err != nil {
		r.logger.WithError(err).Error("Failed to link provider identity")
		return fmt.Errorf("failed to link provider: %w", err)
	}

	return r.putProviderLink(ctx, userID, provider, identity.SubjectID)
}

func (r *UserRepository) reserveUsername(ctx context.Context, username, userID string) error {
	_, err := r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item: map[string]types.AttributeValue{
			"PK":      &types.AttributeValueMemberS{Value: usernamePK(username)},
			"SK":      &types.AttributeValueMemberS{Value: "LINK"},
			"user_id": &types.AttributeValueMemberS{Value: userID},
		},
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrUserExists
		}
		return fmt.Errorf("failed to reserve username: %w", err)
	}
	return nil
}

func (r *UserRepository) putProviderLink(ctx context.Context, userID, provider, subjectID string) error {
	_, err := r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item: map[string]types.AttributeValue{
			"PK":      &types.AttributeValueMemberS{Value: providerPK(provider, subjectID)},
			"SK":      &types.AttributeValueMemberS{Value: "LINK"},
			"user_id": &types.AttributeValueMemberS{Value: userID},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to put provider link: %w", err)
	}
	return nil
}

// UpdateField sets a single user attribute, e.g. the tracked appVersion.
func (r *UserRepository) UpdateField(ctx context.Context, id, field, value string) error {
	user := &models.User{ID: id}

	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: user.GetPK()},
			"SK": &types.AttributeValueMemberS{Value: user.GetSK()},
		},
		UpdateExpression: aws.String("SET #f = :v, updated_at = :updated_at"),
		ExpressionAttributeNames: map[string]string{
			"#f": field,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":v":          &types.AttributeValueMemberS{Value: value},
			":updated_at": &types.AttributeValueMemberS{Value: time.Now().Format(time.RFC3339)},
		},
	})
	if err != nil {
		r.logger.WithError(err).Error("Failed to update user field")
		return fmt.Errorf("failed to update user field %s: %w", field, err)
	}
	return nil
}

// DeleteAll removes every item in the table, user and link items alike.
func (r *UserRepository) DeleteAll(ctx context.Context) error {
	var startKey map[string]types.AttributeValue
	for {
		page, err := r.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:            aws.String(r.tableName),
			ProjectionExpression: aws.String("PK, SK"),
			ExclusiveStartKey:    startKey,
		})
		if err != nil {
			return fmt.Errorf("failed to scan users: %w", err)
		}

		for _, item := range page.Items {
			_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
				TableName: aws.String(r.tableName),
				Key: map[string]types.AttributeValue{
					"PK": item["PK"],
					"SK": item["SK"],
				},
			})
			if err != nil {
				return fmt.Errorf("failed to delete user item: %w", err)
			}
		}

		if page.LastEvaluatedKey == nil {
			return nil
		}
		startKey = page.LastEvaluatedKey
	}
}

// Count reports how many user items exist, link items excluded.
func (r *UserRepository) Count(ctx context.Context) (int, error) {
	var total int
	var startKey map[string]types.AttributeValue
	for {
		page, err := r.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:        aws.String(r.tableName),
			Select:           types.SelectCount,
			FilterExpression: aws.String("begins_with(PK, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":prefix": &types.AttributeValueMemberS{Value: "USER#"},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return 0, fmt.Errorf("failed to count users: %w", err)
		}
		total += int(page.Count)

		if page.LastEvaluatedKey == nil {
			return total, nil
		}
		startKey = page.LastEvaluatedKey
	}
}
