package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"storefront-agent/models"
)

var ErrInvalidAPIKey = errors.New("invalid api key")

// HashAPIKey generates a bcrypt hash of the key secret
func HashAPIKey(secret string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	return string(bytes), err
}

// CheckAPIKeyHash compares a key secret with a hash
func CheckAPIKeyHash(secret, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret))
	return err == nil
}

// IssueOperatorKey creates an operator with a fresh API key. The returned key
// ("<keyID>.<secret>") is shown once; only its hash is stored.
func IssueOperatorKey(ctx context.Context, operators OperatorStore, tenantID, name, email string) (*models.Operator, string, error) {
	if tenantID == "" || name == "" {
		return nil, "", fmt.Errorf("tenant id and name are required")
	}

	keyID := strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", fmt.Errorf("failed to generate key: %w", err)
	}
	secret := hex.EncodeToString(raw)

	return createOperator(ctx, operators, "", tenantID, name, email, keyID, secret)
}

// SaveOperatorWithKey stores an operator under a caller-chosen key, e.g. from a seed file.
func SaveOperatorWithKey(ctx context.Context, operators OperatorStore, tenantID, name, email, key string) (*models.Operator, error) {
	keyID, secret, ok := splitAPIKey(key)
	if !ok {
		return nil, ErrInvalidAPIKey
	}
	id := ""
	if existing, err := operators.GetOperatorByKeyID(ctx, keyID); err == nil {
		id = existing.ID
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	op, _, err := createOperator(ctx, operators, id, tenantID, name, email, keyID, secret)
	return op, err
}

func createOperator(ctx context.Context, operators OperatorStore, id, tenantID, name, email, keyID, secret string) (*models.Operator, string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	hash, err := HashAPIKey(secret)
	if err != nil {
		return nil, "", fmt.Errorf("failed to hash key: %w", err)
	}

	op := &models.Operator{
		ID:         id,
		TenantID:   tenantID,
		Name:       name,
		Email:      email,
		KeyID:      keyID,
		APIKeyHash: hash,
		Active:     true,
		CreatedAt:  time.Now(),
	}
	if err := operators.SaveOperator(ctx, op); err != nil {
		return nil, "", fmt.Errorf("failed to save operator: %w", err)
	}
	return op, keyID + "." + secret, nil
}

// AuthenticateOperator resolves an API key to an active operator.
func AuthenticateOperator(ctx context.Context, operators OperatorStore, key string) (*models.Operator, error) {
	keyID, secret, ok := splitAPIKey(key)
	if !ok {
		return nil, ErrInvalidAPIKey
	}

	op, err := operators.GetOperatorByKeyID(ctx, keyID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidAPIKey
		}
		return nil, err
	}
	if !op.Active || !CheckAPIKeyHash(secret, op.APIKeyHash) {
		return nil, ErrInvalidAPIKey
	}
	return op, nil
}

func splitAPIKey(key string) (string, string, bool) {
	keyID, secret, ok := strings.Cut(strings.TrimSpace(key), ".")
	if !ok || keyID == "" || secret == "" {
		return "", "", false
	}
	return keyID, secret, true
}
