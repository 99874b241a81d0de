package secrets

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
	"go.uber.org/zap"
)

// KMSAPI is the subset of the KMS client used here.
type KMSAPI interface {
	Decrypt(ctx context.Context, in *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// KMSDecrypter decrypts base64 KMS ciphertext. Values that are not valid
// base64, or that KMS rejects as invalid ciphertext, are assumed to be
// plaintext; every other KMS error is returned.
type KMSDecrypter struct {
	client KMSAPI
	keyID  string
	logger *zap.Logger
}

// NewKMSDecrypter creates a KMSDecrypter. keyID may be empty for symmetric
// keys where KMS infers the key from the ciphertext.
func NewKMSDecrypter(client KMSAPI, keyID string, logger *zap.Logger) *KMSDecrypter {
	return &KMSDecrypter{client: client, keyID: keyID, logger: logger.Named("kms")}
}

// Decrypt implements Decrypter.
func (k *KMSDecrypter) Decrypt(ctx context.Context, field, value string) (string, error) {
	blob, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		k.logger.Warn("Credential is not base64, assuming plaintext", zap.String("field", field))
		return value, nil
	}

	in := &kms.DecryptInput{CiphertextBlob: blob}
	if k.keyID != "" {
		in.KeyId = &k.keyID
	}
	out, err := k.client.Decrypt(ctx, in)
	if err != nil {
		var invalid *kmstypes.InvalidCiphertextException
		if errors.As(err, &invalid) {
			k.logger.Warn("KMS rejected ciphertext, assuming plaintext", zap.String("field", field))
			return value, nil
		}
		return "", fmt.Errorf("kms decrypt %s: %w", field, err)
	}
	return string(out.Plaintext), nil
}
