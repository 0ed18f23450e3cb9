// Package secrets resolves the identity-provider API key. The key
// may arrive as plaintext in the environment or as a KMS-encrypted
// ciphertext decrypted once at startup.
package secrets

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"

	"reset-guard/internal/config"
	"reset-guard/internal/util"
)

// ResolveIdentityAPIKey returns the provider API key, preferring the
// plaintext env value, falling back to KMS decryption when enabled.
// An empty result is not an error here; the orchestrator fails each
// request with failed-precondition until the secret appears.
func ResolveIdentityAPIKey(ctx context.Context, cfg *config.Config) (string, error) {
	if cfg.Identity.APIKey != "" {
		return cfg.Identity.APIKey, nil
	}

	if !cfg.KMS.Enabled || cfg.KMS.APIKeyCiphertext == "" {
		util.Warn("identity API key not configured; phone-verified resets will be rejected")
		return "", nil
	}

	ciphertext, err := base64.StdEncoding.DecodeString(cfg.KMS.APIKeyCiphertext)
	if err != nil {
		return "", fmt.Errorf("identity API key ciphertext is not valid base64: %w", err)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to load AWS config: %w", err)
	}

	input := &kms.DecryptInput{CiphertextBlob: ciphertext}
	if cfg.KMS.KeyID != "" {
		input.KeyId = aws.String(cfg.KMS.KeyID)
	}

	kmsClient := kms.NewFromConfig(awsCfg)
	out, err := kmsClient.Decrypt(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt identity API key: %w", err)
	}

	util.Info("identity API key decrypted via KMS",
		util.String("key_id", cfg.KMS.KeyID))

	return string(out.Plaintext), nil
}
