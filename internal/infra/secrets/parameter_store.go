package secrets

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// ParameterGetter is the slice of the SSM API the store depends on.
type ParameterGetter interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// ErrParameterNotFound is returned when the named parameter does not exist.
var ErrParameterNotFound = errors.New("parameter not found")

type ParameterStore struct {
	client ParameterGetter
}

func NewParameterStore(cfg aws.Config) *ParameterStore {
	return &ParameterStore{client: ssm.NewFromConfig(cfg)}
}

// NewParameterStoreWithClient is used when the caller already owns an SSM client.
func NewParameterStoreWithClient(client ParameterGetter) *ParameterStore {
	return &ParameterStore{client: client}
}

// GetSecret reads a SecureString parameter with decryption.
func (ps *ParameterStore) GetSecret(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("secret name cannot be empty")
	}

	input := &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: aws.Bool(true),
	}

	result, err := ps.client.GetParameter(ctx, input)
	if err != nil {
		var notFound *types.ParameterNotFound
		if errors.As(err, &notFound) {
			return "", fmt.Errorf("%w: %s", ErrParameterNotFound, name)
		}
		return "", err
	}
	if result.Parameter == nil || result.Parameter.Value == nil {
		return "", fmt.Errorf("%w: %s has no value", ErrParameterNotFound, name)
	}

	return *result.Parameter.Value, nil
}
