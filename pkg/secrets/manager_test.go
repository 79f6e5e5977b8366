package secrets

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestName(t *testing.T) {
	assert.Equal(t, "acme_datadog_ab12cd34", Name("acme", "datadog", "ab12cd34"))
}

func TestMemoryManager(t *testing.T) {
	ctx := context.Background()

	t.Run("write then read", func(t *testing.T) {
		m := NewMemoryManager()
		require.NoError(t, m.WriteSecret(ctx, "k", []byte("v")))

		got, err := m.ReadSecret(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []byte("v"), got)
	})

	t.Run("missing secret returns ErrSecretNotFound", func(t *testing.T) {
		m := NewMemoryManager()
		_, err := m.ReadSecret(ctx, "absent")
		assert.ErrorIs(t, err, ErrSecretNotFound)
		assert.ErrorIs(t, m.DeleteSecret(ctx, "absent"), ErrSecretNotFound)
	})

	t.Run("delete removes the secret", func(t *testing.T) {
		m := NewMemoryManager()
		require.NoError(t, m.WriteSecret(ctx, "k", []byte("v")))
		require.NoError(t, m.DeleteSecret(ctx, "k"))
		_, err := m.ReadSecret(ctx, "k")
		assert.ErrorIs(t, err, ErrSecretNotFound)
	})

	t.Run("json helpers round trip", func(t *testing.T) {
		m := NewMemoryManager()
		in := map[string]string{"api_key": "secret"}
		require.NoError(t, WriteJSON(ctx, m, "cfg", in))

		var out map[string]string
		require.NoError(t, ReadJSON(ctx, m, "cfg", &out))
		assert.Equal(t, in, out)
	})
}

type fakeSecretsManagerAPI struct {
	values    map[string]string
	createErr error
	putCalls  int
}

func (f *fakeSecretsManagerAPI) GetSecretValue(_ context.Context, params *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	v, ok := f.values[*params.SecretId]
	if !ok {
		return nil, &types.ResourceNotFoundException{}
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(v)}, nil
}

func (f *fakeSecretsManagerAPI) CreateSecret(_ context.Context, params *secretsmanager.CreateSecretInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	if _, ok := f.values[*params.Name]; ok {
		return nil, &types.ResourceExistsException{}
	}
	f.values[*params.Name] = *params.SecretString
	return &secretsmanager.CreateSecretOutput{}, nil
}

func (f *fakeSecretsManagerAPI) PutSecretValue(_ context.Context, params *secretsmanager.PutSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error) {
	f.putCalls++
	f.values[*params.SecretId] = *params.SecretString
	return &secretsmanager.PutSecretValueOutput{}, nil
}

func (f *fakeSecretsManagerAPI) DeleteSecret(_ context.Context, params *secretsmanager.DeleteSecretInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.DeleteSecretOutput, error) {
	if _, ok := f.values[*params.SecretId]; !ok {
		return nil, &types.ResourceNotFoundException{}
	}
	delete(f.values, *params.SecretId)
	return &secretsmanager.DeleteSecretOutput{}, nil
}

func TestAWSManager(t *testing.T) {
	ctx := context.Background()

	t.Run("write creates then updates", func(t *testing.T) {
		fake := &fakeSecretsManagerAPI{values: map[string]string{}}
		m := NewAWSManagerWithClient(fake)

		require.NoError(t, m.WriteSecret(ctx, "acme_datadog_1", []byte(`{"a":1}`)))
		assert.Equal(t, 0, fake.putCalls)

		require.NoError(t, m.WriteSecret(ctx, "acme_datadog_1", []byte(`{"a":2}`)))
		assert.Equal(t, 1, fake.putCalls)

		got, err := m.ReadSecret(ctx, "acme_datadog_1")
		require.NoError(t, err)
		assert.JSONEq(t, `{"a":2}`, string(got))
	})

	t.Run("missing secret maps to ErrSecretNotFound", func(t *testing.T) {
		m := NewAWSManagerWithClient(&fakeSecretsManagerAPI{values: map[string]string{}})
		_, err := m.ReadSecret(ctx, "absent")
		assert.ErrorIs(t, err, ErrSecretNotFound)
		assert.ErrorIs(t, m.DeleteSecret(ctx, "absent"), ErrSecretNotFound)
	})

	t.Run("delete removes the secret", func(t *testing.T) {
		fake := &fakeSecretsManagerAPI{values: map[string]string{"k": "v"}}
		m := NewAWSManagerWithClient(fake)
		require.NoError(t, m.DeleteSecret(ctx, "k"))
		assert.Empty(t, fake.values)
	})
}
