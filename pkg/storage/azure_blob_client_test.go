package storage

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testConnectionString = "DefaultEndpointsProtocol=https;AccountName=test;AccountKey=dGVzdA==;EndpointSuffix=core.windows.net"

func TestNewAzureBlobClient(t *testing.T) {
	tests := []struct {
		name             string
		connectionString string
		containerName    string
		wantErr          bool
		errContains      string
		wantServiceURL   string
	}{
		{
			name:          "empty connection string",
			containerName: "uploads",
			wantErr:       true,
			errContains:   "connection string is required",
		},
		{
			name:             "empty container name",
			connectionString: testConnectionString,
			wantErr:          true,
			errContains:      "container name is required",
		},
		{
			name:             "missing account key",
			connectionString: "AccountName=test",
			containerName:    "uploads",
			wantErr:          true,
			errContains:      "account name and key are required",
		},
		{
			name:             "standard connection string",
			connectionString: testConnectionString,
			containerName:    "uploads",
			wantServiceURL:   "https://test.blob.core.windows.net",
		},
		{
			name:             "development storage",
			connectionString: "UseDevelopmentStorage=true",
			containerName:    "uploads",
			wantServiceURL:   devStoreBlobURL,
		},
		{
			name:             "explicit blob endpoint",
			connectionString: "AccountName=test;AccountKey=dGVzdA==;BlobEndpoint=http://localhost:10000/test/",
			containerName:    "uploads",
			wantServiceURL:   "http://localhost:10000/test",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewAzureBlobClient(tt.connectionString, tt.containerName, zap.NewNop())
			if tt.wantErr {
				require.Error(t, err)
				assert.Nil(t, client)
				assert.Contains(t, err.Error(), tt.errContains)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantServiceURL, client.serviceURL)
		})
	}
}

func TestParseConnectionString(t *testing.T) {
	params := parseConnectionString(" AccountName=acct ; AccountKey=a2V5PT0=;;junk;EndpointSuffix=core.windows.net")
	assert.Equal(t, "acct", params["AccountName"])
	assert.Equal(t, "a2V5PT0=", params["AccountKey"])
	assert.Equal(t, "core.windows.net", params["EndpointSuffix"])
	assert.NotContains(t, params, "junk")

	dev := parseConnectionString("UseDevelopmentStorage=true")
	assert.Equal(t, devStoreAccountName, dev["AccountName"])
	assert.Equal(t, devStoreBlobURL, dev["BlobEndpoint"])
}

func TestExtractBlobPath(t *testing.T) {
	client, err := NewAzureBlobClient(testConnectionString, "uploads", zap.NewNop())
	require.NoError(t, err)

	tests := []struct {
		ref     string
		want    string
		wantErr bool
	}{
		{ref: "results/wf/run/exec.json", want: "results/wf/run/exec.json"},
		{ref: "/uploads/results/exec.json", want: "results/exec.json"},
		{ref: "https://test.blob.core.windows.net/uploads/results/exec.json", want: "results/exec.json"},
		{ref: "https://test.blob.core.windows.net/uploads/results/exec.json?sv=2021&sig=abc", want: "results/exec.json"},
		{ref: "https://other.example.com/uploads/bin/my%20file.png", want: "bin/my file.png"},
		{ref: "  ", wantErr: true},
		{ref: "https://test.blob.core.windows.net/uploads/", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got, err := client.extractBlobPath(tt.ref)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// TestAzureBlobClient_RoundTrip runs against Azurite when AZURITE_TESTS is set.
func TestAzureBlobClient_RoundTrip(t *testing.T) {
	if os.Getenv("AZURITE_TESTS") == "" {
		t.Skip("set AZURITE_TESTS=1 with azurite running to exercise blob storage")
	}

	client, err := NewAzureBlobClient("UseDevelopmentStorage=true", "test-results", zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	original := []byte(`[{"json":{"key":"abc","url":"https://utfs.io/f/abc"}}]`)
	blobURL, err := client.UploadResult(ctx, "roundtrip/result.json", original, map[string]string{"execution_id": "exec-1"})
	require.NoError(t, err)
	assert.Contains(t, blobURL, "roundtrip/result.json")

	sasURL, err := client.GenerateSASURL(ctx, blobURL, 1)
	require.NoError(t, err)
	assert.Contains(t, sasURL, "sig=")

	downloaded, err := client.DownloadResult(ctx, sasURL)
	require.NoError(t, err)
	assert.Equal(t, original, downloaded)

	binURL, err := client.UploadBinary(ctx, "binary/photo.png", []byte{0x89, 'P', 'N', 'G'}, "image/png")
	require.NoError(t, err)
	data, err := client.Download(ctx, binURL)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, data)

	_, err = client.Download(ctx, "binary/missing.png")
	assert.ErrorIs(t, err, ErrBlobNotFound)
}
