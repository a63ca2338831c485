package uploadthing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wehubfusion/uploadthing-node/pkg/schema"
)

func TestFieldVisibilityPerOperation(t *testing.T) {
	desc := Description()

	assert.Equal(t, []string{
		"resource", "operation", "binaryProperty", "fileName", "customId",
		"contentDisposition", "acl", "metadata", "concurrency",
	}, desc.VisibleNames(map[string]interface{}{"operation": OperationUploadBinary}))

	assert.Equal(t, []string{
		"resource", "operation", "customId", "name", "url",
		"contentDisposition", "acl", "metadata", "concurrency",
	}, desc.VisibleNames(map[string]interface{}{"operation": OperationUploadFromURL}))
}

func TestDescriptionDefaults(t *testing.T) {
	desc := Description()
	assert.Equal(t, NodeName, desc.Name)
	assert.Equal(t, "UploadThing", desc.DisplayName)
	assert.Equal(t, []string{"transform"}, desc.Group)
	assert.Equal(t, 1, desc.Version)
	assert.Equal(t, []schema.CredentialRef{{Name: CredentialName, Required: true}}, desc.Credentials)

	defaults := desc.DefaultValues()
	assert.Equal(t, "file", defaults["resource"])
	assert.Equal(t, "uploadBinary", defaults["operation"])
	assert.Equal(t, "data", defaults["binaryProperty"])
	assert.Equal(t, "inline", defaults["contentDisposition"])
	assert.Equal(t, "public-read", defaults["acl"])
	assert.Equal(t, "{}", defaults["metadata"])
	assert.Equal(t, 1, defaults["concurrency"])

	conc, ok := desc.Property("concurrency")
	require.True(t, ok)
	assert.Equal(t, 1.0, *conc.TypeOptions.MinValue)
	assert.Equal(t, 25.0, *conc.TypeOptions.MaxValue)
}

func TestDescriptionValidation(t *testing.T) {
	v := schema.NewValidator()
	desc := Description()

	assert.True(t, v.ValidateParameters(desc, map[string]interface{}{}).Valid)
	assert.False(t, v.ValidateParameters(desc, map[string]interface{}{"operation": OperationUploadFromURL}).Valid)
	assert.True(t, v.ValidateParameters(desc, map[string]interface{}{"operation": OperationUploadFromURL, "url": "https://x"}).Valid)
	assert.False(t, v.ValidateParameters(desc, map[string]interface{}{"concurrency": 30}).Valid)
	assert.False(t, v.ValidateParameters(desc, map[string]interface{}{"acl": "world"}).Valid)
}

func TestCredentialDeclaration(t *testing.T) {
	cred := Credential()
	assert.Equal(t, "uploadThingApi", cred.Name)
	assert.Equal(t, "https://docs.uploadthing.com", cred.DocumentationURL)
	require.Len(t, cred.Properties, 1)
	assert.Equal(t, "token", cred.Properties[0].Name)
	assert.True(t, cred.Properties[0].TypeOptions.Password)
}
