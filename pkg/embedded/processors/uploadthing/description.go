package uploadthing

import "github.com/wehubfusion/uploadthing-node/pkg/schema"

// Identity of the node and its credential.
const (
	PluginType     = "plugin-uploadthing"
	NodeName       = "uploadThing"
	CredentialName = "uploadThingApi"
)

// Parameter names.
const (
	ParamResource           = "resource"
	ParamOperation          = "operation"
	ParamBinaryProperty     = "binaryProperty"
	ParamFileName           = "fileName"
	ParamCustomID           = "customId"
	ParamName               = "name"
	ParamURL                = "url"
	ParamContentDisposition = "contentDisposition"
	ParamACL                = "acl"
	ParamMetadata           = "metadata"
	ParamConcurrency        = "concurrency"
)

// Resources and operations.
const (
	ResourceFile           = "file"
	OperationUploadBinary  = "uploadBinary"
	OperationUploadFromURL = "uploadFromUrl"
)

var (
	showBinary = &schema.DisplayOptions{Show: map[string][]string{
		ParamResource:  {ResourceFile},
		ParamOperation: {OperationUploadBinary},
	}}
	showURL = &schema.DisplayOptions{Show: map[string][]string{
		ParamResource:  {ResourceFile},
		ParamOperation: {OperationUploadFromURL},
	}}
	showBoth = &schema.DisplayOptions{Show: map[string][]string{
		ParamResource:  {ResourceFile},
		ParamOperation: {OperationUploadBinary, OperationUploadFromURL},
	}}
)

// Description returns the node description.
func Description() *schema.NodeDescription {
	return &schema.NodeDescription{
		DisplayName: "UploadThing",
		Name:        NodeName,
		Icon:        "file:uploadThing.svg",
		Group:       []string{"transform"},
		Version:     1,
		Description: "Upload files to UploadThing",
		Defaults:    schema.NodeDefaults{Name: "UploadThing"},
		Inputs:      []string{"main"},
		Outputs:     []string{"main"},
		Credentials: []schema.CredentialRef{{Name: CredentialName, Required: true}},
		Properties: []schema.Property{
			{
				DisplayName:      "Resource",
				Name:             ParamResource,
				Type:             schema.TypeOptions,
				Options:          []schema.Option{{Name: "File", Value: ResourceFile}},
				Default:          ResourceFile,
				NoDataExpression: true,
				Required:         true,
			},
			{
				DisplayName:    "Operation",
				Name:           ParamOperation,
				Type:           schema.TypeOptions,
				DisplayOptions: &schema.DisplayOptions{Show: map[string][]string{ParamResource: {ResourceFile}}},
				Options: []schema.Option{
					{Name: "Upload Binary", Value: OperationUploadBinary, Action: "Upload binary", Description: "Upload binary data from input"},
					{Name: "Upload From URL", Value: OperationUploadFromURL, Action: "Upload from URL", Description: "Upload file from URL(s)"},
				},
				Default:          OperationUploadBinary,
				NoDataExpression: true,
			},
			{
				DisplayName:    "Binary Property",
				Name:           ParamBinaryProperty,
				Type:           schema.TypeString,
				Required:       true,
				Default:        "data",
				Description:    "Name of input binary property",
				DisplayOptions: showBinary,
			},
			{
				DisplayName:    "File Name",
				Name:           ParamFileName,
				Type:           schema.TypeString,
				Default:        "",
				Description:    "Override the file name",
				DisplayOptions: showBinary,
			},
			{
				DisplayName:    "Custom ID",
				Name:           ParamCustomID,
				Type:           schema.TypeString,
				Default:        "",
				Description:    "Bind a custom identifier to the file",
				DisplayOptions: showBoth,
			},
			{
				DisplayName:    "Name",
				Name:           ParamName,
				Type:           schema.TypeString,
				Default:        "",
				Description:    "Override the filename for URL upload",
				DisplayOptions: showURL,
			},
			{
				DisplayName:    "URL(s)",
				Name:           ParamURL,
				Type:           schema.TypeString,
				Required:       true,
				Default:        "",
				Description:    "Single URL or comma-separated list",
				DisplayOptions: showURL,
			},
			{
				DisplayName: "Content Disposition",
				Name:        ParamContentDisposition,
				Type:        schema.TypeOptions,
				Options: []schema.Option{
					{Name: "Inline", Value: "inline"},
					{Name: "Attachment", Value: "attachment"},
				},
				Default:        "inline",
				DisplayOptions: showBoth,
			},
			{
				DisplayName: "ACL",
				Name:        ParamACL,
				Type:        schema.TypeOptions,
				Options: []schema.Option{
					{Name: "Public Read", Value: "public-read"},
					{Name: "Private", Value: "private"},
				},
				Default:        "public-read",
				Description:    "Access control setting",
				DisplayOptions: showBoth,
			},
			{
				DisplayName:    "Metadata",
				Name:           ParamMetadata,
				Type:           schema.TypeJSON,
				Default:        "{}",
				DisplayOptions: showBoth,
			},
			{
				DisplayName:    "Concurrency",
				Name:           ParamConcurrency,
				Type:           schema.TypeNumber,
				Default:        1,
				TypeOptions:    &schema.PropertyTypeOptions{MinValue: schema.Float(1), MaxValue: schema.Float(25)},
				DisplayOptions: showBoth,
			},
		},
	}
}

// Credential returns the credential type the node authenticates with.
func Credential() *schema.CredentialType {
	return &schema.CredentialType{
		Name:             CredentialName,
		DisplayName:      "UploadThing API",
		DocumentationURL: "https://docs.uploadthing.com",
		Properties: []schema.Property{
			{
				DisplayName: "Token",
				Name:        "token",
				Type:        schema.TypeString,
				Default:     "",
				Description: "UploadThing token from dashboard",
				TypeOptions: &schema.PropertyTypeOptions{Password: true},
			},
		},
	}
}
