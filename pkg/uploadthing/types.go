package uploadthing

import "encoding/json"

// ACL controls who can read an uploaded file.
type ACL string

const (
	ACLPublicRead ACL = "public-read"
	ACLPrivate    ACL = "private"
)

// ContentDisposition controls how browsers present a served file.
type ContentDisposition string

const (
	ContentDispositionInline     ContentDisposition = "inline"
	ContentDispositionAttachment ContentDisposition = "attachment"
)

// MaxConcurrency is the largest parallelism accepted by a single call.
const MaxConcurrency = 25

// File is an in-memory upload source.
type File struct {
	Name string
	Type string
	Data []byte
	// CustomID is sent only when non-nil.
	CustomID *string
}

// URLInput is the argument of UploadFilesFromURL: a URLString, a
// URLDescriptor or a URLList.
type URLInput interface {
	sources() []URLDescriptor
}

// URLString is a bare URL with no overrides.
type URLString string

func (s URLString) sources() []URLDescriptor {
	return []URLDescriptor{{URL: string(s)}}
}

// MarshalJSON encodes the URL as a plain JSON string.
func (s URLString) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// URLDescriptor is a URL with an optional name and custom id. Nil fields are
// omitted from the encoded form.
type URLDescriptor struct {
	URL      string  `json:"url"`
	Name     *string `json:"name,omitempty"`
	CustomID *string `json:"customId,omitempty"`
}

func (d URLDescriptor) sources() []URLDescriptor {
	return []URLDescriptor{d}
}

// URLList is a list of URL inputs uploaded in one call.
type URLList []URLInput

func (l URLList) sources() []URLDescriptor {
	out := make([]URLDescriptor, 0, len(l))
	for _, in := range l {
		if in == nil {
			continue
		}
		out = append(out, in.sources()...)
	}
	return out
}

// Sources flattens any URLInput into descriptors in input order.
func Sources(in URLInput) []URLDescriptor {
	if in == nil {
		return nil
	}
	return in.sources()
}

// UploadOptions are shared by every source of a call.
type UploadOptions struct {
	Metadata           map[string]interface{} `json:"metadata"`
	ContentDisposition ContentDisposition     `json:"contentDisposition,omitempty"`
	ACL                ACL                    `json:"acl,omitempty"`
	// Concurrency bounds the number of sources uploaded in parallel.
	// Zero means one at a time.
	Concurrency int `json:"concurrency,omitempty"`
}

// UploadedFileData describes a stored file.
type UploadedFileData struct {
	Key          string      `json:"key"`
	URL          string      `json:"url"`
	AppURL       string      `json:"appUrl"`
	UfsURL       string      `json:"ufsUrl"`
	Name         string      `json:"name"`
	Size         int64       `json:"size"`
	Type         string      `json:"type"`
	CustomID     *string     `json:"customId"`
	FileHash     string      `json:"fileHash"`
	LastModified int64       `json:"lastModified"`
	ServerData   interface{} `json:"serverData"`
}

// UploadFileResult is the outcome for one source. Exactly one of Data and
// Error is set.
type UploadFileResult struct {
	Data  *UploadedFileData `json:"data"`
	Error *Error            `json:"error"`
}

// OK reports whether the source was uploaded.
func (r UploadFileResult) OK() bool {
	return r.Data != nil && r.Error == nil
}
