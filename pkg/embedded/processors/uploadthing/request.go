package uploadthing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/wehubfusion/uploadthing-node/pkg/embedded/runtime"
	ut "github.com/wehubfusion/uploadthing-node/pkg/uploadthing"
)

const (
	fallbackFileName = "file"
	fallbackMimeType = "application/octet-stream"
)

// ParseURLs splits a comma-separated URL list, trimming entries and dropping
// empty ones. Order is preserved.
func ParseURLs(raw string) []string {
	parts := strings.Split(raw, ",")
	urls := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			urls = append(urls, p)
		}
	}
	return urls
}

// BuildURLInput picks the source shape for a URL upload. A single URL with a
// name or custom id becomes a descriptor carrying only the overrides that were
// given; a single URL without overrides stays a bare string; several URLs
// become a list of bare strings and the overrides are dropped.
func BuildURLInput(urls []string, name, customID string) ut.URLInput {
	if len(urls) == 1 {
		if name == "" && customID == "" {
			return ut.URLString(urls[0])
		}
		d := ut.URLDescriptor{URL: urls[0]}
		if name != "" {
			d.Name = &name
		}
		if customID != "" {
			d.CustomID = &customID
		}
		return d
	}

	list := make(ut.URLList, len(urls))
	for i, u := range urls {
		list[i] = ut.URLString(u)
	}
	return list
}

// BuildFile assembles the upload source for a binary payload. The name is the
// override, then the payload's own name, then "file"; the type is the payload's
// own type, then application/octet-stream.
func BuildFile(data []byte, bd *runtime.BinaryData, fileNameOverride, customID string) ut.File {
	name := fileNameOverride
	if name == "" && bd != nil {
		name = bd.FileName
	}
	if name == "" {
		name = fallbackFileName
	}

	mimeType := ""
	if bd != nil {
		mimeType = bd.MimeType
	}
	if mimeType == "" {
		mimeType = fallbackMimeType
	}

	f := ut.File{Name: name, Type: mimeType, Data: data}
	if customID != "" {
		f.CustomID = &customID
	}
	return f
}

// uploadOptions reads the options shared by both operations. Metadata is
// always set; the rest only when non-empty.
func uploadOptions(fns runtime.ExecuteFunctions, itemIndex int) (ut.UploadOptions, error) {
	metadata, err := runtime.JSONParameter(fns, ParamMetadata, itemIndex)
	if err != nil {
		return ut.UploadOptions{}, err
	}
	disposition, err := runtime.StringParameter(fns, ParamContentDisposition, itemIndex, "")
	if err != nil {
		return ut.UploadOptions{}, err
	}
	acl, err := runtime.StringParameter(fns, ParamACL, itemIndex, "")
	if err != nil {
		return ut.UploadOptions{}, err
	}
	concurrency, err := runtime.NumberParameter(fns, ParamConcurrency, itemIndex, 1)
	if err != nil {
		return ut.UploadOptions{}, err
	}

	opts := ut.UploadOptions{Metadata: metadata}
	if disposition != "" {
		opts.ContentDisposition = ut.ContentDisposition(disposition)
	}
	if acl != "" {
		opts.ACL = ut.ACL(acl)
	}
	if concurrency != 0 {
		opts.Concurrency = int(concurrency)
	}
	return opts, nil
}

// binaryFile reads the binary payload of an item into an upload source. A
// missing payload fails before any network call.
func binaryFile(fns runtime.ExecuteFunctions, itemIndex int) (ut.File, error) {
	property, err := runtime.StringParameter(fns, ParamBinaryProperty, itemIndex, "data")
	if err != nil {
		return ut.File{}, err
	}
	customID, err := runtime.StringParameter(fns, ParamCustomID, itemIndex, "")
	if err != nil {
		return ut.File{}, err
	}
	fileName, err := runtime.StringParameter(fns, ParamFileName, itemIndex, "")
	if err != nil {
		return ut.File{}, err
	}

	bd, err := fns.BinaryData(itemIndex, property)
	if err != nil {
		if errors.Is(err, runtime.ErrBinaryNotFound) {
			return ut.File{}, runtime.NewNodeOperationError(fns.Node(), itemIndex,
				fmt.Sprintf("Binary property not found: %s", property), err)
		}
		return ut.File{}, err
	}
	data, err := fns.BinaryDataBuffer(itemIndex, property)
	if err != nil {
		return ut.File{}, err
	}
	return BuildFile(data, bd, fileName, customID), nil
}

// urlInput reads the URL parameters of an item into an upload source.
func urlInput(fns runtime.ExecuteFunctions, itemIndex int) (ut.URLInput, error) {
	raw, err := runtime.StringParameter(fns, ParamURL, itemIndex, "")
	if err != nil {
		return nil, err
	}
	name, err := runtime.StringParameter(fns, ParamName, itemIndex, "")
	if err != nil {
		return nil, err
	}
	customID, err := runtime.StringParameter(fns, ParamCustomID, itemIndex, "")
	if err != nil {
		return nil, err
	}
	return BuildURLInput(ParseURLs(raw), name, customID), nil
}
