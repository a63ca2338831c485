// Package uploadthing is a small client for the UploadThing file storage API.
//
// A Client is built from the API token shown in the UploadThing dashboard and
// exposes two calls:
//
//   - UploadFiles uploads in-memory files.
//   - UploadFilesFromURL downloads remote files and uploads them.
//
// Both return one UploadFileResult per source, in input order. A failure that
// affects a single source is reported in that result's Error field; the Go
// error return is reserved for failures of the whole call (invalid options,
// cancelled context).
//
// Uploads follow the v7 flow: the client asks the API to prepare an upload
// (POST /v7/prepareUpload), which returns the file key and a presigned ingest
// URL, then PUTs the bytes to that URL.
package uploadthing
