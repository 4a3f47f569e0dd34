package store

// manifestMissingError signals that no manifest could be resolved for a model id.
type manifestMissingError struct{ id string }

func (e manifestMissingError) Error() string { return "manifest not found for model: " + e.id }

// ErrManifestMissing constructs a manifestMissingError.
func ErrManifestMissing(id string) error { return manifestMissingError{id: id} }

// IsManifestMissing reports whether err indicates a missing manifest.
func IsManifestMissing(err error) bool {
	_, ok := err.(manifestMissingError)
	return ok
}

// digestUnrecognizedError signals a malformed or absent digest.
type digestUnrecognizedError struct{ digest string }

func (e digestUnrecognizedError) Error() string { return "unrecognized digest: " + e.digest }

// ErrDigestUnrecognized constructs a digestUnrecognizedError.
func ErrDigestUnrecognized(digest string) error { return digestUnrecognizedError{digest: digest} }

// IsDigestUnrecognized reports whether err indicates a malformed digest.
func IsDigestUnrecognized(err error) bool {
	_, ok := err.(digestUnrecognizedError)
	return ok
}

// blobMissingError signals that a manifest's blob file is absent.
type blobMissingError struct{ path string }

func (e blobMissingError) Error() string { return "blob not found: " + e.path }

// ErrBlobMissing constructs a blobMissingError.
func ErrBlobMissing(path string) error { return blobMissingError{path: path} }

// IsBlobMissing reports whether err indicates a missing blob.
func IsBlobMissing(err error) bool {
	_, ok := err.(blobMissingError)
	return ok
}

// sizeMismatchError signals a promoted file whose size does not match the
// manifest. Treated as corruption, never as usable.
type sizeMismatchError struct {
	path     string
	got      int64
	expected int64
}

func (e sizeMismatchError) Error() string {
	return "size mismatch for " + e.path + ": file is corrupt"
}

// ErrSizeMismatch constructs a sizeMismatchError.
func ErrSizeMismatch(path string, got, expected int64) error {
	return sizeMismatchError{path: path, got: got, expected: expected}
}

// IsSizeMismatch reports whether err indicates a corrupt promoted file.
func IsSizeMismatch(err error) bool {
	_, ok := err.(sizeMismatchError)
	return ok
}
