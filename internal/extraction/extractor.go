package extraction

// Table is the extracted table: ordered rows of ordered string cells. The
// first row is conventionally a header. Rows are not guaranteed to have
// equal length.
type Table [][]string

// Extractor defines the interface for remote table extraction
type Extractor interface {
	// ExtractTable sends the encoded image to the remote model and returns
	// the recognized table. The API key is supplied per call because it is
	// user-submitted state that can be replaced or revoked at any time.
	// Exactly one remote call is made per invocation; there is no retry.
	ExtractTable(payload EncodedPayload, apiKey string) (Table, error)
	// Close closes the extractor and releases resources
	Close() error
}
