package common

// Shared constants to enforce DRY and avoid magic strings/numbers.

// HTTP headers and content types
const (
	HeaderAPIKey     = "X-API-Key" // #nosec G101 - header name constant, not a credential
	HeaderAnalysisID = "X-Analysis-ID"
	ContentTypeJSON  = "application/json"
)

// API paths
const (
	PathRoot     = "/"
	PathHealthz  = "/healthz"
	PathAnalyze  = "/analyze"
	PathAnalyses = "/analyses"
)

// Multipart form field carrying the uploaded package photo.
const FormFieldImage = "image"

// Defaults and limits
const (
	DefaultPort         = "5000"
	DefaultMaxTokens    = 1000
	DefaultOpenAIModel  = "gpt-4o"
	SQLiteBusyTimeoutMS = 5000
)

// MIME types
const (
	MimeImageJPEG         = "image/jpeg"
	MimeOctetStream       = "application/octet-stream"
	DefaultUploadMimeType = MimeImageJPEG
)

// Subdirectory and file names
const (
	UploadsDirName = "uploads"
	DatabaseName   = "medisnap.db"
)

// Welcome message served on the root path.
const WelcomeMessage = "WELCOME TO MEDI_SNAP"
