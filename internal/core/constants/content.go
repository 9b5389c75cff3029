package constants

const (
	ContentTypeJSON   = "application/json"
	ContentTypeHeader = "Content-Type"

	// Multipart form field carrying the uploaded source image
	MultipartImageField = "imageFile"
)
