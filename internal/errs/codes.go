package errs

// Public error codes carried in the "error.code" field of API responses.
const (
	CodeAuthenticationRequired  = "AUTHENTICATION_REQUIRED"
	CodeInsufficientPermissions = "INSUFFICIENT_PERMISSIONS"
	CodeRateLimitExceeded       = "RATE_LIMIT_EXCEEDED"
	CodeInvalidRequestBody      = "INVALID_REQUEST_BODY"
	CodeNoImagesProvided        = "NO_IMAGES_PROVIDED"
	CodeTooManyImages           = "TOO_MANY_IMAGES"
	CodeInvalidImageFormat      = "INVALID_IMAGE_FORMAT"
	CodeImageTooLarge           = "IMAGE_TOO_LARGE"
	CodeRequestTooLarge         = "REQUEST_TOO_LARGE"
	CodeInvalidContentType      = "INVALID_CONTENT_TYPE"
	CodeUserNotFound            = "USER_NOT_FOUND"
	CodeUserAlreadyExists       = "USER_ALREADY_EXISTS"
	CodeAPIKeyExists            = "API_KEY_EXISTS"
	CodeInvalidAction           = "INVALID_ACTION"
	CodeMethodNotAllowed        = "METHOD_NOT_ALLOWED"
	CodeNotFound                = "NOT_FOUND"
	CodeClassificationTimeout   = "CLASSIFICATION_TIMEOUT"
	CodeInternal                = "INTERNAL_SERVER_ERROR"
)
