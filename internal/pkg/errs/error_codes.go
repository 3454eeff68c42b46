/*
Package errs provides custom error types and application-level error code constants.

These error codes are used to clearly identify specific business or system errors
both internally within the server and in communication with clients.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams = 1001

	// ErrUnsupportedMediaType indicates that the request header Content-Type is not supported.
	ErrUnsupportedMediaType = 1002

	// ErrInvalidJSONFormat indicates that the request body JSON format is incorrect (e.g., syntax error).
	ErrInvalidJSONFormat = 1003

	// ErrExtraContentInBody indicates that the request body contained extra content after valid JSON data.
	ErrExtraContentInBody = 1004

	// ErrRateLimitExceeded indicates that the request rate has exceeded the set limit.
	ErrRateLimitExceeded = 1005
)

// 2xxx: Chat and Content Business Logic Errors
const (
	// ErrChatNotFound indicates that the targeted chat does not exist.
	ErrChatNotFound = 2101

	// ErrNotChatMember indicates that the user attempted to act on a chat
	// they are not a member of.
	ErrNotChatMember = 2102

	// ErrMessageContentTooLong indicates that the message body exceeded the maximum length limit.
	ErrMessageContentTooLong = 2201

	// ErrMessageContentEmpty indicates that the message body was empty.
	ErrMessageContentEmpty = 2202
)

// 3xxx: User, Session, and Security Errors
const (
	// ErrUnauthorized indicates that no valid user identity was presented.
	ErrUnauthorized = 3001

	// ErrInvalidCredentials indicates a failed username/password check.
	ErrInvalidCredentials = 3002

	// ErrInvalidUsername indicates that the supplied username is not acceptable.
	ErrInvalidUsername = 3003

	// ErrInvalidPassword indicates that the supplied password is not acceptable.
	ErrInvalidPassword = 3004

	// ErrUserAlreadyExists indicates a registration conflict on username.
	ErrUserAlreadyExists = 3005
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000

	// ErrStoreUnavailable indicates that the database or its notification
	// channel could not be reached while handling the request.
	ErrStoreUnavailable = 5001
)
