package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrInvalidCredentials ErrCode = "INVALID_CREDENTIALS"
	ErrTokenRequired      ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid       ErrCode = "TOKEN_INVALID"
	ErrEmailTaken         ErrCode = "EMAIL_TAKEN"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden         ErrCode = "FORBIDDEN"
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"
	ErrTeacherAccessOnly ErrCode = "TEACHER_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound         ErrCode = "NOT_FOUND"
	ErrDependencyExists ErrCode = "DEPENDENCY_EXISTS"

	// ─── Exam-specific ─────────────────────────────────────────────────
	ErrNotExamAuthor     ErrCode = "NOT_EXAM_AUTHOR"
	ErrCourseNotFound    ErrCode = "COURSE_NOT_FOUND"
	ErrAttemptCompleted  ErrCode = "ATTEMPT_COMPLETED"
	ErrAttemptNotActive  ErrCode = "ATTEMPT_NOT_ACTIVE"
	ErrTimeUp            ErrCode = "TIME_UP"
	ErrUnknownQuestion   ErrCode = "UNKNOWN_QUESTION"
	ErrSubmitUnavailable ErrCode = "SUBMIT_UNAVAILABLE"
	ErrResultNotReady    ErrCode = "RESULT_NOT_READY"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrInvalidCredentials:
		return "Invalid email or password."
	case ErrTokenRequired:
		return "An authentication token is required."
	case ErrTokenInvalid:
		return "The authentication token is invalid or has expired."
	case ErrEmailTaken:
		return "An account with this email already exists."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "You do not have permission to access this resource."
	case ErrStudentAccessOnly:
		return "This resource is restricted to students."
	case ErrTeacherAccessOnly:
		return "This resource is restricted to teachers."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid ID format."
	case ErrInvalidPayload:
		return "Invalid request payload."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Resource not found."
	case ErrDependencyExists:
		return "This exam already has attempts and cannot be deleted."

	// ─── Exam-specific ─────────────────────────────────────────────────
	case ErrNotExamAuthor:
		return "You are not the author of this exam."
	case ErrCourseNotFound:
		return "No exams were found for this course code."
	case ErrAttemptCompleted:
		return "This attempt has already been submitted."
	case ErrAttemptNotActive:
		return "This attempt is not active."
	case ErrTimeUp:
		return "Time is up. Answers can no longer be changed."
	case ErrUnknownQuestion:
		return "The question does not belong to this exam."
	case ErrSubmitUnavailable:
		return "The attempt could not be submitted. Please try again."
	case ErrResultNotReady:
		return "Results are available once the attempt is submitted."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "An internal server error occurred."
	default:
		return "An unexpected error occurred."
	}
}
